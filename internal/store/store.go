// Package store is the persisted-state layer (§6): an upserted bot_state
// row per symbol plus append-only trade_history/order_history tables,
// grounded in store/grid.go's GORM model/InitTables idiom and
// store/store.go's driver-selection pattern. It also carries the
// supplemented reporting features from original_source/gridbot/persistence.py
// that the distilled spec's §6 doesn't name: Statistics, ExportSymbol, and
// CleanupOlderThan (SPEC_FULL.md Part D.2/D.3/D.6).
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gorm.io/gorm"

	"gridbot/internal/kernel/types"
)

// Store is the unified persistence handle, matching the teacher's single-
// struct-over-a-driver shape.
type Store struct {
	db     *gorm.DB
	driver *DBDriver
}

// New opens a sqlite-backed Store at dbPath and migrates its tables.
func New(dbPath string) (*Store, error) {
	driver, err := NewDBDriver(DBConfig{Type: DBTypeSQLite, Path: dbPath})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: driver.DB(), driver: driver}
	if err := s.initTables(); err != nil {
		driver.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}
	return s, nil
}

// NewFromEnv opens a Store per DB_TYPE/DB_PATH or DB_HOST/.../DB_SSLMODE.
func NewFromEnv() (*Store, error) {
	driver, err := NewDBDriverFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &Store{db: driver.DB(), driver: driver}
	if err := s.initTables(); err != nil {
		driver.Close()
		return nil, fmt.Errorf("failed to initialize table structure: %w", err)
	}
	return s, nil
}

func (s *Store) initTables() error {
	if s.db.Dialector.Name() == "postgres" {
		var tableExists int64
		s.db.Raw(`SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'bot_state'`).Scan(&tableExists)
		if tableExists > 0 {
			s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_trade_history_symbol ON trade_history(symbol)`)
			s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_order_history_symbol ON order_history(symbol)`)
			return nil
		}
	}

	if err := s.db.AutoMigrate(&BotStateModel{}, &TradeHistoryModel{}, &OrderHistoryModel{}); err != nil {
		return fmt.Errorf("failed to migrate store tables: %w", err)
	}
	return nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.driver.Close()
}

// SaveState upserts the bot_state row for symbol, matching §6's "upserted
// on 60s tick and at stop."
func (s *Store) SaveState(symbol string, blob []byte) error {
	var existing BotStateModel
	err := s.db.Where("symbol = ?", symbol).First(&existing).Error
	if err == gorm.ErrRecordNotFound {
		return s.db.Create(&BotStateModel{Symbol: symbol, StateBlob: blob}).Error
	}
	if err != nil {
		return err
	}
	existing.StateBlob = blob
	return s.db.Save(&existing).Error
}

// LoadState returns the latest persisted state blob for symbol.
func (s *Store) LoadState(symbol string) ([]byte, error) {
	var row BotStateModel
	if err := s.db.Where("symbol = ?", symbol).First(&row).Error; err != nil {
		return nil, err
	}
	return row.StateBlob, nil
}

// RecordTrade appends a closed GridTrade to trade_history.
func (s *Store) RecordTrade(trade types.GridTrade, symbol string) error {
	row := TradeHistoryModel{
		Symbol:      symbol,
		BuyPrice:    trade.BuyOrder.FillPrice,
		SellPrice:   trade.SellOrder.FillPrice,
		Quantity:    trade.BuyOrder.Quantity,
		Profit:      trade.Profit,
		CompletedAt: trade.CompletedAt,
	}
	return s.db.Create(&row).Error
}

// RecordOrder appends an order lifecycle snapshot to order_history.
func (s *Store) RecordOrder(symbol string, order types.GridOrder) error {
	row := OrderHistoryModel{
		Symbol:   symbol,
		OrderID:  order.OrderID,
		Side:     string(order.Side),
		Price:    order.Price,
		Quantity: order.Quantity,
		Status:   string(order.Status),
	}
	return s.db.Create(&row).Error
}

// TradeHistory returns up to limit most recent closed trades for symbol
// (the `history [--limit N]` CLI verb).
func (s *Store) TradeHistory(symbol string, limit int) ([]TradeHistoryModel, error) {
	var rows []TradeHistoryModel
	q := s.db.Where("symbol = ?", symbol).Order("completed_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return rows, q.Find(&rows).Error
}

// Statistics aggregates trade_history for symbol: total/average/best/
// worst trade and win rate, grounded in
// original_source/gridbot/persistence.py:get_statistics (SPEC_FULL.md Part D.3).
type Statistics struct {
	TotalTrades int
	TotalProfit float64
	AvgProfit   float64
	BestTrade   float64
	WorstTrade  float64
	TotalVolume float64
	WinRate     float64
}

func (s *Store) Statistics(symbol string) (Statistics, error) {
	var rows []TradeHistoryModel
	if err := s.db.Where("symbol = ?", symbol).Find(&rows).Error; err != nil {
		return Statistics{}, err
	}
	if len(rows) == 0 {
		return Statistics{}, nil
	}

	var stats Statistics
	stats.TotalTrades = len(rows)
	stats.BestTrade = rows[0].Profit
	stats.WorstTrade = rows[0].Profit
	var wins int
	for _, r := range rows {
		stats.TotalProfit += r.Profit
		stats.TotalVolume += r.Quantity * r.SellPrice
		if r.Profit > stats.BestTrade {
			stats.BestTrade = r.Profit
		}
		if r.Profit < stats.WorstTrade {
			stats.WorstTrade = r.Profit
		}
		if r.Profit > 0 {
			wins++
		}
	}
	stats.AvgProfit = stats.TotalProfit / float64(stats.TotalTrades)
	stats.WinRate = float64(wins) / float64(stats.TotalTrades) * 100
	return stats, nil
}

// exportDocument is the on-disk shape written by ExportSymbol.
type exportDocument struct {
	Symbol       string              `json:"symbol"`
	State        json.RawMessage     `json:"state,omitempty"`
	TradeHistory []TradeHistoryModel `json:"trade_history"`
	Statistics   Statistics          `json:"statistics"`
	ExportedAt   time.Time           `json:"exported_at"`
}

// ExportSymbol dumps the latest state, full trade history, and aggregate
// statistics for symbol to a JSON file (the `export` CLI verb, §6;
// grounded in original_source/gridbot/persistence.py:export_to_json,
// SPEC_FULL.md Part D.2).
func (s *Store) ExportSymbol(symbol, outputPath string) error {
	doc := exportDocument{Symbol: symbol, ExportedAt: time.Now()}

	if blob, err := s.LoadState(symbol); err == nil {
		doc.State = json.RawMessage(blob)
	}

	trades, err := s.TradeHistory(symbol, 0)
	if err != nil {
		return err
	}
	doc.TradeHistory = trades

	stats, err := s.Statistics(symbol)
	if err != nil {
		return err
	}
	doc.Statistics = stats

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(outputPath, data, 0o644)
}

// CleanupOlderThan purges trade_history/order_history rows older than the
// retention window (the optional `--retention-days` flag on `start`,
// grounded in original_source/gridbot/persistence.py:cleanup_old_data,
// SPEC_FULL.md Part D.6).
func (s *Store) CleanupOlderThan(days int) error {
	cutoff := time.Now().AddDate(0, 0, -days)
	if err := s.db.Where("completed_at < ?", cutoff).Delete(&TradeHistoryModel{}).Error; err != nil {
		return err
	}
	return s.db.Where("created_at < ?", cutoff).Delete(&OrderHistoryModel{}).Error
}

package store

import "time"

// BotStateModel is the upserted §6 `bot_state` row: one per symbol,
// holding the latest persisted engine snapshot as an opaque JSON blob.
type BotStateModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Symbol    string    `json:"symbol" gorm:"uniqueIndex;not null"`
	StateBlob []byte    `json:"state_blob" gorm:"not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (BotStateModel) TableName() string { return "bot_state" }

// TradeHistoryModel is one closed grid trade (§6 `trade_history`).
type TradeHistoryModel struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Symbol      string    `json:"symbol" gorm:"index;not null"`
	BuyPrice    float64   `json:"buy_price"`
	SellPrice   float64   `json:"sell_price"`
	Quantity    float64   `json:"quantity"`
	Profit      float64   `json:"profit"`
	CompletedAt time.Time `json:"completed_at" gorm:"index"`
}

func (TradeHistoryModel) TableName() string { return "trade_history" }

// OrderHistoryModel is one order lifecycle record (§6 `order_history`).
type OrderHistoryModel struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Symbol    string    `json:"symbol" gorm:"index;not null"`
	OrderID   string    `json:"order_id" gorm:"index;not null"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

func (OrderHistoryModel) TableName() string { return "order_history" }

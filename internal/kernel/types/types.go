// Package types holds the grid-engine data model: configuration, grid
// levels, orders, positions, closed trades, and aggregate statistics.
package types

import (
	"fmt"
	"math"
	"time"
)

// GridType selects how ladder prices are spaced.
type GridType string

const (
	GridTypeArithmetic GridType = "arithmetic"
	GridTypeGeometric  GridType = "geometric"
)

// PositionDirection constrains which side of the ladder opens new exposure.
type PositionDirection string

const (
	PositionLong    PositionDirection = "LONG"
	PositionShort   PositionDirection = "SHORT"
	PositionNeutral PositionDirection = "NEUTRAL"
)

// OrderSide is Buy or Sell.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderStatus is the lifecycle state of a GridOrder.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderPlaced    OrderStatus = "PLACED"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// IsTerminal reports whether the status cannot transition further.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderFilled || s == OrderCancelled
}

// TimeInForce as understood by the venue.
type TimeInForce string

const (
	TimeInForceGTC      TimeInForce = "GTC"
	TimeInForcePostOnly TimeInForce = "POST_ONLY"
)

// EngineState is the top-level lifecycle of the Grid Engine.
type EngineState string

const (
	StateInitialized EngineState = "INITIALIZED"
	StateRunning     EngineState = "RUNNING"
	StatePaused      EngineState = "PAUSED"
	StateStopped     EngineState = "STOPPED"
	StateError       EngineState = "ERROR"
)

// DefaultFeeRate is the assumed per-fill trading fee rate (0.1%), applied
// to each leg of a round trip, used when the venue does not report an
// actual commission.
const DefaultFeeRate = 0.001

// MinQuantity is the venue-minimum base-unit quantity floor applied to
// every grid level before rounding.
const MinQuantity = 0.001

// GridConfig is the bot configuration. It is not changed after validation,
// except that the engine rewrites LowerPrice/UpperPrice when it re-ladders
// on a trailing breakout.
type GridConfig struct {
	Symbol      string            `json:"symbol" yaml:"symbol" validate:"required"`
	GridType    GridType          `json:"grid_type" yaml:"grid_type" validate:"required,oneof=arithmetic geometric"`
	Direction   PositionDirection `json:"position_direction" yaml:"position_direction" validate:"required,oneof=LONG SHORT NEUTRAL"`
	LowerPrice  float64           `json:"lower_price" yaml:"lower_price" validate:"gt=0"`
	UpperPrice  float64           `json:"upper_price" yaml:"upper_price" validate:"gt=0"`
	GridCount   int               `json:"grid_count" yaml:"grid_count" validate:"gte=2"`
	TotalInvest float64           `json:"total_investment" yaml:"total_investment" validate:"gt=0"`
	Leverage    int               `json:"leverage" yaml:"leverage" validate:"gte=1,lte=125"`

	StopLoss       *float64 `json:"stop_loss,omitempty" yaml:"stop_loss,omitempty"`
	TakeProfitPct  *float64 `json:"take_profit,omitempty" yaml:"take_profit,omitempty"`
	MaxPositionUSD *float64 `json:"max_position_size,omitempty" yaml:"max_position_size,omitempty"`
	MaxDrawdownPct *float64 `json:"max_drawdown_percentage,omitempty" yaml:"max_drawdown_percentage,omitempty"`

	OrderType   string      `json:"order_type" yaml:"order_type"`
	TimeInForce TimeInForce `json:"time_in_force" yaml:"time_in_force"`
	PostOnly    bool        `json:"post_only" yaml:"post_only"`

	TrailingUp          bool `json:"trailing_up" yaml:"trailing_up"`
	TrailingDown        bool `json:"trailing_down" yaml:"trailing_down"`
	CancelOrdersOnStop  bool `json:"cancel_orders_on_stop" yaml:"cancel_orders_on_stop"`
	ClosePositionOnStop bool `json:"close_position_on_stop" yaml:"close_position_on_stop"`
}

// Validate checks structural invariants beyond what struct tags express
// (cross-field comparisons validator.v10 needs a registered func for).
func (c *GridConfig) Validate() error {
	if c.UpperPrice <= c.LowerPrice {
		return fmt.Errorf("upper_price (%v) must be greater than lower_price (%v)", c.UpperPrice, c.LowerPrice)
	}
	return nil
}

// InvestmentPerGrid applies the mandatory 2% cushion.
func (c *GridConfig) InvestmentPerGrid() float64 {
	return 0.98 * c.TotalInvest / float64(c.GridCount)
}

// Spacing returns the arithmetic price step, or for geometric grids the
// per-step ratio expressed as a fraction (not a price). Callers must not
// treat the two return kinds interchangeably.
func (c *GridConfig) Spacing() float64 {
	if c.GridCount < 2 {
		return 0
	}
	if c.GridType == GridTypeGeometric {
		ratio := c.UpperPrice / c.LowerPrice
		return math.Pow(ratio, 1/float64(c.GridCount-1)) - 1
	}
	return (c.UpperPrice - c.LowerPrice) / float64(c.GridCount-1)
}

// GridLevel is one rung of the ladder.
type GridLevel struct {
	Index    int
	Price    float64
	Side     OrderSide
	Quantity float64
	Status   OrderStatus
	OrderID  string
	FilledAt *time.Time
}

// GridOrder is a venue-tracked order mapped to a grid level.
type GridOrder struct {
	GridIndex    int
	OrderID      string
	ClientID     string
	Side         OrderSide
	Price        float64
	Quantity     float64
	Status       OrderStatus
	CreatedAt    time.Time
	FilledAt     *time.Time
	FillPrice    float64
	Commission   float64
}

// GridPosition is the running net position for the symbol.
type GridPosition struct {
	Symbol        string
	Size          float64 // signed: >0 long, <0 short
	EntryPrice    float64
	CurrentPrice  float64
	UnrealizedPnL float64
	RealizedPnL   float64
	TotalTrades   int
}

// PnLPercentage returns total PnL as a percentage of notional at entry,
// or 0 when flat.
func (p *GridPosition) PnLPercentage() float64 {
	notional := p.EntryPrice * absf(p.Size)
	if notional == 0 {
		return 0
	}
	return (p.RealizedPnL + p.UnrealizedPnL) / notional * 100
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// GridTrade is one closed round trip: a buy and a sell paired at the same
// grid index.
type GridTrade struct {
	BuyOrder          GridOrder
	SellOrder         GridOrder
	Profit            float64
	ProfitPercentage  float64
	CompletedAt       time.Time
}

// GridStats aggregates running performance counters.
type GridStats struct {
	TotalTrades    int
	WinningTrades  int
	LosingTrades   int
	Volume         float64
	Fees           float64
	GridProfit     float64
	PositionProfit float64
	TotalProfit    float64
	StartedAt      time.Time
	MaxDrawdown    float64
	CurrentDrawdown float64
}

// ROI returns total profit as a percentage of the configured investment.
func (s *GridStats) ROI(totalInvestment float64) float64 {
	if totalInvestment == 0 {
		return 0
	}
	return s.TotalProfit / totalInvestment * 100
}

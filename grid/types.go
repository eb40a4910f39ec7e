package grid

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side order side
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the other side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Mode distinguishes sandbox venues from live ones; it only affects the
// venue client's transport, never strategy logic
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// LifecycleState per-strategy lifecycle
type LifecycleState string

const (
	StateStandby LifecycleState = "STANDBY"
	StateActive  LifecycleState = "ACTIVE"
	StateStopped LifecycleState = "STOPPED"
)

// StrategyKind identifies the strategy family in the decision feed
const StrategyKindGrid = "grid"

// Decision actions read from the decision feed
const (
	DecisionOperate = "operate"
	DecisionPause   = "pause"
)

// StrategyConfig immutable per activation; replaced, never mutated, on
// reconfiguration
type StrategyConfig struct {
	ID                string          `json:"id"`
	Pair              string          `json:"pair"` // e.g. "ETH/USDT"
	TotalCapital      decimal.Decimal `json:"total_capital"`
	GridLevels        int             `json:"grid_levels"`
	PriceRangePercent decimal.Decimal `json:"price_range_percent"`
	StopLossPercent   decimal.Decimal `json:"stop_loss_percent"`
	TrailingUp        bool            `json:"trailing_up"`
	Mode              Mode            `json:"mode"`

	// Venue filters applied by the ladder calculator
	MinOrderValue decimal.Decimal `json:"min_order_value"`
	PriceTick     decimal.Decimal `json:"price_tick"`
	QtyStep       decimal.Decimal `json:"qty_step"`

	ActivatedAt time.Time `json:"activated_at"`
}

// Validate checks the config before it can reach the ladder calculator.
// Invalid configs are fatal at activation time.
func (c *StrategyConfig) Validate() error {
	if c.Pair == "" || !strings.Contains(c.Pair, "/") {
		return Errorf(ErrInvalidConfig, "pair %q must be BASE/QUOTE", c.Pair)
	}
	if c.TotalCapital.LessThanOrEqual(decimal.Zero) {
		return Errorf(ErrInvalidConfig, "total capital must be positive, got %s", c.TotalCapital)
	}
	if c.GridLevels < 2 {
		return Errorf(ErrInvalidConfig, "grid levels must be >= 2, got %d", c.GridLevels)
	}
	if c.PriceRangePercent.LessThanOrEqual(decimal.Zero) {
		return Errorf(ErrInvalidConfig, "price range percent must be positive, got %s", c.PriceRangePercent)
	}
	if c.StopLossPercent.LessThanOrEqual(decimal.Zero) {
		return Errorf(ErrInvalidConfig, "stop loss percent must be positive, got %s", c.StopLossPercent)
	}
	if c.Mode != ModePaper && c.Mode != ModeLive {
		return Errorf(ErrInvalidConfig, "mode must be paper or live, got %q", c.Mode)
	}
	if c.MinOrderValue.LessThan(decimal.Zero) {
		return Errorf(ErrInvalidConfig, "min order value must not be negative, got %s", c.MinOrderValue)
	}
	return nil
}

// BaseAsset returns the base asset of the pair ("ETH" for "ETH/USDT")
func (c *StrategyConfig) BaseAsset() string {
	base, _, _ := strings.Cut(c.Pair, "/")
	return base
}

// QuoteAsset returns the quote asset of the pair ("USDT" for "ETH/USDT")
func (c *StrategyConfig) QuoteAsset() string {
	_, quote, _ := strings.Cut(c.Pair, "/")
	return quote
}

// Symbol returns the venue symbol ("ETHUSDT" for "ETH/USDT")
func (c *StrategyConfig) Symbol() string {
	return strings.ReplaceAll(c.Pair, "/", "")
}

// OrderStatus status of a tracked order
type OrderStatus string

const (
	OrderOpen      OrderStatus = "OPEN"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// OrderRecord one order this engine placed and still tracks
type OrderRecord struct {
	OrderID        string          `json:"order_id"`
	CorrelationTag string          `json:"correlation_tag"`
	Side           Side            `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Status         OrderStatus     `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Notional returns price*quantity in quote units
func (o *OrderRecord) Notional() decimal.Decimal {
	return o.Price.Mul(o.Quantity)
}

// DetectionMethod names which reconciler strategy detected a fill
type DetectionMethod string

const (
	DetectSetDiff      DetectionMethod = "open_set_diff"
	DetectClosedOrders DetectionMethod = "closed_orders"
	DetectTradeHistory DetectionMethod = "trade_history"
)

// FillEvent ephemeral; produced by the reconciler, consumed exactly once
// by the re-ladder step
type FillEvent struct {
	OrderID        string          `json:"order_id"`
	CorrelationTag string          `json:"correlation_tag"`
	Side           Side            `json:"side"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Method         DetectionMethod `json:"method"`
	DetectedAt     time.Time       `json:"detected_at"`
}

// StrategyState mutable state, one per active StrategyConfig.
// Owned exclusively by the strategy instance that created it; persisted
// after every transition so a crash resumes from last-known state.
type StrategyState struct {
	ConfigID         string                  `json:"config_id"`
	Pair             string                  `json:"pair"`
	Lifecycle        LifecycleState          `json:"lifecycle"`
	LowestBuyPrice   decimal.Decimal         `json:"lowest_buy_price"`
	HighestSellPrice decimal.Decimal         `json:"highest_sell_price"`
	StopLossCount    int                     `json:"stop_loss_count"`
	TrailingUpCount  int                     `json:"trailing_up_count"`
	LastAdjustedAt   time.Time               `json:"last_adjusted_at"`
	OpenOrders       map[string]*OrderRecord `json:"open_orders"` // keyed by venue order ID
}

// NewStrategyState creates a fresh standby state for a pair
func NewStrategyState(pair string) *StrategyState {
	return &StrategyState{
		Pair:       pair,
		Lifecycle:  StateStandby,
		OpenOrders: make(map[string]*OrderRecord),
	}
}

// CheckIntegrity validates a state loaded from persistence. A violation
// means the stored record is corrupt and the strategy must be held in
// standby pending manual intervention.
func (s *StrategyState) CheckIntegrity() error {
	if s.Pair == "" {
		return Errorf(ErrStateCorruption, "state has no pair")
	}
	switch s.Lifecycle {
	case StateStandby, StateActive, StateStopped:
	default:
		return Errorf(ErrStateCorruption, "unknown lifecycle state %q", s.Lifecycle)
	}
	if s.StopLossCount < 0 || s.TrailingUpCount < 0 {
		return Errorf(ErrStateCorruption, "negative trigger counts (%d, %d)", s.StopLossCount, s.TrailingUpCount)
	}
	if s.OpenOrders == nil {
		s.OpenOrders = make(map[string]*OrderRecord)
	}
	for id, o := range s.OpenOrders {
		if o == nil || o.OrderID != id {
			return Errorf(ErrStateCorruption, "open order map entry %q is inconsistent", id)
		}
		if o.Price.LessThanOrEqual(decimal.Zero) || o.Quantity.LessThanOrEqual(decimal.Zero) {
			return Errorf(ErrStateCorruption, "open order %s has non-positive price or quantity", id)
		}
	}
	return nil
}

// RefreshBounds recomputes the tracked price bounds from open orders
func (s *StrategyState) RefreshBounds() {
	s.LowestBuyPrice = decimal.Zero
	s.HighestSellPrice = decimal.Zero
	for _, o := range s.OpenOrders {
		switch o.Side {
		case SideBuy:
			if s.LowestBuyPrice.IsZero() || o.Price.LessThan(s.LowestBuyPrice) {
				s.LowestBuyPrice = o.Price
			}
		case SideSell:
			if o.Price.GreaterThan(s.HighestSellPrice) {
				s.HighestSellPrice = o.Price
			}
		}
	}
}

// Decision the most recent activation decision for a pair, produced by an
// external signal subsystem and only read here
type Decision struct {
	Pair      string    `json:"pair"`
	Kind      string    `json:"kind"`
	Action    string    `json:"action"` // operate | pause
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Repository is the persistence the engine needs: write-once configs,
// append-on-write states (latest authoritative) and a fill audit log
type Repository interface {
	SaveConfig(cfg *StrategyConfig) error
	SaveState(st *StrategyState) error
	LoadState(pair string) (*StrategyState, error)
	RecordFill(pair string, f FillEvent) error
}

// DecisionSource reads the latest activation decision per pair. Polled,
// never pushed.
type DecisionSource interface {
	Latest(pair, kind string) (*Decision, error)
}

package grid

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/exchange"
	"gridbot/notify"
)

// fakeVenue in-memory exchange.Client with switchable failures per query
type fakeVenue struct {
	mu sync.Mutex

	open   map[string]exchange.Order // currently open, by ID
	all    map[string]exchange.Order // everything ever placed, by ID
	closed []exchange.Order
	trades []exchange.Trade

	bestPrice decimal.Decimal
	balances  map[string]decimal.Decimal

	nextID int

	failOpen   bool
	failClosed bool
	failTrades bool
	failGet    bool

	openFails   int // ListOpenOrders errors while > 0, then recovers
	cancelFails int // CancelOrder errors while > 0, then recovers

	cancelled    []string
	marketOrders []exchange.Order
}

func newFakeVenue() *fakeVenue {
	v := &fakeVenue{
		open:      make(map[string]exchange.Order),
		all:       make(map[string]exchange.Order),
		balances:  make(map[string]decimal.Decimal),
		bestPrice: decimal.NewFromInt(2000),
	}
	v.balances["USDT"] = decimal.NewFromInt(10000)
	return v
}

var errVenueDown = &timeoutErr{}

// timeoutErr satisfies net.Error so it classifies as unavailable
type timeoutErr struct{}

func (*timeoutErr) Error() string   { return "venue down" }
func (*timeoutErr) Timeout() bool   { return true }
func (*timeoutErr) Temporary() bool { return true }

func (v *fakeVenue) addOpenOrder(id, clientID, symbol, side string, price, qty decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o := exchange.Order{
		ID: id, ClientOrderID: clientID, Symbol: symbol, Side: side,
		Price: price, Quantity: qty, Status: "NEW", UpdatedAt: time.Now(),
	}
	v.open[id] = o
	v.all[id] = o
}

// fill moves an open order to filled: it leaves the open set, appears in
// the closed list and produces a trade
func (v *fakeVenue) fill(id string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.open[id]
	if !ok {
		return
	}
	delete(v.open, id)
	o.Status = "FILLED"
	o.ExecutedQty = o.Quantity
	o.AvgFilledPrice = o.Price
	o.UpdatedAt = time.Now()
	v.all[id] = o
	v.closed = append(v.closed, o)
	v.trades = append(v.trades, exchange.Trade{
		ID: "t" + id, OrderID: id, Symbol: o.Symbol, Side: o.Side,
		Price: o.Price, Quantity: o.Quantity, Time: o.UpdatedAt,
	})
}

func (v *fakeVenue) PlaceLimitOrder(ctx context.Context, symbol, side string, price, qty decimal.Decimal, clientOrderID string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := fmt.Sprintf("%d", v.nextID)
	o := exchange.Order{
		ID: id, ClientOrderID: clientOrderID, Symbol: symbol, Side: side,
		Price: price, Quantity: qty, Status: "NEW", UpdatedAt: time.Now(),
	}
	v.open[id] = o
	v.all[id] = o
	return id, nil
}

func (v *fakeVenue) PlaceMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, clientOrderID string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	id := fmt.Sprintf("%d", v.nextID)
	o := exchange.Order{
		ID: id, ClientOrderID: clientOrderID, Symbol: symbol, Side: side,
		Quantity: qty, Status: "FILLED", UpdatedAt: time.Now(),
	}
	v.all[id] = o
	v.marketOrders = append(v.marketOrders, o)
	return id, nil
}

func (v *fakeVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.cancelFails > 0 {
		v.cancelFails--
		return errVenueDown
	}
	o, ok := v.open[orderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", orderID, exchange.ErrOrderNotFound)
	}
	delete(v.open, orderID)
	o.Status = "CANCELED"
	v.all[orderID] = o
	v.cancelled = append(v.cancelled, orderID)
	return nil
}

func (v *fakeVenue) ListOpenOrders(ctx context.Context, symbol, prefix string) ([]exchange.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failOpen || v.openFails > 0 {
		if v.openFails > 0 {
			v.openFails--
		}
		return nil, errVenueDown
	}
	var out []exchange.Order
	for _, o := range v.open {
		if prefix != "" && !strings.HasPrefix(o.ClientOrderID, prefix) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (v *fakeVenue) ListClosedOrdersSince(ctx context.Context, symbol string, since time.Time) ([]exchange.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failClosed {
		return nil, errVenueDown
	}
	var out []exchange.Order
	for _, o := range v.closed {
		if o.UpdatedAt.Before(since) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (v *fakeVenue) ListTradesSince(ctx context.Context, symbol string, since time.Time) ([]exchange.Trade, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failTrades {
		return nil, errVenueDown
	}
	var out []exchange.Trade
	for _, t := range v.trades {
		if t.Time.Before(since) {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func (v *fakeVenue) GetOrder(ctx context.Context, symbol, orderID string) (*exchange.Order, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.failGet {
		return nil, errVenueDown
	}
	o, ok := v.all[orderID]
	if !ok {
		return nil, exchange.ErrOrderNotFound
	}
	return &o, nil
}

func (v *fakeVenue) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.bestPrice, nil
}

func (v *fakeVenue) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances[asset], nil
}

func (v *fakeVenue) openCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.open)
}

// memRepo in-memory grid.Repository
type memRepo struct {
	mu      sync.Mutex
	configs []StrategyConfig
	states  []StrategyState
	fills   []FillEvent
	loadErr error
}

func (r *memRepo) SaveConfig(cfg *StrategyConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs = append(r.configs, *cfg)
	return nil
}

func (r *memRepo) SaveState(st *StrategyState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *st
	r.states = append(r.states, cp)
	return nil
}

func (r *memRepo) LoadState(pair string) (*StrategyState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loadErr != nil {
		return nil, r.loadErr
	}
	for i := len(r.states) - 1; i >= 0; i-- {
		if r.states[i].Pair == pair {
			cp := r.states[i]
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) RecordFill(pair string, f FillEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fills = append(r.fills, f)
	return nil
}

// memDecisions static grid.DecisionSource
type memDecisions struct {
	mu  sync.Mutex
	dec *Decision
	err error
}

func (d *memDecisions) set(action, reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dec = &Decision{Pair: "ETH/USDT", Kind: StrategyKindGrid, Action: action, Reason: reason, CreatedAt: time.Now()}
}

func (d *memDecisions) Latest(pair, kind string) (*Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dec, d.err
}

// captureNotifier records events
type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (n *captureNotifier) Notify(e notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
}

func (n *captureNotifier) kinds() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.Kind)
	}
	return out
}

// testConfig the reference strategy configuration used across tests
func testConfig() *StrategyConfig {
	return &StrategyConfig{
		Pair:              "ETH/USDT",
		TotalCapital:      decimal.NewFromInt(1000),
		GridLevels:        10,
		PriceRangePercent: decimal.NewFromInt(10),
		StopLossPercent:   decimal.NewFromInt(5),
		TrailingUp:        true,
		Mode:              ModePaper,
		MinOrderValue:     decimal.NewFromInt(10),
		PriceTick:         decimal.RequireFromString("0.01"),
		QtyStep:           decimal.RequireFromString("0.00001"),
	}
}

// newTestEngine wires an engine over the fakes
func newTestEngine(v *fakeVenue) (*Engine, *memRepo, *memDecisions, *captureNotifier) {
	repo := &memRepo{}
	decs := &memDecisions{}
	not := &captureNotifier{}
	ledger := NewLedger()
	e := NewEngine(testConfig(), v, ledger, repo, decs, not, time.Second, time.Minute)
	ledger.Register(e.cfg.Pair, e.cfg.TotalCapital)
	return e, repo, decs, not
}

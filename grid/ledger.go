package grid

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Ledger tracks allocated vs. committed capital per strategy instance.
// Reserve/Release are the only way committed capital is tracked; the engine
// never re-derives usage by summing open orders, since that could race with
// a placement in flight.
//
// One Ledger is shared by all strategies on an account: it is the single
// arbiter preventing aggregate placement beyond the account's real balance.
type Ledger struct {
	mu          sync.Mutex
	allocated   map[string]decimal.Decimal // strategy ID -> total capital
	reserved    map[string]decimal.Decimal // strategy ID -> committed notional
	balance     decimal.Decimal            // last known account quote balance
	haveBalance bool
}

// NewLedger creates an empty ledger
func NewLedger() *Ledger {
	return &Ledger{
		allocated: make(map[string]decimal.Decimal),
		reserved:  make(map[string]decimal.Decimal),
	}
}

// Register sets a strategy's capital allocation. Any existing reservation
// for the ID is kept (re-activation with the same ID).
func (l *Ledger) Register(strategyID string, totalCapital decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.allocated[strategyID] = totalCapital
	if _, ok := l.reserved[strategyID]; !ok {
		l.reserved[strategyID] = decimal.Zero
	}
}

// Unregister removes a strategy and frees its reservations
func (l *Ledger) Unregister(strategyID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.allocated, strategyID)
	delete(l.reserved, strategyID)
}

// SetAccountBalance records the venue-reported quote balance used for the
// aggregate cross-check. Refreshed once per reconcile cycle.
func (l *Ledger) SetAccountBalance(balance decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance = balance
	l.haveBalance = true
}

// Reserve commits notional capital for a strategy before an order is
// placed. Refused when the strategy would exceed its own allocation, or
// when the sum of all strategies' reservations would exceed the last known
// account balance.
func (l *Ledger) Reserve(strategyID string, notional decimal.Decimal) error {
	if notional.LessThanOrEqual(decimal.Zero) {
		return Errorf(ErrInsufficientCapital, "notional must be positive, got %s", notional)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	alloc, ok := l.allocated[strategyID]
	if !ok {
		return Errorf(ErrInsufficientCapital, "strategy %s is not registered", strategyID)
	}
	cur := l.reserved[strategyID]
	if cur.Add(notional).GreaterThan(alloc) {
		return Errorf(ErrInsufficientCapital,
			"strategy %s: reserved %s + %s exceeds allocation %s", strategyID, cur, notional, alloc)
	}

	if l.haveBalance {
		total := notional
		for _, r := range l.reserved {
			total = total.Add(r)
		}
		if total.GreaterThan(l.balance) {
			return Errorf(ErrInsufficientCapital,
				"aggregate reservation %s exceeds account balance %s", total, l.balance)
		}
	}

	l.reserved[strategyID] = cur.Add(notional)
	return nil
}

// Release returns committed capital on cancellation or fill. Clamped at
// zero so a duplicate release cannot drive the reservation negative.
func (l *Ledger) Release(strategyID string, notional decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, ok := l.reserved[strategyID]
	if !ok {
		return
	}
	next := cur.Sub(notional)
	if next.LessThan(decimal.Zero) {
		next = decimal.Zero
	}
	l.reserved[strategyID] = next
}

// ReleaseAll frees every reservation for a strategy (cancel-all paths)
func (l *Ledger) ReleaseAll(strategyID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.reserved[strategyID]; ok {
		l.reserved[strategyID] = decimal.Zero
	}
}

// Reserved returns the committed notional for a strategy
func (l *Ledger) Reserved(strategyID string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reserved[strategyID]
}

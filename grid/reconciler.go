package grid

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/exchange"
	"gridbot/logger"
)

// acceptedRetention how long an accepted order ID is remembered for
// duplicate suppression after its record is gone
const acceptedRetention = time.Hour

// Reconciler detects fills for one strategy by combining three independent
// detection methods and deduplicating by order identifier:
//
//  1. set-difference: an order open last cycle and gone now is a candidate
//  2. closed-order query since the last successful cycle
//  3. trade-history query with parent-order resolution
//
// The first method to report an order wins; later reports are dropped.
// A method that errors is skipped for the cycle without touching its
// checkpoint; if all three fail the whole cycle is a no-op. Missing a fill
// for one cycle is preferred over fabricating one.
type Reconciler struct {
	client    exchange.Client
	symbol    string
	tagPrefix string

	prevOpen   map[string]struct{}
	havePrev   bool
	closedFrom time.Time
	tradesFrom time.Time

	accepted map[string]time.Time // order ID -> acceptance time
	flagged  map[string]struct{}  // orphan order IDs already reported
	pending  map[string]struct{}  // disappeared orders awaiting venue resolution
}

// DetectResult outcome of one reconcile cycle
type DetectResult struct {
	Fills     []FillEvent
	Cancelled []string // order IDs the venue reports as cancelled, not filled

	// Orphans are open orders bearing this engine's tag that it does not
	// track. At runtime that indicates a correlation-tag bug, so they are
	// reported (once per order) instead of silently cancelled.
	Orphans []exchange.Order
}

// NewReconciler creates a reconciler; checkpoints start at now so history
// queries never reach back before this engine's lifetime
func NewReconciler(client exchange.Client, symbol, tagPrefix string, now time.Time) *Reconciler {
	return &Reconciler{
		client:     client,
		symbol:     symbol,
		tagPrefix:  tagPrefix,
		closedFrom: now,
		tradesFrom: now,
		accepted:   make(map[string]time.Time),
		flagged:    make(map[string]struct{}),
		pending:    make(map[string]struct{}),
	}
}

// Detect runs one cycle against the orders the engine currently tracks
func (r *Reconciler) Detect(ctx context.Context, tracked map[string]*OrderRecord, now time.Time) (*DetectResult, error) {
	r.pruneAccepted(now)

	res := &DetectResult{}
	failures := 0

	if err := r.detectBySetDifference(ctx, tracked, now, res); err != nil {
		logger.Warnf("fill detection (set difference) skipped for %s: %v", r.symbol, err)
		failures++
	}
	if err := r.detectByClosedOrders(ctx, tracked, now, res); err != nil {
		logger.Warnf("fill detection (closed orders) skipped for %s: %v", r.symbol, err)
		failures++
	}
	if err := r.detectByTradeHistory(ctx, tracked, now, res); err != nil {
		logger.Warnf("fill detection (trade history) skipped for %s: %v", r.symbol, err)
		failures++
	}

	if failures == 3 {
		return nil, Errorf(ErrVenueUnavailable, "all fill detection methods failed for %s", r.symbol)
	}
	return res, nil
}

// detectBySetDifference compares currently open venue orders against the
// previous cycle's set; anything that disappeared is resolved individually
func (r *Reconciler) detectBySetDifference(ctx context.Context, tracked map[string]*OrderRecord, now time.Time, res *DetectResult) error {
	open, err := r.client.ListOpenOrders(ctx, r.symbol, r.tagPrefix)
	if err != nil {
		return err
	}

	cur := make(map[string]struct{}, len(open))
	for _, o := range open {
		cur[o.ID] = struct{}{}
		if _, ok := tracked[o.ID]; ok {
			continue
		}
		if _, seen := r.flagged[o.ID]; seen {
			continue
		}
		r.flagged[o.ID] = struct{}{}
		res.Orphans = append(res.Orphans, o)
	}

	if r.havePrev {
		for id := range r.prevOpen {
			if _, stillOpen := cur[id]; stillOpen {
				continue
			}
			if _, ok := tracked[id]; ok {
				r.pending[id] = struct{}{}
			}
		}
	}

	// A disappeared order stays pending until the venue says what happened
	// to it, however many cycles that takes
	for id := range r.pending {
		rec, ok := tracked[id]
		if !ok {
			delete(r.pending, id)
			continue
		}
		if r.resolveCandidate(ctx, rec, DetectSetDiff, now, res) {
			delete(r.pending, id)
		}
	}

	r.prevOpen = cur
	r.havePrev = true
	return nil
}

// resolveCandidate asks the venue what actually happened to a disappeared
// order. An order the venue no longer knows is treated as filled at its
// recorded price and quantity. Returns false when the venue could not be
// asked, so the caller keeps the candidate for a later cycle.
func (r *Reconciler) resolveCandidate(ctx context.Context, rec *OrderRecord, method DetectionMethod, now time.Time, res *DetectResult) bool {
	ord, err := r.client.GetOrder(ctx, r.symbol, rec.OrderID)
	if err != nil {
		if errors.Is(err, exchange.ErrOrderNotFound) {
			r.accept(rec, method, decimal.Zero, decimal.Zero, now, res)
			return true
		}
		logger.Warnf("cannot resolve disappeared order %s on %s, deferring: %v", rec.OrderID, r.symbol, err)
		return false
	}
	switch {
	case ord.Status == "FILLED":
		r.accept(rec, method, ord.AvgFilledPrice, ord.ExecutedQty, now, res)
	case ord.Closed():
		res.Cancelled = append(res.Cancelled, rec.OrderID)
	}
	return true
}

// detectByClosedOrders queries orders closed since the last successful run
// of this method and intersects them with tracked records
func (r *Reconciler) detectByClosedOrders(ctx context.Context, tracked map[string]*OrderRecord, now time.Time, res *DetectResult) error {
	closed, err := r.client.ListClosedOrdersSince(ctx, r.symbol, r.closedFrom)
	if err != nil {
		return err
	}
	for i := range closed {
		o := &closed[i]
		rec, ok := tracked[o.ID]
		if !ok {
			continue
		}
		switch {
		case o.Status == "FILLED":
			r.accept(rec, DetectClosedOrders, o.AvgFilledPrice, o.ExecutedQty, now, res)
		case o.Closed():
			res.Cancelled = append(res.Cancelled, o.ID)
		}
	}
	r.closedFrom = now
	return nil
}

// detectByTradeHistory walks recent executed trades and resolves each
// parent order before accepting anything
func (r *Reconciler) detectByTradeHistory(ctx context.Context, tracked map[string]*OrderRecord, now time.Time, res *DetectResult) error {
	trades, err := r.client.ListTradesSince(ctx, r.symbol, r.tradesFrom)
	if err != nil {
		return err
	}
	// The checkpoint only moves past trades whose parent order was
	// resolved; an unresolved trade keeps its evidence in the next query
	checkpoint := now
	for _, t := range trades {
		rec, ok := tracked[t.OrderID]
		if !ok {
			continue
		}
		if _, dup := r.accepted[rec.OrderID]; dup {
			continue
		}
		ord, err := r.client.GetOrder(ctx, r.symbol, t.OrderID)
		if err != nil {
			if errors.Is(err, exchange.ErrOrderNotFound) {
				r.accept(rec, DetectTradeHistory, t.Price, decimal.Zero, now, res)
				continue
			}
			if t.Time.Before(checkpoint) {
				checkpoint = t.Time
			}
			continue
		}
		if ord.Status == "FILLED" {
			r.accept(rec, DetectTradeHistory, ord.AvgFilledPrice, ord.ExecutedQty, now, res)
		}
	}
	r.tradesFrom = checkpoint
	return nil
}

// accept records exactly one fill per order identifier. Zero price or
// quantity fall back to the order record's values.
func (r *Reconciler) accept(rec *OrderRecord, method DetectionMethod, price, qty decimal.Decimal, now time.Time, res *DetectResult) {
	if _, dup := r.accepted[rec.OrderID]; dup {
		return
	}
	r.accepted[rec.OrderID] = now

	if price.LessThanOrEqual(decimal.Zero) {
		price = rec.Price
	}
	if qty.LessThanOrEqual(decimal.Zero) {
		qty = rec.Quantity
	}
	res.Fills = append(res.Fills, FillEvent{
		OrderID:        rec.OrderID,
		CorrelationTag: rec.CorrelationTag,
		Side:           rec.Side,
		Price:          price,
		Quantity:       qty,
		Method:         method,
		DetectedAt:     now,
	})
}

// Forget drops set-difference tracking for orders the engine cancelled
// itself, so its own cancellations are not mistaken for fills
func (r *Reconciler) Forget(orderIDs ...string) {
	for _, id := range orderIDs {
		delete(r.prevOpen, id)
		delete(r.pending, id)
	}
}

func (r *Reconciler) pruneAccepted(now time.Time) {
	for id, at := range r.accepted {
		if now.Sub(at) > acceptedRetention {
			delete(r.accepted, id)
		}
	}
}

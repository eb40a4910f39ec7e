package grid

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gridbot/exchange"
	"gridbot/logger"
	"gridbot/notify"
)

// Engine runs one grid strategy instance: a fast loop reconciling fills
// and evaluating risk, and a slow loop applying activation decisions.
// Everything that touches StrategyState or the shared Ledger serializes on
// the engine's mutex, so a stop-loss can never race a complementary
// placement for the same strategy.
type Engine struct {
	cfg       *StrategyConfig
	state     *StrategyState
	client    exchange.Client
	ledger    *Ledger
	repo      Repository
	decisions DecisionSource
	notifier  notify.Notifier
	rec       *Reconciler

	reconcileInterval  time.Duration
	transitionInterval time.Duration

	// set when persisted state failed integrity checks; the engine then
	// refuses transitions until the stored state is repaired
	corrupted bool

	mu     sync.Mutex
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates an engine for one pair. cfg carries the activation
// parameters that each activation stamps into a fresh immutable config.
func NewEngine(
	cfg *StrategyConfig,
	client exchange.Client,
	ledger *Ledger,
	repo Repository,
	decisions DecisionSource,
	notifier notify.Notifier,
	reconcileInterval, transitionInterval time.Duration,
) *Engine {
	if reconcileInterval <= 0 {
		reconcileInterval = 10 * time.Second
	}
	if transitionInterval <= 0 {
		transitionInterval = time.Hour
	}
	e := &Engine{
		cfg:                cfg,
		state:              NewStrategyState(cfg.Pair),
		client:             client,
		ledger:             ledger,
		repo:               repo,
		decisions:          decisions,
		notifier:           notifier,
		reconcileInterval:  reconcileInterval,
		transitionInterval: transitionInterval,
		stopCh:             make(chan struct{}),
	}
	e.rec = NewReconciler(client, cfg.Symbol(), e.tagPrefix(), time.Now())
	return e
}

// Pair returns the engine's trading pair
func (e *Engine) Pair() string {
	return e.cfg.Pair
}

// tagPrefix is stable across restarts so orphans from a previous run are
// recognizable at startup
func (e *Engine) tagPrefix() string {
	return "gx-" + strings.ToLower(e.cfg.Symbol()) + "-"
}

func (e *Engine) newTag() string {
	return e.tagPrefix() + uuid.NewString()[:8]
}

// Start performs startup reconciliation and launches the loops
func (e *Engine) Start(ctx context.Context) error {
	if err := e.startupReconciliation(ctx); err != nil {
		return fmt.Errorf("startup reconciliation for %s: %w", e.cfg.Pair, err)
	}

	e.wg.Add(2)
	go e.runLoop(e.reconcileInterval, e.reconcileTick)
	go e.runLoop(e.transitionInterval, e.transitionTick)
	logger.Infof("grid engine started for %s (reconcile %s, transitions %s)",
		e.cfg.Pair, e.reconcileInterval, e.transitionInterval)
	return nil
}

// StartWithRetry retries Start a bounded number of times, for venues that
// are briefly unreachable while the process boots
func (e *Engine) StartWithRetry(ctx context.Context, attempts int, delay time.Duration) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = e.Start(ctx); err == nil {
			return nil
		}
		logger.Warnf("engine start failed for %s (attempt %d/%d): %v", e.cfg.Pair, attempt, attempts, err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}

// Stop halts both loops and waits for in-flight ticks to finish
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	logger.Infof("grid engine stopped for %s", e.cfg.Pair)
}

func (e *Engine) runLoop(interval time.Duration, tick func()) {
	defer e.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			tick()
		}
	}
}

// reconcileTick is one fast cycle: refresh the balance arbiter, detect
// fills, re-ladder, then evaluate risk — strictly in that order, so a fill
// discovered this cycle can immediately trip the stop-loss check
func (e *Engine) reconcileTick() {
	ctx := context.Background()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.Lifecycle != StateActive {
		return
	}

	if bal, err := e.client.GetBalance(ctx, e.cfg.QuoteAsset()); err == nil {
		e.ledger.SetAccountBalance(bal)
	} else {
		logger.Warnf("balance refresh failed for %s: %v", e.cfg.Pair, err)
	}

	now := time.Now()
	res, err := e.rec.Detect(ctx, e.state.OpenOrders, now)
	if err != nil {
		logger.Warnf("reconcile cycle skipped for %s: %v", e.cfg.Pair, err)
		return
	}

	for _, o := range res.Orphans {
		err := Errorf(ErrOrphanOrderDetected,
			"untracked order %s (%s) carries this engine's tag at runtime", o.ID, o.ClientOrderID)
		logger.Errorf("📛 %s: %v", e.cfg.Pair, err)
		e.notifier.Notify(notify.Event{
			Kind: notify.KindOrphanOrder, Pair: e.cfg.Pair, Details: err.Error(),
		})
	}
	for _, id := range res.Cancelled {
		e.removeOrder(id)
	}
	for _, f := range res.Fills {
		e.handleFill(ctx, f)
	}
	if len(res.Fills) > 0 || len(res.Cancelled) > 0 {
		e.persistState()
	}

	best, err := e.client.GetBestPrice(ctx, e.cfg.Symbol())
	if err != nil {
		logger.Warnf("risk evaluation skipped for %s, no price: %v", e.cfg.Pair, err)
		return
	}
	e.evaluateRisk(ctx, best)
}

// handleFill consumes one fill event: release its capital, audit it, and
// keep the ladder alive with a single complementary order
func (e *Engine) handleFill(ctx context.Context, f FillEvent) {
	rec, ok := e.state.OpenOrders[f.OrderID]
	if !ok {
		return
	}
	delete(e.state.OpenOrders, f.OrderID)
	e.ledger.Release(e.cfg.Pair, rec.Notional())
	e.state.RefreshBounds()

	if err := e.repo.RecordFill(e.cfg.Pair, f); err != nil {
		logger.Warnf("fill audit write failed for %s: %v", e.cfg.Pair, err)
	}
	logger.Infof("✅ fill on %s: %s %s @ %s (method: %s)", e.cfg.Pair, f.Side, f.Quantity, f.Price, f.Method)

	// A pause or stop observed mid-cycle must win over stale intent
	if e.state.Lifecycle != StateActive {
		return
	}

	comp := ComplementaryLevel(e.cfg, f)
	if _, err := e.placeLimit(ctx, comp); err != nil {
		if IsKind(err, ErrInsufficientCapital) {
			e.notifier.Notify(notify.Event{
				Kind: notify.KindInsufficientCapital, Pair: e.cfg.Pair,
				Details: fmt.Sprintf("complementary %s %s@%s refused: %v", comp.Side, comp.Quantity, comp.Price, err),
			})
		}
		logger.Errorf("complementary order failed for %s: %v", e.cfg.Pair, err)
		return
	}
	e.state.RefreshBounds()
}

// placeLimit reserves capital, places the order and tracks the record.
// The reservation is rolled back when the venue call fails.
func (e *Engine) placeLimit(ctx context.Context, lv Level) (*OrderRecord, error) {
	notional := lv.Notional()
	if err := e.ledger.Reserve(e.cfg.Pair, notional); err != nil {
		return nil, err
	}

	tag := e.newTag()
	id, err := e.client.PlaceLimitOrder(ctx, e.cfg.Symbol(), string(lv.Side), lv.Price, lv.Quantity, tag)
	if err != nil {
		e.ledger.Release(e.cfg.Pair, notional)
		return nil, WrapErr(ErrVenueUnavailable, err, "place %s %s@%s", lv.Side, lv.Quantity, lv.Price)
	}

	rec := &OrderRecord{
		OrderID:        id,
		CorrelationTag: tag,
		Side:           lv.Side,
		Price:          lv.Price,
		Quantity:       lv.Quantity,
		Status:         OrderOpen,
		CreatedAt:      time.Now(),
	}
	e.state.OpenOrders[id] = rec
	return rec, nil
}

// removeOrder drops a tracked order and frees its reservation
func (e *Engine) removeOrder(id string) {
	rec, ok := e.state.OpenOrders[id]
	if !ok {
		return
	}
	delete(e.state.OpenOrders, id)
	e.ledger.Release(e.cfg.Pair, rec.Notional())
	e.state.RefreshBounds()
}

// cancelAllOrders cancels every tracked order. Orders the venue no longer
// knows were likely filled concurrently; they stay tracked so the caller
// can re-query and act on reality rather than assumption.
func (e *Engine) cancelAllOrders(ctx context.Context) (failed []string) {
	for id := range e.state.OpenOrders {
		if err := e.client.CancelOrder(ctx, e.cfg.Symbol(), id); err != nil {
			failed = append(failed, id)
			logger.Warnf("cancel %s on %s failed: %v", id, e.cfg.Pair, err)
			continue
		}
		e.rec.Forget(id)
		e.removeOrder(id)
	}
	return failed
}

// placeLadder places every level, tolerating individual failures, and
// returns how many orders landed
func (e *Engine) placeLadder(ctx context.Context, levels []Level) int {
	placed := 0
	for _, lv := range levels {
		if e.state.Lifecycle == StateStopped {
			break
		}
		if _, err := e.placeLimit(ctx, lv); err != nil {
			if IsKind(err, ErrInsufficientCapital) {
				e.notifier.Notify(notify.Event{
					Kind: notify.KindInsufficientCapital, Pair: e.cfg.Pair,
					Details: fmt.Sprintf("ladder level %s %s@%s refused: %v", lv.Side, lv.Quantity, lv.Price, err),
				})
			}
			logger.Errorf("ladder placement failed for %s %s@%s: %v", e.cfg.Pair, lv.Side, lv.Price, err)
			continue
		}
		placed++
	}
	return placed
}

func (e *Engine) persistState() {
	if err := e.repo.SaveState(e.state); err != nil {
		logger.Errorf("state persistence failed for %s: %v", e.cfg.Pair, err)
	}
}

// Status read-only snapshot for the API surface
type Status struct {
	Pair             string          `json:"pair"`
	Lifecycle        LifecycleState  `json:"lifecycle"`
	Mode             Mode            `json:"mode"`
	OpenOrders       int             `json:"open_orders"`
	Reserved         decimal.Decimal `json:"reserved"`
	LowestBuyPrice   decimal.Decimal `json:"lowest_buy_price"`
	HighestSellPrice decimal.Decimal `json:"highest_sell_price"`
	StopLossCount    int             `json:"stop_loss_count"`
	TrailingUpCount  int             `json:"trailing_up_count"`
	LastAdjustedAt   time.Time       `json:"last_adjusted_at"`
	Corrupted        bool            `json:"corrupted,omitempty"`
}

// Status returns the engine's current snapshot
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{
		Pair:             e.cfg.Pair,
		Lifecycle:        e.state.Lifecycle,
		Mode:             e.cfg.Mode,
		OpenOrders:       len(e.state.OpenOrders),
		Reserved:         e.ledger.Reserved(e.cfg.Pair),
		LowestBuyPrice:   e.state.LowestBuyPrice,
		HighestSellPrice: e.state.HighestSellPrice,
		StopLossCount:    e.state.StopLossCount,
		TrailingUpCount:  e.state.TrailingUpCount,
		LastAdjustedAt:   e.state.LastAdjustedAt,
		Corrupted:        e.corrupted,
	}
}

package grid

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gridbot/exchange"
	"gridbot/logger"
	"gridbot/notify"
)

// startupReconciliation cancels every open venue order bearing this
// engine's correlation tag — orphans of a previous, possibly crashed, run —
// and enters STANDBY. The engine never auto-resumes trading after a
// restart; only an external activation decision brings it back.
func (e *Engine) startupReconciliation(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.loadPersistedState()

	open, err := e.client.ListOpenOrders(ctx, e.cfg.Symbol(), e.tagPrefix())
	if err != nil {
		return WrapErr(ErrVenueUnavailable, err, "orphan scan for %s", e.cfg.Pair)
	}

	cancelled := 0
	for _, o := range open {
		if err := e.client.CancelOrder(ctx, e.cfg.Symbol(), o.ID); err != nil {
			if errors.Is(err, exchange.ErrOrderNotFound) {
				continue
			}
			return WrapErr(ErrVenueUnavailable, err, "orphan cancel %s for %s", o.ID, e.cfg.Pair)
		}
		cancelled++
	}
	if cancelled > 0 {
		logger.Warnf("cancelled %d orphan orders on %s from a previous run", cancelled, e.cfg.Pair)
	}

	prior := e.state.Lifecycle
	e.state.Lifecycle = StateStandby
	e.state.OpenOrders = make(map[string]*OrderRecord)
	e.state.RefreshBounds()
	e.persistState()

	e.notifier.Notify(notify.Event{
		Kind: notify.KindStartup, Pair: e.cfg.Pair,
		Details: fmt.Sprintf("startup: %d orphans cancelled, %s -> STANDBY", cancelled, prior),
	})
	return nil
}

// loadPersistedState restores the last known state. A record that fails to
// deserialize or violates an invariant holds this strategy in standby
// pending manual intervention; other strategies are unaffected.
func (e *Engine) loadPersistedState() {
	st, err := e.repo.LoadState(e.cfg.Pair)
	if err != nil {
		if IsKind(err, ErrStateCorruption) {
			e.corrupted = true
			logger.Errorf("💥 persisted state for %s is corrupt, holding in standby: %v", e.cfg.Pair, err)
			e.notifier.Notify(notify.Event{
				Kind: notify.KindStateCorruption, Pair: e.cfg.Pair,
				Details: fmt.Sprintf("persisted state corrupt, manual intervention required: %v", err),
			})
		} else {
			logger.Warnf("cannot load persisted state for %s, starting fresh: %v", e.cfg.Pair, err)
		}
		e.state = NewStrategyState(e.cfg.Pair)
		return
	}
	if st == nil {
		e.state = NewStrategyState(e.cfg.Pair)
		return
	}
	e.state = st
}

// transitionTick is one slow cycle: compare the latest external decision
// against the current lifecycle state and transition accordingly
func (e *Engine) transitionTick() {
	ctx := context.Background()
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.corrupted {
		logger.Warnf("transition check skipped for %s: state corrupt", e.cfg.Pair)
		return
	}

	dec, err := e.decisions.Latest(e.cfg.Pair, StrategyKindGrid)
	if err != nil {
		logger.Warnf("decision feed read failed for %s: %v", e.cfg.Pair, err)
		return
	}
	if dec == nil {
		return
	}

	switch {
	case dec.Action == DecisionOperate && e.state.Lifecycle != StateActive:
		if err := e.activate(ctx, dec.Reason); err != nil {
			logger.Errorf("activation failed for %s: %v", e.cfg.Pair, err)
		}
	case dec.Action == DecisionPause && e.state.Lifecycle == StateActive:
		e.pause(ctx, dec.Reason)
	}
}

// activate validates a fresh activation config, computes the initial
// ladder and places it. An invalid config is fatal for the activation; the
// strategy never reaches ACTIVE.
func (e *Engine) activate(ctx context.Context, reason string) error {
	cfg := e.newActivationConfig()
	if err := cfg.Validate(); err != nil {
		e.notifier.Notify(notify.Event{
			Kind: notify.KindInvalidConfig, Pair: e.cfg.Pair,
			Details: fmt.Sprintf("activation refused, invalid config: %v", err),
		})
		return err
	}

	best, err := e.client.GetBestPrice(ctx, cfg.Symbol())
	if err != nil {
		return WrapErr(ErrVenueUnavailable, err, "reference price for %s", cfg.Pair)
	}

	levels, err := ComputeLadder(cfg, best)
	if err != nil {
		return err
	}

	if err := e.repo.SaveConfig(cfg); err != nil {
		return fmt.Errorf("persist activation config: %w", err)
	}

	e.cfg = cfg
	e.ledger.Register(cfg.Pair, cfg.TotalCapital)
	if bal, err := e.client.GetBalance(ctx, cfg.QuoteAsset()); err == nil {
		e.ledger.SetAccountBalance(bal)
	}

	e.state.Lifecycle = StateActive
	e.state.ConfigID = cfg.ID
	placed := e.placeLadder(ctx, levels)
	if placed == 0 {
		e.state.Lifecycle = StateStandby
		e.ledger.ReleaseAll(cfg.Pair)
		e.persistState()
		return Errorf(ErrVenueUnavailable, "no ladder orders placed for %s", cfg.Pair)
	}

	e.state.RefreshBounds()
	e.state.LastAdjustedAt = time.Now()
	e.persistState()

	logger.Infof("🚀 %s activated around %s with %d/%d orders (%s)", cfg.Pair, best, placed, len(levels), reason)
	e.notifier.Notify(notify.Event{
		Kind: notify.KindActivated, Pair: cfg.Pair,
		Details: fmt.Sprintf("activated around %s with %d orders: %s", best, placed, reason),
	})
	return nil
}

// pause cancels all orders and returns to STANDBY
func (e *Engine) pause(ctx context.Context, reason string) {
	failed := e.cancelAllOrders(ctx)
	if len(failed) > 0 {
		// Whatever lost the race to a fill will be settled by the venue;
		// tracking stops here either way
		logger.Warnf("pause on %s left %d unresolved cancels", e.cfg.Pair, len(failed))
		for _, id := range failed {
			e.rec.Forget(id)
			e.removeOrder(id)
		}
	}

	e.state.Lifecycle = StateStandby
	e.state.OpenOrders = make(map[string]*OrderRecord)
	e.state.RefreshBounds()
	e.ledger.ReleaseAll(e.cfg.Pair)
	e.persistState()

	logger.Infof("⏸️ %s paused: %s", e.cfg.Pair, reason)
	e.notifier.Notify(notify.Event{
		Kind: notify.KindPaused, Pair: e.cfg.Pair,
		Details: "paused: " + reason,
	})
}

// newActivationConfig stamps a fresh immutable config for this activation;
// the previous config is replaced, never mutated
func (e *Engine) newActivationConfig() *StrategyConfig {
	cfg := *e.cfg
	cfg.ID = uuid.NewString()
	cfg.ActivatedAt = time.Now()
	return &cfg
}

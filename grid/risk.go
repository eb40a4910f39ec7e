package grid

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/exchange"
	"gridbot/logger"
	"gridbot/notify"
)

// evaluateRisk runs the protective checks against the current best price.
// Stop-loss is checked first; a stopped strategy is never trailed up.
// Caller holds the engine mutex.
func (e *Engine) evaluateRisk(ctx context.Context, best decimal.Decimal) {
	if e.state.Lifecycle != StateActive {
		return
	}
	if e.stopLossTriggered(best) {
		e.executeStopLoss(ctx, best)
		return
	}
	if e.cfg.TrailingUp && e.trailingUpTriggered(best) {
		e.executeTrailingUp(ctx, best)
	}
}

// stopLossTriggered fires when price falls below the lowest tracked buy by
// more than the configured percentage
func (e *Engine) stopLossTriggered(best decimal.Decimal) bool {
	if !e.state.LowestBuyPrice.IsPositive() {
		return false
	}
	threshold := e.state.LowestBuyPrice.Mul(
		decimal.NewFromInt(1).Sub(e.cfg.StopLossPercent.Div(hundred)))
	return best.LessThan(threshold)
}

// trailingUpTriggered fires when price climbs above the highest tracked sell
func (e *Engine) trailingUpTriggered(best decimal.Decimal) bool {
	return e.state.HighestSellPrice.IsPositive() && best.GreaterThan(e.state.HighestSellPrice)
}

// executeStopLoss cancels everything, liquidates whatever base position
// actually exists, and parks the strategy in STOPPED. Irreversible without
// an external re-activation.
func (e *Engine) executeStopLoss(ctx context.Context, best decimal.Decimal) {
	logger.Warnf("🛑 stop loss on %s at %s (lowest buy %s, threshold %s%%)",
		e.cfg.Pair, best, e.state.LowestBuyPrice, e.cfg.StopLossPercent)

	failed := e.cancelAllOrders(ctx)
	var surviving []string
	if len(failed) > 0 {
		// Some cancels lost the race against concurrent fills; re-query so
		// liquidation acts on the real position, not the assumed one
		open, err := e.client.ListOpenOrders(ctx, e.cfg.Symbol(), e.tagPrefix())
		if err != nil {
			logger.Errorf("post-cancel re-query failed for %s: %v", e.cfg.Pair, err)
			surviving = failed
		} else {
			stillOpen := make(map[string]struct{}, len(open))
			for _, o := range open {
				stillOpen[o.ID] = struct{}{}
			}
			for _, id := range failed {
				if _, ok := stillOpen[id]; !ok {
					// Gone from the book: treat as consumed, not cancelled
					e.rec.Forget(id)
					e.removeOrder(id)
					continue
				}
				// Still resting: one more attempt before giving up
				if err := e.client.CancelOrder(ctx, e.cfg.Symbol(), id); err != nil {
					if !errors.Is(err, exchange.ErrOrderNotFound) {
						surviving = append(surviving, id)
						logger.Errorf("order %s survived stop-loss cancellation on %s: %v", id, e.cfg.Pair, err)
						continue
					}
				}
				e.rec.Forget(id)
				e.removeOrder(id)
			}
		}
	}

	liquidated := e.liquidateBasePosition(ctx)

	e.state.Lifecycle = StateStopped
	e.state.StopLossCount++
	e.state.LastAdjustedAt = time.Now()
	e.ledger.ReleaseAll(e.cfg.Pair)
	e.persistState()

	details := fmt.Sprintf("price %s below threshold, liquidated %s %s, strategy stopped",
		best, liquidated, e.cfg.BaseAsset())
	if len(surviving) > 0 {
		// Surviving orders stay in the persisted state so the operator can
		// see exactly what is still on the book
		details += fmt.Sprintf("; %d orders could not be cancelled and are still on the book: %s",
			len(surviving), strings.Join(surviving, ", "))
	}
	e.notifier.Notify(notify.Event{
		Kind: notify.KindStopLoss, Pair: e.cfg.Pair, Details: details,
	})
}

// liquidateBasePosition market-sells the actual free base balance, rounded
// to the venue step. Returns the quantity sold.
func (e *Engine) liquidateBasePosition(ctx context.Context) decimal.Decimal {
	bal, err := e.client.GetBalance(ctx, e.cfg.BaseAsset())
	if err != nil {
		logger.Errorf("cannot read %s balance for liquidation on %s: %v", e.cfg.BaseAsset(), e.cfg.Pair, err)
		return decimal.Zero
	}
	qty := roundDownToStep(bal, e.cfg.QtyStep)
	if !qty.IsPositive() {
		return decimal.Zero
	}
	if _, err := e.client.PlaceMarketOrder(ctx, e.cfg.Symbol(), string(SideSell), qty, e.newTag()); err != nil {
		logger.Errorf("liquidation market sell failed on %s: %v", e.cfg.Pair, err)
		return decimal.Zero
	}
	logger.Infof("liquidated %s %s at market on %s", qty, e.cfg.BaseAsset(), e.cfg.Pair)
	return qty
}

// executeTrailingUp shifts the ladder up to follow a rising price: cancel
// everything, recompute around the new reference, place, stay ACTIVE
func (e *Engine) executeTrailingUp(ctx context.Context, best decimal.Decimal) {
	logger.Infof("📈 trailing up on %s: price %s above highest sell %s",
		e.cfg.Pair, best, e.state.HighestSellPrice)

	levels, err := ComputeLadder(e.cfg, best)
	if err != nil {
		logger.Errorf("trailing-up ladder computation failed for %s: %v", e.cfg.Pair, err)
		return
	}

	if failed := e.cancelAllOrders(ctx); len(failed) > 0 {
		// Re-laddering over unresolved orders would double-commit capital;
		// let the reconciler settle them and retry next cycle
		logger.Warnf("trailing up deferred for %s, %d cancels unresolved", e.cfg.Pair, len(failed))
		return
	}

	placed := e.placeLadder(ctx, levels)
	e.state.RefreshBounds()
	if e.state.HighestSellPrice.LessThan(best) {
		e.state.HighestSellPrice = best
	}
	e.state.TrailingUpCount++
	e.state.LastAdjustedAt = time.Now()
	e.persistState()

	e.notifier.Notify(notify.Event{
		Kind: notify.KindTrailingUp, Pair: e.cfg.Pair,
		Details: fmt.Sprintf("re-laddered around %s, %d/%d orders placed", best, placed, len(levels)),
	})
}

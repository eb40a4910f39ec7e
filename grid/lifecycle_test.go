package grid

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartupCancelsOnlyOwnOrphans(t *testing.T) {
	// N orders with this engine's tag, M without: exactly N cancelled,
	// M untouched, strategy ends in STANDBY
	ctx := context.Background()
	v := newFakeVenue()
	e, repo, _, not := newTestEngine(v)

	qty := decimal.RequireFromString("0.1")
	v.addOpenOrder("1", "gx-ethusdt-dead1", "ETHUSDT", "BUY", decimal.NewFromInt(1900), qty)
	v.addOpenOrder("2", "gx-ethusdt-dead2", "ETHUSDT", "SELL", decimal.NewFromInt(2100), qty)
	v.addOpenOrder("3", "gx-ethusdt-dead3", "ETHUSDT", "BUY", decimal.NewFromInt(1950), qty)
	v.addOpenOrder("4", "someone-else", "ETHUSDT", "BUY", decimal.NewFromInt(1800), qty)
	v.addOpenOrder("5", "manual", "ETHUSDT", "SELL", decimal.NewFromInt(2200), qty)

	require.NoError(t, e.startupReconciliation(ctx))

	assert.ElementsMatch(t, []string{"1", "2", "3"}, v.cancelled)
	assert.Equal(t, 2, v.openCount(), "foreign orders must stay untouched")
	assert.Equal(t, StateStandby, e.state.Lifecycle)
	assert.Empty(t, e.state.OpenOrders)
	assert.Contains(t, not.kinds(), "startup")
	require.NotEmpty(t, repo.states)
	assert.Equal(t, StateStandby, repo.states[len(repo.states)-1].Lifecycle)
}

func TestStartupNeverResumesActiveState(t *testing.T) {
	// A state persisted as ACTIVE before a crash restarts in STANDBY;
	// only an external decision re-activates
	ctx := context.Background()
	v := newFakeVenue()
	e, repo, _, _ := newTestEngine(v)

	prior := NewStrategyState("ETH/USDT")
	prior.Lifecycle = StateActive
	prior.StopLossCount = 2
	require.NoError(t, repo.SaveState(prior))

	require.NoError(t, e.startupReconciliation(ctx))
	assert.Equal(t, StateStandby, e.state.Lifecycle)
	assert.Equal(t, 2, e.state.StopLossCount, "history survives the restart")
}

func TestStartupHoldsCorruptStateInStandby(t *testing.T) {
	ctx := context.Background()
	v := newFakeVenue()
	e, repo, decs, not := newTestEngine(v)
	repo.loadErr = Errorf(ErrStateCorruption, "stored state does not deserialize")

	require.NoError(t, e.startupReconciliation(ctx))
	assert.True(t, e.corrupted)
	assert.Equal(t, StateStandby, e.state.Lifecycle)
	assert.Contains(t, not.kinds(), "state_corruption")

	// transitions are refused until the state is repaired
	decs.set(DecisionOperate, "indicators look good")
	e.transitionTick()
	assert.Equal(t, StateStandby, e.state.Lifecycle)
	assert.Equal(t, 0, v.openCount())
}

func TestStartRetriesTransientVenueOutage(t *testing.T) {
	// The venue is unreachable for the first orphan scan at boot; the
	// bounded retry brings the engine up anyway
	v := newFakeVenue()
	v.openFails = 1
	e, _, _, _ := newTestEngine(v)

	require.NoError(t, e.StartWithRetry(context.Background(), 3, time.Millisecond))
	e.Stop()
	assert.Equal(t, StateStandby, e.state.Lifecycle)
}

func TestStartGivesUpAfterBoundedAttempts(t *testing.T) {
	v := newFakeVenue()
	v.openFails = 10
	e, _, _, _ := newTestEngine(v)

	err := e.StartWithRetry(context.Background(), 2, time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrVenueUnavailable))
	assert.Equal(t, 8, v.openFails, "one orphan scan per attempt")
}

func TestTransitionOperatePlacesInitialLadder(t *testing.T) {
	v := newFakeVenue()
	v.bestPrice = decimal.NewFromInt(2000)
	e, repo, decs, not := newTestEngine(v)
	e.state.Lifecycle = StateStandby

	decs.set(DecisionOperate, "indicators look good")
	e.transitionTick()

	assert.Equal(t, StateActive, e.state.Lifecycle)
	assert.Equal(t, e.cfg.GridLevels, v.openCount())
	assert.Equal(t, e.cfg.GridLevels, len(e.state.OpenOrders))
	assert.True(t, e.state.LowestBuyPrice.Equal(decimal.NewFromInt(1900)))
	assert.True(t, e.state.HighestSellPrice.Equal(decimal.NewFromInt(2100)))
	assert.True(t, e.ledger.Reserved(e.cfg.Pair).IsPositive())
	assert.Contains(t, not.kinds(), "activated")
	require.Len(t, repo.configs, 1, "activation persists a fresh immutable config")
	assert.NotEmpty(t, repo.configs[0].ID)
}

func TestTransitionPauseCancelsAndReleases(t *testing.T) {
	v := newFakeVenue()
	e, _, decs, not := newTestEngine(v)

	decs.set(DecisionOperate, "go")
	e.transitionTick()
	require.Equal(t, StateActive, e.state.Lifecycle)
	require.Equal(t, e.cfg.GridLevels, v.openCount())

	decs.set(DecisionPause, "volatility spike")
	e.transitionTick()

	assert.Equal(t, StateStandby, e.state.Lifecycle)
	assert.Equal(t, 0, v.openCount())
	assert.Empty(t, e.state.OpenOrders)
	assert.True(t, e.ledger.Reserved(e.cfg.Pair).IsZero())
	assert.Contains(t, not.kinds(), "paused")
}

func TestTransitionOperateReentersFromStopped(t *testing.T) {
	// STOPPED is terminal for the risk manager but an external operate
	// decision re-enters through the lifecycle manager
	v := newFakeVenue()
	e, _, decs, _ := newTestEngine(v)
	e.state.Lifecycle = StateStopped

	decs.set(DecisionOperate, "manual restart")
	e.transitionTick()
	assert.Equal(t, StateActive, e.state.Lifecycle)
	assert.Equal(t, e.cfg.GridLevels, v.openCount())
}

func TestTransitionInvalidConfigNeverActivates(t *testing.T) {
	v := newFakeVenue()
	e, _, decs, not := newTestEngine(v)
	e.cfg.GridLevels = 0

	decs.set(DecisionOperate, "go")
	e.transitionTick()

	assert.Equal(t, StateStandby, e.state.Lifecycle)
	assert.Equal(t, 0, v.openCount())
	assert.Contains(t, not.kinds(), "invalid_config")
}

func TestFillProducesComplementaryOrder(t *testing.T) {
	// End-to-end through a reconcile tick: a filled buy spawns exactly
	// one sell one spacing above, and risk sees the updated state in the
	// same cycle
	v := newFakeVenue()
	e, repo, decs, _ := newTestEngine(v)

	decs.set(DecisionOperate, "go")
	e.transitionTick()
	require.Equal(t, StateActive, e.state.Lifecycle)

	// prime the reconciler's open-order set
	e.reconcileTick()
	require.Equal(t, e.cfg.GridLevels, len(e.state.OpenOrders))

	// lowest buy fills on the venue
	var buyID string
	lowest := decimal.Zero
	for id, rec := range e.state.OpenOrders {
		if rec.Side == SideBuy && (lowest.IsZero() || rec.Price.LessThan(lowest)) {
			lowest = rec.Price
			buyID = id
		}
	}
	require.NotEmpty(t, buyID)
	v.fill(buyID)

	before := len(e.state.OpenOrders)
	e.reconcileTick()

	// one consumed, one complementary placed
	assert.Equal(t, before, len(e.state.OpenOrders))
	_, stillTracked := e.state.OpenOrders[buyID]
	assert.False(t, stillTracked)
	require.Len(t, repo.fills, 1)
	assert.Equal(t, buyID, repo.fills[0].OrderID)

	// the complementary order sits one spacing above the filled price
	spacing := lowest.Mul(decimal.RequireFromString("0.01"))
	found := false
	for _, rec := range e.state.OpenOrders {
		if rec.Side == SideSell && rec.Price.Sub(lowest.Add(spacing)).Abs().LessThan(decimal.NewFromInt(1)) {
			found = true
		}
	}
	assert.True(t, found, "complementary sell near %s not found", lowest.Add(spacing))

	// a second tick must not re-consume the same fill
	e.reconcileTick()
	assert.Len(t, repo.fills, 1)
}

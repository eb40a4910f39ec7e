package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gridbot/grid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func testStrategyConfig() *grid.StrategyConfig {
	return &grid.StrategyConfig{
		ID:                uuid.NewString(),
		Pair:              "ETH/USDT",
		TotalCapital:      decimal.NewFromInt(1000),
		GridLevels:        10,
		PriceRangePercent: decimal.NewFromInt(10),
		StopLossPercent:   decimal.NewFromInt(5),
		TrailingUp:        true,
		Mode:              grid.ModePaper,
		MinOrderValue:     decimal.NewFromInt(10),
		ActivatedAt:       time.Now(),
	}
}

func TestGridConfigRoundTrip(t *testing.T) {
	st := newTestStore(t)

	cfg := testStrategyConfig()
	require.NoError(t, st.Grid().SaveConfig(cfg))

	got, err := st.Grid().LatestConfig("ETH/USDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cfg.ID, got.ID)
	assert.True(t, got.TotalCapital.Equal(cfg.TotalCapital))
	assert.Equal(t, cfg.GridLevels, got.GridLevels)
	assert.Equal(t, grid.ModePaper, got.Mode)

	none, err := st.Grid().LatestConfig("BTC/USDT")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGridStateLatestIsAuthoritative(t *testing.T) {
	st := newTestStore(t)

	first := grid.NewStrategyState("ETH/USDT")
	first.Lifecycle = grid.StateActive
	first.StopLossCount = 1
	require.NoError(t, st.Grid().SaveState(first))

	second := grid.NewStrategyState("ETH/USDT")
	second.Lifecycle = grid.StateStopped
	second.StopLossCount = 2
	second.OpenOrders["42"] = &grid.OrderRecord{
		OrderID: "42", CorrelationTag: "gx-ethusdt-x", Side: grid.SideBuy,
		Price: decimal.NewFromInt(1900), Quantity: decimal.RequireFromString("0.025"),
		Status: grid.OrderOpen, CreatedAt: time.Now(),
	}
	require.NoError(t, st.Grid().SaveState(second))

	got, err := st.Grid().LoadState("ETH/USDT")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, grid.StateStopped, got.Lifecycle)
	assert.Equal(t, 2, got.StopLossCount)
	require.Contains(t, got.OpenOrders, "42")
	assert.True(t, got.OpenOrders["42"].Price.Equal(decimal.NewFromInt(1900)))

	none, err := st.Grid().LoadState("BTC/USDT")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGridStateCorruptionDetected(t *testing.T) {
	st := newTestStore(t)

	// garbage snapshot written directly, as a crashed writer might leave
	_, err := st.db.Exec(`INSERT INTO grid_states (pair, state, created_at) VALUES (?, ?, ?)`,
		"ETH/USDT", `{"pair": "ETH/USDT", "lifecycle": "DANCING"`, time.Now().Format(time.RFC3339))
	require.NoError(t, err)

	_, err = st.Grid().LoadState("ETH/USDT")
	require.Error(t, err)
	assert.True(t, grid.IsKind(err, grid.ErrStateCorruption))

	// valid JSON violating an invariant is corruption too
	_, err = st.db.Exec(`INSERT INTO grid_states (pair, state, created_at) VALUES (?, ?, ?)`,
		"ETH/USDT", `{"pair": "ETH/USDT", "lifecycle": "DANCING"}`, time.Now().Format(time.RFC3339))
	require.NoError(t, err)

	_, err = st.Grid().LoadState("ETH/USDT")
	require.Error(t, err)
	assert.True(t, grid.IsKind(err, grid.ErrStateCorruption))
}

func TestGridFillAuditIsIdempotent(t *testing.T) {
	st := newTestStore(t)

	f := grid.FillEvent{
		OrderID: "42", CorrelationTag: "gx-ethusdt-x", Side: grid.SideBuy,
		Price: decimal.NewFromInt(1900), Quantity: decimal.RequireFromString("0.025"),
		Method: grid.DetectSetDiff, DetectedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, st.Grid().RecordFill("ETH/USDT", f))

	// a duplicate report of the same order must not create a second row
	f.Method = grid.DetectTradeHistory
	require.NoError(t, st.Grid().RecordFill("ETH/USDT", f))

	fills, err := st.Grid().RecentFills("ETH/USDT", 10)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	assert.Equal(t, "42", fills[0].OrderID)
	assert.Equal(t, grid.DetectSetDiff, fills[0].Method)
	assert.True(t, fills[0].Price.Equal(decimal.NewFromInt(1900)))
}

func TestDecisionFeedLatest(t *testing.T) {
	st := newTestStore(t)

	none, err := st.Decision().Latest("ETH/USDT", grid.StrategyKindGrid)
	require.NoError(t, err)
	assert.Nil(t, none)

	require.NoError(t, st.Decision().Insert(&grid.Decision{
		Pair: "ETH/USDT", Kind: grid.StrategyKindGrid, Action: grid.DecisionOperate, Reason: "trend up",
	}))
	require.NoError(t, st.Decision().Insert(&grid.Decision{
		Pair: "ETH/USDT", Kind: grid.StrategyKindGrid, Action: grid.DecisionPause, Reason: "volatility spike",
	}))
	// a different kind must not shadow the grid feed
	require.NoError(t, st.Decision().Insert(&grid.Decision{
		Pair: "ETH/USDT", Kind: "trend", Action: grid.DecisionOperate, Reason: "other strategy",
	}))

	got, err := st.Decision().Latest("ETH/USDT", grid.StrategyKindGrid)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, grid.DecisionPause, got.Action)
	assert.Equal(t, "volatility spike", got.Reason)

	all, err := st.Decision().Recent("ETH/USDT", 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

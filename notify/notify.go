// Package notify delivers engine events to an external sink.
// Delivery is fire-and-forget: a broken sink must never block or fail
// trading logic.
package notify

import (
	"fmt"

	"gridbot/logger"
)

// Event kinds emitted by the engine
const (
	KindActivated           = "activated"
	KindPaused              = "paused"
	KindStopLoss            = "stop_loss"
	KindTrailingUp          = "trailing_up"
	KindInsufficientCapital = "insufficient_capital"
	KindOrphanOrder         = "orphan_order"
	KindInvalidConfig       = "invalid_config"
	KindStateCorruption     = "state_corruption"
	KindStartup             = "startup"
)

// Event one notification
type Event struct {
	Kind    string
	Pair    string
	Details string
}

func (e Event) String() string {
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Pair, e.Details)
}

// Notifier is the notification sink contract
type Notifier interface {
	Notify(e Event)
}

// LogNotifier writes events to the process log; used when no external
// sink is configured
type LogNotifier struct{}

func (LogNotifier) Notify(e Event) {
	logger.Infof("🔔 %s", e)
}

// Package exchange defines the venue contract the engine trades against
// and its Binance spot implementation. Venue errors are classified here,
// at the boundary, so callers branch on categories instead of parsing
// exchange messages.
package exchange

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
)

// Order venue-level view of an order
type Order struct {
	ID             string
	ClientOrderID  string
	Symbol         string
	Side           string // BUY / SELL
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	ExecutedQty    decimal.Decimal
	AvgFilledPrice decimal.Decimal
	Status         string // NEW / PARTIALLY_FILLED / FILLED / CANCELED / EXPIRED
	UpdatedAt      time.Time
}

// Closed reports whether the order can no longer fill
func (o *Order) Closed() bool {
	switch o.Status {
	case "FILLED", "CANCELED", "EXPIRED", "REJECTED":
		return true
	}
	return false
}

// Trade one executed trade
type Trade struct {
	ID       string
	OrderID  string
	Symbol   string
	Side     string
	Price    decimal.Decimal
	Quantity decimal.Decimal
	Time     time.Time
}

// Client is the venue contract. One canonical implementation per backend,
// injected at construction; paper/live is a transport concern of the
// implementation, never of the calling logic.
type Client interface {
	// PlaceLimitOrder returns the venue order ID
	PlaceLimitOrder(ctx context.Context, symbol, side string, price, qty decimal.Decimal, clientOrderID string) (string, error)
	// PlaceMarketOrder returns the venue order ID
	PlaceMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, clientOrderID string) (string, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
	// ListOpenOrders returns open orders whose client order ID starts with
	// the given prefix; empty prefix returns all
	ListOpenOrders(ctx context.Context, symbol, clientOrderIDPrefix string) ([]Order, error)
	ListClosedOrdersSince(ctx context.Context, symbol string, since time.Time) ([]Order, error)
	ListTradesSince(ctx context.Context, symbol string, since time.Time) ([]Trade, error)
	GetOrder(ctx context.Context, symbol, orderID string) (*Order, error)
	GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	GetBalance(ctx context.Context, asset string) (decimal.Decimal, error)
}

// ErrOrderNotFound the venue does not know the order (typically it already
// filled or was cancelled before the call landed)
var ErrOrderNotFound = errors.New("order not found on venue")

// Binance error codes treated as transient venue trouble
var transientAPICodes = map[int64]bool{
	-1000: true, // UNKNOWN
	-1001: true, // DISCONNECTED
	-1003: true, // TOO_MANY_REQUESTS
	-1006: true, // UNEXPECTED_RESP
	-1007: true, // TIMEOUT
	-1016: true, // SERVICE_SHUTTING_DOWN
}

// IsUnavailable reports whether err is a transient venue failure
// (network, timeout, 5xx-class) worth retrying
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return transientAPICodes[apiErr.Code]
	}
	if errors.Is(err, ErrOrderNotFound) {
		return false
	}
	// Unclassified transport-level failure
	return true
}

package exchange

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"

	"gridbot/logger"
)

// Spot testnet endpoint used in paper mode
const testnetBaseURL = "https://testnet.binance.vision"

const callTimeout = 5 * time.Second

// Binance spot implementation of Client
type Binance struct {
	client *binance.Client
}

// NewBinance creates a Binance spot client. Paper mode points the client
// at the spot testnet; nothing above the transport sees the difference.
func NewBinance(apiKey, secretKey string, paper bool) *Binance {
	c := binance.NewClient(apiKey, secretKey)
	if paper {
		c.BaseURL = testnetBaseURL
		logger.Infof("binance client in paper mode (%s)", testnetBaseURL)
	}
	return &Binance{client: c}
}

// NewBinanceWithBaseURL creates a client against an explicit endpoint,
// used by tests to point at a mock server
func NewBinanceWithBaseURL(apiKey, secretKey, baseURL string) *Binance {
	c := binance.NewClient(apiKey, secretKey)
	c.BaseURL = baseURL
	return &Binance{client: c}
}

func (b *Binance) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, callTimeout)
}

func (b *Binance) PlaceLimitOrder(ctx context.Context, symbol, side string, price, qty decimal.Decimal, clientOrderID string) (string, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	var res *binance.CreateOrderResponse
	err := withRetry(ctx, "place limit order", func() error {
		var err error
		res, err = b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(binance.SideType(side)).
			Type(binance.OrderTypeLimit).
			TimeInForce(binance.TimeInForceTypeGTC).
			Price(price.String()).
			Quantity(qty.String()).
			NewClientOrderID(clientOrderID).
			Do(ctx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("place %s limit %s@%s on %s: %w", side, qty, price, symbol, err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (b *Binance) PlaceMarketOrder(ctx context.Context, symbol, side string, qty decimal.Decimal, clientOrderID string) (string, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	var res *binance.CreateOrderResponse
	err := withRetry(ctx, "place market order", func() error {
		var err error
		res, err = b.client.NewCreateOrderService().
			Symbol(symbol).
			Side(binance.SideType(side)).
			Type(binance.OrderTypeMarket).
			Quantity(qty.String()).
			NewClientOrderID(clientOrderID).
			Do(ctx)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("place %s market %s on %s: %w", side, qty, symbol, err)
	}
	return strconv.FormatInt(res.OrderID, 10), nil
}

func (b *Binance) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	err = withRetry(ctx, "cancel order", func() error {
		_, err := b.client.NewCancelOrderService().Symbol(symbol).OrderID(id).Do(ctx)
		return err
	})
	if err != nil {
		if isUnknownOrder(err) {
			return fmt.Errorf("cancel order %s on %s: %w", orderID, symbol, ErrOrderNotFound)
		}
		return fmt.Errorf("cancel order %s on %s: %w", orderID, symbol, err)
	}
	return nil
}

func (b *Binance) ListOpenOrders(ctx context.Context, symbol, clientOrderIDPrefix string) ([]Order, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	var raw []*binance.Order
	err := withRetry(ctx, "list open orders", func() error {
		var err error
		raw, err = b.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list open orders on %s: %w", symbol, err)
	}

	var out []Order
	for _, o := range raw {
		if clientOrderIDPrefix != "" && !strings.HasPrefix(o.ClientOrderID, clientOrderIDPrefix) {
			continue
		}
		out = append(out, convertOrder(o))
	}
	return out, nil
}

func (b *Binance) ListClosedOrdersSince(ctx context.Context, symbol string, since time.Time) ([]Order, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	var raw []*binance.Order
	err := withRetry(ctx, "list orders", func() error {
		var err error
		raw, err = b.client.NewListOrdersService().Symbol(symbol).StartTime(since.UnixMilli()).Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list closed orders on %s: %w", symbol, err)
	}

	var out []Order
	for _, o := range raw {
		conv := convertOrder(o)
		if conv.Closed() {
			out = append(out, conv)
		}
	}
	return out, nil
}

func (b *Binance) ListTradesSince(ctx context.Context, symbol string, since time.Time) ([]Trade, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	var raw []*binance.TradeV3
	err := withRetry(ctx, "list trades", func() error {
		var err error
		raw, err = b.client.NewListTradesService().Symbol(symbol).StartTime(since.UnixMilli()).Do(ctx)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list trades on %s: %w", symbol, err)
	}

	out := make([]Trade, 0, len(raw))
	for _, t := range raw {
		side := "SELL"
		if t.IsBuyer {
			side = "BUY"
		}
		out = append(out, Trade{
			ID:       strconv.FormatInt(t.ID, 10),
			OrderID:  strconv.FormatInt(t.OrderID, 10),
			Symbol:   t.Symbol,
			Side:     side,
			Price:    mustDecimal(t.Price),
			Quantity: mustDecimal(t.Quantity),
			Time:     time.UnixMilli(t.Time),
		})
	}
	return out, nil
}

func (b *Binance) GetOrder(ctx context.Context, symbol, orderID string) (*Order, error) {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid order id %q: %w", orderID, err)
	}
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	var raw *binance.Order
	err = withRetry(ctx, "get order", func() error {
		var err error
		raw, err = b.client.NewGetOrderService().Symbol(symbol).OrderID(id).Do(ctx)
		return err
	})
	if err != nil {
		if isUnknownOrder(err) {
			return nil, fmt.Errorf("get order %s on %s: %w", orderID, symbol, ErrOrderNotFound)
		}
		return nil, fmt.Errorf("get order %s on %s: %w", orderID, symbol, err)
	}
	conv := convertOrder(raw)
	return &conv, nil
}

func (b *Binance) GetBestPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	var prices []*binance.SymbolPrice
	err := withRetry(ctx, "get price", func() error {
		var err error
		prices, err = b.client.NewListPricesService().Symbol(symbol).Do(ctx)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("get price for %s: %w", symbol, err)
	}
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("no price returned for %s", symbol)
	}
	return mustDecimal(prices[0].Price), nil
}

func (b *Binance) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	ctx, cancel := b.callCtx(ctx)
	defer cancel()

	var acct *binance.Account
	err := withRetry(ctx, "get account", func() error {
		var err error
		acct, err = b.client.NewGetAccountService().Do(ctx)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance for %s: %w", asset, err)
	}
	for _, bal := range acct.Balances {
		if bal.Asset == asset {
			return mustDecimal(bal.Free), nil
		}
	}
	return decimal.Zero, nil
}

func convertOrder(o *binance.Order) Order {
	executed := mustDecimal(o.ExecutedQuantity)
	avg := decimal.Zero
	if executed.IsPositive() {
		avg = mustDecimal(o.CummulativeQuoteQuantity).Div(executed)
	}
	return Order{
		ID:             strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:  o.ClientOrderID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Price:          mustDecimal(o.Price),
		Quantity:       mustDecimal(o.OrigQuantity),
		ExecutedQty:    executed,
		AvgFilledPrice: avg,
		Status:         string(o.Status),
		UpdatedAt:      time.UnixMilli(o.UpdateTime),
	}
}

// Binance rejects cancel/query for orders it no longer tracks with these codes
func isUnknownOrder(err error) bool {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == -2011 || apiErr.Code == -2013
	}
	return false
}

func mustDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		logger.Warnf("unparsable decimal %q from venue, treating as zero", s)
		return decimal.Zero
	}
	return d
}

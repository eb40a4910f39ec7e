package grid

import (
	"github.com/shopspring/decimal"
)

// Level one target rung of the ladder
type Level struct {
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Notional returns price*quantity in quote units
func (l Level) Notional() decimal.Decimal {
	return l.Price.Mul(l.Quantity)
}

var (
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// ComputeLadder produces the target buy/sell levels for a reference price.
// Pure and deterministic: identical inputs yield identical output, so a
// re-ladder after a fill is reproducible.
//
// Levels are spaced evenly across referencePrice*(1 ± range/2), buys below
// the reference and sells above. Half the allocated capital is deployed as
// resting orders, divided equally across all levels; levels whose notional
// would fall below the minimum order value are dropped and their capital
// spread over the remaining levels. Prices and quantities are rounded down
// to the venue increments.
//
// Output order: buys ascending by price, then sells ascending by price.
func ComputeLadder(cfg *StrategyConfig, referencePrice decimal.Decimal) ([]Level, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if referencePrice.LessThanOrEqual(decimal.Zero) {
		return nil, Errorf(ErrInvalidConfig, "reference price must be positive, got %s", referencePrice)
	}

	deployable := cfg.TotalCapital.Div(two)

	levels := cfg.GridLevels
	// Drop levels that would sit below the minimum order value and
	// redistribute their share over the survivors
	if cfg.MinOrderValue.IsPositive() {
		maxLevels := int(deployable.Div(cfg.MinOrderValue).IntPart())
		if maxLevels < 2 {
			return nil, Errorf(ErrInvalidConfig,
				"capital %s cannot fund 2 levels at min order value %s", cfg.TotalCapital, cfg.MinOrderValue)
		}
		if maxLevels < levels {
			levels = maxLevels
		}
	}

	buyCount := levels / 2
	sellCount := levels - buyCount

	notionalPerLevel := deployable.Div(decimal.NewFromInt(int64(levels)))
	qty := notionalPerLevel.Div(referencePrice)
	qty = roundDownToStep(qty, cfg.QtyStep)
	if qty.LessThanOrEqual(decimal.Zero) {
		return nil, Errorf(ErrInvalidConfig,
			"per-level quantity rounds to zero at step %s", cfg.QtyStep)
	}

	halfRange := cfg.PriceRangePercent.Div(two).Div(hundred)
	low := referencePrice.Mul(decimal.NewFromInt(1).Sub(halfRange))
	high := referencePrice.Mul(decimal.NewFromInt(1).Add(halfRange))

	out := make([]Level, 0, levels)

	buyStep := referencePrice.Sub(low).Div(decimal.NewFromInt(int64(buyCount)))
	for i := buyCount; i >= 1; i-- {
		price := roundDownToStep(referencePrice.Sub(buyStep.Mul(decimal.NewFromInt(int64(i)))), cfg.PriceTick)
		out = append(out, Level{Side: SideBuy, Price: price, Quantity: qty})
	}

	sellStep := high.Sub(referencePrice).Div(decimal.NewFromInt(int64(sellCount)))
	for i := 1; i <= sellCount; i++ {
		price := roundDownToStep(referencePrice.Add(sellStep.Mul(decimal.NewFromInt(int64(i)))), cfg.PriceTick)
		out = append(out, Level{Side: SideSell, Price: price, Quantity: qty})
	}

	return out, nil
}

// ComplementaryLevel returns the single opposite-side order that keeps the
// ladder alive after a fill: one grid spacing above a filled buy, one below
// a filled sell, same quantity.
func ComplementaryLevel(cfg *StrategyConfig, fill FillEvent) Level {
	spacing := cfg.PriceRangePercent.Div(decimal.NewFromInt(int64(cfg.GridLevels))).Div(hundred)
	var price decimal.Decimal
	if fill.Side == SideBuy {
		price = fill.Price.Mul(decimal.NewFromInt(1).Add(spacing))
	} else {
		price = fill.Price.Mul(decimal.NewFromInt(1).Sub(spacing))
	}
	return Level{
		Side:     fill.Side.Opposite(),
		Price:    roundDownToStep(price, cfg.PriceTick),
		Quantity: fill.Quantity,
	}
}

// roundDownToStep quantizes v down to a multiple of step; zero step means
// no rounding
func roundDownToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.LessThanOrEqual(decimal.Zero) {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

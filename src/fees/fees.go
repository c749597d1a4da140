// Package fees computes pass-through processor fees.
//
// The payer absorbs the processor's cut: for a rate r and fixed fee f the
// gross amount g satisfies g - (r*g + f) = target, so g = (target + f) / (1 - r).
// All arithmetic is done on decimals and rounded to cents only by ToCents.
package fees

import (
	"carepay/src/config"
	"strings"

	"github.com/shopspring/decimal"
)

type Tier string

const (
	DOMESTIC      Tier = "domestic"
	INTERNATIONAL Tier = "international"
)

// Rates is the percentage + fixed deduction applied by the processor.
type Rates struct {
	Rate  decimal.Decimal
	Fixed decimal.Decimal
}

type Calculator struct {
	tiers map[Tier]Rates
}

var hundred = decimal.NewFromInt(100)

func NewCalculator(domestic, international Rates) *Calculator {
	return &Calculator{tiers: map[Tier]Rates{
		DOMESTIC:      domestic,
		INTERNATIONAL: international,
	}}
}

func NewCalculatorFromConfig(cfg *config.Payments) *Calculator {
	return NewCalculator(
		Rates{Rate: cfg.DomesticRate, Fixed: cfg.DomesticFixed},
		Rates{Rate: cfg.InternationalRate, Fixed: cfg.InternationalFixed},
	)
}

// Rates returns the deduction for a tier. Unknown tiers fall back to domestic.
func (c *Calculator) Rates(tier Tier) Rates {
	if r, ok := c.tiers[tier]; ok {
		return r
	}
	return c.tiers[DOMESTIC]
}

// AdjustedTotal is the gross amount to charge so that target survives the deduction.
func (c *Calculator) AdjustedTotal(target decimal.Decimal, tier Tier) decimal.Decimal {
	r := c.Rates(tier)
	return target.Add(r.Fixed).Div(decimal.NewFromInt(1).Sub(r.Rate))
}

// Fee is AdjustedTotal minus target.
func (c *Calculator) Fee(target decimal.Decimal, tier Tier) decimal.Decimal {
	return c.AdjustedTotal(target, tier).Sub(target)
}

// Breakdown is the cents view of a capture: Gross = Target + Fee exactly.
type Breakdown struct {
	Tier        Tier
	TargetCents int64
	FeeCents    int64
	GrossCents  int64
}

// Breakdown rounds gross and target to cents and derives the fee from them
// so the three values always reconcile.
func (c *Calculator) Breakdown(target decimal.Decimal, tier Tier) Breakdown {
	gross := ToCents(c.AdjustedTotal(target, tier))
	net := ToCents(target)
	return Breakdown{
		Tier:        tier,
		TargetCents: net,
		FeeCents:    gross - net,
		GrossCents:  gross,
	}
}

// TierForCountry resolves the card-origin tier. An unknown origin is treated as domestic.
func TierForCountry(cardCountry, platformCountry string) Tier {
	if cardCountry == "" || strings.EqualFold(cardCountry, platformCountry) {
		return DOMESTIC
	}
	return INTERNATIONAL
}

func ToCents(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}

func FromCents(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(hundred)
}

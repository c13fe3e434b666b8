// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pnl implements the PnL & APR Calculator (C8): current value,
// cost basis, realized/unrealized PnL and time-weighted APR derived from
// the Position Ledger (spec.md §4.8).
//
// Uniswap V3 in-range/out-of-range value decomposition and the
// NonfungiblePositionManager positions()/feeGrowthInside reads are,
// per spec.md §1's Non-goals, external collaborators referenced only by
// contract (ValueProvider below) — their algorithms are standard and not
// re-implemented here.
package pnl

import (
	"context"
	"fmt"
	"math/big"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/chain"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/decode"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/ledger"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/priceservice"
)

// scale30/scale24 implement spec.md §9's numeric rule: every percentage
// division applies a 10^30 scale to the numerator before dividing, then
// reduces to a 6-fractional-digit fixed-point display value (divide by
// scale24 = 10^(30-6)). This is the documented fix for a truncation bug in
// the original two-step (ratio-then-multiply) computation: folding the
// whole formula into one fraction before scaling avoids losing precision
// partway through.
var (
	scale30 = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	scale24 = new(big.Int).Exp(big.NewInt(10), big.NewInt(24), nil)
)

// Fixed6 is a percentage represented as an integer with 6 implied
// fractional digits (12166666 means 12.166666%).
type Fixed6 struct {
	Value *big.Int
}

// String renders a Fixed6 as "<integer>.<6 digits>".
func (f Fixed6) String() string {
	if f.Value == nil {
		return "0.000000"
	}
	neg := f.Value.Sign() < 0
	abs := new(big.Int).Abs(f.Value)
	million := big.NewInt(1_000_000)
	whole := new(big.Int).Quo(abs, million)
	frac := new(big.Int).Mod(abs, million)
	sign := ""
	if neg {
		sign = "-"
	}
	return fmt.Sprintf("%s%s.%06d", sign, whole.String(), frac.Int64())
}

// percentFixed6 computes (numerator/denominator) as a Fixed6 percentage,
// truncating toward zero at each step (spec.md §9's scaling rule).
func percentFixed6(numerator, denominator *big.Int) (Fixed6, error) {
	if denominator.Sign() == 0 {
		return Fixed6{}, fmt.Errorf("pnl: zero denominator")
	}
	scaled := new(big.Int).Mul(numerator, scale30)
	scaled.Quo(scaled, denominator)
	scaled.Quo(scaled, scale24)
	return Fixed6{Value: scaled}, nil
}

// CurrentPositionState is the on-chain snapshot spec.md §4.8 reads from
// the position's pool.
type CurrentPositionState struct {
	Liquidity    *big.Int
	TickLower    int64
	TickUpper    int64
	CurrentTick  int64
	SqrtPriceX96 *big.Int
}

// ValueProvider resolves the two figures spec.md §4.8 calls "well-known,
// not re-specified": the in-range/out-of-range current value and the
// unclaimed fees read from the NFPM contract. Both are quoted in quote
// token units.
type ValueProvider interface {
	CurrentValue(ctx context.Context, c chain.ID, pool priceservice.PoolRef, state CurrentPositionState) (*big.Int, error)
	UnclaimedFees(ctx context.Context, c chain.ID, pool priceservice.PoolRef, tokenID *big.Int) (*big.Int, error)
}

// Result is the full set of derived metrics for one position (spec.md
// §4.8).
type Result struct {
	CurrentValue     *big.Int
	CurrentCostBasis *big.Int
	RealizedPnL      *big.Int
	CollectedFees    *big.Int
	UnclaimedFees    *big.Int
	TotalPnL         *big.Int
	PositionAPR      Fixed6
	PeriodAPRs       []PeriodAPR
}

// PeriodAPR is the APR attributed to one CapitalPeriod plus the fee
// portion allocated to it.
type PeriodAPR struct {
	EventID       string
	AllocatedFees *big.Int
	APR           Fixed6
}

// Calculate derives spec.md §4.8's metrics for one position.
//
// state must come from ledger.Fold (state.Periods populated, in canonical
// order); collects are the same position's COLLECT events,
// in canonical order; pool fixes the quote/base orientation.
func Calculate(
	ctx context.Context,
	c chain.ID,
	pool priceservice.PoolRef,
	state ledger.State,
	collects []decode.PositionEvent,
	currentState CurrentPositionState,
	ps priceservice.PriceService,
	vp ValueProvider,
) (Result, error) {
	currentValue, err := vp.CurrentValue(ctx, c, pool, currentState)
	if err != nil {
		return Result{}, fmt.Errorf("pnl: current value: %w", err)
	}
	unclaimedFees, err := vp.UnclaimedFees(ctx, c, pool, state.NFTTokenID)
	if err != nil {
		return Result{}, fmt.Errorf("pnl: unclaimed fees: %w", err)
	}

	// currentCostBasis is the net of every period's signed cost basis
	// (positive for INCREASE, negative for DECREASE, per ledger.Apply) —
	// i.e. totalIncrease - totalDecrease, the capital still deployed.
	currentCostBasis := big.NewInt(0)
	for _, p := range state.Periods {
		currentCostBasis.Add(currentCostBasis, p.CostBasisInQuote)
	}
	// realizedPnL = Σ(DECREASE value) − Σ(INCREASE value) = -currentCostBasis,
	// since decreases contribute negatively to currentCostBasis above.
	realizedPnL := new(big.Int).Neg(currentCostBasis)

	collectedFees, err := collectedFeesTotal(ctx, c, pool, collects, ps)
	if err != nil {
		return Result{}, err
	}

	periodAPRs, positionAPR, err := allocateAndScoreAPR(collects, state.Periods, collectedFees)
	if err != nil {
		return Result{}, err
	}

	totalPnL := new(big.Int).Set(realizedPnL)
	totalPnL.Add(totalPnL, collectedFees)
	totalPnL.Add(totalPnL, unclaimedFees)
	valueLessBasis := new(big.Int).Sub(currentValue, currentCostBasis)
	totalPnL.Add(totalPnL, valueLessBasis)

	return Result{
		CurrentValue:     currentValue,
		CurrentCostBasis: currentCostBasis,
		RealizedPnL:      realizedPnL,
		CollectedFees:    collectedFees,
		UnclaimedFees:    unclaimedFees,
		TotalPnL:         totalPnL,
		PositionAPR:      positionAPR,
		PeriodAPRs:       periodAPRs,
	}, nil
}

func collectedFeesTotal(ctx context.Context, c chain.ID, pool priceservice.PoolRef, collects []decode.PositionEvent, ps priceservice.PriceService) (*big.Int, error) {
	total := big.NewInt(0)
	for _, e := range collects {
		price, err := ps.PriceAt(ctx, c, pool, e.BlockNumber)
		if err != nil {
			return nil, fmt.Errorf("pnl: price for collect %s: %w", e.ID, err)
		}
		value, err := price.ConvertToQuote(pool, e.Amount0, e.Amount1)
		if err != nil {
			return nil, fmt.Errorf("pnl: collect value %s: %w", e.ID, err)
		}
		total.Add(total, value)
	}
	return total, nil
}

// allocateAndScoreAPR groups CapitalPeriods by the next COLLECT that
// follows them (every closed-or-open period contributes to exactly one
// collect's fee pool — the first one whose timestamp is after the period's
// start), splits that collect's fee value across the group proportional to
// weight, and computes each period's APR and the position's
// weight-weighted average (spec.md §4.8, worked in §8 scenario 6).
//
// "periods active at [a collect's] timestamp" (spec.md §4.8) is resolved
// here as "periods whose capital is still uncollected as of that collect"
// rather than strict time-range overlap — CapitalPeriods are sequential
// and non-overlapping by construction, so literal overlap would only ever
// match one period, which cannot reproduce §8 scenario 6's two-period
// split. This greedy grouping is this implementation's resolution,
// recorded in DESIGN.md.
func allocateAndScoreAPR(collects []decode.PositionEvent, periods []ledger.CapitalPeriod, fallbackFees *big.Int) ([]PeriodAPR, Fixed6, error) {
	var results []PeriodAPR
	totalWeight := big.NewInt(0)
	weightedAPRSum := big.NewInt(0)

	cursor := 0
	for _, collect := range collects {
		var group []ledger.CapitalPeriod
		for cursor < len(periods) && periods[cursor].StartTime < collect.BlockTimestamp {
			group = append(group, closedAsOf(periods[cursor], collect.BlockTimestamp))
			cursor++
		}
		if len(group) == 0 {
			continue
		}
		allocations, err := allocateByWeight(group, fallbackFees)
		if err != nil {
			return nil, Fixed6{}, err
		}
		for i, p := range group {
			if p.DurationSeconds == nil || *p.DurationSeconds <= 0 || p.CostBasisInQuote.Sign() <= 0 {
				continue
			}
			apr, err := periodAPR(allocations[i], p)
			if err != nil {
				return nil, Fixed6{}, err
			}
			results = append(results, PeriodAPR{EventID: p.EventID, AllocatedFees: allocations[i], APR: apr})
			weightedAPRSum.Add(weightedAPRSum, new(big.Int).Mul(apr.Value, p.Weight))
			totalWeight.Add(totalWeight, p.Weight)
		}
	}

	if totalWeight.Sign() == 0 {
		return results, Fixed6{Value: big.NewInt(0)}, nil
	}
	positionAPR := new(big.Int).Quo(weightedAPRSum, totalWeight)
	return results, Fixed6{Value: positionAPR}, nil
}

// closedAsOf returns p unchanged if it is already closed (ledger.Apply only
// closes a period when the *next* liquidity-changing event arrives, so a
// position's most recent period is still open — Weight and DurationSeconds
// nil — whenever its last ledger event is a COLLECT). For an open period,
// closedAsOf synthesizes the same DurationSeconds/Weight ledger.Apply would
// have computed, but as of asOf rather than a future event's timestamp, so
// allocateByWeight always receives a non-nil Weight. p is passed and
// returned by value: its own Weight/DurationSeconds pointers are replaced,
// never ledger.State's.
func closedAsOf(p ledger.CapitalPeriod, asOf int64) ledger.CapitalPeriod {
	if p.DurationSeconds != nil {
		return p
	}
	duration := asOf - p.StartTime
	if duration < 0 {
		duration = 0
	}
	p.DurationSeconds = &duration
	p.Weight = new(big.Int).Mul(big.NewInt(duration), p.CostBasisInQuote)
	p.Weight.Quo(p.Weight, big.NewInt(86400))
	return p
}

// allocateByWeight splits fee proportional to each period's Weight,
// truncating each share and assigning any remainder to the
// largest-weight period so the shares sum exactly to fee.
func allocateByWeight(periods []ledger.CapitalPeriod, fee *big.Int) ([]*big.Int, error) {
	totalWeight := big.NewInt(0)
	for _, p := range periods {
		totalWeight.Add(totalWeight, p.Weight)
	}
	if totalWeight.Sign() == 0 {
		return nil, fmt.Errorf("pnl: zero total weight allocating fees")
	}

	shares := make([]*big.Int, len(periods))
	assigned := big.NewInt(0)
	maxIdx := 0
	for i, p := range periods {
		share := new(big.Int).Mul(fee, p.Weight)
		share.Quo(share, totalWeight)
		shares[i] = share
		assigned.Add(assigned, share)
		if p.Weight.Cmp(periods[maxIdx].Weight) > 0 {
			maxIdx = i
		}
	}
	remainder := new(big.Int).Sub(fee, assigned)
	shares[maxIdx].Add(shares[maxIdx], remainder)
	return shares, nil
}

func periodAPR(allocatedFees *big.Int, p ledger.CapitalPeriod) (Fixed6, error) {
	numerator := new(big.Int).Mul(allocatedFees, big.NewInt(365*86400*100))
	denominator := new(big.Int).Mul(p.CostBasisInQuote, big.NewInt(*p.DurationSeconds))
	return percentFixed6(numerator, denominator)
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger implements the Position Ledger (C7): folding a position's
// decoded events, in canonical order, into a running liquidity, lifecycle
// status, and CapitalPeriod history (spec.md §4.7).
//
// Dispatch over the three event kinds is a single total Apply function
// switching on decode.EventKind, per the design note in spec.md §9
// ("use a tagged variant ... do not use ad-hoc polymorphism").
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/decode"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/priceservice"
)

// ErrLedgerInvariant is returned (and recorded, not fatal) when an event
// would drive liquidity negative.
var ErrLedgerInvariant = errors.New("ledger: invariant violation")

// Status is a position's lifecycle state (spec.md §3/§4.7).
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// closeToleranceSeconds bounds how long after a liquidity-zeroing DECREASE
// a COLLECT still counts as "immediately after" for the closed transition
// (spec.md §4.7 names a tolerance window without fixing it; one hour is
// this implementation's resolution of that open point, recorded in
// DESIGN.md).
const closeToleranceSeconds = 3600

// QuarantinedEvent records an event that would have violated the liquidity
// invariant; it is kept for audit but excluded from the running liquidity.
type QuarantinedEvent struct {
	EventID string
	Reason  string
}

// CapitalPeriod is one contiguous interval of constant capital (spec.md
// §3). EndTime and DurationSeconds are nil while the period is open.
// Weight is durationDays × costBasisInQuote, computed in integers as
// durationSeconds × costBasisInQuote / 86400 (truncated toward zero), so a
// fractional day never passes through floating point (spec.md §9).
type CapitalPeriod struct {
	EventID          string
	StartTime        int64
	EndTime          *int64
	DurationSeconds  *int64
	CostBasisInQuote *big.Int
	Weight           *big.Int
}

// State is one position's folded ledger state.
type State struct {
	NFTTokenID  *big.Int
	Liquidity   *big.Int
	Status      Status
	Periods     []CapitalPeriod
	Quarantined []QuarantinedEvent

	lastZeroedAt int64
	justZeroed   bool
}

// NewState returns the zero-value starting state for a not-yet-seen
// nftTokenId.
func NewState(tokenID *big.Int) State {
	return State{
		NFTTokenID: new(big.Int).Set(tokenID),
		Liquidity:  big.NewInt(0),
		Status:     StatusActive,
	}
}

// Apply folds one event into state and returns the resulting state. It is
// a total function over decode.EventKind: every PositionEvent.Kind value
// has a case. costBasisInQuote for liquidity-changing events is computed
// via the supplied PriceService (spec.md §4.7's priceAt contract).
func Apply(ctx context.Context, state State, event decode.PositionEvent, ps priceservice.PriceService, pool priceservice.PoolRef) (State, error) {
	switch event.Kind {
	case decode.IncreaseLiquidity:
		return applyLiquidityChange(ctx, state, event, ps, pool, +1)
	case decode.DecreaseLiquidity:
		return applyLiquidityChange(ctx, state, event, ps, pool, -1)
	case decode.Collect:
		return applyCollect(state, event), nil
	default:
		return state, fmt.Errorf("ledger: unknown event kind %q", event.Kind)
	}
}

func applyLiquidityChange(ctx context.Context, state State, event decode.PositionEvent, ps priceservice.PriceService, pool priceservice.PoolRef, sign int) (State, error) {
	delta := new(big.Int).Set(event.LiquidityDelta)
	if sign < 0 {
		delta.Neg(delta)
	}
	newLiquidity := new(big.Int).Add(state.Liquidity, delta)

	if newLiquidity.Sign() < 0 {
		state.Quarantined = append(state.Quarantined, QuarantinedEvent{
			EventID: event.ID,
			Reason:  fmt.Sprintf("%v: liquidity would go negative (have %s, delta %s)", ErrLedgerInvariant, state.Liquidity, delta),
		})
		state.justZeroed = false
		return state, fmt.Errorf("%w: event %s", ErrLedgerInvariant, event.ID)
	}

	price, err := ps.PriceAt(ctx, event.Chain, pool, event.BlockNumber)
	if err != nil {
		return state, fmt.Errorf("ledger: price lookup for event %s: %w", event.ID, err)
	}
	costBasis, err := price.ConvertToQuote(pool, event.Amount0, event.Amount1)
	if err != nil {
		return state, fmt.Errorf("ledger: cost basis for event %s: %w", event.ID, err)
	}
	if sign < 0 {
		costBasis = costBasis.Neg(costBasis)
	}

	state = closeOpenPeriod(state, event.BlockTimestamp)
	state.Periods = append(state.Periods, CapitalPeriod{
		EventID:          event.ID,
		StartTime:        event.BlockTimestamp,
		CostBasisInQuote: costBasis,
	})

	state.Liquidity = newLiquidity
	if sign < 0 && newLiquidity.Sign() == 0 {
		state.justZeroed = true
		state.lastZeroedAt = event.BlockTimestamp
	} else {
		state.justZeroed = false
	}
	return state, nil
}

func applyCollect(state State, event decode.PositionEvent) State {
	if state.justZeroed && event.BlockTimestamp-state.lastZeroedAt <= closeToleranceSeconds {
		state.Status = StatusClosed
	}
	state.justZeroed = false
	return state
}

// closeOpenPeriod closes the most recent open period (if any) at
// closeTime, computing durationSeconds and weight.
func closeOpenPeriod(state State, closeTime int64) State {
	if len(state.Periods) == 0 {
		return state
	}
	last := &state.Periods[len(state.Periods)-1]
	if last.EndTime != nil {
		return state
	}
	duration := closeTime - last.StartTime
	last.EndTime = &closeTime
	last.DurationSeconds = &duration
	last.Weight = new(big.Int).Mul(big.NewInt(duration), last.CostBasisInQuote)
	last.Weight.Quo(last.Weight, big.NewInt(86400))
	return state
}

// SumLiquidity folds only the running liquidity total over events, in the
// order given, without requiring a PriceService — used by the Indexer Loop
// to recompute Position.liquidity on insert and on rollback re-fold
// (spec.md §4.6.1), where CapitalPeriod bookkeeping is not needed.
// Liquidity-invariant violations are quarantined (skipped, recorded) rather
// than applied, matching Apply's behavior.
func SumLiquidity(events []decode.PositionEvent) (*big.Int, []QuarantinedEvent) {
	liquidity := big.NewInt(0)
	var quarantined []QuarantinedEvent
	for _, e := range events {
		var delta *big.Int
		switch e.Kind {
		case decode.IncreaseLiquidity:
			delta = new(big.Int).Set(e.LiquidityDelta)
		case decode.DecreaseLiquidity:
			delta = new(big.Int).Neg(e.LiquidityDelta)
		default:
			continue
		}
		next := new(big.Int).Add(liquidity, delta)
		if next.Sign() < 0 {
			quarantined = append(quarantined, QuarantinedEvent{
				EventID: e.ID,
				Reason:  fmt.Sprintf("%v: liquidity would go negative (have %s, delta %s)", ErrLedgerInvariant, liquidity, delta),
			})
			continue
		}
		liquidity = next
	}
	return liquidity, quarantined
}

// DeriveStatus folds only the active/closed lifecycle transition over
// events, in canonical order, without requiring a PriceService — used by
// the Indexer Loop to set Position.status on every insert (spec.md §4.7's
// status rule does not depend on cost basis).
func DeriveStatus(events []decode.PositionEvent) Status {
	status := StatusActive
	liquidity := big.NewInt(0)
	justZeroed := false
	var lastZeroedAt int64

	for _, e := range events {
		switch e.Kind {
		case decode.IncreaseLiquidity:
			liquidity.Add(liquidity, e.LiquidityDelta)
			justZeroed = false
		case decode.DecreaseLiquidity:
			next := new(big.Int).Sub(liquidity, e.LiquidityDelta)
			if next.Sign() < 0 {
				justZeroed = false
				continue
			}
			liquidity = next
			if liquidity.Sign() == 0 {
				justZeroed = true
				lastZeroedAt = e.BlockTimestamp
			} else {
				justZeroed = false
			}
		case decode.Collect:
			if justZeroed && e.BlockTimestamp-lastZeroedAt <= closeToleranceSeconds {
				status = StatusClosed
			}
			justZeroed = false
		}
	}
	return status
}

// Fold applies events in the order given (callers MUST pre-sort via
// decode.PositionEvent.Less — this function does not sort) and returns the
// final state. Errors from individual events are collected, not fatal: a
// quarantined event does not stop folding the rest (spec.md §4.7).
func Fold(ctx context.Context, tokenID *big.Int, events []decode.PositionEvent, ps priceservice.PriceService, pool priceservice.PoolRef) (State, []error) {
	state := NewState(tokenID)
	var errs []error
	for _, e := range events {
		next, err := Apply(ctx, state, e, ps, pool)
		if err != nil && !errors.Is(err, ErrLedgerInvariant) {
			errs = append(errs, err)
			continue
		}
		if err != nil {
			errs = append(errs, err)
		}
		state = next
	}
	return state, errs
}

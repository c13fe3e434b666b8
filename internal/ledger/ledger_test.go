// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/chain"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/decode"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/evmtypes"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/priceservice"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/priceservice/fake"
)

var testPool = priceservice.PoolRef{
	Address:       evmtypes.MustParseAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88"),
	Token0:        evmtypes.MustParseAddress("0x1111111111111111111111111111111111111111"),
	Token1:        evmtypes.MustParseAddress("0x2222222222222222222222222222222222222222"),
	QuoteIsToken0: true,
}

func unitPrice() priceservice.QuotePerBase {
	return priceservice.QuotePerBase{Num: big.NewInt(1), Den: big.NewInt(1)}
}

func increase(id string, tokenID, liquidity, amount0, amount1 int64, blockTS int64, block uint64) decode.PositionEvent {
	return decode.PositionEvent{
		ID: id, Chain: chain.Ethereum, NFTTokenID: big.NewInt(tokenID), Kind: decode.IncreaseLiquidity,
		BlockNumber: block, BlockTimestamp: blockTS,
		LiquidityDelta: big.NewInt(liquidity), Amount0: big.NewInt(amount0), Amount1: big.NewInt(amount1),
	}
}

func decrease(id string, tokenID, liquidity, amount0, amount1 int64, blockTS int64, block uint64) decode.PositionEvent {
	e := increase(id, tokenID, liquidity, amount0, amount1, blockTS, block)
	e.Kind = decode.DecreaseLiquidity
	return e
}

func collect(id string, tokenID int64, blockTS int64, block uint64) decode.PositionEvent {
	return decode.PositionEvent{
		ID: id, Chain: chain.Ethereum, NFTTokenID: big.NewInt(tokenID), Kind: decode.Collect,
		BlockNumber: block, BlockTimestamp: blockTS,
		Amount0: big.NewInt(100), Amount1: big.NewInt(100),
	}
}

func TestApplyIncreaseThenDecrease(t *testing.T) {
	ps := fake.New()
	ps.SetFallback(unitPrice())

	state := NewState(big.NewInt(1))
	state, err := Apply(context.Background(), state, increase("e1", 1, 1000, 500, 0, 1000, 100), ps, testPool)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(1000), state.Liquidity)
	require.Len(t, state.Periods, 1)
	require.Nil(t, state.Periods[0].EndTime)

	state, err = Apply(context.Background(), state, decrease("e2", 1, 1000, 500, 0, 2000, 101), ps, testPool)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(0), state.Liquidity)
	require.Len(t, state.Periods, 2)
	require.NotNil(t, state.Periods[0].EndTime)
	require.Equal(t, int64(1000), *state.Periods[0].DurationSeconds)
	require.Equal(t, StatusActive, state.Status)
}

func TestApplyNegativeLiquidityQuarantined(t *testing.T) {
	ps := fake.New()
	ps.SetFallback(unitPrice())

	state := NewState(big.NewInt(1))
	_, err := Apply(context.Background(), state, decrease("e1", 1, 500, 100, 0, 1000, 100), ps, testPool)
	require.ErrorIs(t, err, ErrLedgerInvariant)
}

func TestFoldQuarantinesAndContinues(t *testing.T) {
	ps := fake.New()
	ps.SetFallback(unitPrice())

	events := []decode.PositionEvent{
		decrease("bad", 1, 500, 100, 0, 1000, 100),
		increase("good", 1, 500, 100, 0, 2000, 101),
	}
	state, errs := Fold(context.Background(), big.NewInt(1), events, ps, testPool)
	require.Len(t, errs, 1)
	require.Len(t, state.Quarantined, 1)
	require.Equal(t, big.NewInt(500), state.Liquidity)
}

func TestCloseTransitionWithinTolerance(t *testing.T) {
	ps := fake.New()
	ps.SetFallback(unitPrice())

	events := []decode.PositionEvent{
		increase("e1", 1, 1000, 500, 0, 1000, 100),
		decrease("e2", 1, 1000, 500, 0, 2000, 101),
		collect("e3", 1, 2000+closeToleranceSeconds, 102),
	}
	state, errs := Fold(context.Background(), big.NewInt(1), events, ps, testPool)
	require.Empty(t, errs)
	require.Equal(t, StatusClosed, state.Status)
}

func TestCloseTransitionOutsideToleranceStaysActive(t *testing.T) {
	ps := fake.New()
	ps.SetFallback(unitPrice())

	events := []decode.PositionEvent{
		increase("e1", 1, 1000, 500, 0, 1000, 100),
		decrease("e2", 1, 1000, 500, 0, 2000, 101),
		collect("e3", 1, 2000+closeToleranceSeconds+1, 102),
	}
	state, errs := Fold(context.Background(), big.NewInt(1), events, ps, testPool)
	require.Empty(t, errs)
	require.Equal(t, StatusActive, state.Status)
}

func TestSumLiquidity(t *testing.T) {
	events := []decode.PositionEvent{
		increase("e1", 1, 1000, 500, 0, 1000, 100),
		decrease("e2", 1, 400, 0, 0, 2000, 101),
		decrease("e3", 1, 900, 0, 0, 3000, 102), // would go negative: quarantined, skipped
	}
	liquidity, quarantined := SumLiquidity(events)
	require.Equal(t, big.NewInt(600), liquidity)
	require.Len(t, quarantined, 1)
}

func TestDeriveStatus(t *testing.T) {
	events := []decode.PositionEvent{
		increase("e1", 1, 1000, 500, 0, 1000, 100),
		decrease("e2", 1, 1000, 500, 0, 2000, 101),
		collect("e3", 1, 2000+closeToleranceSeconds, 102),
	}
	require.Equal(t, StatusClosed, DeriveStatus(events))
}

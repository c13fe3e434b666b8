// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pnl

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/decode"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/ledger"
)

func TestFixed6String(t *testing.T) {
	require.Equal(t, "12.166666", Fixed6{Value: big.NewInt(12_166_666)}.String())
	require.Equal(t, "0.000000", Fixed6{}.String())
	require.Equal(t, "-1.500000", Fixed6{Value: big.NewInt(-1_500_000)}.String())
}

func TestPercentFixed6ZeroDenominator(t *testing.T) {
	_, err := percentFixed6(big.NewInt(1), big.NewInt(0))
	require.Error(t, err)
}

// TestPeriodAPRSingleYearTruncation reproduces a single-period APR of
// 730/6000 over exactly one year: 73/6 percent, a repeating decimal whose
// 7th digit (6) would round the 6th digit up under round-half-to-even but
// does not under truncation.
func TestPeriodAPRSingleYearTruncation(t *testing.T) {
	oneYear := int64(365 * 86400)
	period := ledger.CapitalPeriod{
		EventID:          "e1",
		CostBasisInQuote: big.NewInt(6000),
		DurationSeconds:  &oneYear,
	}
	apr, err := periodAPR(big.NewInt(730), period)
	require.NoError(t, err)
	require.Equal(t, "12.166666", apr.String())
}

func TestAllocateAndScoreAPRTwoPeriodSplit(t *testing.T) {
	d1, d2 := int64(1), int64(1)
	periods := []ledger.CapitalPeriod{
		{EventID: "p1", StartTime: 100, CostBasisInQuote: big.NewInt(1), DurationSeconds: &d1, Weight: big.NewInt(1)},
		{EventID: "p2", StartTime: 200, CostBasisInQuote: big.NewInt(4), DurationSeconds: &d2, Weight: big.NewInt(4)},
	}
	collects := []decode.PositionEvent{
		{ID: "c1", Kind: decode.Collect, BlockTimestamp: 300},
	}

	allocations, _, err := allocateAndScoreAPR(collects, periods, big.NewInt(60000))
	require.NoError(t, err)
	require.Len(t, allocations, 2)

	byID := map[string]*big.Int{}
	for _, a := range allocations {
		byID[a.EventID] = a.AllocatedFees
	}
	require.Equal(t, big.NewInt(12000), byID["p1"])
	require.Equal(t, big.NewInt(48000), byID["p2"])
}

func TestAllocateAndScoreAPRNoCollectsYieldsNoAllocation(t *testing.T) {
	d1 := int64(1)
	periods := []ledger.CapitalPeriod{
		{EventID: "p1", StartTime: 100, CostBasisInQuote: big.NewInt(1), DurationSeconds: &d1, Weight: big.NewInt(1)},
	}
	allocations, apr, err := allocateAndScoreAPR(nil, periods, big.NewInt(1000))
	require.NoError(t, err)
	require.Empty(t, allocations)
	require.Equal(t, big.NewInt(0), apr.Value)
}

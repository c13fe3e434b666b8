// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reorg

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/evmtypes"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/logsource"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/window"
)

func mkLog(block uint64, txHashByte, blockHashByte byte, removed bool) logsource.Log {
	var txHash, blockHash evmtypes.Hash
	txHash[31] = txHashByte
	blockHash[31] = blockHashByte
	return logsource.Log{BlockNumber: block, BlockHash: blockHash, TransactionHash: txHash, Removed: removed}
}

func TestDetectAdvanceOnUnchangedHashes(t *testing.T) {
	w := window.New()
	w.Upsert(mkLog(120, 1, 1, false))

	decision := Detect([]logsource.Log{mkLog(120, 1, 1, false)}, w)
	require.Equal(t, Advance, decision)
}

func TestDetectDivergence(t *testing.T) {
	w := window.New()
	w.Upsert(mkLog(120, 1, 1, false))

	// same tx hash, different block hash at the same height.
	decision := Detect([]logsource.Log{mkLog(120, 1, 2, false)}, w)
	require.True(t, decision.Rollback)
	require.Equal(t, uint64(119), decision.ToHeight)
}

func TestDetectProviderReportedRemoval(t *testing.T) {
	w := window.New()
	decision := Detect([]logsource.Log{mkLog(120, 1, 1, true)}, w)
	require.True(t, decision.Rollback)
	require.Equal(t, uint64(119), decision.ToHeight)
}

func TestDetectMinOfMultipleDivergences(t *testing.T) {
	w := window.New()
	w.Upsert(mkLog(130, 1, 1, false))
	w.Upsert(mkLog(120, 2, 1, false))

	decision := Detect([]logsource.Log{
		mkLog(130, 1, 9, false),
		mkLog(120, 2, 9, false),
	}, w)
	require.True(t, decision.Rollback)
	require.Equal(t, uint64(119), decision.ToHeight)
}

func TestDetectGenesisBoundary(t *testing.T) {
	w := window.New()
	decision := Detect([]logsource.Log{mkLog(0, 1, 1, true)}, w)
	require.True(t, decision.Rollback)
	require.Equal(t, uint64(0), decision.ToHeight)
}

func TestDetectUnknownTxHashNoDivergence(t *testing.T) {
	w := window.New()
	decision := Detect([]logsource.Log{mkLog(120, 5, 1, false)}, w)
	require.Equal(t, Advance, decision)
}

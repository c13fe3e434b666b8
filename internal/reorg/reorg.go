// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package reorg implements the Reorg Detector (C4): comparing freshly
// fetched logs against the Recent Window to spot block-hash divergence and
// decide a rollback depth (spec.md §4.4).
package reorg

import (
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/logsource"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/window"
)

// Decision is the detector's verdict for one batch of logs.
type Decision struct {
	// Rollback is true when a divergence or a provider-reported reorg was
	// found; ToHeight is meaningful only then.
	Rollback bool
	ToHeight uint64
}

// Advance is the zero-value decision: no divergence found, proceed
// normally.
var Advance = Decision{}

// Detect scans a batch of newly fetched logs against the window and
// returns a rollback decision per spec.md §4.4:
//   - w.blockHash == log.blockHash for a prior entry: unchanged.
//   - w.blockHash != log.blockHash: divergence at height w.blockNumber.
//   - any log with Removed=true: provider-reported reorg at
//     log.BlockNumber-1.
//
// When multiple divergences are found, ToHeight is min(divergence heights) - 1.
func Detect(logs []logsource.Log, w *window.Window) Decision {
	var (
		found    bool
		minEvent uint64 // smallest "first bad block" height seen, before the -1
	)

	observe := func(height uint64) {
		if !found || height < minEvent {
			minEvent = height
			found = true
		}
	}

	for _, l := range logs {
		if l.Removed {
			observe(l.BlockNumber)
			continue
		}

		prior, ok := w.Get(l.TransactionHash)
		if !ok {
			continue
		}
		if prior.BlockHash == l.BlockHash {
			continue
		}
		observe(prior.BlockNumber)
	}

	if !found {
		return Advance
	}
	return Decision{Rollback: true, ToHeight: rollbackTarget(minEvent)}
}

// rollbackTarget converts the height of the first bad block into
// toHeight = height - 1 per spec.md §4.4, guarding against underflow at
// genesis.
func rollbackTarget(height uint64) uint64 {
	if height == 0 {
		return 0
	}
	return height - 1
}

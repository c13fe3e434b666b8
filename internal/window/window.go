// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package window implements the Recent Window (C3): an in-memory,
// mutex-guarded map of the last N blocks' logs, keyed by transaction hash,
// used by the Reorg Detector to spot block-hash divergence (spec.md §4.3).
//
// The shape follows the teacher's utils.LRUCache[K, V] (a guarded map plus
// an insertion-ordered key slice), generalized here to prune by block-height
// boundary instead of least-recently-used recency.
package window

import (
	"sync"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/evmtypes"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/logsource"
)

// Entry is the value half of spec.md §3's window entry.
type Entry struct {
	BlockNumber      uint64
	BlockHash        evmtypes.Hash
	TransactionIndex uint64
	LogIndex         uint64
}

// Window is the in-memory Recent Window for one chain. It is not
// rebuildable from persisted state on its own — the caller must refetch
// logs in [watermark-windowDepth, watermark] on process restart (spec.md
// §4.3).
type Window struct {
	mu      sync.RWMutex
	entries map[evmtypes.Hash]Entry
	order   []evmtypes.Hash
}

// New returns an empty Window.
func New() *Window {
	return &Window{entries: make(map[evmtypes.Hash]Entry)}
}

// Upsert inserts or overwrites the entry for log.TransactionHash.
func (w *Window) Upsert(l logsource.Log) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.upsertLocked(l)
}

// UpsertBatch bulk-upserts logs preserving insertion order.
func (w *Window) UpsertBatch(logs []logsource.Log) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, l := range logs {
		w.upsertLocked(l)
	}
}

func (w *Window) upsertLocked(l logsource.Log) {
	if _, exists := w.entries[l.TransactionHash]; !exists {
		w.order = append(w.order, l.TransactionHash)
	}
	w.entries[l.TransactionHash] = Entry{
		BlockNumber:      l.BlockNumber,
		BlockHash:        l.BlockHash,
		TransactionIndex: l.TransactionIndex,
		LogIndex:         l.LogIndex,
	}
}

// Get returns the entry for a transaction hash, if present.
func (w *Window) Get(txHash evmtypes.Hash) (Entry, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entries[txHash]
	return e, ok
}

// Len reports the number of entries currently held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entries)
}

// Prune deletes all entries with blockNumber <= boundary.
func (w *Window) Prune(boundary uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.filterLocked(func(e Entry) bool { return e.BlockNumber > boundary })
}

// RemoveAbove deletes all entries strictly above height (used on
// rollback).
func (w *Window) RemoveAbove(height uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.filterLocked(func(e Entry) bool { return e.BlockNumber <= height })
}

// Clear empties the window (used on catastrophic rollback).
func (w *Window) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries = make(map[evmtypes.Hash]Entry)
	w.order = nil
}

// filterLocked keeps only entries for which keep returns true. Callers must
// hold w.mu for writing.
func (w *Window) filterLocked(keep func(Entry) bool) {
	newOrder := w.order[:0]
	for _, h := range w.order {
		e, ok := w.entries[h]
		if !ok {
			continue
		}
		if keep(e) {
			newOrder = append(newOrder, h)
		} else {
			delete(w.entries, h)
		}
	}
	w.order = newOrder
}

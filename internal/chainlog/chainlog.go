// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chainlog wraps github.com/luxfi/log the way the teacher's
// log/compat.go wraps it for go-ethereum callers: a small set of
// package-level helpers plus a per-chain logger that always carries a
// "chain" field, and per-tick loggers that additionally carry "tick_id" for
// correlating a whole fetch/reconcile/persist cycle in the operator's logs
// (spec.md §7).
package chainlog

import (
	luxlog "github.com/luxfi/log"
)

// Logger is re-exported so callers don't need to import luxfi/log directly.
type Logger = luxlog.Logger

// Root returns the process-wide default logger.
func Root() Logger {
	return luxlog.Root()
}

// SetDefault installs l as the process-wide default logger.
func SetDefault(l Logger) {
	luxlog.SetDefault(l)
}

// ForChain returns a logger that always carries the chain field.
func ForChain(chain string) Logger {
	return luxlog.Root().With("chain", chain)
}

// ForTick returns a logger scoped to a single indexer tick, carrying both
// the chain and a correlation id unique to that tick.
func ForTick(chain string, tickID string) Logger {
	return luxlog.Root().With("chain", chain, "tick_id", tickID)
}

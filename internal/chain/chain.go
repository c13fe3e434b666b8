// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package chain defines the closed set of EVM chains the indexer supports
// and the per-chain configuration each ChainIndexer is instantiated with.
package chain

import (
	"fmt"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/evmtypes"
)

// ID is an opaque chain identifier from the closed set the indexer supports.
type ID string

const (
	Ethereum ID = "ethereum"
	Arbitrum ID = "arbitrum"
	Base     ID = "base"
)

// nfpmMainnet is the NonfungiblePositionManager address shared by ethereum
// and arbitrum (spec.md §6).
var nfpmMainnet = evmtypes.MustParseAddress("0xC36442b4a4522E871399CD717aBDD847Ab11FE88")

// Config carries everything a ChainIndexer needs to know about one chain.
// Base's NFPMAddress is not fixed by the spec and must come from the
// resolved configuration file.
type Config struct {
	ID              ID
	NumericID       uint64
	Endpoint        string
	APIKey          string
	NFPMAddress     evmtypes.Address
	PollInterval    int64 // milliseconds
	SafetyLag       uint64
	WindowDepth     uint64
	MaxRange        uint64
	MaxRetries      int
	BaseBackoffMS   int64
}

// Known reports whether id is one of the supported chains.
func Known(id ID) bool {
	switch id {
	case Ethereum, Arbitrum, Base:
		return true
	default:
		return false
	}
}

// DefaultNFPMAddress returns the well-known NFPM address for chains where it
// is fixed by spec, or an error for chains (base) that must supply one via
// configuration.
func DefaultNFPMAddress(id ID) (evmtypes.Address, error) {
	switch id {
	case Ethereum, Arbitrum:
		return nfpmMainnet, nil
	default:
		return evmtypes.Address{}, fmt.Errorf("chain: %s has no default NFPM address, must be configured", id)
	}
}

// Validate checks invariants that must hold before a ChainIndexer can be
// constructed from this Config (spec.md §9: safetyLag >= windowDepth).
func (c Config) Validate() error {
	if !Known(c.ID) {
		return fmt.Errorf("chain: unknown chain id %q", c.ID)
	}
	if c.Endpoint == "" {
		return fmt.Errorf("chain %s: endpoint is required", c.ID)
	}
	if c.SafetyLag < c.WindowDepth {
		return fmt.Errorf("chain %s: safetyLag (%d) must be >= windowDepth (%d)", c.ID, c.SafetyLag, c.WindowDepth)
	}
	if c.MaxRange == 0 {
		return fmt.Errorf("chain %s: maxRange must be > 0", c.ID)
	}
	if c.NFPMAddress == (evmtypes.Address{}) {
		return fmt.Errorf("chain %s: nfpmAddress must be set", c.ID)
	}
	return nil
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package priceservice fixes the Go contract for the Pool Price Service
// that spec.md §4.7 treats as an external pure function
// (priceAt(chain, pool, block) -> quotePerBase). No real price engine lives
// here; C7/C8 depend only on the PriceService interface, with a test-only
// fake under priceservice/fake.
package priceservice

import (
	"context"
	"fmt"
	"math/big"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/chain"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/evmtypes"
)

// PoolRef identifies a Uniswap V3 pool and its token orientation. The core
// never resolves token metadata (spec.md §1's Non-goals); QuoteIsToken0 is
// config-resolved per the GLOSSARY's lower-numeric-address rule.
type PoolRef struct {
	Address       evmtypes.Address
	Token0        evmtypes.Address
	Token1        evmtypes.Address
	QuoteIsToken0 bool
}

// QuotePerBase is a fixed-point rational price, numerator over denominator,
// never a float64 (spec.md §4.5/§9).
type QuotePerBase struct {
	Num *big.Int
	Den *big.Int
}

// ConvertToQuote converts amount0/amount1 (in base units) into a signed
// quote-unit value using price p, selecting the correct side per
// pool.QuoteIsToken0.
func (p QuotePerBase) ConvertToQuote(pool PoolRef, amount0, amount1 *big.Int) (*big.Int, error) {
	if p.Den == nil || p.Den.Sign() == 0 {
		return nil, fmt.Errorf("priceservice: zero denominator")
	}
	var baseAmount, quoteAmount *big.Int
	if pool.QuoteIsToken0 {
		quoteAmount = new(big.Int).Set(amount0)
		baseAmount = amount1
	} else {
		quoteAmount = new(big.Int).Set(amount1)
		baseAmount = amount0
	}
	converted := new(big.Int).Mul(baseAmount, p.Num)
	converted.Quo(converted, p.Den)
	return quoteAmount.Add(quoteAmount, converted), nil
}

// PriceService resolves a pool's quote-per-base price at a given block.
type PriceService interface {
	PriceAt(ctx context.Context, c chain.ID, pool PoolRef, block uint64) (QuotePerBase, error)
}

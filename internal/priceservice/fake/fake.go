// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fake provides an in-memory PriceService double for C7/C8 unit
// tests, keyed on (chain, pool, block). No production code imports it.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/chain"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/priceservice"
)

type key struct {
	chain chain.ID
	pool  string
	block uint64
}

// Service is a test-only PriceService backed by a fixed lookup table, with
// an optional fallback for blocks not explicitly seeded.
type Service struct {
	mu       sync.Mutex
	prices   map[key]priceservice.QuotePerBase
	fallback *priceservice.QuotePerBase
}

// New returns an empty Service.
func New() *Service {
	return &Service{prices: make(map[key]priceservice.QuotePerBase)}
}

// Set seeds the price for one (chain, pool, block) triple.
func (s *Service) Set(c chain.ID, pool priceservice.PoolRef, block uint64, price priceservice.QuotePerBase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[key{c, pool.Address.String(), block}] = price
}

// SetFallback sets a price returned for any block not explicitly seeded.
func (s *Service) SetFallback(price priceservice.QuotePerBase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = &price
}

// PriceAt implements priceservice.PriceService.
func (s *Service) PriceAt(_ context.Context, c chain.ID, pool priceservice.PoolRef, block uint64) (priceservice.QuotePerBase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prices[key{c, pool.Address.String(), block}]; ok {
		return p, nil
	}
	if s.fallback != nil {
		return *s.fallback, nil
	}
	return priceservice.QuotePerBase{}, fmt.Errorf("fake priceservice: no price seeded for chain=%s pool=%s block=%d", c, pool.Address, block)
}

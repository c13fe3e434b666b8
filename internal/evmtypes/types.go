// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package evmtypes provides the minimal fixed-size byte types the indexer
// needs to talk about chain logs (hashes, addresses) without pulling in a
// full EVM execution client as a dependency.
package evmtypes

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Hash is a 32-byte, 0x-prefixed hex-encodable value: a block hash, a
// transaction hash, or a topic word.
type Hash [32]byte

// Address is a 20-byte EVM account/contract address.
type Address [20]byte

func (h Hash) String() string { return "0x" + hex.EncodeToString(h[:]) }

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// ParseHash decodes a 0x-prefixed or bare hex string into a Hash. The input
// must encode exactly 32 bytes.
func ParseHash(s string) (Hash, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Hash{}, err
	}
	if len(b) != 32 {
		return Hash{}, fmt.Errorf("evmtypes: hash %q is %d bytes, want 32", s, len(b))
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// ParseAddress decodes a 0x-prefixed or bare hex string into an Address. The
// input must encode exactly 20 bytes.
func ParseAddress(s string) (Address, error) {
	b, err := decodeHex(s)
	if err != nil {
		return Address{}, err
	}
	if len(b) != 20 {
		return Address{}, fmt.Errorf("evmtypes: address %q is %d bytes, want 20", s, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

func decodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// MustParseHash is ParseHash that panics on error; only for package-level
// constants derived from literal signature hashes.
func MustParseHash(s string) Hash {
	h, err := ParseHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// MustParseAddress is ParseAddress that panics on error; only for
// package-level constants.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

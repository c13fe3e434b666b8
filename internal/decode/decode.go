// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package decode implements the Event Decoder (C5): parsing raw log
// topics/data into canonical PositionEvent records for the three
// NonfungiblePositionManager event kinds (spec.md §4.5).
package decode

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/chain"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/evmtypes"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/logsource"
)

// EventKind is the tagged variant over a PositionEvent's three possible
// shapes (design note in spec.md §9: a total apply function switches on
// this, never ad-hoc polymorphism).
type EventKind string

const (
	IncreaseLiquidity EventKind = "INCREASE_LIQUIDITY"
	DecreaseLiquidity EventKind = "DECREASE_LIQUIDITY"
	Collect           EventKind = "COLLECT"
)

// Source distinguishes events ingested from the chain from ones entered by
// hand (spec.md §3): only onchain events are written or deleted by the
// Indexer.
type Source string

const (
	SourceOnchain Source = "onchain"
	SourceManual  Source = "manual"
)

// Topic-0 fingerprints, exact bytes per spec.md §6. The authoritative
// Collect signature is fixed here per the Open Question in spec.md §9 —
// any other Collect topic-0 seen in the wild is stale and must be ignored.
var (
	topicIncreaseLiquidity = evmtypes.MustParseHash("0x3067048beee31b25b2f1681f88dac838c8bba36af25bfb2b7cf7473a5847e35f")
	topicDecreaseLiquidity = evmtypes.MustParseHash("0x26f6a048ee9138f2c0ce266f322cb99228e8d619ae2bff30c67f8dcf9d2377b4")
	topicCollect           = evmtypes.MustParseHash("0x40d0efd1a53d60ecbf40971b9daf7dc90178c3aadc7aab1765632738fa8b8f01")
)

// Topic0For returns the canonical topic-0 fingerprint for a kind, for
// callers (e.g. the Log Source Client) that need to build a filter.
func Topic0For(kind EventKind) evmtypes.Hash {
	switch kind {
	case IncreaseLiquidity:
		return topicIncreaseLiquidity
	case DecreaseLiquidity:
		return topicDecreaseLiquidity
	case Collect:
		return topicCollect
	default:
		return evmtypes.Hash{}
	}
}

// AllTopics returns the three topic-0 fingerprints the Log Source Client
// must query, one at a time (spec.md §4.1).
func AllTopics() [3]evmtypes.Hash {
	return [3]evmtypes.Hash{topicIncreaseLiquidity, topicDecreaseLiquidity, topicCollect}
}

// ErrUnknownTopic is returned when a log's topics[0] doesn't match any of
// the three known event signatures.
var ErrUnknownTopic = errors.New("decode: unrecognized topic0")

// ErrMalformedLog is returned when topics[0] matches a known signature but
// the indexed/data shape doesn't (spec.md §4.5: decode failures are fatal
// for that log but not the batch).
var ErrMalformedLog = errors.New("decode: malformed log payload")

// PositionEvent is the canonical output of the decoder (spec.md §3).
type PositionEvent struct {
	ID               string
	Chain            chain.ID
	NFTTokenID       *big.Int
	Kind             EventKind
	BlockNumber      uint64
	TransactionIndex uint64
	LogIndex         uint64
	TransactionHash  evmtypes.Hash
	BlockTimestamp   int64 // unix seconds
	Source           Source

	// Amounts are always non-negative, arbitrary-precision, stored as
	// decimal strings at the persistence boundary; in memory they stay
	// *big.Int (never float64) per spec.md §4.5 and §9.
	Amount0 *big.Int
	Amount1 *big.Int

	// LiquidityDelta is set for INCREASE/DECREASE only: the liquidity
	// minted or burned (always positive; the sign of its effect is implied
	// by Kind, per spec.md §4.7).
	LiquidityDelta *big.Int

	// Recipient is set for COLLECT only.
	Recipient *evmtypes.Address
}

// OrderKey returns the lexicographic ordering key from spec.md §3:
// (blockNumber, transactionIndex, logIndex).
func (e PositionEvent) OrderKey() [3]uint64 {
	return [3]uint64{e.BlockNumber, e.TransactionIndex, e.LogIndex}
}

// Less reports whether e sorts before other under the canonical order.
func (e PositionEvent) Less(other PositionEvent) bool {
	a, b := e.OrderKey(), other.OrderKey()
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Decode parses one raw Log into a canonical PositionEvent. It returns
// ErrUnknownTopic if the log doesn't match any known signature (the caller
// should simply skip such logs, they are not ours), or ErrMalformedLog
// wrapping a more specific reason when the shape is wrong for a matched
// topic (the caller must count this as a decode error and skip the log,
// per spec.md §4.5/§4.6.2, without failing the rest of the chunk).
func Decode(c chain.ID, l logsource.Log) (PositionEvent, error) {
	if len(l.Topics) == 0 {
		return PositionEvent{}, fmt.Errorf("%w: log has no topics", ErrUnknownTopic)
	}

	base := PositionEvent{
		ID:               uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%s:%d", c, l.TransactionHash, l.LogIndex))).String(),
		Chain:            c,
		BlockNumber:      l.BlockNumber,
		TransactionIndex: l.TransactionIndex,
		LogIndex:         l.LogIndex,
		TransactionHash:  l.TransactionHash,
		BlockTimestamp:   l.BlockTimestamp,
		Source:           SourceOnchain,
	}

	switch l.Topics[0] {
	case topicIncreaseLiquidity:
		return decodeLiquidityEvent(base, l, IncreaseLiquidity)
	case topicDecreaseLiquidity:
		return decodeLiquidityEvent(base, l, DecreaseLiquidity)
	case topicCollect:
		return decodeCollect(base, l)
	default:
		return PositionEvent{}, fmt.Errorf("%w: topic0=%s", ErrUnknownTopic, l.Topics[0])
	}
}

// decodeLiquidityEvent handles IncreaseLiquidity/DecreaseLiquidity, both
// shaped `(uint256 indexed tokenId, uint128 liquidity, uint256 amount0,
// uint256 amount1)`.
func decodeLiquidityEvent(base PositionEvent, l logsource.Log, kind EventKind) (PositionEvent, error) {
	if len(l.Topics) < 2 {
		return PositionEvent{}, fmt.Errorf("%w: %s missing indexed tokenId", ErrMalformedLog, kind)
	}
	if len(l.Data) != 96 {
		return PositionEvent{}, fmt.Errorf("%w: %s data length %d, want 96", ErrMalformedLog, kind, len(l.Data))
	}

	tokenID, err := wordToBig(l.Topics[1][:])
	if err != nil {
		return PositionEvent{}, fmt.Errorf("%w: %s tokenId: %v", ErrMalformedLog, kind, err)
	}

	liquidity, err := wordToBig(l.Data[0:32])
	if err != nil {
		return PositionEvent{}, fmt.Errorf("%w: %s liquidity: %v", ErrMalformedLog, kind, err)
	}
	amount0, err := wordToBig(l.Data[32:64])
	if err != nil {
		return PositionEvent{}, fmt.Errorf("%w: %s amount0: %v", ErrMalformedLog, kind, err)
	}
	amount1, err := wordToBig(l.Data[64:96])
	if err != nil {
		return PositionEvent{}, fmt.Errorf("%w: %s amount1: %v", ErrMalformedLog, kind, err)
	}

	base.Kind = kind
	base.NFTTokenID = tokenID
	base.LiquidityDelta = liquidity
	base.Amount0 = amount0
	base.Amount1 = amount1
	return base, nil
}

// decodeCollect handles `Collect(uint256 indexed tokenId, address
// recipient, uint256 amount0, uint256 amount1)`.
func decodeCollect(base PositionEvent, l logsource.Log) (PositionEvent, error) {
	if len(l.Topics) < 2 {
		return PositionEvent{}, fmt.Errorf("%w: Collect missing indexed tokenId", ErrMalformedLog)
	}
	if len(l.Data) != 96 {
		return PositionEvent{}, fmt.Errorf("%w: Collect data length %d, want 96", ErrMalformedLog, len(l.Data))
	}

	tokenID, err := wordToBig(l.Topics[1][:])
	if err != nil {
		return PositionEvent{}, fmt.Errorf("%w: Collect tokenId: %v", ErrMalformedLog, err)
	}

	// recipient is a left-padded address in the first data word.
	recipientWord := l.Data[0:32]
	for _, b := range recipientWord[:12] {
		if b != 0 {
			return PositionEvent{}, fmt.Errorf("%w: Collect recipient not address-shaped", ErrMalformedLog)
		}
	}
	var recipient evmtypes.Address
	copy(recipient[:], recipientWord[12:32])

	amount0, err := wordToBig(l.Data[32:64])
	if err != nil {
		return PositionEvent{}, fmt.Errorf("%w: Collect amount0: %v", ErrMalformedLog, err)
	}
	amount1, err := wordToBig(l.Data[64:96])
	if err != nil {
		return PositionEvent{}, fmt.Errorf("%w: Collect amount1: %v", ErrMalformedLog, err)
	}

	base.Kind = Collect
	base.NFTTokenID = tokenID
	base.Recipient = &recipient
	base.Amount0 = amount0
	base.Amount1 = amount1
	return base, nil
}

// wordToBig converts a 32-byte big-endian EVM word into a non-negative
// *big.Int via uint256, never through a floating-point intermediate
// (spec.md §4.5, §9).
func wordToBig(word []byte) (*big.Int, error) {
	if len(word) != 32 {
		return nil, fmt.Errorf("word is %d bytes, want 32", len(word))
	}
	var u uint256.Int
	u.SetBytes(word)
	return u.ToBig(), nil
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package indexer implements the Indexer Loop (C6): the per-chain
// scheduler tying the Log Source Client, Recent Window, Reorg Detector,
// and Event Decoder together — tick, fetch, reconcile, persist, advance
// watermark (spec.md §4.6).
//
// Global mutable state is encapsulated in a single ChainIndexer value per
// spec.md §9's design note; no process-wide singletons except the shared
// database pool (owned by the caller, passed in as *store.Store).
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/chain"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/chainlog"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/decode"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/ledger"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/logsource"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/metrics"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/reorg"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/store"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/window"
)

// maxConsecutiveFailures is the exit-code-2 threshold from spec.md §6
// ("persistent source failure (>30 consecutive failed ticks)").
const maxConsecutiveFailures = 30

// alertAfterFailures is the point at which a chain's repeated failures are
// logged at warning level, per spec.md §4.6.2 ("does not alert until 5
// consecutive ticks fail").
const alertAfterFailures = 5

// ErrPersistentFailure is wrapped into Run's return value once a chain
// exceeds maxConsecutiveFailures; cmd/indexer maps this to exit code 2.
var ErrPersistentFailure = errors.New("indexer: persistent source failure")

// chainStore is the slice of *store.Store's API the tick/rollback loop
// needs. Depending on an interface (rather than *store.Store directly)
// lets this package's own tests exercise tick/rollback against an
// in-memory fake instead of a live Postgres connection.
type chainStore interface {
	GetWatermark(ctx context.Context, c chain.ID) (uint64, bool, error)
	WithTx(ctx context.Context, fn func(store.TxStore) error) error
}

// ChainIndexer runs the C6 loop for exactly one chain.
type ChainIndexer struct {
	cfg     chain.Config
	client  *logsource.Client
	store   chainStore
	window  *window.Window
	metrics *metrics.Metrics
	log     chainlog.Logger

	consecutiveFailures int
	tickCount           uint64
}

// New constructs a ChainIndexer. store and metrics are shared across every
// chain's indexer (spec.md §5: the database is the only cross-component
// shared resource); window is per-chain and lives only in process memory.
func New(cfg chain.Config, client *logsource.Client, st chainStore, m *metrics.Metrics) *ChainIndexer {
	return &ChainIndexer{
		cfg:     cfg,
		client:  client,
		store:   st,
		window:  window.New(),
		metrics: m,
		log:     chainlog.ForChain(string(cfg.ID)),
	}
}

// Run executes the tick loop until ctx is cancelled. It honors cooperative
// shutdown: the current chunk's commit finishes or aborts before the loop
// observes cancellation (spec.md §5); a cancelled context yields a nil
// error (graceful shutdown, exit code 0). Returning ErrPersistentFailure
// means the chain exceeded maxConsecutiveFailures (exit code 2).
func (ci *ChainIndexer) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := ci.tick(ctx)
		if err != nil {
			ci.consecutiveFailures++
			ci.metrics.SourceFailuresTotal.WithLabelValues(string(ci.cfg.ID)).Inc()
			if ci.consecutiveFailures == alertAfterFailures {
				ci.log.Warn("indexer tick failing repeatedly", "consecutive_failures", ci.consecutiveFailures, "err", err)
			}
			if ci.consecutiveFailures > maxConsecutiveFailures {
				return fmt.Errorf("%w: chain %s: %d consecutive failed ticks: %v", ErrPersistentFailure, ci.cfg.ID, ci.consecutiveFailures, err)
			}
			if sleepErr := sleep(ctx, 2*pollInterval(ci.cfg)); sleepErr != nil {
				return nil
			}
			continue
		}

		ci.consecutiveFailures = 0
		if sleepErr := sleep(ctx, pollInterval(ci.cfg)); sleepErr != nil {
			return nil
		}
	}
}

func pollInterval(cfg chain.Config) time.Duration {
	return time.Duration(cfg.PollInterval) * time.Millisecond
}

func sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// tick implements one pass of spec.md §4.6's numbered steps.
func (ci *ChainIndexer) tick(ctx context.Context) error {
	ci.tickCount++
	tickID := uuid.NewString()
	log := ci.log.With("tick_id", tickID)
	ci.metrics.TicksTotal.WithLabelValues(string(ci.cfg.ID)).Inc()

	watermark, _, err := ci.store.GetWatermark(ctx, ci.cfg.ID)
	if err != nil {
		return fmt.Errorf("get watermark: %w", err)
	}

	tip, err := ci.client.HeadBlock(ctx)
	if err != nil {
		log.Warn("head block lookup failed", "err", err)
		return err
	}
	if tip < ci.cfg.SafetyLag {
		return nil
	}
	target := tip - ci.cfg.SafetyLag
	if watermark >= target {
		return nil
	}

	from := watermark + 1
	rangeSize := ci.cfg.MaxRange

	for from <= target {
		to := from + rangeSize - 1
		if to > target {
			to = target
		}

		logs, err := ci.fetchChunk(ctx, from, to)
		if err != nil {
			if errors.Is(err, logsource.ErrWindowTooLarge) {
				if rangeSize <= 1 {
					return fmt.Errorf("window too large at minimum range: %w", err)
				}
				rangeSize /= 2
				if rangeSize < 1 {
					rangeSize = 1
				}
				log.Warn("result window exceeded, halving range", "new_range", rangeSize)
				continue
			}
			return fmt.Errorf("fetch chunk [%d,%d]: %w", from, to, err)
		}

		decision := reorg.Detect(logs, ci.window)
		if decision.Rollback {
			log.Warn("reorg detected, rolling back", "to_height", decision.ToHeight)
			if err := ci.rollback(ctx, decision.ToHeight); err != nil {
				return fmt.Errorf("rollback to %d: %w", decision.ToHeight, err)
			}
			ci.metrics.RollbacksTotal.WithLabelValues(string(ci.cfg.ID)).Inc()
			return nil
		}

		events, decodeErrors := decodeChunk(ci.cfg.ID, logs)
		if decodeErrors > 0 {
			ci.metrics.DecodeErrorsTotal.WithLabelValues(string(ci.cfg.ID)).Add(float64(decodeErrors))
			log.Warn("decode errors in chunk", "count", decodeErrors)
		}

		if err := ci.persistChunk(ctx, events, to); err != nil {
			return fmt.Errorf("persist chunk [%d,%d]: %w", from, to, err)
		}
		ci.window.UpsertBatch(logs)

		watermark = to
		from = to + 1
	}

	var boundary uint64
	if watermark > ci.cfg.WindowDepth {
		boundary = watermark - ci.cfg.WindowDepth
	}
	ci.window.Prune(boundary)
	ci.metrics.WatermarkHeight.WithLabelValues(string(ci.cfg.ID)).Set(float64(watermark))
	ci.metrics.WindowSize.WithLabelValues(string(ci.cfg.ID)).Set(float64(ci.window.Len()))
	return nil
}

// fetchChunk queries all three known topics over [from,to] and unions the
// results (spec.md §4.1: "each call queries one topic at a time; the
// caller unions results").
func (ci *ChainIndexer) fetchChunk(ctx context.Context, from, to uint64) ([]logsource.Log, error) {
	var all []logsource.Log
	for _, topic := range decode.AllTopics() {
		logs, err := ci.client.FetchLogs(ctx, from, to, ci.cfg.NFPMAddress, topic)
		if err != nil {
			return nil, err
		}
		all = append(all, logs...)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.BlockNumber != b.BlockNumber {
			return a.BlockNumber < b.BlockNumber
		}
		if a.TransactionIndex != b.TransactionIndex {
			return a.TransactionIndex < b.TransactionIndex
		}
		return a.LogIndex < b.LogIndex
	})
	return all, nil
}

func decodeChunk(c chain.ID, logs []logsource.Log) ([]decode.PositionEvent, int) {
	var events []decode.PositionEvent
	errCount := 0
	for _, l := range logs {
		e, err := decode.Decode(c, l)
		if err != nil {
			if errors.Is(err, decode.ErrUnknownTopic) {
				continue
			}
			errCount++
			continue
		}
		events = append(events, e)
	}
	return events, errCount
}

// positionReadWriter is the slice of store.TxStore's API refoldPosition
// needs — letting refoldPosition run as one step of a caller's
// transaction, real or faked.
type positionReadWriter interface {
	EventsForToken(ctx context.Context, c chain.ID, tokenID *big.Int) ([]decode.PositionEvent, error)
	GetPosition(ctx context.Context, c chain.ID, tokenID *big.Int) (store.PositionRow, bool, error)
	UpsertPosition(ctx context.Context, p store.PositionRow) error
}

// persistChunk writes events, advances the watermark, and recomputes
// Position.liquidity/status for every touched nftTokenId — all inside one
// store.TxStore, so a crash or concurrent reader between the event insert
// and the position upsert can never observe an advanced watermark
// alongside a stale Position.liquidity (spec.md §5, §8's folding
// invariant). A storage error here aborts the whole chunk: no watermark
// advance, no window prune (spec.md §4.6.2), since the caller only
// upserts window/prunes after this returns successfully.
func (ci *ChainIndexer) persistChunk(ctx context.Context, events []decode.PositionEvent, chunkEnd uint64) error {
	touched := touchedTokens(events)
	return ci.store.WithTx(ctx, func(tx store.TxStore) error {
		if err := tx.InsertEvents(ctx, events); err != nil {
			return err
		}
		if err := tx.SetWatermark(ctx, ci.cfg.ID, chunkEnd); err != nil {
			return err
		}
		for _, tokenID := range touched {
			if err := ci.refoldPosition(ctx, tx, tokenID); err != nil {
				return fmt.Errorf("refold position %s: %w", tokenID, err)
			}
		}
		return nil
	})
}

func touchedTokens(events []decode.PositionEvent) []*big.Int {
	seen := make(map[string]*big.Int)
	for _, e := range events {
		if e.NFTTokenID == nil {
			continue
		}
		key := e.NFTTokenID.String()
		if _, ok := seen[key]; !ok {
			seen[key] = e.NFTTokenID
		}
	}
	out := make([]*big.Int, 0, len(seen))
	for _, t := range seen {
		out = append(out, t)
	}
	return out
}

// refoldPosition re-derives Position.liquidity/status for tokenID from all
// its stored events and upserts the row (spec.md §3: "liquidity is
// recomputed on every event"; §4.6.1's rollback re-fold uses the same
// path). TickLower/TickUpper/PoolRef are preserved from the existing row
// when present; a brand-new position gets zero-valued placeholders, since
// tick range is resolved by NFPM metadata reads outside this component's
// scope (spec.md §1's Non-goals).
func (ci *ChainIndexer) refoldPosition(ctx context.Context, prw positionReadWriter, tokenID *big.Int) error {
	events, err := prw.EventsForToken(ctx, ci.cfg.ID, tokenID)
	if err != nil {
		return err
	}

	liquidity, quarantined := ledger.SumLiquidity(events)
	for _, q := range quarantined {
		ci.log.Warn("ledger invariant violation, event quarantined", "event_id", q.EventID, "reason", q.Reason)
	}
	status := ledger.DeriveStatus(events)

	existing, found, err := prw.GetPosition(ctx, ci.cfg.ID, tokenID)
	row := store.PositionRow{
		Chain:      ci.cfg.ID,
		NFTTokenID: tokenID,
		Liquidity:  liquidity,
		Status:     string(status),
	}
	if err != nil {
		return err
	}
	if found {
		row.ID = existing.ID
		row.UserID = existing.UserID
		row.PoolRef = existing.PoolRef
		row.TickLower = existing.TickLower
		row.TickUpper = existing.TickUpper
	} else {
		row.ID = uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("%s:%s", ci.cfg.ID, tokenID))).String()
	}

	return prw.UpsertPosition(ctx, row)
}

// rollback implements spec.md §4.6.1's subroutine, inside one
// store.TxStore so the deleted events, the re-folded positions, and the
// rolled-back watermark commit or abort together. It is idempotent:
// running it twice with the same height has no further effect, since
// DeleteEventsAbove and RollbackWatermark are both no-ops once applied.
func (ci *ChainIndexer) rollback(ctx context.Context, height uint64) error {
	err := ci.store.WithTx(ctx, func(tx store.TxStore) error {
		touched, err := tx.DeleteEventsAbove(ctx, ci.cfg.ID, height)
		if err != nil {
			return err
		}
		for _, tokenID := range touched {
			if err := ci.refoldPosition(ctx, tx, tokenID); err != nil {
				return fmt.Errorf("refold position %s after rollback: %w", tokenID, err)
			}
		}
		return tx.RollbackWatermark(ctx, ci.cfg.ID, height)
	})
	if err != nil {
		return err
	}
	ci.window.RemoveAbove(height)
	return nil
}

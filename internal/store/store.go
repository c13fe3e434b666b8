// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package store is the relational persistence layer behind C2 (Watermark
// Store), C6 (PositionEvent writes and rollback deletes), and C7 (Position
// upserts/reads). It is the only cross-component shared resource (spec.md
// §5): one *pgxpool.Pool shared by every chain's indexer loop.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/0xNedAlbo/duncan-ui-sub007/internal/chain"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/decode"
	"github.com/0xNedAlbo/duncan-ui-sub007/internal/evmtypes"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx: every query below is
// written once against this interface and run either as a standalone call
// or as part of a caller-managed transaction (spec.md §5: "writes to
// PositionEvent and Position for a given (chain, nftTokenId) MUST be
// serialized within a single transaction per chunk").
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps a pgx connection pool and implements the reads/writes the
// Indexer Loop, Watermark Store, and Position Ledger need.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dbURL and returns a Store. The pool's size is controlled
// entirely through dbURL's connection string parameters (spec.md §5: the
// database is the only cross-component shared resource).
func New(ctx context.Context, dbURL string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Schema is the DDL for the three tables this store reads/writes, per
// spec.md §6. Callers apply it once at startup (or via an external
// migration tool); it is kept here, not in a migrations framework, because
// the spec fixes only these three tables and nothing else in the schema.
const Schema = `
CREATE TABLE IF NOT EXISTS block_scanner_watermark (
	chain TEXT PRIMARY KEY,
	last_processed_height BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS positions (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	chain TEXT NOT NULL,
	nft_token_id NUMERIC NOT NULL,
	pool_ref TEXT NOT NULL,
	tick_lower BIGINT NOT NULL,
	tick_upper BIGINT NOT NULL,
	liquidity NUMERIC NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (chain, nft_token_id)
);

CREATE TABLE IF NOT EXISTS position_events (
	id TEXT PRIMARY KEY,
	chain TEXT NOT NULL,
	nft_token_id NUMERIC NOT NULL,
	event_kind TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	transaction_index BIGINT NOT NULL,
	log_index BIGINT NOT NULL,
	transaction_hash TEXT NOT NULL,
	block_timestamp BIGINT NOT NULL,
	source TEXT NOT NULL,
	amount0 NUMERIC NOT NULL,
	amount1 NUMERIC NOT NULL,
	liquidity_delta NUMERIC,
	recipient TEXT,
	quarantined BOOLEAN NOT NULL DEFAULT false,
	UNIQUE (chain, transaction_hash, log_index)
);
CREATE INDEX IF NOT EXISTS position_events_order_idx
	ON position_events (chain, nft_token_id, block_number, transaction_index, log_index);
`

// ApplySchema runs Schema against the database. Idempotent.
func (s *Store) ApplySchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// TxStore is the set of operations available inside one WithTx call. It
// exists (rather than callers taking *Tx directly) so package indexer can
// depend on an interface and exercise its transactional chunk-persist and
// rollback logic against an in-memory fake, without a live Postgres
// connection.
type TxStore interface {
	InsertEvents(ctx context.Context, events []decode.PositionEvent) error
	SetWatermark(ctx context.Context, c chain.ID, height uint64) error
	RollbackWatermark(ctx context.Context, c chain.ID, height uint64) error
	DeleteEventsAbove(ctx context.Context, c chain.ID, height uint64) ([]*big.Int, error)
	EventsForToken(ctx context.Context, c chain.ID, tokenID *big.Int) ([]decode.PositionEvent, error)
	GetPosition(ctx context.Context, c chain.ID, tokenID *big.Int) (PositionRow, bool, error)
	UpsertPosition(ctx context.Context, p PositionRow) error
}

// Tx is a Store-scoped view of one open transaction, implementing TxStore
// by running every operation against the same pgx.Tx.
type Tx struct {
	tx pgx.Tx
}

// WithTx runs fn against one transaction, committing only if fn returns
// nil (rolled back otherwise, including on panic via the deferred
// Rollback). Every write spec.md §5 requires to be serialized per chunk —
// inserting a chunk's events, advancing the watermark, and upserting the
// chunk's touched positions, or deleting rolled-back events, re-folding,
// and rolling the watermark back — goes through one WithTx call.
func (s *Store) WithTx(ctx context.Context, fn func(TxStore) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit tx: %w", err)
	}
	return nil
}

// --- Watermark Store (C2) ---------------------------------------------

// GetWatermark returns the last processed height for chain, or (0, false)
// if the chain has never been ticked (spec.md §4.2's bootstrap case).
func (s *Store) GetWatermark(ctx context.Context, c chain.ID) (uint64, bool, error) {
	return getWatermark(ctx, s.pool, c)
}

func getWatermark(ctx context.Context, q dbtx, c chain.ID) (uint64, bool, error) {
	var height uint64
	err := q.QueryRow(ctx,
		`SELECT last_processed_height FROM block_scanner_watermark WHERE chain = $1`, string(c),
	).Scan(&height)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: get watermark: %w", err)
	}
	return height, true, nil
}

// SetWatermark atomically upserts the watermark for chain.
func (s *Store) SetWatermark(ctx context.Context, c chain.ID, height uint64) error {
	return setWatermark(ctx, s.pool, c, height)
}

// SetWatermark advances the watermark as part of tx.
func (t *Tx) SetWatermark(ctx context.Context, c chain.ID, height uint64) error {
	return setWatermark(ctx, t.tx, c, height)
}

func setWatermark(ctx context.Context, q dbtx, c chain.ID, height uint64) error {
	_, err := q.Exec(ctx, `
		INSERT INTO block_scanner_watermark (chain, last_processed_height, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (chain) DO UPDATE
			SET last_processed_height = EXCLUDED.last_processed_height, updated_at = now()
	`, string(c), int64(height))
	if err != nil {
		return fmt.Errorf("store: set watermark: %w", err)
	}
	return nil
}

// RollbackWatermark sets the watermark to height, but only if the stored
// height is currently greater (no-op otherwise, per spec.md §4.2).
func (s *Store) RollbackWatermark(ctx context.Context, c chain.ID, height uint64) error {
	return rollbackWatermark(ctx, s.pool, c, height)
}

// RollbackWatermark rolls the watermark back as part of tx.
func (t *Tx) RollbackWatermark(ctx context.Context, c chain.ID, height uint64) error {
	return rollbackWatermark(ctx, t.tx, c, height)
}

func rollbackWatermark(ctx context.Context, q dbtx, c chain.ID, height uint64) error {
	_, err := q.Exec(ctx, `
		UPDATE block_scanner_watermark
		SET last_processed_height = $2, updated_at = now()
		WHERE chain = $1 AND last_processed_height > $2
	`, string(c), int64(height))
	if err != nil {
		return fmt.Errorf("store: rollback watermark: %w", err)
	}
	return nil
}

// --- PositionEvent writes (C6) -----------------------------------------

// InsertEvents inserts a batch of decoded onchain events as part of tx.
// Decode failures never reach here (the caller already skipped and
// counted them). Callers that also need to advance the watermark and
// refold touched Positions in the same commit should do so against the
// same tx, via WithTx.
func (t *Tx) InsertEvents(ctx context.Context, events []decode.PositionEvent) error {
	return insertEvents(ctx, t.tx, events)
}

func insertEvents(ctx context.Context, q dbtx, events []decode.PositionEvent) error {
	for _, e := range events {
		if err := insertEvent(ctx, q, e); err != nil {
			return fmt.Errorf("store: insert event %s: %w", e.ID, err)
		}
	}
	return nil
}

func insertEvent(ctx context.Context, q dbtx, e decode.PositionEvent) error {
	var recipient *string
	if e.Recipient != nil {
		s := e.Recipient.String()
		recipient = &s
	}
	var liquidityDelta *string
	if e.LiquidityDelta != nil {
		s := e.LiquidityDelta.String()
		liquidityDelta = &s
	}

	_, err := q.Exec(ctx, `
		INSERT INTO position_events (
			id, chain, nft_token_id, event_kind, block_number, transaction_index,
			log_index, transaction_hash, block_timestamp, source, amount0, amount1,
			liquidity_delta, recipient
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (chain, transaction_hash, log_index) DO NOTHING
	`,
		e.ID, string(e.Chain), e.NFTTokenID.String(), string(e.Kind),
		int64(e.BlockNumber), int64(e.TransactionIndex), int64(e.LogIndex),
		e.TransactionHash.String(), e.BlockTimestamp, string(e.Source),
		e.Amount0.String(), e.Amount1.String(), liquidityDelta, recipient,
	)
	return err
}

// DeleteEventsAbove deletes all source=onchain PositionEvent rows for
// chain with blockNumber > height, returning the affected nftTokenIds so
// the caller can re-fold each one's Position.liquidity (spec.md §4.6.1),
// as part of tx.
func (t *Tx) DeleteEventsAbove(ctx context.Context, c chain.ID, height uint64) ([]*big.Int, error) {
	return deleteEventsAbove(ctx, t.tx, c, height)
}

func deleteEventsAbove(ctx context.Context, q dbtx, c chain.ID, height uint64) ([]*big.Int, error) {
	rows, err := q.Query(ctx, `
		DELETE FROM position_events
		WHERE chain = $1 AND block_number > $2 AND source = 'onchain'
		RETURNING nft_token_id
	`, string(c), int64(height))
	if err != nil {
		return nil, fmt.Errorf("store: delete events above %d: %w", height, err)
	}
	defer rows.Close()

	seen := make(map[string]*big.Int)
	for rows.Next() {
		var tokenIDStr string
		if err := rows.Scan(&tokenIDStr); err != nil {
			return nil, fmt.Errorf("store: scan deleted event: %w", err)
		}
		if _, ok := seen[tokenIDStr]; ok {
			continue
		}
		n, ok := new(big.Int).SetString(tokenIDStr, 10)
		if !ok {
			return nil, fmt.Errorf("store: invalid nft_token_id %q", tokenIDStr)
		}
		seen[tokenIDStr] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*big.Int, 0, len(seen))
	for _, n := range seen {
		out = append(out, n)
	}
	return out, nil
}

// EventsForToken returns all events (any source) for one (chain,
// nftTokenId), ordered canonically (spec.md §3's lexicographic order), for
// re-folding by the Position Ledger.
func (s *Store) EventsForToken(ctx context.Context, c chain.ID, tokenID *big.Int) ([]decode.PositionEvent, error) {
	return eventsForToken(ctx, s.pool, c, tokenID)
}

// EventsForToken reads events for re-folding as part of tx, so a chunk's
// own just-inserted (and not yet committed) events are visible to the
// refold that follows it in the same transaction.
func (t *Tx) EventsForToken(ctx context.Context, c chain.ID, tokenID *big.Int) ([]decode.PositionEvent, error) {
	return eventsForToken(ctx, t.tx, c, tokenID)
}

func eventsForToken(ctx context.Context, q dbtx, c chain.ID, tokenID *big.Int) ([]decode.PositionEvent, error) {
	rows, err := q.Query(ctx, `
		SELECT id, event_kind, block_number, transaction_index, log_index,
			transaction_hash, block_timestamp, source, amount0, amount1,
			liquidity_delta, recipient
		FROM position_events
		WHERE chain = $1 AND nft_token_id = $2
		ORDER BY block_number, transaction_index, log_index
	`, string(c), tokenID.String())
	if err != nil {
		return nil, fmt.Errorf("store: events for token: %w", err)
	}
	defer rows.Close()

	var out []decode.PositionEvent
	for rows.Next() {
		e, err := scanEvent(rows, c, tokenID)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvent(rows pgx.Rows, c chain.ID, tokenID *big.Int) (decode.PositionEvent, error) {
	var (
		id, kind, txHashStr, source, amount0Str, amount1Str string
		blockNumber, txIndex, logIndex                       int64
		blockTimestamp                                       int64
		liquidityDeltaStr, recipientStr                      *string
	)
	if err := rows.Scan(&id, &kind, &blockNumber, &txIndex, &logIndex,
		&txHashStr, &blockTimestamp, &source, &amount0Str, &amount1Str,
		&liquidityDeltaStr, &recipientStr); err != nil {
		return decode.PositionEvent{}, fmt.Errorf("store: scan event: %w", err)
	}

	txHash, err := evmtypes.ParseHash(txHashStr)
	if err != nil {
		return decode.PositionEvent{}, err
	}
	amount0, ok := new(big.Int).SetString(amount0Str, 10)
	if !ok {
		return decode.PositionEvent{}, fmt.Errorf("store: invalid amount0 %q", amount0Str)
	}
	amount1, ok := new(big.Int).SetString(amount1Str, 10)
	if !ok {
		return decode.PositionEvent{}, fmt.Errorf("store: invalid amount1 %q", amount1Str)
	}

	e := decode.PositionEvent{
		ID:               id,
		Chain:            c,
		NFTTokenID:       new(big.Int).Set(tokenID),
		Kind:             decode.EventKind(kind),
		BlockNumber:      uint64(blockNumber),
		TransactionIndex: uint64(txIndex),
		LogIndex:         uint64(logIndex),
		TransactionHash:  txHash,
		BlockTimestamp:   blockTimestamp,
		Source:           decode.Source(source),
		Amount0:          amount0,
		Amount1:          amount1,
	}
	if liquidityDeltaStr != nil {
		d, ok := new(big.Int).SetString(*liquidityDeltaStr, 10)
		if !ok {
			return decode.PositionEvent{}, fmt.Errorf("store: invalid liquidity_delta %q", *liquidityDeltaStr)
		}
		e.LiquidityDelta = d
	}
	if recipientStr != nil {
		addr, err := evmtypes.ParseAddress(*recipientStr)
		if err != nil {
			return decode.PositionEvent{}, err
		}
		e.Recipient = &addr
	}
	return e, nil
}

// --- Position upserts (C7) ----------------------------------------------

// PositionRow mirrors spec.md §3's Position record.
type PositionRow struct {
	ID         string
	UserID     string
	Chain      chain.ID
	NFTTokenID *big.Int
	PoolRef    string
	TickLower  int64
	TickUpper  int64
	Liquidity  *big.Int
	Status     string
}

// UpsertPosition creates or updates a Position row, overwriting liquidity
// and status with p's values on every call; the caller recomputes them
// (spec.md §3: "liquidity is recomputed on every event").
func (s *Store) UpsertPosition(ctx context.Context, p PositionRow) error {
	return upsertPosition(ctx, s.pool, p)
}

// UpsertPosition writes the Position row as part of tx, so it commits or
// rolls back atomically with the PositionEvent writes and watermark move
// that produced it (spec.md §5, §8's "folding events == stored
// Position.liquidity" invariant).
func (t *Tx) UpsertPosition(ctx context.Context, p PositionRow) error {
	return upsertPosition(ctx, t.tx, p)
}

func upsertPosition(ctx context.Context, q dbtx, p PositionRow) error {
	_, err := q.Exec(ctx, `
		INSERT INTO positions (id, user_id, chain, nft_token_id, pool_ref, tick_lower, tick_upper, liquidity, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (chain, nft_token_id) DO UPDATE
			SET liquidity = EXCLUDED.liquidity, status = EXCLUDED.status
	`, p.ID, p.UserID, string(p.Chain), p.NFTTokenID.String(), p.PoolRef, p.TickLower, p.TickUpper, p.Liquidity.String(), p.Status)
	if err != nil {
		return fmt.Errorf("store: upsert position: %w", err)
	}
	return nil
}

// GetPosition returns the stored Position for (chain, nftTokenId), if any.
func (s *Store) GetPosition(ctx context.Context, c chain.ID, tokenID *big.Int) (PositionRow, bool, error) {
	return getPosition(ctx, s.pool, c, tokenID)
}

// GetPosition reads the stored Position as part of tx.
func (t *Tx) GetPosition(ctx context.Context, c chain.ID, tokenID *big.Int) (PositionRow, bool, error) {
	return getPosition(ctx, t.tx, c, tokenID)
}

func getPosition(ctx context.Context, q dbtx, c chain.ID, tokenID *big.Int) (PositionRow, bool, error) {
	var p PositionRow
	var liquidityStr, nftTokenIDStr string
	err := q.QueryRow(ctx, `
		SELECT id, user_id, chain, nft_token_id, pool_ref, tick_lower, tick_upper, liquidity, status
		FROM positions WHERE chain = $1 AND nft_token_id = $2
	`, string(c), tokenID.String()).Scan(
		&p.ID, &p.UserID, &p.Chain, &nftTokenIDStr, &p.PoolRef, &p.TickLower, &p.TickUpper, &liquidityStr, &p.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return PositionRow{}, false, nil
	}
	if err != nil {
		return PositionRow{}, false, fmt.Errorf("store: get position: %w", err)
	}
	n, ok := new(big.Int).SetString(nftTokenIDStr, 10)
	if !ok {
		return PositionRow{}, false, fmt.Errorf("store: invalid nft_token_id %q", nftTokenIDStr)
	}
	p.NFTTokenID = n
	liquidity, ok := new(big.Int).SetString(liquidityStr, 10)
	if !ok {
		return PositionRow{}, false, fmt.Errorf("store: invalid liquidity %q", liquidityStr)
	}
	p.Liquidity = liquidity
	return p, true, nil
}

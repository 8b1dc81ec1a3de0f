package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"poolwatch/internal/model"
)

// Store provides Postgres persistence for reconciliation output: an
// append-only delta log plus a per-pool snapshot upsert.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// PutDeltaBatch appends deltas to pool_deltas and upserts pool_snapshots,
// keeping the snapshot row at the latest committed state per cid.
func (s *Store) PutDeltaBatch(ctx context.Context, deltas []model.DeltaRecord) error {
	if len(deltas) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, d := range deltas {
		batch.Queue(`
			INSERT INTO pool_deltas (
				cid, exchange_name, address, anchor, tkn0_balance, tkn1_balance,
				fee, fee_float, source, block_number, tx_hash, ingested_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		`,
			d.CID,
			d.Exchange,
			d.Address,
			d.Anchor,
			d.Tkn0Balance,
			d.Tkn1Balance,
			d.Fee,
			d.FeeFloat,
			d.Source,
			int64(d.BlockNumber),
			d.TxHash,
			d.IngestedAt,
		)
		batch.Queue(`
			INSERT INTO pool_snapshots (
				cid, exchange_name, address, anchor, tkn0_address, tkn1_address,
				tkn0_balance, tkn1_balance, fee, fee_float, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now(), now())
			ON CONFLICT (cid)
			DO UPDATE SET
				anchor = COALESCE(NULLIF(EXCLUDED.anchor, ''), pool_snapshots.anchor),
				tkn0_balance = EXCLUDED.tkn0_balance,
				tkn1_balance = EXCLUDED.tkn1_balance,
				fee = EXCLUDED.fee,
				fee_float = EXCLUDED.fee_float,
				updated_at = now()
		`,
			d.CID,
			d.Exchange,
			d.Address,
			d.Anchor,
			d.Tkn0Address,
			d.Tkn1Address,
			d.Tkn0Balance,
			d.Tkn1Balance,
			d.Fee,
			d.FeeFloat,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns the last processed block for a named watch loop.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var block uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_block FROM reconciler_state WHERE name=$1`, name)
	if err := row.Scan(&block); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return block, true, nil
}

// StateCheckpoint adapts the reconciler_state table to the watch loop's
// checkpoint interface.
type StateCheckpoint struct {
	store *Store
	name  string
}

// Checkpointer returns a checkpoint backend keyed by the watch loop name.
func (s *Store) Checkpointer(name string) *StateCheckpoint {
	return &StateCheckpoint{store: s, name: name}
}

func (c *StateCheckpoint) Load(ctx context.Context) (uint64, bool, error) {
	return c.store.LoadState(ctx, c.name)
}

func (c *StateCheckpoint) Save(ctx context.Context, lastProcessed uint64) error {
	return c.store.SaveState(ctx, c.name, lastProcessed)
}

// SaveState upserts the last processed block for a named watch loop.
func (s *Store) SaveState(ctx context.Context, name string, block uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconciler_state (name, last_processed_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_block = EXCLUDED.last_processed_block, updated_at = now()
	`, name, block)
	return err
}

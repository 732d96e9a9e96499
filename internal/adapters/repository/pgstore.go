package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/staffrate/internal/domain/model"
	"github.com/okian/staffrate/pkg/logger"
	"github.com/okian/staffrate/pkg/metrics"
)

const pgBackend = "postgres"

// Schema creates the staff table and the single-row version counter. The
// CHECK constraint keeps every row a valid sum of votes in [1,5].
const Schema = `
CREATE TABLE IF NOT EXISTS staff (
    id          text PRIMARY KEY,
    name        text   NOT NULL DEFAULT '',
    photo_ref   text   NOT NULL DEFAULT '',
    description text   NOT NULL DEFAULT '',
    rating_sum  bigint NOT NULL DEFAULT 0,
    vote_count  bigint NOT NULL DEFAULT 0,
    CONSTRAINT staff_counters_consistent
        CHECK (vote_count >= 0 AND rating_sum BETWEEN vote_count AND vote_count * 5)
);

CREATE TABLE IF NOT EXISTS rating_state (
    singleton boolean PRIMARY KEY DEFAULT true CHECK (singleton),
    version   bigint  NOT NULL DEFAULT 0
);

INSERT INTO rating_state (singleton, version) VALUES (true, 0)
ON CONFLICT (singleton) DO NOTHING;
`

// PgStore keeps aggregates in PostgreSQL and announces commits with NOTIFY.
type PgStore struct {
	pool    *pgxpool.Pool
	channel string
	log     logger.Logger
}

// NewPgStore wraps a pool. Call EnsureSchema before first use on a fresh database.
func NewPgStore(pool *pgxpool.Pool, opts ...PgOption) *PgStore {
	s := &PgStore{
		pool:    pool,
		channel: defaultChannel,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("pg_store")
	}
	return s
}

// EnsureSchema applies Schema.
func (s *PgStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// ApplyVote updates the member row and bumps the version in one transaction.
func (s *PgStore) ApplyVote(ctx context.Context, id string, value int) (err error) {
	start := time.Now()
	defer func() {
		s.observe("apply_vote", start)
		if err != nil && !errors.Is(err, ErrNotFound) {
			metrics.RecordStoreError(pgBackend, "apply_vote")
		}
	}()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w: %w", ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
        UPDATE staff
        SET rating_sum = rating_sum + $2, vote_count = vote_count + 1
        WHERE id = $1`, id, value)
	if err != nil {
		return fmt.Errorf("apply vote to %s: %w: %w", id, ErrStoreUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	if err := s.bumpVersion(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit vote to %s: %w: %w", id, ErrStoreUnavailable, err)
	}
	return nil
}

// Snapshot reads the version and every member inside one read-only
// repeatable-read transaction.
func (s *PgStore) Snapshot(ctx context.Context) (model.Snapshot, error) {
	start := time.Now()
	defer func() { s.observe("snapshot", start) }()

	snap, err := s.snapshot(ctx)
	if err != nil {
		metrics.RecordStoreError(pgBackend, "snapshot")
		return model.Snapshot{}, fmt.Errorf("snapshot: %w: %w", ErrStoreUnavailable, err)
	}
	return snap, nil
}

func (s *PgStore) snapshot(ctx context.Context) (model.Snapshot, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return model.Snapshot{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var version int64
	if err := tx.QueryRow(ctx, `SELECT version FROM rating_state`).Scan(&version); err != nil {
		return model.Snapshot{}, err
	}

	rows, err := tx.Query(ctx, `
        SELECT id, name, photo_ref, description, rating_sum, vote_count
        FROM staff`)
	if err != nil {
		return model.Snapshot{}, err
	}
	defer rows.Close()

	entities := make([]model.Entity, 0)
	for rows.Next() {
		var e model.Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.PhotoRef, &e.Description, &e.RatingSum, &e.VoteCount); err != nil {
			return model.Snapshot{}, err
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return model.Snapshot{}, err
	}

	model.SortEntities(entities)
	return model.Snapshot{Version: uint64(version), Entities: entities}, nil
}

// Watch LISTENs on a dedicated connection and emits a fresh snapshot after
// every notification. The channel closes when the connection breaks.
func (s *PgStore) Watch(ctx context.Context) (<-chan model.Snapshot, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listener: %w: %w", ErrStoreUnavailable, err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{s.channel}.Sanitize()); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listen: %w: %w", ErrStoreUnavailable, err)
	}

	initial, err := s.Snapshot(ctx)
	if err != nil {
		s.release(conn)
		return nil, err
	}

	out := make(chan model.Snapshot, 1)
	offer(out, initial)

	go func() {
		defer close(out)
		defer s.release(conn)
		for {
			if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
				if ctx.Err() == nil {
					s.log.Warn(ctx, "listener connection lost", logger.Error(err))
				}
				return
			}
			snap, err := s.Snapshot(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.log.Warn(ctx, "snapshot after change failed", logger.Error(err))
				}
				return
			}
			offer(out, snap)
		}
	}()
	return out, nil
}

// Provision inserts missing members and refreshes metadata of existing ones.
// Counters of existing rows are left untouched.
func (s *PgStore) Provision(ctx context.Context, entities []model.Entity) (err error) {
	if err := validateEntities(entities); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		s.observe("provision", start)
		if err != nil {
			metrics.RecordStoreError(pgBackend, "provision")
		}
	}()

	// Fixed lock order across concurrent provisioners.
	sorted := append([]model.Entity(nil), entities...)
	model.SortEntities(sorted)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w: %w", ErrStoreUnavailable, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, e := range sorted {
		batch.Queue(`
            INSERT INTO staff (id, name, photo_ref, description)
            VALUES ($1, $2, $3, $4)
            ON CONFLICT (id) DO UPDATE
            SET name = EXCLUDED.name, photo_ref = EXCLUDED.photo_ref, description = EXCLUDED.description`,
			e.ID, e.Name, e.PhotoRef, e.Description)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("provision: %w: %w", ErrStoreUnavailable, err)
	}

	if err := s.bumpVersion(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit provision: %w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Close closes the pool.
func (s *PgStore) Close() error {
	s.pool.Close()
	return nil
}

// bumpVersion increments the commit counter and queues a notification that
// Postgres delivers on commit.
func (s *PgStore) bumpVersion(ctx context.Context, tx pgx.Tx) error {
	var version int64
	if err := tx.QueryRow(ctx, `UPDATE rating_state SET version = version + 1 RETURNING version`).Scan(&version); err != nil {
		return fmt.Errorf("bump version: %w: %w", ErrStoreUnavailable, err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.channel, strconv.FormatInt(version, 10)); err != nil {
		return fmt.Errorf("notify: %w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PgStore) release(conn *pgxpool.Conn) {
	if !conn.Conn().IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, _ = conn.Exec(ctx, "UNLISTEN *")
		cancel()
	}
	conn.Release()
}

func (s *PgStore) observe(op string, start time.Time) {
	metrics.RecordStoreLatency(pgBackend, op, float64(time.Since(start).Microseconds())/1000)
}

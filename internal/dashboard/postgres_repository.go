package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// snapshotRowID is the single row holding the latest snapshot.
const snapshotRowID = "latest"

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL snapshot repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the snapshot table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS dashboard_snapshots (
			id          TEXT PRIMARY KEY,
			seq         BIGINT NOT NULL,
			fetched_at  TIMESTAMPTZ NOT NULL,
			payload     JSONB NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`

	if _, err := r.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create dashboard_snapshots: %w", err)
	}
	return nil
}

// Save stores the snapshot unless the stored one was fetched later.
func (r *PostgresRepository) Save(ctx context.Context, s *Snapshot) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	query := `
		INSERT INTO dashboard_snapshots (id, seq, fetched_at, payload, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (id) DO UPDATE SET
			seq = EXCLUDED.seq,
			fetched_at = EXCLUDED.fetched_at,
			payload = EXCLUDED.payload,
			updated_at = now()
		WHERE dashboard_snapshots.fetched_at <= EXCLUDED.fetched_at
	`

	_, err = r.pool.Exec(ctx, query, snapshotRowID, int64(s.Seq), s.FetchedAt, payload) //nolint:gosec // sequence numbers stay far below MaxInt64
	return err
}

// Latest returns the stored snapshot.
func (r *PostgresRepository) Latest(ctx context.Context) (*Snapshot, error) {
	query := `
		SELECT payload
		FROM dashboard_snapshots
		WHERE id = $1
	`

	var payload []byte
	err := r.pool.QueryRow(ctx, query, snapshotRowID).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, err
	}

	var s Snapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/token-ledger/internal/model"
)

const snapshotRowID = 1

// PostgresStore keeps the snapshot as a single JSONB row. The upsert in Save
// is one statement, so readers never see a partial document.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS ledger_snapshots (
			id         SMALLINT PRIMARY KEY,
			document   JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate ledger_snapshots: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (*model.Snapshot, error) {
	var document []byte
	err := s.db.GetContext(ctx, &document, `
		SELECT document FROM ledger_snapshots WHERE id = $1
	`, snapshotRowID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.NewSnapshot(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("select snapshot: %w", err)
	}
	return decodeSnapshot(document)
}

func (s *PostgresStore) Save(ctx context.Context, snap *model.Snapshot) error {
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO ledger_snapshots (id, document, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`, snapshotRowID, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

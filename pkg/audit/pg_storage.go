package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStorage persists audit entries to the billing_audit table.
type PGStorage struct {
	pool *pgxpool.Pool
}

// NewPGStorage returns a storage writing to the given pool. The table is
// created by the billing migrations.
func NewPGStorage(pool *pgxpool.Pool) *PGStorage {
	return &PGStorage{pool: pool}
}

func (s *PGStorage) Store(ctx context.Context, entry Entry) error {
	var metadata []byte
	if len(entry.Metadata) > 0 {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadata = raw
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO billing_audit (
			id, actor, action, account_id, status_before, status_after,
			provider, source_event_id, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, string(entry.Actor), entry.Action, entry.AccountID,
		entry.StatusBefore, entry.StatusAfter,
		entry.Provider, entry.SourceEventID, metadata, entry.CreatedAt,
	)
	return err
}

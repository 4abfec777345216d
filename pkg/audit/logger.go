package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Storage persists audit entries.
type Storage interface {
	Store(ctx context.Context, entry Entry) error
}

// Logger records access-state mutations.
type Logger interface {
	// Record writes one audit entry for a status transition.
	Record(ctx context.Context, actor Actor, action string, accountID uuid.UUID, before, after string, opts ...EntryOption) error
}

type logger struct {
	storage Storage
}

// NewLogger creates an audit logger on the given storage.
func NewLogger(storage Storage) Logger {
	if storage == nil {
		panic("audit: storage cannot be nil")
	}
	return &logger{storage: storage}
}

func (l *logger) Record(ctx context.Context, actor Actor, action string, accountID uuid.UUID, before, after string, opts ...EntryOption) error {
	entry := Entry{
		ID:           uuid.New().String(),
		Actor:        actor,
		Action:       action,
		AccountID:    accountID,
		StatusBefore: before,
		StatusAfter:  after,
		CreatedAt:    time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&entry)
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	if err := l.storage.Store(ctx, entry); err != nil {
		return errors.Join(ErrStorageFailure, err)
	}
	return nil
}

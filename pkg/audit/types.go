package audit

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Actor identifies who performed an audited action.
type Actor string

const (
	ActorSystem Actor = "SYSTEM" // reconciler and sweep mutations
	ActorUser   Actor = "USER"   // self-service API actions
)

// Entry is a single audit record for an access-state mutation.
type Entry struct {
	ID            string         `json:"id" bson:"_id"`
	Actor         Actor          `json:"actor" bson:"actor"`
	Action        string         `json:"action" bson:"action"`
	AccountID     uuid.UUID      `json:"account_id" bson:"account_id"`
	StatusBefore  string         `json:"status_before" bson:"status_before"`
	StatusAfter   string         `json:"status_after" bson:"status_after"`
	Provider      string         `json:"provider,omitempty" bson:"provider,omitempty"`
	SourceEventID string         `json:"source_event_id,omitempty" bson:"source_event_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty" bson:"metadata,omitempty"`
	CreatedAt     time.Time      `json:"created_at" bson:"created_at"`
}

// Validate checks required fields.
func (e *Entry) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("%w: action is required", ErrEntryValidation)
	}
	if e.AccountID == uuid.Nil {
		return fmt.Errorf("%w: account ID is required", ErrEntryValidation)
	}
	return nil
}

// EntryOption applies optional fields to an Entry during recording.
type EntryOption func(*Entry)

// WithProvider tags the entry with the originating payment provider.
func WithProvider(provider string) EntryOption {
	return func(e *Entry) { e.Provider = provider }
}

// WithSourceEvent correlates the entry with the provider event that
// triggered the mutation.
func WithSourceEvent(eventID string) EntryOption {
	return func(e *Entry) { e.SourceEventID = eventID }
}

// WithMetadata attaches an extra key/value pair.
func WithMetadata(key string, value any) EntryOption {
	return func(e *Entry) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

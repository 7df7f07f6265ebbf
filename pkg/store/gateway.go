// Package store is the only reader and writer of session documents. It
// offers versioned writes and ordered per-session change notification.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/tecu23/duel-server/pkg/session"
)

// AnyVersion makes Write unconditional (last writer wins).
const AnyVersion int64 = 0

var (
	// ErrNotFound is returned when no document exists for an id.
	ErrNotFound = errors.New("session not found")
	// ErrExists is returned by Create when the id is already taken.
	ErrExists = errors.New("session already exists")
	// ErrVersionConflict is returned by a conditional Write whose expected
	// version no longer matches the stored one.
	ErrVersionConflict = errors.New("session version conflict")
)

// Gateway is the shared document store.
type Gateway interface {
	// Create persists a new document at version 1.
	Create(ctx context.Context, s session.GameSession) (session.GameSession, error)
	// Read returns the latest committed document.
	Read(ctx context.Context, id string) (session.GameSession, error)
	// Write replaces the document and bumps its version. When expected is
	// not AnyVersion the write only succeeds if the stored version matches.
	Write(ctx context.Context, s session.GameSession, expected int64) (session.GameSession, error)
	// Subscribe streams the current document and then every committed
	// version in commit order, including the caller's own writes.
	Subscribe(ctx context.Context, id string) (*Subscription, error)
	// List returns summaries of sessions in the given status, oldest first.
	List(ctx context.Context, status session.Status) ([]session.Summary, error)
}

func sortSummaries(out []session.Summary) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
}

// Package board defines the canvas document record and the store contract it
// is replicated through, together with the store backends.
package board

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get and Put when no document exists for the id.
var ErrNotFound = errors.New("canvas not found")

// Document is the unit of persistence and replication. Data is an opaque
// scene blob; the document is replaced wholesale on every write and the last
// write wins in full.
type Document struct {
	ID        string    `json:"id"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// ViewOnly records the creator's intended default sharing mode. It is
	// informational: read-only behaviour is enforced by the session flag the
	// viewer opened with, never by this field.
	ViewOnly bool `json:"viewOnly"`
}

// Store is the replicated document store. Watch delivery is at-least-once and
// includes the echo of the caller's own writes; no ordering stronger than
// last-write-wins by server timestamp is guaranteed.
type Store interface {
	// Get returns the current document, or ErrNotFound.
	Get(ctx context.Context, id string) (Document, error)
	// Create writes a brand-new document. CreatedAt and UpdatedAt are
	// assigned by the store. Racing creators on the same id are not
	// arbitrated beyond last write wins.
	Create(ctx context.Context, doc Document) (Document, error)
	// Put merges a new data blob onto the existing document: Data is
	// replaced, UpdatedAt bumped, CreatedAt and ViewOnly preserved.
	Put(ctx context.Context, id string, data string) (Document, error)
	// Watch invokes fn with the full current document on every write to id,
	// including this client's own. The returned func cancels the
	// subscription.
	Watch(ctx context.Context, id string, fn func(Document)) (func(), error)
	Close() error
}

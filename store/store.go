// Package store defines the cloud document store contract the controller
// consumes. Paths are slash-separated: an even number of segments addresses
// a document ("devices/abc123"), an odd number a collection
// ("devices/abc123/commands").
package store

import (
	"context"

	"gpiobridge-go/errcode"
)

// ChangeKind classifies one collection change.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "add"
	case Modified:
		return "modify"
	case Removed:
		return "remove"
	default:
		return "unknown"
	}
}

// Change is one document change inside a watched collection.
type Change struct {
	Kind ChangeKind
	ID   string
	Data map[string]any
}

// serverTimestamp is the sentinel type behind ServerTimestamp.
type serverTimestamp struct{}

// ServerTimestamp marks a field to be stamped by the store at write time.
var ServerTimestamp = serverTimestamp{}

// ErrNotFound is returned by Get for a missing document.
var ErrNotFound error = errcode.NotFound

// Client is the document store contract. Implementations are safe for
// concurrent use; snapshot callbacks are invoked sequentially per
// subscription. Reconnection after transport failure is the client's
// responsibility (exponential backoff, full snapshot re-delivery).
type Client interface {
	// Set writes a document. With merge, existing fields not present in
	// data are preserved (deep merge on nested maps).
	Set(ctx context.Context, path string, data map[string]any, merge bool) error

	// Update applies partial updates keyed by dotted field paths
	// ("gpioState.17.hardware_state"). The document must exist.
	Update(ctx context.Context, path string, fields map[string]any) error

	Get(ctx context.Context, path string) (map[string]any, error)
	Delete(ctx context.Context, path string) error

	// OnSnapshot watches a document; fn receives the full document data on
	// every change (nil when the document does not exist). The returned
	// func unsubscribes.
	OnSnapshot(path string, fn func(data map[string]any)) (func(), error)

	// OnCollection watches a collection and delivers per-document changes.
	// On (re)connect the first delivery reports every existing document as
	// Added; consumers must de-duplicate.
	OnCollection(path string, fn func(changes []Change)) (func(), error)

	Close() error
}

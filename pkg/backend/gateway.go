// Package backend defines the contract between the sync engine and the
// remote collection service, plus a WebSocket client implementation of it.
package backend

import (
	"context"
	"encoding/json"
	"errors"
)

// Action is the kind of change a realtime event describes.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether the action is one of the three known kinds.
// Events with unknown actions are dropped before record decoding.
func (a Action) Valid() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDelete
}

// Event is a single realtime change notification for a record in a
// collection. Record is left undecoded here; the consumer decides what
// shape it expects and drops the event if decoding fails.
type Event struct {
	Collection string          `json:"collection"`
	Action     Action          `json:"action"`
	Record     json.RawMessage `json:"record"`
}

// EventHandler receives decoded events for one subscription. Handlers are
// invoked in delivery order, one at a time per subscription.
type EventHandler func(evt Event)

// ListOptions narrows a List call. Zero values mean no filter, server
// default sort, and the server's default page size.
type ListOptions struct {
	Filter   string
	Sort     string
	PageSize int
}

var (
	// ErrNotConnected is returned by calls made before Connect or after
	// the connection has been closed.
	ErrNotConnected = errors.New("backend: not connected")
	// ErrTimeout is returned when the server does not answer a request
	// within the request timeout.
	ErrTimeout = errors.New("backend: request timed out")
)

// Gateway is the collection service as the sync engine sees it. All
// blocking operations take a context; Subscribe/Unsubscribe manage
// local subscriber state and apply an internal timeout when a wire
// (un)subscribe is actually needed.
type Gateway interface {
	List(ctx context.Context, collection string, opts ListOptions) ([]json.RawMessage, error)
	Create(ctx context.Context, collection string, fields any) (json.RawMessage, error)
	Update(ctx context.Context, collection, id string, fields any) (json.RawMessage, error)
	Delete(ctx context.Context, collection, id string) error

	// Subscribe registers fn for all events on the collection. The wire
	// subscription is shared: the transport reference-counts per
	// collection and only one subscribe frame is sent no matter how many
	// local subscribers exist.
	Subscribe(collection string, fn EventHandler) (*Subscription, error)
	// Unsubscribe cancels a handle. Calling it again for the same handle
	// is a no-op.
	Unsubscribe(sub *Subscription) error
}

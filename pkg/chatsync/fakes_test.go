package chatsync

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hearthapp/hearth/pkg/backend"
)

// fakeGateway is an in-memory Gateway for tests. Behavior per call is
// overridable; all calls are recorded.
type fakeGateway struct {
	mu sync.Mutex

	listFn   func(collection string, opts backend.ListOptions) ([]json.RawMessage, error)
	createFn func(collection string, fields map[string]any) (json.RawMessage, error)
	updateFn func(collection, id string, fields map[string]any) (json.RawMessage, error)

	subscribeErr error

	listCalls        []backend.ListOptions
	createCalls      []map[string]any
	updateCalls      []updateCall
	subscribeCalls   int
	unsubscribeCalls int

	handler backend.EventHandler
}

type updateCall struct {
	collection string
	id         string
	fields     map[string]any
}

var _ backend.Gateway = (*fakeGateway)(nil)

func (g *fakeGateway) List(_ context.Context, collection string, opts backend.ListOptions) ([]json.RawMessage, error) {
	g.mu.Lock()
	g.listCalls = append(g.listCalls, opts)
	fn := g.listFn
	g.mu.Unlock()
	if fn == nil {
		return nil, nil
	}
	return fn(collection, opts)
}

func (g *fakeGateway) Create(_ context.Context, collection string, fields any) (json.RawMessage, error) {
	m := toFieldMap(fields)
	g.mu.Lock()
	g.createCalls = append(g.createCalls, m)
	fn := g.createFn
	g.mu.Unlock()
	if fn == nil {
		return json.Marshal(m)
	}
	return fn(collection, m)
}

func (g *fakeGateway) Update(_ context.Context, collection, id string, fields any) (json.RawMessage, error) {
	m := toFieldMap(fields)
	g.mu.Lock()
	g.updateCalls = append(g.updateCalls, updateCall{collection: collection, id: id, fields: m})
	fn := g.updateFn
	g.mu.Unlock()
	if fn == nil {
		return json.Marshal(m)
	}
	return fn(collection, id, m)
}

func (g *fakeGateway) Delete(_ context.Context, _, _ string) error {
	return nil
}

func (g *fakeGateway) Subscribe(collection string, fn backend.EventHandler) (*backend.Subscription, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.subscribeCalls++
	if g.subscribeErr != nil {
		return nil, g.subscribeErr
	}
	g.handler = fn
	return &backend.Subscription{}, nil
}

func (g *fakeGateway) Unsubscribe(_ *backend.Subscription) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.unsubscribeCalls++
	return nil
}

// emit delivers an event to the registered subscription handler.
func (g *fakeGateway) emit(evt backend.Event) {
	g.mu.Lock()
	handler := g.handler
	g.mu.Unlock()
	if handler != nil {
		handler(evt)
	}
}

func (g *fakeGateway) countUpdates() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.updateCalls)
}

func (g *fakeGateway) countUnsubscribes() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.unsubscribeCalls
}

func toFieldMap(fields any) map[string]any {
	raw, _ := json.Marshal(fields)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

// fakeDirectory records lookups and warms without touching a gateway.
type fakeDirectory struct {
	mu      sync.Mutex
	lookups []string
	warmed  [][]string
}

var _ Directory = (*fakeDirectory)(nil)

func (d *fakeDirectory) Lookup(_ context.Context, userID string) (User, error) {
	d.mu.Lock()
	d.lookups = append(d.lookups, userID)
	d.mu.Unlock()
	return User{ID: userID, Name: "user-" + userID}, nil
}

func (d *fakeDirectory) Warm(_ context.Context, userIDs []string) error {
	d.mu.Lock()
	d.warmed = append(d.warmed, userIDs)
	d.mu.Unlock()
	return nil
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func mustRaw(msg Message) json.RawMessage {
	raw, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return raw
}

package chatsync

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/hearthapp/hearth/pkg/backend"
)

type subState int

const (
	stateUnsubscribed subState = iota
	stateSubscribing
	stateSubscribed
)

// SubscriptionManager owns at most one push subscription for one
// synchronizer. Rapid open/close cycles (navigation flicker) collapse
// into at most one subscribe and one unsubscribe call at the gateway.
type SubscriptionManager struct {
	gw         backend.Gateway
	collection string
	log        zerolog.Logger

	mu    sync.Mutex
	state subState
	sub   *backend.Subscription
}

func NewSubscriptionManager(gw backend.Gateway, collection string, log zerolog.Logger) *SubscriptionManager {
	return &SubscriptionManager{
		gw:         gw,
		collection: collection,
		log:        log.With().Str("component", "subscription").Str("collection", collection).Logger(),
	}
}

// Subscribe opens the push subscription unless one is already open or
// opening — duplicate calls are no-ops, not errors. A gateway failure
// returns the state to Unsubscribed; the caller keeps working in
// fetch-only mode.
func (m *SubscriptionManager) Subscribe(fn backend.EventHandler) error {
	m.mu.Lock()
	if m.state != stateUnsubscribed {
		m.mu.Unlock()
		return nil
	}
	m.state = stateSubscribing
	m.mu.Unlock()

	sub, err := m.gw.Subscribe(m.collection, fn)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateSubscribing {
		// Unsubscribed while the subscribe call was in flight. Tear the
		// fresh handle back down so nothing leaks.
		if sub != nil {
			if uerr := m.gw.Unsubscribe(sub); uerr != nil {
				m.log.Warn().Err(uerr).Msg("Failed to tear down subscription opened during close")
			}
		}
		return nil
	}
	if err != nil {
		m.state = stateUnsubscribed
		return err
	}
	m.sub = sub
	m.state = stateSubscribed
	return nil
}

// Unsubscribe releases the subscription. The state flips to
// Unsubscribed before the network teardown, so a late event cannot
// re-enter a half-closed subscription and a teardown failure is logged
// but never fatal or retried. Calling it while already Unsubscribed
// makes no gateway call.
func (m *SubscriptionManager) Unsubscribe() {
	m.mu.Lock()
	if m.state == stateUnsubscribed {
		m.mu.Unlock()
		return
	}
	sub := m.sub
	m.sub = nil
	m.state = stateUnsubscribed
	m.mu.Unlock()

	if sub == nil {
		// Subscribe is still in flight; it sees the state change and
		// tears its own handle down.
		return
	}
	if err := m.gw.Unsubscribe(sub); err != nil {
		m.log.Warn().Err(err).Msg("Failed to unsubscribe (connection may already be gone)")
	}
}

// Active reports whether a push subscription is currently established.
func (m *SubscriptionManager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateSubscribed
}

package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hearthapp/hearth/pkg/backend"
)

const (
	// historyPageSize bounds the initial fetch. Household conversations
	// are small; one generous page covers them.
	historyPageSize = 500

	// eventQueueSize buffers decoded realtime events between the push
	// channel and the reconciliation loop. The loop consumes events one
	// at a time in delivery order.
	eventQueueSize = 256

	// sideEffectTimeout bounds the identity resolution and mark-as-read
	// calls triggered by an incoming event.
	sideEffectTimeout = 15 * time.Second
)

var (
	// ErrEmptyMessage is returned by Send when the text is empty after
	// trimming whitespace.
	ErrEmptyMessage = errors.New("chatsync: message is empty")
	// ErrClosed is returned by operations on a closed timeline.
	ErrClosed = errors.New("chatsync: timeline is closed")
)

// TimelineHandlers surfaces timeline state to the presentation layer.
// Both callbacks are optional.
type TimelineHandlers struct {
	// OnChange receives a fresh snapshot of the ordered message list
	// after every mutation.
	OnChange func(messages []Message)
	// OnError receives read-path errors that warrant a user-visible
	// error state (history fetch failures). Best-effort write failures
	// are logged, not reported here.
	OnError func(err error)
}

// Timeline is the single source of truth for one open conversation's
// message list: what the user sees, in what order, with what read
// state. It merges the initial history fetch, realtime events and local
// sends into one ordered, deduplicated list.
//
// All mutations are serialized: public operations run under one mutex,
// and realtime events are consumed one at a time by a single
// reconciliation goroutine. The visible list is sorted ascending by
// creation timestamp at the end of every operation.
type Timeline struct {
	gw       backend.Gateway
	dir      Directory
	subs     *SubscriptionManager
	log      zerolog.Logger
	conv     Conversation
	userID   string
	handlers TimelineHandlers

	mu     sync.Mutex
	msgs   []Message
	loaded bool
	closed bool
	// epoch is bumped on Close so a history fetch that completes late
	// cannot resurrect a discarded timeline.
	epoch uint64

	events chan backend.Event
	stop   chan struct{}
}

// NewTimeline constructs a timeline for one conversation. The timeline
// starts empty and not loaded; call Open (or LoadHistory + Subscribe)
// to populate it.
func NewTimeline(gw backend.Gateway, dir Directory, conv Conversation, currentUserID string, handlers TimelineHandlers, log zerolog.Logger) *Timeline {
	t := &Timeline{
		gw:       gw,
		dir:      dir,
		subs:     NewSubscriptionManager(gw, CollectionMessages, log),
		log:      log.With().Str("component", "timeline").Str("conversation", conv.ID).Logger(),
		conv:     conv,
		userID:   currentUserID,
		handlers: handlers,
		events:   make(chan backend.Event, eventQueueSize),
		stop:     make(chan struct{}),
	}
	go t.run()
	return t
}

// Open fetches history and then opens the push subscription. A
// subscription failure degrades to fetch-only mode: no live updates,
// but LoadHistory, Send and manual refresh keep working.
func (t *Timeline) Open(ctx context.Context) error {
	if err := t.LoadHistory(ctx); err != nil {
		return err
	}
	if err := t.Subscribe(); err != nil {
		t.log.Warn().Err(err).Msg("Push subscription failed, continuing in fetch-only mode")
	}
	return nil
}

// Subscribe opens the push subscription via the lifecycle manager.
// Duplicate calls are no-ops.
func (t *Timeline) Subscribe() error {
	return t.subs.Subscribe(t.enqueueEvent)
}

// enqueueEvent hands a raw event from the push channel to the
// reconciliation loop, preserving delivery order.
func (t *Timeline) enqueueEvent(evt backend.Event) {
	select {
	case t.events <- evt:
	case <-t.stop:
	}
}

func (t *Timeline) run() {
	for {
		select {
		case evt := <-t.events:
			t.handleRealtimeEvent(evt)
		case <-t.stop:
			return
		}
	}
}

// LoadHistory fetches all messages for the conversation and rebuilds
// the timeline. On fetch error the timeline is left as it was (empty on
// first load) and the error is surfaced; no automatic retry — manual
// reload re-invokes this. On success it warms the directory for every
// sender, reader and participant in the batch and marks unread messages
// read.
func (t *Timeline) LoadHistory(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	epoch := t.epoch
	t.mu.Unlock()

	items, err := t.gw.List(ctx, CollectionMessages, backend.ListOptions{
		Filter:   fmt.Sprintf(`conversation = %q`, t.conv.ID),
		Sort:     "created",
		PageSize: historyPageSize,
	})
	if err != nil {
		err = fmt.Errorf("failed to fetch history: %w", err)
		t.emitError(err)
		return err
	}

	msgs := make([]Message, 0, len(items))
	for _, item := range items {
		msg, derr := DecodeMessage(item)
		if derr != nil {
			t.log.Warn().Err(derr).Msg("Dropping malformed message from history batch")
			continue
		}
		if msg.Conversation != t.conv.ID {
			continue
		}
		msgs = append(msgs, msg)
	}

	t.mu.Lock()
	if t.closed || t.epoch != epoch {
		t.mu.Unlock()
		t.log.Debug().Msg("Discarding history fetch that completed after close")
		return ErrClosed
	}
	// Keep messages that landed via realtime events or sends while the
	// fetch was in flight — the fetched batch may pre-date them.
	byID := make(map[string]bool, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = true
	}
	for _, m := range t.msgs {
		if !byID[m.ID] {
			msgs = append(msgs, m)
		}
	}
	sortMessages(msgs)
	t.msgs = msgs
	t.loaded = true
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	t.emitChange(snapshot)

	// Resolve identities for everyone visible in the batch plus all
	// participants, so names are ready before render.
	ids := make([]string, 0, len(t.conv.Participants)+len(msgs))
	ids = append(ids, t.conv.Participants...)
	for _, m := range msgs {
		ids = append(ids, m.Sender)
		ids = append(ids, m.ReadBy...)
	}
	if err := t.dir.Warm(ctx, ids); err != nil {
		t.log.Warn().Err(err).Msg("Failed to warm user directory after history load")
	}

	for _, m := range msgs {
		t.markAsRead(ctx, m)
	}
	return nil
}

// Send creates a message with the trimmed text. Empty text (after
// trimming) is rejected with ErrEmptyMessage. There is no optimistic
// insertion: the message only appears once the backend confirms it, so
// the timeline never shows messages that failed to persist. The
// confirmed message is appended unless the push event for it already
// arrived.
func (t *Timeline) Send(ctx context.Context, text string) (*Message, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyMessage
	}
	return t.create(ctx, map[string]any{
		"conversation": t.conv.ID,
		"sender":       t.userID,
		"content":      trimmed,
		"readBy":       []string{t.userID},
	})
}

// SendAttachment creates a message carrying an attachment reference and
// an optional caption. Unlike Send, empty text is fine here — the
// attachment is the content.
func (t *Timeline) SendAttachment(ctx context.Context, att Attachment, caption string) (*Message, error) {
	return t.create(ctx, map[string]any{
		"conversation": t.conv.ID,
		"sender":       t.userID,
		"content":      strings.TrimSpace(caption),
		"attachment":   att,
		"readBy":       []string{t.userID},
	})
}

func (t *Timeline) create(ctx context.Context, fields map[string]any) (*Message, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, ErrClosed
	}
	epoch := t.epoch
	t.mu.Unlock()

	raw, err := t.gw.Create(ctx, CollectionMessages, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	msg, err := DecodeMessage(raw)
	if err != nil {
		// The create persisted; the push event will deliver the record.
		return nil, fmt.Errorf("message sent but confirmation was malformed: %w", err)
	}

	t.mu.Lock()
	if t.closed || t.epoch != epoch {
		t.mu.Unlock()
		return &msg, nil
	}
	if t.indexOfLocked(msg.ID) >= 0 {
		// Already arrived via the push channel.
		t.mu.Unlock()
		return &msg, nil
	}
	t.msgs = append(t.msgs, msg)
	sortMessages(t.msgs)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()
	t.emitChange(snapshot)
	return &msg, nil
}

// handleRealtimeEvent reconciles one push event into the timeline. It
// is safe against events that are malformed, duplicated, out of order,
// for other conversations, or for messages never locally fetched.
func (t *Timeline) handleRealtimeEvent(evt backend.Event) {
	action, msg, err := DecodeMessageEvent(evt)
	if err != nil {
		t.log.Warn().Err(err).Msg("Dropping malformed realtime event")
		return
	}
	// One push channel multiplexes every conversation; filtering by
	// conversation id is mandatory.
	if msg.Conversation != t.conv.ID {
		return
	}

	changed := false
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	switch action {
	case backend.ActionCreate:
		if t.indexOfLocked(msg.ID) >= 0 {
			// Duplicate — the same message arrives once via Send's own
			// confirmation and once via the push channel.
			break
		}
		t.msgs = append(t.msgs, msg)
		sortMessages(t.msgs)
		changed = true
	case backend.ActionUpdate:
		// Read receipts from other participants arrive as plain update
		// events; the record is replaced wholesale. An update for a
		// message this client never loaded is a no-op, not an error.
		if i := t.indexOfLocked(msg.ID); i >= 0 {
			t.msgs[i] = msg
			sortMessages(t.msgs)
			changed = true
		}
	case backend.ActionDelete:
		if i := t.indexOfLocked(msg.ID); i >= 0 {
			t.msgs = append(t.msgs[:i], t.msgs[i+1:]...)
			changed = true
		}
	}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if changed {
		t.emitChange(snapshot)
	}
	if action == backend.ActionCreate && msg.Sender != t.userID {
		ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
		defer cancel()
		if _, err := t.dir.Lookup(ctx, msg.Sender); err != nil {
			t.log.Debug().Err(err).Str("sender", msg.Sender).Msg("Failed to resolve sender identity")
		}
		t.markAsRead(ctx, msg)
	}
}

// markAsRead appends the current user to the message's reader set on
// the backend. No-op for own messages and already-read messages. Read
// receipts are best-effort: failures are logged, never surfaced or
// retried.
func (t *Timeline) markAsRead(ctx context.Context, msg Message) {
	if msg.Sender == t.userID || msg.ReadByUser(t.userID) {
		return
	}
	readBy := make([]string, 0, len(msg.ReadBy)+1)
	readBy = append(readBy, msg.ReadBy...)
	readBy = append(readBy, t.userID)
	if _, err := t.gw.Update(ctx, CollectionMessages, msg.ID, map[string]any{"readBy": readBy}); err != nil {
		t.log.Warn().Err(err).Str("message_id", msg.ID).Msg("Failed to mark message read")
	}
}

// Close discards the timeline and releases the push subscription.
// Safe to call multiple times; the gateway sees at most one
// unsubscribe.
func (t *Timeline) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.epoch++
	t.msgs = nil
	t.mu.Unlock()

	close(t.stop)
	t.subs.Unsubscribe()
	t.log.Debug().Msg("Timeline closed")
}

// Messages returns a snapshot of the ordered message list.
func (t *Timeline) Messages() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Loaded reports whether the initial history fetch has completed.
func (t *Timeline) Loaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loaded
}

// CanSend reports whether the timeline accepts sends.
func (t *Timeline) CanSend() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.closed
}

// Live reports whether realtime updates are flowing (false in
// fetch-only degraded mode).
func (t *Timeline) Live() bool {
	return t.subs.Active()
}

func (t *Timeline) indexOfLocked(id string) int {
	for i := range t.msgs {
		if t.msgs[i].ID == id {
			return i
		}
	}
	return -1
}

func (t *Timeline) snapshotLocked() []Message {
	snapshot := make([]Message, len(t.msgs))
	copy(snapshot, t.msgs)
	return snapshot
}

func (t *Timeline) emitChange(snapshot []Message) {
	if t.handlers.OnChange != nil {
		t.handlers.OnChange(snapshot)
	}
}

func (t *Timeline) emitError(err error) {
	if t.handlers.OnError != nil {
		t.handlers.OnError(err)
	}
}

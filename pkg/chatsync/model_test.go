package chatsync

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthapp/hearth/pkg/backend"
)

func TestDecodeMessage(t *testing.T) {
	raw := json.RawMessage(`{
		"id": "msg1",
		"conversation": "conv1",
		"sender": "bob",
		"content": "movie night?",
		"readBy": ["bob"],
		"created": "2026-08-01T19:00:00Z"
	}`)
	msg, err := DecodeMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "msg1", msg.ID)
	assert.Equal(t, "bob", msg.Sender)
	assert.True(t, msg.ReadByUser("bob"))
	assert.False(t, msg.ReadByUser("alice"))
	assert.Equal(t, time.Date(2026, 8, 1, 19, 0, 0, 0, time.UTC), msg.Created)
}

func TestDecodeMessageRejectsIncompleteRecords(t *testing.T) {
	cases := map[string]string{
		"not json":        `"just a string"`,
		"no id":           `{"conversation":"conv1","content":"x"}`,
		"no conversation": `{"id":"msg1","content":"x"}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeMessage(json.RawMessage(raw))
			assert.Error(t, err)
		})
	}
}

func TestDecodeMessageEvent(t *testing.T) {
	record := mustRaw(Message{ID: "msg1", Conversation: "conv1", Sender: "bob"})

	action, msg, err := DecodeMessageEvent(backend.Event{
		Collection: CollectionMessages,
		Action:     backend.ActionUpdate,
		Record:     record,
	})
	require.NoError(t, err)
	assert.Equal(t, backend.ActionUpdate, action)
	assert.Equal(t, "msg1", msg.ID)

	// An unknown action is rejected before the payload is decoded.
	_, _, err = DecodeMessageEvent(backend.Event{
		Collection: CollectionMessages,
		Action:     "merge",
		Record:     record,
	})
	assert.Error(t, err)
}

func TestDecodeConversation(t *testing.T) {
	conv, err := DecodeConversation(json.RawMessage(`{
		"id": "conv1",
		"household": "hh1",
		"participants": ["alice", "bob"],
		"isGroup": false
	}`))
	require.NoError(t, err)
	assert.Equal(t, "conv1", conv.ID)
	assert.Equal(t, []string{"alice", "bob"}, conv.Participants)

	_, err = DecodeConversation(json.RawMessage(`{"household":"hh1"}`))
	assert.Error(t, err)
}

func TestSortMessagesStable(t *testing.T) {
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	msgs := []Message{
		{ID: "c", Created: at.Add(time.Minute)},
		{ID: "z", Created: at},
		{ID: "a", Created: at},
	}
	sortMessages(msgs)
	// Equal timestamps keep arrival order; ids never decide.
	assert.Equal(t, []string{"z", "a", "c"}, messageIDs(msgs))
}

func TestMessageAttachmentRoundTrip(t *testing.T) {
	msg, err := DecodeMessage(json.RawMessage(`{
		"id": "msg1",
		"conversation": "conv1",
		"sender": "bob",
		"attachment": {"kind": "image", "file": "file123"}
	}`))
	require.NoError(t, err)
	require.NotNil(t, msg.Attachment)
	assert.Equal(t, AttachmentImage, msg.Attachment.Kind)
	assert.Equal(t, "file123", msg.Attachment.File)
}

// Package chatsync keeps per-conversation message timelines consistent
// across bulk history fetches, realtime push events and local sends,
// and tracks per-user read state.
package chatsync

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/hearthapp/hearth/pkg/backend"
)

// Collection names on the backend.
const (
	CollectionConversations = "conversations"
	CollectionMessages      = "messages"
	CollectionUsers         = "users"
	CollectionHouseholds    = "households"
)

// AttachmentKind tags what a message attachment is.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentGIF      AttachmentKind = "gif"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentDocument AttachmentKind = "document"
	AttachmentAudio    AttachmentKind = "audio"
)

// Attachment is a file reference carried by a message.
type Attachment struct {
	Kind AttachmentKind `json:"kind"`
	File string         `json:"file"`
}

// Message is one record in the messages collection. Created is the
// authoritative ordering key; ID is unique and backend-assigned.
type Message struct {
	ID           string      `json:"id"`
	Conversation string      `json:"conversation"`
	Sender       string      `json:"sender"`
	Content      string      `json:"content"`
	Attachment   *Attachment `json:"attachment,omitempty"`
	ReadBy       []string    `json:"readBy"`
	Created      time.Time   `json:"created"`
	Updated      time.Time   `json:"updated"`
}

// ReadByUser reports whether userID is in the message's reader set.
func (m *Message) ReadByUser(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Conversation is one record in the conversations collection. Only
// membership and the denormalized last-message fields ever change, and
// only the backend changes them.
type Conversation struct {
	ID            string    `json:"id"`
	Household     string    `json:"household"`
	Participants  []string  `json:"participants"`
	IsGroup       bool      `json:"isGroup"`
	Title         string    `json:"title,omitempty"`
	LastMessage   string    `json:"lastMessage,omitempty"`
	LastMessageAt time.Time `json:"lastMessageAt,omitempty"`
	Created       time.Time `json:"created"`
	Updated       time.Time `json:"updated"`
}

// User is a directory entry, read-only from the sync engine's side.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Household groups the users that share one account.
type Household struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

// DecodeMessage interprets a raw record as a Message. A record without
// an id or conversation is rejected — events carrying such records are
// dropped by the caller, never applied.
func DecodeMessage(raw json.RawMessage) (Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("failed to decode message record: %w", err)
	}
	if msg.ID == "" {
		return Message{}, fmt.Errorf("message record has no id")
	}
	if msg.Conversation == "" {
		return Message{}, fmt.Errorf("message record %s has no conversation", msg.ID)
	}
	return msg, nil
}

// DecodeMessageEvent validates the event's action before touching the
// payload, so an unknown action never gets interpreted as a Message.
func DecodeMessageEvent(evt backend.Event) (backend.Action, Message, error) {
	if !evt.Action.Valid() {
		return "", Message{}, fmt.Errorf("unknown event action %q", evt.Action)
	}
	msg, err := DecodeMessage(evt.Record)
	if err != nil {
		return "", Message{}, err
	}
	return evt.Action, msg, nil
}

// DecodeConversation interprets a raw record as a Conversation.
func DecodeConversation(raw json.RawMessage) (Conversation, error) {
	var conv Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		return Conversation{}, fmt.Errorf("failed to decode conversation record: %w", err)
	}
	if conv.ID == "" {
		return Conversation{}, fmt.Errorf("conversation record has no id")
	}
	return conv, nil
}

// sortMessages orders a timeline ascending by creation timestamp.
// The sort is stable: messages with equal timestamps keep their
// arrival order, never their id order.
func sortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].Created.Before(msgs[j].Created)
	})
}

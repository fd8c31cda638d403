package backend

import (
	"encoding/json"
	"fmt"
)

// FrameType identifies the type of WebSocket frame.
type FrameType string

const (
	// Client -> Server
	FrameAuth        FrameType = "auth"
	FrameList        FrameType = "list"
	FrameCreate      FrameType = "create"
	FrameUpdate      FrameType = "update"
	FrameDelete      FrameType = "delete"
	FrameSubscribe   FrameType = "subscribe"
	FrameUnsubscribe FrameType = "unsubscribe"

	// Server -> Client
	FrameResult FrameType = "result"
	FrameEvent  FrameType = "event"
	FrameError  FrameType = "error"
)

// Envelope wraps every WebSocket frame. ID correlates a request with its
// result/error frame; event frames have no ID.
type Envelope struct {
	Type FrameType       `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AuthFrame authenticates the connection before any other request.
type AuthFrame struct {
	Token string `json:"token"`
}

// ListFrame requests records from a collection.
type ListFrame struct {
	Collection string `json:"collection"`
	Filter     string `json:"filter,omitempty"`
	Sort       string `json:"sort,omitempty"`
	PageSize   int    `json:"page_size,omitempty"`
}

// MutateFrame carries create/update/delete requests. ID is empty for
// create (the server assigns one); Fields is empty for delete.
type MutateFrame struct {
	Collection string          `json:"collection"`
	RecordID   string          `json:"record_id,omitempty"`
	Fields     json.RawMessage `json:"fields,omitempty"`
}

// SubscribeFrame opens or closes the shared wire subscription for a
// collection. The client sends at most one of these per collection no
// matter how many local subscribers exist.
type SubscribeFrame struct {
	Collection string `json:"collection"`
}

// ResultFrame answers a list/create/update request. Items is set for
// list results, Record for create/update.
type ResultFrame struct {
	Items  []json.RawMessage `json:"items,omitempty"`
	Record json.RawMessage   `json:"record,omitempty"`
}

// ErrorFrame answers a failed request.
type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ErrorFrame) Error() string {
	return fmt.Sprintf("backend: %s (%s)", e.Message, e.Code)
}

// NewEnvelope creates an envelope with the given type, correlation ID
// and marshalled data.
func NewEnvelope(frameType FrameType, id string, data any) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: frameType, ID: id, Data: raw}, nil
}

// ParseEnvelope decodes a raw frame into an envelope.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("envelope has no type")
	}
	return &env, nil
}

package backend

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	env, err := NewEnvelope(FrameList, "req1", ListFrame{
		Collection: "messages",
		Filter:     `conversation = "conv1"`,
		Sort:       "created",
		PageSize:   500,
	})
	require.NoError(t, err)

	raw, err := json.Marshal(env)
	require.NoError(t, err)

	parsed, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, FrameList, parsed.Type)
	assert.Equal(t, "req1", parsed.ID)

	var frame ListFrame
	require.NoError(t, json.Unmarshal(parsed.Data, &frame))
	assert.Equal(t, "messages", frame.Collection)
	assert.Equal(t, 500, frame.PageSize)
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{{{`))
	assert.Error(t, err)

	_, err = ParseEnvelope([]byte(`{"id":"x","data":{}}`))
	assert.Error(t, err, "envelope without a type is rejected")
}

func TestActionValid(t *testing.T) {
	assert.True(t, ActionCreate.Valid())
	assert.True(t, ActionUpdate.Valid())
	assert.True(t, ActionDelete.Valid())
	assert.False(t, Action("").Valid())
	assert.False(t, Action("upsert").Valid())
}

func TestErrorFrameMessage(t *testing.T) {
	err := &ErrorFrame{Code: "not_found", Message: "record does not exist"}
	assert.Equal(t, "backend: record does not exist (not_found)", err.Error())
}

func TestEventFrameDecode(t *testing.T) {
	env, err := ParseEnvelope([]byte(`{
		"type": "event",
		"data": {
			"collection": "messages",
			"action": "create",
			"record": {"id": "msg1"}
		}
	}`))
	require.NoError(t, err)
	require.Equal(t, FrameEvent, env.Type)

	var evt Event
	require.NoError(t, json.Unmarshal(env.Data, &evt))
	assert.Equal(t, "messages", evt.Collection)
	assert.Equal(t, ActionCreate, evt.Action)
	assert.JSONEq(t, `{"id":"msg1"}`, string(evt.Record))
}

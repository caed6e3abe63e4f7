package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobRequest_WithDefaults(t *testing.T) {
	r := JobRequest{}.WithDefaults("")
	assert.Equal(t, DefaultModel, r.Model)
	assert.Equal(t, DefaultUserQuery, r.UserQuery)

	r = JobRequest{Model: "m", UserQuery: "q"}.WithDefaults("other")
	assert.Equal(t, "m", r.Model)
	assert.Equal(t, "q", r.UserQuery)

	r = JobRequest{}.WithDefaults("configured")
	assert.Equal(t, "configured", r.Model)
}

func TestJobRequest_SceneText(t *testing.T) {
	t.Run("string form is unquoted", func(t *testing.T) {
		r := JobRequest{SceneData: json.RawMessage(`"{\n  \"nodes\": []\n}"`)}
		assert.Equal(t, "{\n  \"nodes\": []\n}", r.SceneText())
	})

	t.Run("object form is indented", func(t *testing.T) {
		r := JobRequest{SceneData: json.RawMessage(`{"nodes":[{"id":"a"}]}`)}
		assert.Equal(t, "{\n  \"nodes\": [\n    {\n      \"id\": \"a\"\n    }\n  ]\n}", r.SceneText())
	})

	t.Run("absent", func(t *testing.T) {
		assert.Equal(t, "", JobRequest{}.SceneText())
		assert.Equal(t, "", JobRequest{SceneData: json.RawMessage("null")}.SceneText())
	})
}

func TestEvent_Terminal(t *testing.T) {
	assert.True(t, Event{Step: StepDone}.Terminal())
	assert.True(t, Event{Step: StepError}.Terminal())
	assert.False(t, Event{Step: StepEditFinished}.Terminal())
	assert.False(t, Event{Step: StepThinking}.Terminal())
}

func TestErrorEvent(t *testing.T) {
	ev := ErrorEvent(NewError(ErrCodeSearchNotFound, "search block not found"))
	assert.Equal(t, StepError, ev.Step)
	assert.Equal(t, "search block not found", ev.Content)
	se, ok := ev.Payload.(*Error)
	if assert.True(t, ok) {
		assert.Equal(t, ErrCodeSearchNotFound, se.Code)
	}
}

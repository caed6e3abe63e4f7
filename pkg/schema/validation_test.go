package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport_EmptyIsOK(t *testing.T) {
	r := &Report{}
	assert.True(t, r.OK())
	assert.NoError(t, r.Err())
}

func TestReport_WarningsDoNotFail(t *testing.T) {
	r := &Report{}
	r.Warn("/nodes", "output_node", "scene has no output node")

	assert.True(t, r.OK())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestReport_Err(t *testing.T) {
	r := &Report{}
	r.Fail("/nodes/0", "schema", "missing property 'id'")

	err := r.Err()
	require.Error(t, err)

	var se *Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ErrCodeMalformedDocument, se.Code)
	assert.Equal(t, "missing property 'id'", se.Message)

	r.Fail("/edges/0", "schema", "missing property 'source'")
	require.True(t, errors.As(r.Err(), &se))
	assert.Equal(t, "scene has 2 errors", se.Message)
}

func TestReport_Merge(t *testing.T) {
	a := &Report{}
	a.Fail("/", "schema", "e1")
	b := &Report{}
	b.Warn("/", "rule", "w1")
	b.Fail("/", "schema", "e2")

	a.Merge(b)
	a.Merge(nil)
	assert.Len(t, a.Errors, 2)
	assert.Len(t, a.Warnings, 1)
}

func TestError_Format(t *testing.T) {
	err := NewErrorf(ErrCodeUncoveredAction, "label %q has no edge", "x").WithNode("chat")
	assert.Equal(t, `[UNCOVERED_ACTION] node chat: label "x" has no edge`, err.Error())
	assert.Equal(t, ErrCodeUncoveredAction, CodeOf(err))
	assert.Equal(t, ErrCodeExecution, CodeOf(errors.New("plain")))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrCodeUpstream, "stream failed").WithCause(cause)
	assert.ErrorIs(t, err, cause)
	assert.True(t, err.IsRetryable())
	assert.False(t, NewError(ErrCodeValidation, "bad").IsRetryable())
}

func TestAsError(t *testing.T) {
	assert.Nil(t, AsError(nil))
	se := AsError(errors.New("plain"))
	assert.Equal(t, ErrCodeExecution, se.Code)
	assert.Equal(t, "plain", se.Message)
}

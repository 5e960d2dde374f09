package platform

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIgnorable(t *testing.T) {
	assert := assert.New(t)
	assert.True(Ignorable(ErrForbidden))
	assert.True(Ignorable(fmt.Errorf("remove role: %w", ErrNotFound)))
	assert.False(Ignorable(fmt.Errorf("boom")))
	assert.False(Ignorable(nil))
}

func TestRecorderScriptedFailures(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	r := NewRecorder()

	r.FailWith(OpKick, ErrForbidden)
	assert.ErrorIs(r.Kick(ctx, "g", "u", "x"), ErrForbidden)
	r.FailWith(OpKick, nil)
	assert.NoError(r.Kick(ctx, "g", "u", "x"))

	assert.NoError(r.DeleteMessages(ctx, "c", []string{"1", "2"}))
	assert.Len(r.CallsTo(OpKick), 2)
	assert.Equal([]string{"1", "2"}, r.CallsTo(OpDeleteMessages)[0].MessageIDs)
	assert.Len(r.Calls(), 3)
}

package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/kickstart"
)

// Callback Test Cases

func TestFunctionCallback(t *testing.T) {
	var got *CallbackContext

	cb := NewFunctionCallback(CallbackOnKickstart, func(ctx context.Context, cc *CallbackContext) error {
		got = cc

		return nil
	})

	assert.Equal(t, CallbackOnKickstart, cb.Type())

	cc := &CallbackContext{GroupID: "g1", CallbackType: CallbackOnKickstart}
	assert.NoError(t, cb.Execute(context.Background(), cc))
	assert.Same(t, cc, got)
}

func TestCallbackManager_ExecutesInOrder(t *testing.T) {
	cm := NewCallbackManager()

	var order []string

	for _, name := range []string{"first", "second", "third"} {
		cm.RegisterCallback(NewFunctionCallback(CallbackAfterAttempt, func(ctx context.Context, cc *CallbackContext) error {
			order = append(order, name)

			return nil
		}))
	}

	// A different type must not fire.
	cm.RegisterCallback(NewFunctionCallback(CallbackOnError, func(ctx context.Context, cc *CallbackContext) error {
		order = append(order, "error")

		return nil
	}))

	err := cm.ExecuteCallbacks(context.Background(), CallbackAfterAttempt, &CallbackContext{GroupID: "g1"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestCallbackManager_ErrorStopsChain(t *testing.T) {
	cm := NewCallbackManager()

	boom := fmt.Errorf("boom")
	var reached bool

	cm.RegisterCallback(NewFunctionCallback(CallbackAfterAttempt, func(ctx context.Context, cc *CallbackContext) error {
		return boom
	}))
	cm.RegisterCallback(NewFunctionCallback(CallbackAfterAttempt, func(ctx context.Context, cc *CallbackContext) error {
		reached = true

		return nil
	}))

	err := cm.ExecuteCallbacks(context.Background(), CallbackAfterAttempt, &CallbackContext{GroupID: "g1"})
	assert.ErrorIs(t, err, boom)
	assert.False(t, reached)
}

func TestCallbackManager_NoCallbacksRegistered(t *testing.T) {
	cm := NewCallbackManager()

	err := cm.ExecuteCallbacks(context.Background(), CallbackOnKickstart, &CallbackContext{GroupID: "g1"})
	assert.NoError(t, err)
}

func TestLoggingCallback(t *testing.T) {
	var messages []string

	logger := func(message string) { messages = append(messages, message) }

	cb := NewLoggingCallback(CallbackAfterAttempt, logger)
	assert.Equal(t, CallbackAfterAttempt, cb.Type())

	// Successful kickstart attempt.
	assert.NoError(t, cb.Execute(context.Background(), &CallbackContext{
		GroupID: "g1",
		Attempt: &kickstart.Attempt{GroupID: "g1", ConversationID: "c1", Topic: "release planning"},
	}))

	// Skipped attempt.
	assert.NoError(t, cb.Execute(context.Background(), &CallbackContext{
		GroupID: "g1",
		Attempt: &kickstart.Attempt{GroupID: "g1", SkipReason: kickstart.SkipProbability},
	}))

	// Conversation end.
	assert.NoError(t, cb.Execute(context.Background(), &CallbackContext{
		GroupID:      "g1",
		Conversation: &core.Conversation{ID: "c1", GroupID: "g1"},
		EndReason:    core.EndReasonInactivity,
	}))

	// Error.
	assert.NoError(t, cb.Execute(context.Background(), &CallbackContext{
		GroupID: "g1",
		Err:     fmt.Errorf("wire down"),
	}))

	assert.Len(t, messages, 4)
	assert.Contains(t, messages[0], "c1")
	assert.Contains(t, messages[0], "release planning")
	assert.Contains(t, messages[1], "probability")
	assert.Contains(t, messages[2], "inactivity")
	assert.Contains(t, messages[3], "wire down")
}

func TestLoggingCallback_NilLogger(t *testing.T) {
	cb := NewLoggingCallback(CallbackAfterAttempt, nil)
	assert.NoError(t, cb.Execute(context.Background(), &CallbackContext{GroupID: "g1"}))
}

package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/kickstart"
)

// CallbackType defines the coordination lifecycle points where callbacks can
// be executed.
//
// Callbacks provide a way to hook into the engine without modifying core
// logic: metrics collection, audit trails, bridging attempt outcomes to an
// external system, or test instrumentation. Each type marks one point in the
// lifecycle:
//   - AfterAttempt: every kickstart cycle outcome, scheduled or forced
//   - OnKickstart: a kickstart that actually created a conversation
//   - OnConversationEnd: a conversation reached its terminal state
//   - OnError: a cycle or inbound operation failed
type CallbackType string

const (
	// CallbackAfterAttempt is triggered after every kickstart cycle,
	// including skipped and failed ones. Use for attempt-level metrics.
	CallbackAfterAttempt CallbackType = "after_attempt"

	// CallbackOnKickstart is triggered when a kickstart cycle created a
	// conversation and sent its opening. Use for reacting to new
	// conversations this agent started.
	CallbackOnKickstart CallbackType = "on_kickstart"

	// CallbackOnConversationEnd is triggered when a conversation transitions
	// to ENDED, whether by policy sweep or explicit signal. Use for archival
	// or summary generation.
	CallbackOnConversationEnd CallbackType = "on_conversation_end"

	// CallbackOnError is triggered when a kickstart cycle or inbound
	// operation fails. Use for alerting or error accounting.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries the data available at a lifecycle point.
//
// The engine populates the fields relevant to the triggering event and leaves
// the rest zero: attempt-scoped callbacks get Attempt, conversation-end
// callbacks get Conversation and EndReason, error callbacks get Err alongside
// whatever attempt context exists. GroupID is always set.
type CallbackContext struct {
	// GroupID identifies the group the event belongs to.
	GroupID string

	// Attempt is the kickstart cycle outcome for attempt-scoped callbacks.
	// Nil for conversation-end events that did not originate in a cycle.
	Attempt *kickstart.Attempt

	// Conversation is the final conversation record for
	// CallbackOnConversationEnd.
	Conversation *core.Conversation

	// EndReason records why the conversation ended, for
	// CallbackOnConversationEnd.
	EndReason core.EndReason

	// Err is the failure for CallbackOnError.
	Err error

	// CallbackType indicates which lifecycle point triggered this execution,
	// letting shared implementations branch on the phase.
	CallbackType CallbackType

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]interface{}
}

// Callback defines the interface for coordination lifecycle hooks.
//
// Implementations should be fast (they run synchronously on the scheduling
// or inbound goroutine), safe (no panics) and stateless between invocations.
// An error returned from a callback is logged by the engine and never aborts
// the coordination flow that triggered it.
type Callback interface {
	// Type returns the callback type this implementation handles. Used by
	// the callback manager to route execution.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a plain function as a callback implementation.
//
// Example:
//
//	cb := NewFunctionCallback(
//	    CallbackOnKickstart,
//	    func(ctx context.Context, callbackCtx *CallbackContext) error {
//	        log.Printf("kickstarted %s in %s", callbackCtx.Attempt.ConversationID, callbackCtx.GroupID)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback handling the
// given lifecycle point.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager routes lifecycle events to their registered callbacks.
//
// Multiple callbacks can be registered per type; they execute sequentially in
// registration order, and the first error stops the chain and is returned to
// the caller.
//
// Thread Safety:
// The manager is not safe for concurrent registration. Register all callbacks
// before starting the engine; once registration is complete, execution is
// safe for concurrent use from the scheduler's group loops.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its declared type. Callbacks of the
// same type run in registration order.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks runs all callbacks registered for the given type in
// order, stopping at and returning the first error.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	callbacks, exists := cm.callbacks[callbackType]
	if !exists {
		return nil
	}

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingCallback forwards formatted lifecycle events to a logging function.
// Useful for audit trails without writing a custom callback.
//
// Example:
//
//	cb := NewLoggingCallback(CallbackAfterAttempt, func(message string) {
//	    log.Printf("[PARLEY] %s", message)
//	})
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a logging callback for the given lifecycle
// point.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{
		callbackType: callbackType,
		logger:       logger,
	}
}

// Type returns the callback type this logger handles.
func (c *LoggingCallback) Type() CallbackType {
	return c.callbackType
}

// Execute logs the lifecycle event with its context information. Without a
// logger function the callback silently succeeds.
func (c *LoggingCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	if c.logger == nil {
		return nil
	}

	message := fmt.Sprintf("[%s] group: %s", c.callbackType, callbackCtx.GroupID)

	switch {
	case callbackCtx.Err != nil:
		message = fmt.Sprintf("%s, error: %v", message, callbackCtx.Err)
	case callbackCtx.Conversation != nil:
		message = fmt.Sprintf("%s, conversation: %s, reason: %s", message, callbackCtx.Conversation.ID, callbackCtx.EndReason)
	case callbackCtx.Attempt != nil && callbackCtx.Attempt.SkipReason != "":
		message = fmt.Sprintf("%s, skipped: %s", message, callbackCtx.Attempt.SkipReason)
	case callbackCtx.Attempt != nil && callbackCtx.Attempt.ConversationID != "":
		message = fmt.Sprintf("%s, conversation: %s, topic: %q", message, callbackCtx.Attempt.ConversationID, callbackCtx.Attempt.Topic)
	}

	c.logger(message)

	return nil
}

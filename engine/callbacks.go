package engine

import (
	"context"

	"github.com/memfuse/memfuse/core"
)

// CallbackType names a lifecycle point where hooks run.
type CallbackType string

const (
	// CallbackBeforeTurn runs before any pipeline stage. Use for request
	// validation or instrumentation; an error aborts the turn.
	CallbackBeforeTurn CallbackType = "before_turn"

	// CallbackAfterTurn runs after the result is assembled, including
	// clarification and degraded turns.
	CallbackAfterTurn CallbackType = "after_turn"

	// CallbackBeforeModel runs before the reply-generation model call.
	CallbackBeforeModel CallbackType = "before_model"

	// CallbackAfterModel runs after the model call, whether it succeeded
	// or the turn degraded to a fallback reply.
	CallbackAfterModel CallbackType = "after_model"

	// CallbackOnError runs when a turn fails fatally.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries the turn state available to a hook. Result and Err
// are nil before the stage that produces them.
type CallbackContext struct {
	SessionID string
	UserID    string
	Message   string
	Result    *core.TurnResult
	Err       error
}

// Callback is an execution lifecycle hook. Returning an error from a
// before-hook terminates the turn; errors from after-hooks are logged and
// otherwise ignored.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cc *CallbackContext) error
}

// FunctionCallback adapts a plain function to the Callback interface.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cc *CallbackContext) error
}

// NewFunctionCallback wraps fn as a callback for the given lifecycle point.
func NewFunctionCallback(callbackType CallbackType, fn func(ctx context.Context, cc *CallbackContext) error) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type returns the lifecycle point this callback handles.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute calls the wrapped function.
func (c *FunctionCallback) Execute(ctx context.Context, cc *CallbackContext) error {
	return c.fn(ctx, cc)
}

// CallbackManager routes hooks to their lifecycle points. Registration is
// not safe for concurrent use; execution is, once registration is done.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// Register adds a callback; multiple callbacks per type run in registration
// order.
func (cm *CallbackManager) Register(cb Callback) {
	cm.callbacks[cb.Type()] = append(cm.callbacks[cb.Type()], cb)
}

// Execute runs every callback registered for the type, stopping at the
// first error.
func (cm *CallbackManager) Execute(ctx context.Context, t CallbackType, cc *CallbackContext) error {
	for _, cb := range cm.callbacks[t] {
		if err := cb.Execute(ctx, cc); err != nil {
			return err
		}
	}
	return nil
}

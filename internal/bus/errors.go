package bus

import "errors"

// Domain-specific errors for bus operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrRequestTimeout is returned when a Request receives no response
	// before its deadline. Timeouts are first-class failures: callers must
	// never silently retry, since the handler may have partially acted on
	// a non-idempotent hardware command.
	ErrRequestTimeout = errors.New("bus: request timed out")

	// ErrNilHandler is returned when Subscribe is called without a handler.
	ErrNilHandler = errors.New("bus: handler cannot be nil")

	// ErrEmptyTopic is returned when an empty topic string is provided.
	ErrEmptyTopic = errors.New("bus: topic cannot be empty")
)

package webhook

import "errors"

var (
	// ErrInvalidSignature indicates a missing, malformed or mismatched signature
	ErrInvalidSignature = errors.New("webhook: invalid signature")

	// ErrOperationNotSupported indicates a signature algorithm other than sha1
	ErrOperationNotSupported = errors.New("webhook: operation not supported")

	// ErrUnhandledEvent indicates no handler is registered for the event
	ErrUnhandledEvent = errors.New("webhook: unhandled event")

	// ErrUnhandledAction indicates the event has action handlers but none for this action
	ErrUnhandledAction = errors.New("webhook: unhandled action")

	// ErrConflictingHandler indicates an event would get both a catch-all and action handlers
	ErrConflictingHandler = errors.New("webhook: conflicting handler registration")
)

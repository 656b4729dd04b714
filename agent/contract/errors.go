package contract

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")

	ErrRunTimeout          = errors.New("run timed out")
	ErrRunFailed           = errors.New("run failed")
	ErrThreadBusy          = errors.New("thread has an active run")
	ErrToolHopsExceeded    = errors.New("too many tool call rounds")
	ErrMalformedEnvelope   = errors.New("malformed response envelope")
	ErrInvalidAction       = errors.New("action not allowed for agent")
	ErrWebhookFailure      = errors.New("action webhook failed")
	ErrTransferUnavailable = errors.New("no human operator numbers configured")
	ErrUnresolvedToolCall  = errors.New("unresolved tool call")
	ErrMissingToolOutput   = errors.New("tool output missing for call id")
)

// IsConfigurationError reports errors caused by business or agent setup
// rather than by the network or the assistant.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidAction) ||
		errors.Is(err, ErrUnresolvedToolCall) ||
		errors.Is(err, ErrTransferUnavailable)
}

// IsTransient reports errors worth one bounded retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrWebhookFailure) ||
		errors.Is(err, ErrRunTimeout) ||
		errors.Is(err, ErrThreadBusy)
}

// ErrorKind is the log label for err.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case IsConfigurationError(err):
		return "configuration"
	case IsTransient(err):
		return "transient"
	default:
		return "internal"
	}
}

package ports

import "errors"

// Completion errors returned by Completer implementations.
var (
	ErrCompletionFailed    = errors.New("completion failed")
	ErrCompletionTimeout   = errors.New("completion timed out")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRateLimited = errors.New("rate limited by provider")
	ErrProviderAuth        = errors.New("provider authentication failed")
	ErrEmptyCompletion     = errors.New("provider returned no text")
)

// IsRetryable reports whether a completion error may succeed if the user tries again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrCompletionTimeout) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrProviderRateLimited)
}

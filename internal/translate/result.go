// Package translate provides the pluggable translation backends: an HTTP
// translation API, an OpenAI-compatible chat model, and a deterministic
// mock. Backends never return errors for anticipated failures; every
// outcome is a tagged Result carrying either translated text or an
// enumerated failure kind with a user-displayable message.
package translate

// FailureKind enumerates anticipated translation failures so callers can
// branch programmatically while still rendering the same user-facing text.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureMisconfigured FailureKind = "misconfigured"
	FailureAuthInvalid   FailureKind = "auth_invalid"
	FailureAccessDenied  FailureKind = "access_denied"
	FailureRateLimited   FailureKind = "rate_limited"
	FailureTimeout       FailureKind = "timeout"
	FailureConnection    FailureKind = "connection"
	FailureHTTP          FailureKind = "http_error"
	FailureBadResponse   FailureKind = "bad_response"
	FailureExhausted     FailureKind = "exhausted"
	FailureUnknown       FailureKind = "unknown"
)

// Result is the outcome of one translate call. Exactly one of Text (on
// success) or Kind+Message (on failure) is meaningful.
type Result struct {
	Text    string      `json:"text,omitempty"`
	Kind    FailureKind `json:"kind,omitempty"`
	Message string      `json:"message,omitempty"`
}

// Success wraps translated text.
func Success(text string) Result {
	return Result{Text: text}
}

// Failure wraps an enumerated failure with its user-displayable message.
func Failure(kind FailureKind, message string) Result {
	return Result{Kind: kind, Message: message}
}

// Failed reports whether the result carries a failure.
func (r Result) Failed() bool {
	return r.Kind != FailureNone
}

// Display returns the text to show the user: the translation on success,
// the short placeholder message on failure. Never a stack trace.
func (r Result) Display() string {
	if r.Failed() {
		return r.Message
	}
	return r.Text
}

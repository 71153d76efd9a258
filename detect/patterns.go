package detect

import (
	"strings"

	"tdrf/core"
)

// Windows security log event ids recognized as authentication outcomes.
const (
	WinEventLogonSuccess    = 4624
	WinEventLogonFailure    = 4625
	WinEventCredentialCheck = 4776
)

// DefaultFailedLoginTypes are event types counted as failed authentications.
var DefaultFailedLoginTypes = []string{
	"failed_password",
	"failed_password_invalid",
	"authentication_failure",
	"invalid_user",
	"failed_login",
}

// DefaultSuccessLoginTypes are event types counted as successful authentications.
var DefaultSuccessLoginTypes = []string{
	"accepted_password",
	"accepted_publickey",
	"session_opened",
	"successful_login",
}

// LoginClassifier decides whether an event is a failed or successful login.
type LoginClassifier struct {
	failed  map[string]struct{}
	success map[string]struct{}
}

// NewLoginClassifier builds a classifier from event type lists. Empty lists
// fall back to the defaults.
func NewLoginClassifier(failedTypes, successTypes []string) *LoginClassifier {
	if len(failedTypes) == 0 {
		failedTypes = DefaultFailedLoginTypes
	}
	if len(successTypes) == 0 {
		successTypes = DefaultSuccessLoginTypes
	}
	return &LoginClassifier{failed: toSet(failedTypes), success: toSet(successTypes)}
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[strings.ToLower(v)] = struct{}{}
	}
	return set
}

// IsFailedLogin reports whether e records a failed authentication.
func (c *LoginClassifier) IsFailedLogin(e *core.Event) bool {
	if _, ok := c.failed[strings.ToLower(e.EventType)]; ok {
		return true
	}
	id, ok := e.ExtensionInt("event_id")
	return ok && (id == WinEventLogonFailure || id == WinEventCredentialCheck)
}

// IsSuccessfulLogin reports whether e records a successful authentication.
func (c *LoginClassifier) IsSuccessfulLogin(e *core.Event) bool {
	if _, ok := c.success[strings.ToLower(e.EventType)]; ok {
		return true
	}
	id, ok := e.ExtensionInt("event_id")
	return ok && id == WinEventLogonSuccess
}

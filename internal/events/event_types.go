package events

import (
	"time"

	"github.com/google/uuid"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventUserRegistered       EventType = "user_registered"
	EventLoginSucceeded       EventType = "login_succeeded"
	EventLoginFailed          EventType = "login_failed"
	EventTokenRefreshed       EventType = "token_refreshed"
	EventRefreshReuseDetected EventType = "refresh_reuse_detected"
	EventLoggedOut            EventType = "logged_out"
	EventPasswordChanged      EventType = "password_changed"
	EventAccountDeleted       EventType = "account_deleted"
)

// AllEventTypes lists every type a subscriber may want to observe.
var AllEventTypes = []EventType{
	EventUserRegistered,
	EventLoginSucceeded,
	EventLoginFailed,
	EventTokenRefreshed,
	EventRefreshReuseDetected,
	EventLoggedOut,
	EventPasswordChanged,
	EventAccountDeleted,
}

// Event represents an account or session change emitted by services.
// Payloads never carry passwords, hashes or raw tokens.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload,omitempty"`
}

// NewEvent stamps an event with an id and time.
func NewEvent(typ EventType, userID, sessionID string, at time.Time, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		SessionID: sessionID,
		Timestamp: at,
		Payload:   payload,
	}
}

// UserRegisteredPayload payload.
type UserRegisteredPayload struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

// LoginFailedPayload payload. Reason is internal and not shown to clients.
type LoginFailedPayload struct {
	Identity string `json:"identity"`
	Reason   string `json:"reason"`
}

// LoggedOutPayload payload.
type LoggedOutPayload struct {
	TokenID string `json:"token_id"`
	Expired bool   `json:"expired"`
}

// RefreshReuseDetectedPayload payload.
type RefreshReuseDetectedPayload struct {
	TokenID string `json:"token_id"`
}

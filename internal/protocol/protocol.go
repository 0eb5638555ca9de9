// Package protocol defines the bus topics and JSON payloads exchanged between
// the chat server and its clients.  Every payload is a single JSON object.
package protocol

import (
	"encoding/json"
	"strings"
	"time"
)

// Topic names.  Requests and events flow over a message broker, not a socket:
// RPC topics use request/reply, the rest are plain publishes.
const (
	// Client → Server
	TopicLogin     = "chat.login"     // RPC: LoginRequest → LoginResponse
	TopicLogout    = "chat.logout"    // event: LogoutRequest
	TopicHeartbeat = "chat.heartbeat" // event: Heartbeat
	TopicUserList  = "chat.users"     // RPC: UserListRequest → UserListResponse
	TopicStats     = "chat.stats"     // RPC: StatisticsRequest → StatisticsResponse
	TopicMessage   = "chat.message"   // event: SubmitMessage
	TopicPrivate   = "chat.private"   // event: PrivateMessage

	// Server → Clients
	TopicEvents          = "chat.events"           // broadcast: Envelope
	TopicServerHeartbeat = "chat.server.heartbeat" // broadcast: ServerHeartbeat

	userTopicPrefix = "chat.user."
)

// CommandPrefix marks client-side commands; such messages are never counted
// in usage statistics.
const CommandPrefix = "/"

// UserTopic returns the scoped topic private to one user.  Topics are derived
// from the lower-cased username so routing is case-insensitive, matching the
// session table keys.
func UserTopic(username string) string {
	return userTopicPrefix + strings.ToLower(username)
}

// EventKind identifies the payload carried by an Envelope on a broadcast or
// per-user topic.
type EventKind string

const (
	EventNotification EventKind = "notification" // UserNotification
	EventMessage      EventKind = "message"      // UserMessage
	EventPrivate      EventKind = "private"      // PrivateMessage
	EventError        EventKind = "error"        // ErrorEvent
)

// Envelope is the top-level format on event topics.
type Envelope struct {
	Kind    EventKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload and wraps it in an Envelope.
func NewEnvelope(kind EventKind, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Kind: kind, Payload: raw}, nil
}

// Encode returns the JSON bytes for e.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// ---------------------------------------------------------------------------
// Request / response payloads
// ---------------------------------------------------------------------------

// LoginRequest asks the server to register a username.
type LoginRequest struct {
	Username string `json:"username"`
}

// LoginResponse reports whether the login was accepted.  The assigned color is
// server-internal and deliberately not returned here.
type LoginResponse struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

// LogoutRequest announces that a user is leaving.
type LogoutRequest struct {
	Username string `json:"username"`
}

// Heartbeat is the periodic client liveness signal.
type Heartbeat struct {
	Username string `json:"username"`
}

// ServerHeartbeat is the periodic server liveness signal.  Clients that stop
// receiving it treat the server as unreachable.
type ServerHeartbeat struct {
	Timestamp time.Time `json:"timestamp"`
}

// UserListRequest asks for the currently connected users.
type UserListRequest struct {
	Username string `json:"username"` // requesting user
}

// UserListResponse carries a point-in-time snapshot of connected usernames.
type UserListResponse struct {
	Success bool     `json:"success"`
	Users   []string `json:"users"`
}

// StatisticsRequest asks for the usage statistics snapshot.
type StatisticsRequest struct {
	Username string `json:"username"` // requesting user
}

// StatisticsEntry is one (username, message count) pair.
type StatisticsEntry struct {
	Username string `json:"username"`
	Count    int    `json:"count"`
}

// StatisticsResponse carries the aggregate snapshot.
type StatisticsResponse struct {
	Success bool              `json:"success"`
	Total   int               `json:"total"`
	Average float64           `json:"average"`
	Top     []StatisticsEntry `json:"top"`
}

// ---------------------------------------------------------------------------
// Event payloads
// ---------------------------------------------------------------------------

// SubmitMessage carries a public chat message from a client to the server.
type SubmitMessage struct {
	Sender string `json:"sender"`
	Text   string `json:"text"`
}

// UserMessage is the broadcast form of a public chat message, tagged with the
// sender's session color.
type UserMessage struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Color     string    `json:"color"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// PrivateMessage is sent by a client on TopicPrivate and delivered by the
// server to the recipient's user topic with the sender's color filled in.
type PrivateMessage struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Color     string    `json:"color,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// UserNotification is a broadcast system notice (joins, leaves, timeouts).
type UserNotification struct {
	Text string `json:"text"`
}

// ErrorEvent is delivered only on the affected user's topic, never broadcast.
type ErrorEvent struct {
	Message string `json:"message"`
}

// IsCommand reports whether text is client-command traffic rather than chat.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), CommandPrefix)
}

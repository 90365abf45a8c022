package websocket

import "github.com/stemsi/exstem-client/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionPing Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError           Event = "error"
	EventSession         Event = "session"
	EventRecheckResolved Event = "recheck_resolved"
	EventPong            Event = "pong"
)

// SessionResponse tells open views that the user signed in or out,
// possibly from another process sharing the session.
type SessionResponse struct {
	Event    Event      `json:"event"`
	Present  bool       `json:"present"`
	External bool       `json:"external"`
	UserID   string     `json:"user_id,omitempty"`
	Role     model.Role `json:"role,omitempty"`
}

// NewSessionResponse builds the event for a session change. The token is
// never sent.
func NewSessionResponse(ev model.SessionEvent) SessionResponse {
	resp := SessionResponse{Event: EventSession, Present: ev.Present, External: ev.External}
	if ev.Present {
		resp.UserID = ev.Session.UserID
		resp.Role = ev.Session.Role
	}
	return resp
}

// RecheckResolvedResponse announces that a teacher resolved a recheck.
type RecheckResolvedResponse struct {
	Event   Event                `json:"event"`
	Recheck model.RecheckRequest `json:"recheck"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

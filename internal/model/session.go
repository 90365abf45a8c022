package model

// Role is the kind of account a Session belongs to.
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleStudent || r == RoleTeacher
}

// Session is the client's proof of authenticated identity. A Session is
// either fully populated or absent; there is no partial state.
type Session struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// Complete reports whether every field is set and the role is known.
func (s Session) Complete() bool {
	return s.Token != "" && s.UserID != "" && s.Role.Valid()
}

// SessionEvent is delivered to session change listeners.
type SessionEvent struct {
	// Present is false when the session was ended.
	Present bool `json:"present"`
	// External is true when the change originated from another process
	// sharing the same storage.
	External bool    `json:"external"`
	Session  Session `json:"-"`
}

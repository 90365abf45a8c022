// Package guard decides, per navigation, whether a view may be shown for
// the current session state.
package guard

import (
	"net/url"
	"strings"

	"github.com/stemsi/exstem-client/internal/model"
)

// Access is the session requirement of a view.
type Access int

const (
	// Public views are always shown.
	Public Access = iota
	// RequiresSession views need a signed-in user.
	RequiresSession
	// PublicOnly views (login, register) are pointless once signed in.
	PublicOnly
)

func (a Access) String() string {
	switch a {
	case RequiresSession:
		return "requires_session"
	case PublicOnly:
		return "public_only"
	default:
		return "public"
	}
}

// Paths are the redirect targets used by the guard.
type Paths struct {
	Login   string
	Landing string
}

// DefaultPaths returns the portal's login and landing routes.
func DefaultPaths() Paths {
	return Paths{Login: "/login", Landing: "/dashboard"}
}

// Decision is the outcome of one navigation check.
type Decision struct {
	Allow    bool
	Redirect string
}

// Evaluate is the pure guard rule.
func Evaluate(present bool, access Access, requested string, paths Paths) Decision {
	switch {
	case access == RequiresSession && !present:
		return Decision{Redirect: paths.Login + "?next=" + url.QueryEscape(requested)}
	case access == PublicOnly && present:
		return Decision{Redirect: paths.Landing}
	default:
		return Decision{Allow: true}
	}
}

// SessionReader is the read side of the session store.
type SessionReader interface {
	GetSession() (model.Session, bool)
}

// Guard applies Evaluate against the live session.
type Guard struct {
	sessions SessionReader
	paths    Paths
}

// New creates a Guard.
func New(sessions SessionReader, paths Paths) *Guard {
	return &Guard{sessions: sessions, paths: paths}
}

// Paths returns the redirect targets.
func (g *Guard) Paths() Paths {
	return g.paths
}

// Check reads the session on every call; results are never cached.
func (g *Guard) Check(access Access, requested string) Decision {
	_, present := g.sessions.GetSession()
	return Evaluate(present, access, requested, g.paths)
}

// AfterLogin returns where to go once signed in: the remembered location
// when it is safe, the landing page otherwise.
func (g *Guard) AfterLogin(next string) string {
	return SafeNext(next, g.paths.Landing)
}

// SafeNext accepts only local absolute paths so a crafted next parameter
// cannot send the user to another site.
func SafeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, "\\") {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return next
}

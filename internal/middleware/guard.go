package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-client/internal/guard"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/response"
)

// ContextKeySession is the Gin context key for the session seen by the guard.
const ContextKeySession = "session"

// Guard applies the route guard to every request of a group. Browsers
// navigating with GET are redirected; API calls get a JSON error instead.
func Guard(g *guard.Guard, sessions guard.SessionReader, access guard.Access) gin.HandlerFunc {
	return func(c *gin.Context) {
		d := g.Check(access, c.Request.URL.RequestURI())
		if !d.Allow {
			if c.Request.Method == http.MethodGet {
				c.Redirect(http.StatusFound, d.Redirect)
				c.Abort()
				return
			}
			if access == guard.RequiresSession {
				response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionRequired)
				return
			}
			response.AbortFail(c, http.StatusForbidden, response.ErrAlreadySignedIn)
			return
		}

		if sess, ok := sessions.GetSession(); ok {
			c.Set(ContextKeySession, sess)
		}
		c.Next()
	}
}

// CurrentSession returns the session the guard saw for this request.
func CurrentSession(c *gin.Context) (model.Session, bool) {
	val, exists := c.Get(ContextKeySession)
	if !exists {
		return model.Session{}, false
	}
	sess, ok := val.(model.Session)
	return sess, ok
}

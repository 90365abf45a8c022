package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/response"
)

// RequireRole lets the request through only for the given role. Must run
// after Guard.
func RequireRole(role model.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		sess, ok := CurrentSession(c)
		if !ok {
			response.AbortFail(c, http.StatusUnauthorized, response.ErrSessionRequired)
			return
		}

		if sess.Role != role {
			code := response.ErrStudentAccessOnly
			if role == model.RoleTeacher {
				code = response.ErrTeacherAccessOnly
			}
			response.AbortFail(c, http.StatusForbidden, code)
			return
		}

		c.Next()
	}
}

package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-client/internal/guard"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/response"
)

type fakeSessions struct {
	sess    model.Session
	present bool
}

func (f *fakeSessions) GetSession() (model.Session, bool) {
	return f.sess, f.present
}

func init() {
	gin.SetMode(gin.TestMode)
}

func guarded(sessions *fakeSessions, access guard.Access, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(response.RequestIDMiddleware())
	g := guard.New(sessions, guard.DefaultPaths())
	handlers := append([]gin.HandlerFunc{Guard(g, sessions, access)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		sess, _ := CurrentSession(c)
		c.JSON(http.StatusOK, gin.H{"user_id": sess.UserID})
	})
	r.Any("/*path", handlers...)
	return r
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) response.ErrCode {
	t.Helper()
	var body response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error.Code
}

func TestGuardRedirectsNavigation(t *testing.T) {
	r := guarded(&fakeSessions{}, guard.RequiresSession)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/results?attempt=1", nil))

	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "/login?next=%2Fresults%3Fattempt%3D1", w.Header().Get("Location"))
}

func TestGuardRejectsAPICallsWithJSON(t *testing.T) {
	r := guarded(&fakeSessions{}, guard.RequiresSession)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/attempts", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, response.ErrSessionRequired, errorCode(t, w))

	signedIn := &fakeSessions{present: true, sess: model.Session{Token: "T1", UserID: "u1", Role: model.RoleStudent}}
	r = guarded(signedIn, guard.PublicOnly)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.ErrAlreadySignedIn, errorCode(t, w))
}

func TestGuardPassesSessionToHandler(t *testing.T) {
	sessions := &fakeSessions{present: true, sess: model.Session{Token: "T1", UserID: "u1", Role: model.RoleStudent}}
	r := guarded(sessions, guard.RequiresSession)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":"u1"}`, w.Body.String())
}

func TestRequireRole(t *testing.T) {
	teacher := &fakeSessions{present: true, sess: model.Session{Token: "T2", UserID: "u2", Role: model.RoleTeacher}}
	r := guarded(teacher, guard.RequiresSession, RequireRole(model.RoleStudent))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/attempts", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, response.ErrStudentAccessOnly, errorCode(t, w))
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2, time.Minute)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.POST("/login", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	codes := func() int {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/login", nil))
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, codes())
	assert.Equal(t, http.StatusNoContent, codes())
	assert.Equal(t, http.StatusTooManyRequests, codes())

	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusNoContent, codes())
}

func TestBrotliCompressesLargeBodies(t *testing.T) {
	r := gin.New()
	r.Use(Brotli())
	large := strings.Repeat("answer ", 500)
	r.GET("/large", func(c *gin.Context) { c.String(http.StatusOK, large) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/large", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, "br", w.Header().Get("Content-Encoding"))
	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	require.NoError(t, err)
	assert.Equal(t, large, string(plain))

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Content-Encoding"))
	assert.Equal(t, "ok", w.Body.String())
}

func TestNoStore(t *testing.T) {
	r := gin.New()
	r.GET("/", NoStore(), func(c *gin.Context) { c.Status(http.StatusOK) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

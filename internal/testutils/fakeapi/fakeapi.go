// Package fakeapi is an in-process stand-in for the grading backend used by
// tests across the module.
package fakeapi

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-client/internal/model"
)

// DropConnection makes an endpoint close the connection without replying.
const DropConnection = -1

type user struct {
	password string
	userID   string
	role     model.Role
	token    string
}

type submission struct {
	id         string
	questionID string
	setID      string
	status     string
	score      *float64
}

type recheck struct {
	submissionID string
	detail       string
	status       string
	note         string
	score        *float64
}

// Server is a fake backend. Zero-valued failure maps mean every call succeeds.
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	users       map[string]*user
	tokens      map[string]*user
	sets        map[string]model.QuestionSet
	submissions map[string]*submission
	rechecks    map[string]*recheck
	nextID      int

	uploadFailures map[string]int
	uploadDelays   map[string]time.Duration
	evalFailures   map[string]int
	scores         map[string]float64
	resolveOnPost  bool

	uploadCalls  map[string]int
	lastAuth     string
	logoutCalled int
}

// New starts a fake backend and stops it when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	s := &Server{
		users:          make(map[string]*user),
		tokens:         make(map[string]*user),
		sets:           make(map[string]model.QuestionSet),
		submissions:    make(map[string]*submission),
		rechecks:       make(map[string]*recheck),
		uploadFailures: make(map[string]int),
		uploadDelays:   make(map[string]time.Duration),
		evalFailures:   make(map[string]int),
		scores:         make(map[string]float64),
		uploadCalls:    make(map[string]int),
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

// AddUser registers credentials. Logging in yields token.
func (s *Server) AddUser(username, password, userID string, role model.Role, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &user{password: password, userID: userID, role: role, token: token}
}

// AddQuestionSet publishes a question set.
func (s *Server) AddQuestionSet(set model.QuestionSet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[set.ID.String()] = set
}

// FailUpload makes uploads for questionID answer with status, or drop the
// connection when status is DropConnection. Status 0 clears the failure.
func (s *Server) FailUpload(questionID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.uploadFailures, questionID)
		return
	}
	s.uploadFailures[questionID] = status
}

// DelayUpload holds uploads for questionID for d before answering.
func (s *Server) DelayUpload(questionID string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploadDelays[questionID] = d
}

// FailEvaluate makes evaluation of submissionID answer with status.
func (s *Server) FailEvaluate(submissionID string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evalFailures[submissionID] = status
}

// SetScore fixes the score returned when questionID's submission is evaluated.
func (s *Server) SetScore(questionID string, score float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores[questionID] = score
}

// ResolveRechecksOnRequest makes POST /submissions/recheck resolve synchronously.
func (s *Server) ResolveRechecksOnRequest(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveOnPost = on
}

// ResolveRecheck plays the teacher resolving a pending recheck.
func (s *Server) ResolveRecheck(submissionID string, score float64, note string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rechecks[submissionID]; ok {
		r.status = "resolved"
		r.note = note
		r.score = &score
	}
}

// RevokeToken makes every further request with token answer 401.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

// UploadCalls reports how many uploads reached the server for questionID.
func (s *Server) UploadCalls(questionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadCalls[questionID]
}

// LastAuthorization returns the Authorization header of the latest request.
func (s *Server) LastAuthorization() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth
}

// LogoutCalls reports how many times /auth/logout was called.
func (s *Server) LogoutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutCalled
}

// SubmissionFor returns the ID of the stored submission for questionID.
func (s *Server) SubmissionFor(questionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.submissions {
		if sub.questionID == questionID {
			return id, true
		}
	}
	return "", false
}

func (s *Server) routes() http.Handler {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		s.mu.Lock()
		s.lastAuth = c.GetHeader("Authorization")
		s.mu.Unlock()
		c.Next()
	})

	r.POST("/auth/login", s.login)
	r.POST("/auth/register", s.register)

	authed := r.Group("/")
	authed.Use(s.requireToken)
	authed.POST("/auth/logout", s.logout)
	authed.GET("/question-sets", s.listSets)
	authed.GET("/question-sets/:id", s.getSet)
	authed.POST("/submissions", s.upload)
	authed.POST("/submissions/evaluate", s.evaluate)
	authed.POST("/submissions/recheck", s.requestRecheck)
	authed.GET("/submissions/:id", s.getSubmission)
	authed.GET("/submissions/:id/recheck", s.recheckStatus)
	return r
}

func detail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

func (s *Server) requireToken(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	s.mu.Lock()
	u, ok := s.tokens[token]
	s.mu.Unlock()
	if token == "" || !ok {
		detail(c, http.StatusUnauthorized, "Not authenticated")
		return
	}
	c.Set("user", u)
	c.Next()
}

func (s *Server) login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	u, ok := s.users[req.Username]
	if ok && u.password == req.Password {
		s.tokens[u.token] = u
	}
	s.mu.Unlock()

	if !ok || u.password != req.Password {
		detail(c, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": u.token, "user_id": u.userID, "role": u.role})
}

func (s *Server) register(c *gin.Context) {
	var req struct {
		Username string     `json:"username"`
		Password string     `json:"password"`
		Role     model.Role `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[req.Username]; exists {
		detail(c, http.StatusBadRequest, "Username already registered")
		return
	}
	s.nextID++
	id := strconv.Itoa(s.nextID)
	s.users[req.Username] = &user{password: req.Password, userID: id, role: req.Role, token: "tok-" + id}
	c.JSON(http.StatusCreated, gin.H{"id": s.nextID, "message": "User registered successfully"})
}

func (s *Server) logout(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	s.mu.Lock()
	delete(s.tokens, token)
	s.logoutCalled++
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func (s *Server) listSets(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.QuestionSet, 0, len(s.sets))
	for _, set := range s.sets {
		set.Questions = nil
		out = append(out, set)
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) getSet(c *gin.Context) {
	s.mu.Lock()
	set, ok := s.sets[c.Param("id")]
	s.mu.Unlock()
	if !ok {
		detail(c, http.StatusNotFound, "Question set not found")
		return
	}
	c.JSON(http.StatusOK, set)
}

func (s *Server) upload(c *gin.Context) {
	qid := c.PostForm("question_id")
	setID := c.PostForm("question_set_id")

	s.mu.Lock()
	s.uploadCalls[qid]++
	fail := s.uploadFailures[qid]
	delay := s.uploadDelays[qid]
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	switch {
	case fail == DropConnection:
		hj, ok := c.Writer.(http.Hijacker)
		if !ok {
			detail(c, http.StatusInternalServerError, "cannot hijack")
			return
		}
		conn, _, err := hj.Hijack()
		if err == nil {
			conn.Close()
		}
		return
	case fail != 0:
		detail(c, fail, fmt.Sprintf("upload rejected for question %s", qid))
		return
	}

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		detail(c, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()
	if _, err := io.Copy(io.Discard, file); err != nil {
		detail(c, http.StatusBadRequest, "unreadable file")
		return
	}
	if header.Header.Get("Content-Type") != model.MimePDF {
		detail(c, http.StatusBadRequest, "Only PDF files are accepted")
		return
	}

	s.mu.Lock()
	s.nextID++
	n := s.nextID
	id := strconv.Itoa(n)
	s.submissions[id] = &submission{id: id, questionID: qid, setID: setID, status: "uploaded"}
	s.mu.Unlock()

	// The real backend encodes submission IDs as numbers.
	c.JSON(http.StatusCreated, gin.H{"id": n, "status": "uploaded"})
}

func (s *Server) evaluate(c *gin.Context) {
	var req model.EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[req.SubmissionID]
	if !ok {
		detail(c, http.StatusNotFound, "Submission not found")
		return
	}
	if status := s.evalFailures[req.SubmissionID]; status != 0 {
		detail(c, status, "grading service unavailable")
		return
	}
	score, ok := s.scores[sub.questionID]
	if !ok {
		score = 5
	}
	sub.status = "evaluated"
	sub.score = &score
	c.JSON(http.StatusOK, gin.H{
		"submission_id": sub.id,
		"status":        "evaluated",
		"score":         score,
		"max_marks":     10,
		"feedback":      "Graded",
	})
}

func (s *Server) getSubmission(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.submissions[c.Param("id")]
	if !ok {
		detail(c, http.StatusNotFound, "Submission not found")
		return
	}
	body := gin.H{
		"id":          sub.id,
		"question_id": sub.questionID,
		"status":      sub.status,
		"score":       sub.score,
	}
	if sub.score != nil {
		body["max_marks"] = 10
		body["feedback"] = "Graded"
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) requestRecheck(c *gin.Context) {
	var req model.RecheckPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		detail(c, http.StatusUnprocessableEntity, "invalid body")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.submissions[req.SubmissionID]; !ok {
		detail(c, http.StatusNotFound, "Submission not found")
		return
	}
	if r, ok := s.rechecks[req.SubmissionID]; ok && r.status == "pending" {
		detail(c, http.StatusConflict, "Recheck already pending")
		return
	}
	r := &recheck{submissionID: req.SubmissionID, detail: req.IssueDetail, status: "pending"}
	if s.resolveOnPost {
		score := 8.0
		r.status = "resolved"
		r.note = "Rechecked automatically"
		r.score = &score
	}
	s.rechecks[req.SubmissionID] = r
	c.JSON(http.StatusOK, recheckBody(r))
}

func (s *Server) recheckStatus(c *gin.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rechecks[c.Param("id")]
	if !ok {
		detail(c, http.StatusNotFound, "No recheck for this submission")
		return
	}
	c.JSON(http.StatusOK, recheckBody(r))
}

func recheckBody(r *recheck) gin.H {
	return gin.H{
		"submission_id":   r.submissionID,
		"status":          r.status,
		"resolution_note": r.note,
		"resolved_score":  r.score,
	}
}

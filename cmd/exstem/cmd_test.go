package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-client/internal/app"
	"github.com/stemsi/exstem-client/internal/attempt"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/recheck"
	"github.com/stemsi/exstem-client/internal/storage"
	"github.com/stemsi/exstem-client/internal/testutils/fakeapi"
	"github.com/stemsi/exstem-client/internal/validator"
)

var pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n")

type cliEnv struct {
	api *fakeapi.Server
	mem *storage.MemoryStorage
	cfg *config.Config
	out *bytes.Buffer
	cli *commandLine
}

func setup(t *testing.T) *cliEnv {
	t.Helper()
	validator.Setup()

	api := fakeapi.New(t)
	api.AddUser("alice", "p1", "u1", model.RoleStudent, "T1")
	api.AddQuestionSet(model.QuestionSet{
		ID:          "7",
		Title:       "Physics midterm",
		SubjectName: "Physics",
		Questions: []model.QuestionRef{
			{QuestionID: "1", Marks: 10, PromptText: "Derive the period"},
			{QuestionID: "2", Marks: 10},
			{QuestionID: "3", Marks: 10},
		},
	})

	env := &cliEnv{
		api: api,
		mem: storage.NewMemoryStorage(),
		cfg: &config.Config{
			APIBaseURL:        api.URL,
			APITimeout:        5 * time.Second,
			MaxUploadBytes:    1 << 20,
			UploadConcurrency: 2,
		},
	}
	env.restart()

	orig := readPasswordFunc
	readPasswordFunc = func(int) ([]byte, error) { return []byte("p1"), nil }
	t.Cleanup(func() { readPasswordFunc = orig })
	return env
}

// restart simulates a new invocation sharing the same saved session.
func (e *cliEnv) restart() {
	a := app.Build(e.cfg, e.mem, e.api.Client(), zerolog.Nop())
	_, _ = a.Sessions.Restore(context.Background())
	e.out = &bytes.Buffer{}
	e.cli = &commandLine{app: a, out: e.out}
}

func (e *cliEnv) run(args ...string) error {
	e.out.Reset()
	return e.cli.run(context.Background(), append([]string{"exstem"}, args...))
}

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

type cliTest struct {
	name    string
	args    []string // without program name
	wantErr error
}

func Test_commandLine_usage(t *testing.T) {
	e := setup(t)

	tests := []cliTest{
		{name: "no command", args: nil, wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "login: no username", args: []string{"login"}, wantErr: errHelp},
		{name: "register: missing fields", args: []string{"register", "-username", "bob"}, wantErr: errHelp},
		{name: "submit: no answers", args: []string{"submit", "-set", "7"}, wantErr: errHelp},
		{name: "evaluate: no id", args: []string{"evaluate"}, wantErr: errHelp},
		{name: "result: no id", args: []string{"result"}, wantErr: errHelp},
		{name: "recheck: no id", args: []string{"recheck", "-reason", "x"}, wantErr: errHelp},
		{name: "recheck-status: no id", args: []string{"recheck-status"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, e.run(tt.args...), tt.wantErr)
		})
	}

	err := e.run("submit", "-set", "7", "-answer", "missing-path")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "answer must be QID=PATH")
}

func Test_commandLine_login(t *testing.T) {
	e := setup(t)

	require.NoError(t, e.run("whoami"))
	assert.Equal(t, "Not signed in\n", e.out.String())

	require.NoError(t, e.run("login", "-username", "alice"))
	assert.Contains(t, e.out.String(), "Signed in as u1 (student)")

	// The next invocation picks the saved session up.
	e.restart()
	require.NoError(t, e.run("whoami"))
	assert.Equal(t, "u1 (student)\n", e.out.String())

	require.NoError(t, e.run("logout"))
	assert.Equal(t, 1, e.api.LogoutCalls())

	e.restart()
	require.NoError(t, e.run("whoami"))
	assert.Equal(t, "Not signed in\n", e.out.String())
}

func Test_commandLine_loginRejected(t *testing.T) {
	e := setup(t)
	readPasswordFunc = func(int) ([]byte, error) { return []byte("wrong"), nil }

	err := e.run("login", "-username", "alice")
	require.Error(t, err)
	assert.Equal(t, "rejected by server: Incorrect username or password", describe(err))

	readPasswordFunc = func(int) ([]byte, error) { return nil, nil }
	assert.EqualError(t, e.run("login", "-username", "alice"), "password is required")

	readPasswordFunc = func(int) ([]byte, error) { return nil, errors.New("not a terminal") }
	assert.EqualError(t, e.run("login", "-username", "alice"), "not a terminal")
}

func Test_commandLine_register(t *testing.T) {
	e := setup(t)
	readPasswordFunc = func(int) ([]byte, error) { return []byte("secret1"), nil }

	require.NoError(t, e.run("register", "-username", "bob", "-email", "bob@example.com", "-name", "Bob Smith"))
	assert.Contains(t, e.out.String(), "Sign in with: login -username bob")

	_, ok := e.cli.app.Sessions.GetSession()
	assert.False(t, ok, "registering does not sign in")

	err := e.run("register", "-username", "bob", "-email", "bob@example.com", "-name", "Bob Smith", "-role", "admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "role")
}

func Test_commandLine_sets(t *testing.T) {
	e := setup(t)

	err := e.run("sets")
	require.Error(t, err)
	assert.Equal(t, "rejected by server: Not authenticated", describe(err))

	require.NoError(t, e.run("login", "-username", "alice"))

	require.NoError(t, e.run("sets"))
	assert.Contains(t, e.out.String(), "Physics midterm")

	require.NoError(t, e.run("sets", "-id", "7"))
	assert.Contains(t, e.out.String(), "Derive the period")

	err = e.run("sets", "-id", "404")
	require.Error(t, err)
	assert.Equal(t, "Question set not found", describe(err))
}

func Test_commandLine_submit(t *testing.T) {
	e := setup(t)
	require.NoError(t, e.run("login", "-username", "alice"))
	e.api.FailUpload("2", http.StatusInternalServerError)

	q1 := writeFile(t, "q1.pdf", pdfBytes)
	q2 := writeFile(t, "q2.pdf", pdfBytes)

	err := e.run("submit", "-set", "7", "-answer", "1="+q1, "-answer", "2="+q2, "-evaluate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 answer(s) were not accepted")

	out := e.out.String()
	assert.Contains(t, out, "1 of 3 answers submitted; 1 failed")
	assert.Contains(t, out, "server: upload rejected for question 2")
	assert.Contains(t, out, "evaluated, 5/10")

	sid, ok := e.api.SubmissionFor("1")
	require.True(t, ok)

	require.NoError(t, e.run("recheck", "-submission", sid, "-reason", "Part b was marked wrong"))
	assert.Contains(t, e.out.String(), "Recheck for submission "+sid+": pending")

	err = e.run("recheck", "-submission", sid, "-reason", "again")
	assert.ErrorIs(t, err, recheck.ErrRecheckPending)

	e.api.ResolveRecheck(sid, 9, "Regraded")
	require.NoError(t, e.run("recheck-status", "-submission", sid))
	assert.Contains(t, e.out.String(), "resolved, new score 9 - Regraded")
}

func Test_commandLine_submitRejectsNonPDF(t *testing.T) {
	e := setup(t)
	require.NoError(t, e.run("login", "-username", "alice"))

	notes := writeFile(t, "notes.pdf", []byte("plain text pretending to be a pdf"))
	err := e.run("submit", "-set", "7", "-answer", "1="+notes)
	assert.ErrorIs(t, err, attempt.ErrNotPDF)
	assert.Zero(t, e.api.UploadCalls("1"))
}

func Test_commandLine_laterInvocation(t *testing.T) {
	e := setup(t)
	require.NoError(t, e.run("login", "-username", "alice"))
	require.NoError(t, e.run("submit", "-set", "7", "-answer", "3="+writeFile(t, "q3.pdf", pdfBytes)))
	sid, ok := e.api.SubmissionFor("3")
	require.True(t, ok)

	e.restart()
	require.NoError(t, e.run("result", "-submission", sid))
	assert.Contains(t, e.out.String(), "(question 3): uploaded")

	require.NoError(t, e.run("evaluate", "-submission", sid))
	assert.Contains(t, e.out.String(), "evaluated, 5/10 - Graded")

	require.NoError(t, e.run("recheck-status", "-submission", sid))
	assert.Contains(t, e.out.String(), "No recheck requested")

	// Submissions from earlier runs can still be rechecked once graded.
	require.NoError(t, e.run("recheck", "-submission", sid, "-reason", "Check the units"))
	assert.Contains(t, e.out.String(), ": pending")
}

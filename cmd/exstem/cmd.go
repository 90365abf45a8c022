package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"text/tabwriter"

	"golang.org/x/term"

	"github.com/stemsi/exstem-client/internal/app"
	"github.com/stemsi/exstem-client/internal/attempt"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/session"
	"github.com/stemsi/exstem-client/internal/transport"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	app *app.App
	out io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  login -username USERNAME                       - sign in; the password is prompted")
	fmt.Fprintln(cli.out, "  register -username U -email E -name N -role R  - create an account; the password is prompted")
	fmt.Fprintln(cli.out, "  logout                                         - sign out everywhere on this machine")
	fmt.Fprintln(cli.out, "  whoami                                         - show the signed-in user")
	fmt.Fprintln(cli.out, "  sets [-id ID]                                  - list question sets or show one")
	fmt.Fprintln(cli.out, "  submit -set ID -answer QID=FILE.pdf ... [-evaluate]")
	fmt.Fprintln(cli.out, "                                                 - upload answers, one outcome per question")
	fmt.Fprintln(cli.out, "  evaluate -submission ID                        - request grading")
	fmt.Fprintln(cli.out, "  result -submission ID                          - show a submission")
	fmt.Fprintln(cli.out, "  recheck -submission ID -reason TEXT            - ask for a review of a graded answer")
	fmt.Fprintln(cli.out, "  recheck-status -submission ID                  - show the state of a review")
}

// answerFlags collects repeated -answer QID=PATH flags in order.
type answerFlags []string

func (a *answerFlags) String() string { return strings.Join(*a, ",") }

func (a *answerFlags) Set(v string) error {
	if qid, path, ok := strings.Cut(v, "="); !ok || qid == "" || path == "" {
		return fmt.Errorf("answer must be QID=PATH (got %q)", v)
	}
	*a = append(*a, v)
	return nil
}

func (cli *commandLine) run(ctx context.Context, args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	loginCmd := flag.NewFlagSet("login", flag.ContinueOnError)
	loginUsername := loginCmd.String("username", "", "The account's username. The password will be prompted next.")

	registerCmd := flag.NewFlagSet("register", flag.ContinueOnError)
	registerUsername := registerCmd.String("username", "", "Username for the new account.")
	registerEmail := registerCmd.String("email", "", "Email address.")
	registerName := registerCmd.String("name", "", "Full name.")
	registerRole := registerCmd.String("role", string(model.RoleStudent), "student or teacher.")

	setsCmd := flag.NewFlagSet("sets", flag.ContinueOnError)
	setsID := setsCmd.String("id", "", "Show the questions of one set.")

	submitCmd := flag.NewFlagSet("submit", flag.ContinueOnError)
	submitSet := submitCmd.String("set", "", "Question set ID.")
	submitEvaluate := submitCmd.Bool("evaluate", false, "Request grading for every uploaded answer.")
	var submitAnswers answerFlags
	submitCmd.Var(&submitAnswers, "answer", "QID=PATH of a PDF answer. Repeat for each question.")

	submissionCmd := func(name string) (*flag.FlagSet, *string) {
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		return fs, fs.String("submission", "", "Submission ID.")
	}
	evaluateCmd, evaluateID := submissionCmd("evaluate")
	resultCmd, resultID := submissionCmd("result")
	recheckCmd, recheckID := submissionCmd("recheck")
	recheckReason := recheckCmd.String("reason", "", "What should be reviewed.")
	statusCmd, statusID := submissionCmd("recheck-status")

	for _, fs := range []*flag.FlagSet{loginCmd, registerCmd, setsCmd, submitCmd, evaluateCmd, resultCmd, recheckCmd, statusCmd} {
		fs.SetOutput(cli.out)
	}

	switch args[1] {
	case "login":
		if err := loginCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *loginUsername == "" {
			loginCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		return cli.login(ctx, *loginUsername, pwd)

	case "register":
		if err := registerCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *registerUsername == "" || *registerEmail == "" || *registerName == "" {
			registerCmd.Usage()
			return errHelp
		}
		pwd, err := cli.promptPassword()
		if err != nil {
			return err
		}
		return cli.register(ctx, model.RegisterRequest{
			Username: *registerUsername,
			Password: pwd,
			Email:    *registerEmail,
			FullName: *registerName,
			Role:     model.Role(*registerRole),
		})

	case "logout":
		return cli.logout(ctx)

	case "whoami":
		return cli.whoami()

	case "sets":
		if err := setsCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *setsID != "" {
			return cli.showSet(ctx, *setsID)
		}
		return cli.listSets(ctx)

	case "submit":
		if err := submitCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *submitSet == "" || len(submitAnswers) == 0 {
			submitCmd.Usage()
			return errHelp
		}
		return cli.submit(ctx, *submitSet, submitAnswers, *submitEvaluate)

	case "evaluate":
		if err := evaluateCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *evaluateID == "" {
			evaluateCmd.Usage()
			return errHelp
		}
		return cli.evaluate(ctx, *evaluateID)

	case "result":
		if err := resultCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resultID == "" {
			resultCmd.Usage()
			return errHelp
		}
		return cli.result(ctx, *resultID)

	case "recheck":
		if err := recheckCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *recheckID == "" {
			recheckCmd.Usage()
			return errHelp
		}
		return cli.recheck(ctx, *recheckID, *recheckReason)

	case "recheck-status":
		if err := statusCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *statusID == "" {
			statusCmd.Usage()
			return errHelp
		}
		return cli.recheckStatus(ctx, *statusID)

	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) promptPassword() (string, error) {
	fmt.Fprint(cli.out, "Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		return "", errors.New("password is required")
	}
	return string(pwd), nil
}

func (cli *commandLine) login(ctx context.Context, username, password string) error {
	sess, err := cli.app.Auth.Login(ctx, model.LoginRequest{Username: username, Password: password})
	switch {
	case errors.Is(err, session.ErrStorageDegraded):
		fmt.Fprintln(cli.out, "warning: session could not be saved and ends with this command")
	case err != nil:
		return err
	}
	fmt.Fprintf(cli.out, "Signed in as %s (%s)\n", sess.UserID, sess.Role)
	return nil
}

func (cli *commandLine) register(ctx context.Context, req model.RegisterRequest) error {
	resp, err := cli.app.Auth.Register(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Account %s created. Sign in with: login -username %s\n", resp.ID, req.Username)
	return nil
}

func (cli *commandLine) logout(ctx context.Context) error {
	if err := cli.app.Auth.Logout(ctx); err != nil {
		fmt.Fprintf(cli.out, "warning: %v\n", err)
	}
	fmt.Fprintln(cli.out, "Signed out")
	return nil
}

func (cli *commandLine) whoami() error {
	sess, ok := cli.app.Sessions.GetSession()
	if !ok {
		fmt.Fprintln(cli.out, "Not signed in")
		return nil
	}
	fmt.Fprintf(cli.out, "%s (%s)\n", sess.UserID, sess.Role)
	return nil
}

func (cli *commandLine) listSets(ctx context.Context) error {
	sets, err := cli.app.Questions.ListQuestionSets(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tSUBJECT")
	for _, s := range sets {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Title, s.SubjectName)
	}
	return w.Flush()
}

func (cli *commandLine) showSet(ctx context.Context, id string) error {
	set, err := cli.app.Questions.GetQuestionSet(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s: %s\n", set.ID, set.Title)
	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "QUESTION\tMARKS\tTEXT")
	for _, q := range set.Questions {
		fmt.Fprintf(w, "%s\t%g\t%s\n", q.ID(), q.Marks, q.PromptText)
	}
	return w.Flush()
}

func (cli *commandLine) submit(ctx context.Context, setID string, answers answerFlags, evaluate bool) error {
	o, err := cli.app.Attempts.Start(ctx, setID)
	if err != nil {
		return err
	}

	for _, a := range answers {
		qid, path, _ := strings.Cut(a, "=")
		f, err := attempt.ReadCandidateFile(qid, path, cli.app.Config.MaxUploadBytes)
		if err != nil {
			return fmt.Errorf("question %s: %w", qid, err)
		}
		if err := o.SetCandidate(qid, f); err != nil {
			return fmt.Errorf("question %s: %w", qid, err)
		}
	}

	res, err := o.SubmitBatch(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "QUESTION\tSTATUS\tSUBMISSION\tDETAIL")
	for _, out := range res.Outcomes {
		detail := out.Detail
		if out.FailureKind != "" {
			detail = strings.TrimSpace(string(out.FailureKind) + ": " + detail)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", out.QuestionID, out.Status, out.SubmissionID, detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(cli.out, res.Summary())

	if evaluate {
		for _, out := range res.Submitted() {
			rec, err := o.Evaluate(ctx, out.SubmissionID)
			if err != nil {
				fmt.Fprintf(cli.out, "question %s: evaluation failed: %v\n", out.QuestionID, err)
				continue
			}
			cli.printRecord(rec)
		}
	}

	if len(res.Failed()) > 0 {
		return fmt.Errorf("%d answer(s) were not accepted; run submit again for those questions", len(res.Failed()))
	}
	return nil
}

// evaluate grades a submission from an earlier run; this process holds no
// attempt for it, so the grading service is asked directly.
func (cli *commandLine) evaluate(ctx context.Context, submissionID string) error {
	res, err := cli.app.Grading.Evaluate(ctx, submissionID)
	if err != nil {
		return err
	}
	if res.Failed() {
		return fmt.Errorf("evaluation of submission %s failed: %s", submissionID, res.Feedback)
	}
	rec, err := cli.app.Grading.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	cli.printRecord(rec)
	return nil
}

func (cli *commandLine) result(ctx context.Context, submissionID string) error {
	rec, err := cli.app.Attempts.LookupSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	cli.printRecord(rec)
	return nil
}

func (cli *commandLine) printRecord(rec model.SubmissionRecord) {
	fmt.Fprintf(cli.out, "Submission %s (question %s): %s", rec.SubmissionID, rec.QuestionID, rec.Status)
	if rec.ResultMarks != nil {
		fmt.Fprintf(cli.out, ", %g/%g", *rec.ResultMarks, rec.MaxMarks)
	}
	if rec.Feedback != "" {
		fmt.Fprintf(cli.out, " - %s", rec.Feedback)
	}
	fmt.Fprintln(cli.out)
}

func (cli *commandLine) recheck(ctx context.Context, submissionID, reason string) error {
	rr, err := cli.app.Rechecks.RequestRecheck(ctx, submissionID, reason)
	if err != nil {
		return err
	}
	cli.printRecheck(rr)
	return nil
}

func (cli *commandLine) recheckStatus(ctx context.Context, submissionID string) error {
	st, err := cli.app.Grading.RecheckStatus(ctx, submissionID)
	if transport.IsStatus(err, http.StatusNotFound) {
		fmt.Fprintf(cli.out, "No recheck requested for submission %s\n", submissionID)
		return nil
	}
	if err != nil {
		return err
	}
	rr := model.RecheckRequest{SubmissionID: submissionID, Status: model.RecheckPending}
	if st.Resolved() {
		rr.Status = model.RecheckResolved
		rr.ResolutionNote = st.ResolutionNote
		rr.ResolvedScore = st.Score()
	}
	cli.printRecheck(rr)
	return nil
}

func (cli *commandLine) printRecheck(rr model.RecheckRequest) {
	fmt.Fprintf(cli.out, "Recheck for submission %s: %s", rr.SubmissionID, rr.Status)
	if rr.ResolvedScore != nil {
		fmt.Fprintf(cli.out, ", new score %g", *rr.ResolvedScore)
	}
	if rr.ResolutionNote != "" {
		fmt.Fprintf(cli.out, " - %s", rr.ResolutionNote)
	}
	fmt.Fprintln(cli.out)
}

// describe turns an error into the line shown to the user. Server text is
// preferred because it says what the backend actually objected to.
func describe(err error) string {
	var apiErr *transport.APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized:
		return "rejected by server: " + transport.Detail(err)
	case errors.Is(err, transport.ErrUnauthorized), errors.Is(err, transport.ErrSessionEnded):
		return "session ended; sign in again with: login -username USERNAME"
	case errors.As(err, &apiErr):
		return transport.Detail(err)
	}
	return err.Error()
}

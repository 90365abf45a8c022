// Package app wires the client core together for the portal and the CLI.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/attempt"
	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/guard"
	"github.com/stemsi/exstem-client/internal/handler"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/recheck"
	"github.com/stemsi/exstem-client/internal/router"
	"github.com/stemsi/exstem-client/internal/service"
	"github.com/stemsi/exstem-client/internal/session"
	"github.com/stemsi/exstem-client/internal/storage"
	"github.com/stemsi/exstem-client/internal/transport"
	"github.com/stemsi/exstem-client/internal/worker"
	ws "github.com/stemsi/exstem-client/internal/websocket"
)

// App holds every long-lived component. All of them share one session
// store; nothing else holds session state.
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	Storage   storage.Storage
	Sessions  *session.Store
	Client    *transport.Client
	Auth      *service.AuthService
	Questions *service.QuestionService
	Grading   *service.GradingService
	Attempts  *attempt.Manager
	Rechecks  *recheck.Workflow
	Guard     *guard.Guard
}

// New opens the configured session storage and builds the App.
func New(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*App, error) {
	st, err := storage.Open(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("open session storage: %w", err)
	}
	a := Build(cfg, st, nil, log)
	if _, err := a.Sessions.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("Could not restore saved session")
	}
	return a, nil
}

// Build assembles an App over st. httpClient may be nil.
func Build(cfg *config.Config, st storage.Storage, httpClient *http.Client, log zerolog.Logger) *App {
	store := session.NewStore(st, log)
	client := transport.NewClient(cfg.APIBaseURL, cfg.APITimeout, store, httpClient, log)
	questions := service.NewQuestionService(client)
	grading := service.NewGradingService(client)

	attempts := attempt.NewManager(questions, grading, grading, attempt.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		Concurrency:    cfg.UploadConcurrency,
	}, log)

	return &App{
		Config:    cfg,
		Log:       log,
		Storage:   st,
		Sessions:  store,
		Client:    client,
		Auth:      service.NewAuthService(client, store, log),
		Questions: questions,
		Grading:   grading,
		Attempts:  attempts,
		Rechecks:  recheck.NewWorkflow(attempts, grading, log),
		Guard:     guard.New(store, guard.DefaultPaths()),
	}
}

// Handler builds the portal's HTTP handler. Events are pushed through hub.
func (a *App) Handler(hub *ws.Hub) *gin.Engine {
	handlers := &router.Handlers{
		Auth:     handler.NewAuthHandler(a.Auth, a.Sessions, a.Guard, a.Log),
		Question: handler.NewQuestionHandler(a.Questions),
		Attempt:  handler.NewAttemptHandler(a.Attempts, a.Config.MaxUploadBytes, a.Log),
		Recheck:  handler.NewRecheckHandler(a.Rechecks),
		WS:       handler.NewWSHandler(hub, a.Sessions, a.Log, a.Config.AllowedOrigins),
	}
	return router.SetupRouter(a.Guard, a.Sessions, handlers, a.Config)
}

// StartBackground follows session changes made by other processes, forwards
// every change to hub and polls pending rechecks. Everything stops with
// ctx. The returned func unsubscribes the session listener.
func (a *App) StartBackground(ctx context.Context, hub *ws.Hub) (func(), error) {
	unsubscribe := a.Sessions.OnSessionChange(func(ev model.SessionEvent) {
		hub.Broadcast(ws.NewSessionResponse(ev))
		if !ev.Present {
			// Attempts and rechecks belong to the user who just left.
			a.Attempts.Reset()
			a.Rechecks.Reset()
		}
	})

	if err := a.Sessions.Watch(ctx); err != nil {
		unsubscribe()
		return nil, fmt.Errorf("watch session storage: %w", err)
	}

	poller := worker.NewRecheckWorker(a.Rechecks, a.Config.RecheckPollInterval, func(r model.RecheckRequest) {
		hub.Broadcast(ws.RecheckResolvedResponse{Event: ws.EventRecheckResolved, Recheck: r})
	}, a.Log)
	go poller.Start(ctx)

	return unsubscribe, nil
}

// Close releases the session storage.
func (a *App) Close() error {
	return a.Storage.Close()
}

package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-client/internal/config"
	"github.com/stemsi/exstem-client/internal/guard"
	"github.com/stemsi/exstem-client/internal/handler"
	"github.com/stemsi/exstem-client/internal/middleware"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/response"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth     *handler.AuthHandler
	Question *handler.QuestionHandler
	Attempt  *handler.AttemptHandler
	Recheck  *handler.RecheckHandler
	WS       *handler.WSHandler
}

// LoginLimit is how many sign-in attempts one IP may make per minute.
const LoginLimit = 30

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	g *guard.Guard,
	sessions guard.SessionReader,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.New()
	router.Use(gin.Recovery())

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(middleware.Brotli())
	router.Use(middleware.NoStore())

	public := middleware.Guard(g, sessions, guard.Public)
	publicOnly := middleware.Guard(g, sessions, guard.PublicOnly)
	signedIn := middleware.Guard(g, sessions, guard.RequiresSession)
	studentOnly := middleware.RequireRole(model.RoleStudent)

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// ─── 1. Views ──────────────────────────────────────────────────────
	router.GET("/login", publicOnly, handlers.Auth.LoginPage)
	router.GET("/dashboard", signedIn, handlers.Attempt.Dashboard)

	// ─── 2. Auth Group ─────────────────────────────────────────────────
	loginLimiter := middleware.NewRateLimiter(LoginLimit, time.Minute)
	auth := router.Group("/api/auth")
	{
		auth.POST("/login", publicOnly, loginLimiter.Middleware(), handlers.Auth.Login)
		auth.POST("/register", publicOnly, handlers.Auth.Register)
		auth.POST("/logout", signedIn, handlers.Auth.Logout)
		auth.GET("/session", public, handlers.Auth.GetSession)
	}

	// ─── 3. Student API (session required) ─────────────────────────────
	api := router.Group("/api")
	api.Use(signedIn)
	{
		api.GET("/question-sets", handlers.Question.ListQuestionSets)
		api.GET("/question-sets/:id", handlers.Question.GetQuestionSet)

		attempts := api.Group("/attempts", studentOnly)
		attempts.POST("", handlers.Attempt.StartAttempt)
		attempts.GET("/:attempt_id", handlers.Attempt.GetAttempt)
		attempts.PUT("/:attempt_id/answers/:question_id", handlers.Attempt.SetAnswer)
		attempts.DELETE("/:attempt_id/answers/:question_id", handlers.Attempt.ClearAnswer)
		attempts.POST("/:attempt_id/submit", handlers.Attempt.Submit)

		submissions := api.Group("/submissions", studentOnly)
		submissions.GET("/:submission_id", handlers.Attempt.GetSubmission)
		submissions.POST("/:submission_id/evaluate", handlers.Attempt.Evaluate)
		submissions.POST("/:submission_id/recheck", handlers.Recheck.RequestRecheck)
		submissions.GET("/:submission_id/recheck", handlers.Recheck.GetRecheck)

		api.GET("/rechecks/pending", studentOnly, handlers.Recheck.ListPending)
	}

	// ─── 4. WebSocket ──────────────────────────────────────────────────
	// Public so a signed-out view still learns about a sign-in elsewhere.
	router.GET("/ws/session", handlers.WS.SessionStream)

	return router
}

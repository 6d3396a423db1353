package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func newRouter(logger *zap.Logger, deps Deps) http.Handler {
	h := &handler{
		submissions:   deps.Submissions,
		assignments:   deps.Assignments,
		achievements:  deps.Achievements,
		notifications: deps.Notifications,
		logger:        logger,
	}
	wh := &webhookHandler{
		dispatcher: deps.Webhooks,
		secret:     []byte(deps.WebhookSecret),
		logger:     logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(zapRequestLogger(logger))

	r.Get("/health", h.handleHealth)
	r.Post("/webhooks/github", wh.handleGitHub)

	r.Route("/api", func(r chi.Router) {
		r.Use(requireAuth(deps.Tokens))

		r.Route("/submissions", func(r chi.Router) {
			r.Post("/", h.handleSubmissionCreate)
			r.Get("/{id}", h.handleSubmissionGet)
		})

		r.Route("/assignments", func(r chi.Router) {
			r.Get("/", h.handleAssignmentList)
			r.Post("/{id}/accept", h.handleAssignmentAccept)
			r.Post("/{id}/decline", h.handleAssignmentDecline)
			r.Post("/{id}/complete", h.handleAssignmentComplete)
		})

		r.Route("/achievements", func(r chi.Router) {
			r.Get("/", h.handleAchievementList)
			r.Get("/progress", h.handleAchievementProgress)
		})

		r.Get("/notifications", h.handleNotificationList)
	})

	return r
}

func zapRequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info(
				"http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

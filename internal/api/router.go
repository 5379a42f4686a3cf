package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter assembles the middleware stack and the /api/v1 route
// tree. Door-facing routes stay unauthenticated (controllers prove
// themselves with the short token itself); the admin surface sits
// behind requireAdmin.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.withRequestID)
	r.Use(s.withRequestLog)
	r.Use(s.withRecovery)
	r.Use(s.withCORS)
	r.Use(s.withBodyLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/system/health", s.handleSystemHealth)

		// Phone-facing: issuance is rate limited per credential, the
		// status poll is keyed by the token itself.
		r.Route("/tokens", func(r chi.Router) {
			r.Post("/", s.handleIssueToken)
			r.Get("/{token}/status", s.handleTokenStatus)
		})

		// Door controllers attach sensor readings to this call.
		r.Post("/access/validate", s.handleValidate)

		r.Post("/admin/login", s.handleAdminLogin)

		// The feed authenticates via single-use ticket inside the
		// handler, so it sits outside the admin group.
		r.Get("/admin/events/feed", s.handleEventsFeed)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)

			r.Route("/admin/credentials", func(r chi.Router) {
				r.Get("/", s.handleListCredentials)
				r.Post("/", s.handleEnrollCredential)
				r.Delete("/{identity}", s.handleRevokeCredential)
			})

			r.Get("/admin/events", s.handleListEvents)
			r.Post("/admin/events/ticket", s.handleFeedTicket)
		})
	})

	return r
}

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RouterConfig struct {
	// GenerateRateLimit caps generate calls per user per minute. 0 disables.
	GenerateRateLimit int
}

func NewRouter(h *Handlers, auth *Authenticator, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/ping", PingHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/ratings/{username}", h.RatingsHandler)
		r.Post("/accounts/letterboxd", h.ConnectHandler)

		r.Get("/browse", h.BrowseHandler)
		r.With(generateLimiter(cfg.GenerateRateLimit)).Post("/browse/generate", h.GenerateHandler)
		r.Post("/browse/advance", h.AdvanceHandler)

		r.Get("/suggestions", h.SuggestionsHandler)
		r.Get("/posters", h.PosterHandler)
	})

	return r
}

func generateLimiter(perMinute int) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(perMinute, time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return UserID(r.Context()), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, r, http.StatusTooManyRequests, "too many generate requests")
		}),
	)
}

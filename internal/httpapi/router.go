// Package httpapi serves the read surface of the feed pipeline.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/hivemsg/feeds-api/internal/auth"
	"github.com/hivemsg/feeds-api/internal/feed"
)

// FeedReader is the slice of the feed service the read API needs.
type FeedReader interface {
	GetUserEntries(ctx context.Context, userID uuid.UUID, cursor *uuid.UUID) (feed.UserEntriesPage, error)
}

// Server holds dependencies for HTTP handlers.
type Server struct {
	DB    *pgxpool.Pool
	Feeds FeedReader
}

// Routes creates the HTTP router.
func (s *Server) Routes(jwt auth.JWTCfg) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check (unauthenticated)
	r.Get("/healthz", s.Health)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(jwt))

		r.Get("/v1/users/{userID}/entries", s.GetUserEntries)
	})

	log.Info().Msg("HTTP routes registered")
	return r
}

// Health reports liveness, including a database ping.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if s.DB != nil {
		if err := s.DB.Ping(r.Context()); err != nil {
			log.Error().Err(err).Msg("health check db ping failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MikeSquared-Agency/herald/internal/store"
)

// DigestStore is the slice of *store.Store the API reads from. Nil when
// herald runs without a database.
type DigestStore interface {
	LatestDigest(ctx context.Context) (*store.StoredDigest, error)
	RecentDigests(ctx context.Context, limit int) ([]store.StoredDigest, error)
}

type Server struct {
	router   *chi.Mux
	port     int
	apiToken string
	db       DigestStore

	mu        sync.Mutex
	lastRunAt time.Time
	lastPath  string
}

func NewServer(port int, apiToken string, db DigestStore) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		apiToken: apiToken,
		db:       db,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/herald/status", s.status)
	router.Route("/api/v1/herald/digests", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(apiToken))
		r.Get("/", s.listDigests)
		r.Get("/latest", s.latestDigest)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

// RecordRun lets the orchestrator surface the last successful run in status.
func (s *Server) RecordRun(at time.Time, outputPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRunAt = at
	s.lastPath = outputPath
}

// BearerAuthMiddleware rejects requests without the expected bearer token.
// An empty token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" {
				got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
				if got != token {
					http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	lastRunAt, lastPath := s.lastRunAt, s.lastPath
	s.mu.Unlock()

	body := map[string]any{
		"agent":  "herald",
		"status": "ok",
	}
	if !lastRunAt.IsZero() {
		body["last_run_at"] = lastRunAt.UTC().Format(time.RFC3339)
		body["last_output"] = lastPath
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) listDigests(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, `{"error":"no database configured"}`, http.StatusServiceUnavailable)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	digests, err := s.db.RecentDigests(r.Context(), limit)
	if err != nil {
		slog.Error("list digests failed", "error", err)
		http.Error(w, `{"error":"query failed"}`, http.StatusInternalServerError)
		return
	}
	if digests == nil {
		digests = []store.StoredDigest{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"digests": digests,
		"count":   len(digests),
	})
}

func (s *Server) latestDigest(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		http.Error(w, `{"error":"no database configured"}`, http.StatusServiceUnavailable)
		return
	}

	d, err := s.db.LatestDigest(r.Context())
	if errors.Is(err, store.ErrNoDigests) {
		http.Error(w, `{"error":"no digests yet"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("latest digest failed", "error", err)
		http.Error(w, `{"error":"query failed"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(d)
}

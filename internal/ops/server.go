// Package ops exposes the operational surface: health, dead letter
// inspection, and manual replay. Everything except health requires the
// static bearer token.
package ops

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"sync_relay/internal/domain"
)

// Replayer runs one replay pass on demand.
type Replayer interface {
	RunOnce(ctx context.Context) (int, error)
}

type DeadLetterReader interface {
	ListFailed(ctx context.Context, limit int) ([]domain.DeadLetterEntry, error)
	CountFailed(ctx context.Context) (int, error)
}

const defaultListLimit = 100

type Server struct {
	replayer    Replayer
	deadLetters DeadLetterReader
	authToken   string
	logger      *slog.Logger
}

func NewServer(replayer Replayer, deadLetters DeadLetterReader, authToken string, logger *slog.Logger) *Server {
	return &Server{
		replayer:    replayer,
		deadLetters: deadLetters,
		authToken:   authToken,
		logger:      logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /ops/deadletters", s.authorized(s.handleListDeadLetters))
	mux.HandleFunc("POST /ops/replay", s.authorized(s.handleReplay))
	return mux
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// An unset token never authorizes: two empty strings compare equal,
		// which would leave the surface wide open on a missing config value.
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if s.authToken == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = parsed
	}

	entries, err := s.deadLetters.ListFailed(r.Context(), limit)
	if err != nil {
		s.logger.Error("list dead letters failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
		return
	}

	total, err := s.deadLetters.CountFailed(r.Context())
	if err != nil {
		s.logger.Error("count dead letters failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"entries": toViews(entries),
	})
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	replayed, err := s.replayer.RunOnce(r.Context())
	if err != nil {
		s.logger.Error("manual replay failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "replay failed"})
		return
	}

	s.logger.Info("manual replay completed", "replayed", replayed)
	writeJSON(w, http.StatusOK, map[string]int{"replayed": replayed})
}

// deadLetterView keeps raw payloads out of list responses; operators get
// the metadata they need to decide whether to replay.
type deadLetterView struct {
	ID        string  `json:"id"`
	Reason    string  `json:"reason"`
	LastError *string `json:"last_error,omitempty"`
	Retries   int     `json:"retries"`
	Status    string  `json:"status"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

func toViews(entries []domain.DeadLetterEntry) []deadLetterView {
	views := make([]deadLetterView, 0, len(entries))
	for _, e := range entries {
		views = append(views, deadLetterView{
			ID:        e.ID.String(),
			Reason:    e.Reason,
			LastError: e.LastError,
			Retries:   e.Retries,
			Status:    e.Status,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt: e.UpdatedAt.UTC().Format(time.RFC3339),
		})
	}
	return views
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

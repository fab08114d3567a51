package solclash

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Server exposes the leaderboard over HTTP: a public read endpoint, an
// authenticated manual-refresh endpoint, and the public config subset the
// front end polls.
type Server struct {
	cfg    Config
	store  *ResultStore
	logger Logger
}

// NewServer constructs the HTTP handler.
func NewServer(cfg Config, store *ResultStore, logger Logger) http.Handler {
	s := &Server{cfg: cfg, store: store, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "solclash")
	})
	mux.HandleFunc("/api/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("/api/update", s.handleUpdate)
	mux.HandleFunc("/api/config", s.handlePublicConfig)

	return withResponseMetrics(mux)
}

// leaderboardResponse augments the persisted document with cache metadata.
type leaderboardResponse struct {
	*Document
	FileAgeSeconds      int64  `json:"file_age_seconds"`
	CacheTimeoutSeconds int64  `json:"cache_timeout_seconds"`
	IsStale             bool   `json:"is_stale"`
	LastModified        string `json:"last_modified"`
	Warning             string `json:"warning,omitempty"`
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	doc, err := s.store.GetOrRefresh(r.Context(), s.cfg.CacheTimeout)
	if err != nil {
		s.logf("leaderboard read failed: %v", err)
		if _, _, rerr := s.store.Read(); errors.Is(rerr, ErrNoDocument) {
			writeJSONError(w, http.StatusNotFound, "no leaderboard data available yet")
			return
		} else if rerr != nil {
			writeJSONError(w, http.StatusInternalServerError, "stored leaderboard document is corrupt")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "leaderboard refresh failed")
		return
	}

	resp := leaderboardResponse{
		Document:            doc,
		CacheTimeoutSeconds: int64(s.cfg.CacheTimeout / time.Second),
	}
	if _, age, err := s.store.Read(); err == nil {
		resp.FileAgeSeconds = int64(age / time.Second)
		resp.IsStale = age >= s.cfg.CacheTimeout
		resp.LastModified = doc.Updated.Format(time.RFC3339)
		if age > 2*s.cfg.CacheTimeout {
			resp.Warning = fmt.Sprintf("leaderboard data is %ds old; refresh appears to be failing", resp.FileAgeSeconds)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.authorized(r) {
		s.logf("unauthorized update attempt from %s", r.RemoteAddr)
		writeJSONError(w, http.StatusUnauthorized, "invalid or missing bearer token")
		return
	}

	doc, err := s.store.ForceRefresh(r.Context())
	if err != nil {
		s.logf("manual refresh failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

// authorized compares the bearer token against the configured secret in
// constant time. An empty configured secret locks the endpoint.
func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.UpdateToken == "" {
		return false
	}
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.UpdateToken)) == 1
}

func (s *Server) handlePublicConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	public := map[string]any{
		"update_interval_seconds": int64(s.cfg.CacheTimeout / time.Second),
		"challenge_end_date":      s.cfg.ChallengeEndDate,
	}
	writeJSON(w, http.StatusOK, public)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) logf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Printf(format, args...)
}

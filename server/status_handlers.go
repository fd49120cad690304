package server

import (
	"net/http"
	"time"

	"github.com/jrsteele09/go-guest-auth/correlation"
	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/rs/zerolog/log"
)

type sessionStatusResponse struct {
	Status    correlation.Status `json:"status"`
	CreatedAt *time.Time         `json:"createdAt,omitempty"`
	ExpiresAt *time.Time         `json:"expiresAt,omitempty"`
}

// SessionStatusHandler lets a page poll a redirect flow it cannot observe
// directly, e.g. when the sign-in link was opened on another device.
func (s *Server) SessionStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := s.services.Correlations.Get(r.Context(), r.PathValue("session_id"))
		if errors.Is(err, errors.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, sessionStatusResponse{Status: correlation.StatusExpired})
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("failed to load correlation")
			writeJSONError(w, "unavailable", "status is temporarily unavailable", http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, http.StatusOK, sessionStatusResponse{
			Status:    rec.Status,
			CreatedAt: &rec.CreatedAt,
			ExpiresAt: &rec.ExpiresAt,
		})
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "ok",
			"machines": s.machines.Len(),
		})
	}
}

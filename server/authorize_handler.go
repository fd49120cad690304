package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-guest-auth/correlation"
	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/jrsteele09/go-guest-auth/server/authflowrepo"
	"github.com/rs/zerolog/log"
)

const deliveryEmail = "email"

type authorizeResponse struct {
	SessionID string             `json:"sessionId"`
	Status    correlation.Status `json:"status"`
	ExpiresAt time.Time          `json:"expiresAt"`
	Reused    bool               `json:"reused,omitempty"`
	Delivery  string             `json:"delivery,omitempty"`
}

// AuthorizeHandler starts the redirect flow for the signed in guest. The
// provider session is bound to the guest by a correlation record carrying a
// fresh conversation id; the guest is then redirected to the provider or, with
// delivery=email, sent the sign-in link.
func (s *Server) AuthorizeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, session, ok := s.loginSession(r)
		if !ok {
			writeJSONError(w, "login_required", "verify your email address first", http.StatusUnauthorized)
			return
		}
		delivery := r.FormValue("delivery")
		if delivery == deliveryEmail && s.services.Mailer == nil {
			writeJSONError(w, "invalid_request", "email delivery is not available", http.StatusBadRequest)
			return
		}

		authz, err := s.services.Identity.StartAuthorization(r.Context(), session.Identifier, s.config.GetCallbackURL())
		if err != nil {
			log.Warn().Err(err).Msg("failed to start authorization")
			writeKindError(w, err)
			return
		}

		rec, created, err := s.services.Correlations.Create(r.Context(), authz.SessionID, uuid.New().String(), session.Identifier)
		if err != nil {
			log.Error().Err(err).Str("session_id", authz.SessionID).Msg("failed to record authorization")
			writeKindError(w, err)
			return
		}
		if !created {
			// A redirect for this guest is already in flight.
			writeJSON(w, http.StatusOK, authorizeResponse{
				SessionID: rec.SessionID,
				Status:    rec.Status,
				ExpiresAt: rec.ExpiresAt,
				Reused:    true,
			})
			return
		}
		if err := s.services.AuthFlows.Upsert(r.Context(), rec.SessionID, &authflowrepo.AuthFlowState{
			SessionURI: authz.SessionURI,
			Delivery:   delivery,
			CreatedAt:  rec.CreatedAt,
			ExpiresAt:  rec.ExpiresAt,
		}); err != nil {
			log.Error().Err(err).Str("session_id", rec.SessionID).Msg("failed to store authorization flow")
			if err := s.services.Correlations.Fail(r.Context(), rec.SessionID); err != nil {
				log.Debug().Err(err).Msg("failed to release correlation")
			}
			writeJSONError(w, "server_error", "something went wrong", http.StatusInternalServerError)
			return
		}

		if delivery == deliveryEmail {
			if err := s.services.Mailer.SendSignInLink(r.Context(), session.Identifier, authz.AuthorizationURL, rec.ExpiresAt); err != nil {
				log.Error().Err(err).Msg("failed to send sign-in link")
				writeJSONError(w, "delivery_failed", "the sign-in link could not be sent", http.StatusBadGateway)
				return
			}
			writeJSON(w, http.StatusAccepted, authorizeResponse{
				SessionID: rec.SessionID,
				Status:    rec.Status,
				ExpiresAt: rec.ExpiresAt,
				Delivery:  deliveryEmail,
			})
			return
		}
		http.Redirect(w, r, authz.AuthorizationURL, http.StatusSeeOther)
	}
}

// writeKindError maps a classified failure to a response without exposing internals.
func writeKindError(w http.ResponseWriter, err error) {
	switch errors.KindOf(err) {
	case errors.KindInvalidInput, errors.KindInvalidCredentialFormat:
		writeJSONError(w, "invalid_request", "the request could not be processed", http.StatusBadRequest)
	case errors.KindRateLimited:
		writeJSONError(w, "rate_limited", "too many attempts, please wait and try again", http.StatusTooManyRequests)
	case errors.KindIdentityNotFound, errors.KindIdentityMismatch:
		writeJSONError(w, "not_authorized", "please verify your email address again", http.StatusForbidden)
	case errors.KindSessionExpired, errors.KindAlreadyProcessed:
		writeJSONError(w, "session_expired", "please start over", http.StatusConflict)
	case errors.KindNetworkUnavailable:
		writeJSONError(w, "unavailable", "sign-in is temporarily unavailable", http.StatusServiceUnavailable)
	default:
		writeJSONError(w, "server_error", "something went wrong", http.StatusInternalServerError)
	}
}

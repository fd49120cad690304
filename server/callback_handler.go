package server

import (
	"context"
	"net/http"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/go-guest-auth/internal/errors"
	"github.com/jrsteele09/go-guest-auth/internal/metrics"
	"github.com/jrsteele09/go-guest-auth/server/loginsession"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	msgCancelled  = "authentication was cancelled"
	msgAuthFailed = "authentication failed"
	msgStartOver  = "this sign-in link can no longer be used, please start over"
)

// CallbackHandler completes the redirect flow. The caller's identity comes
// from its own login session, never from the URL. Every failure ends on the
// same start over redirect.
func (s *Server) CallbackHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := s.nowFunc()
		ctx, cancel := context.WithTimeout(r.Context(), s.config.GetCallbackBudget())
		defer cancel()

		query := r.URL.Query()
		sessionID := query.Get("session_id")

		if providerError := query.Get("error"); providerError != "" {
			if sessionID != "" {
				if err := s.services.Correlations.Fail(ctx, sessionID); err != nil {
					log.Debug().Err(err).Str("session_id", sessionID).Msg("callback error for unknown or settled session")
				}
				s.forgetFlow(ctx, sessionID)
			}
			log.Info().Str("error", providerError).Str("session_id", sessionID).Msg("provider reported callback error")
			s.observeCallback(start, errors.KindCallbackProviderError.String())
			message := msgAuthFailed
			if providerError == "access_denied" {
				message = msgCancelled
			}
			redirectWithError(w, r, s.config.GetFailureRoute(), message)
			return
		}

		conversationID, err := s.completeCallback(ctx, r, sessionID)
		if err != nil {
			kind := errors.KindOf(err)
			log.Warn().Err(err).Stringer("kind", kind).Str("session_id", sessionID).Msg("callback could not be completed")
			s.observeCallback(start, kind.String())
			redirectWithError(w, r, s.config.GetFailureRoute(), msgStartOver)
			return
		}
		s.observeCallback(start, "completed")
		redirectSuccess(w, r, withQuery(s.config.GetLandingRoute(), "conversation", conversationID))
	}
}

func (s *Server) completeCallback(ctx context.Context, r *http.Request, sessionID string) (string, error) {
	if sessionID == "" {
		return "", errors.New(errors.KindInvalidInput, "missing session id")
	}
	loginSessionID, session, _ := s.loginSession(r)

	rec, err := s.services.Correlations.Complete(ctx, sessionID, session.Identifier)
	if err != nil {
		return "", err
	}
	flow, err := s.services.AuthFlows.Get(ctx, sessionID)
	if errors.Is(err, errors.ErrNotFound) {
		return "", errors.New(errors.KindSessionExpired, "authorization flow not found")
	}
	if err != nil {
		return "", pkgerrors.Wrap(err, "[Server.completeCallback] AuthFlows.Get")
	}
	s.forgetFlow(ctx, sessionID)

	token, err := s.services.Identity.CompleteAuthorization(ctx, flow.SessionURI, session.Identifier)
	if err != nil {
		return "", err
	}
	session.ConversationID = rec.ConversationID
	if err := s.storeTokens(loginSessionID, session, token); err != nil {
		return "", err
	}
	return rec.ConversationID, nil
}

// storeTokens materializes the provider tokens into the caller's login session.
func (s *Server) storeTokens(loginSessionID string, session loginsession.Session, token *oauth2.Token) error {
	session.AccessToken = token.AccessToken
	session.RefreshToken = token.RefreshToken
	session.TokenExpiry = token.Expiry
	if idToken, ok := token.Extra("id_token").(string); ok {
		session.IDToken = idToken
	}

	raw := session.IDToken
	if raw == "" {
		raw = token.AccessToken
	}
	if subject, expiry, err := tokenClaims(raw); err == nil {
		if subject != "" {
			session.Subject = subject
		}
		if session.TokenExpiry.IsZero() {
			session.TokenExpiry = expiry
		}
	}

	if err := s.services.LoginSessions.Upsert(loginSessionID, session); err != nil {
		return pkgerrors.Wrap(err, "[Server.storeTokens] Upsert")
	}
	return nil
}

// tokenClaims reads subject and expiry from a token received directly from
// the provider. The signature is not checked here.
func tokenClaims(raw string) (string, time.Time, error) {
	claims := jwtlib.MapClaims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(raw, claims); err != nil {
		return "", time.Time{}, err
	}
	subject, _ := claims.GetSubject()
	var expiry time.Time
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		expiry = exp.Time
	}
	return subject, expiry, nil
}

func (s *Server) forgetFlow(ctx context.Context, sessionID string) {
	if err := s.services.AuthFlows.Delete(ctx, sessionID); err != nil {
		log.Debug().Err(err).Str("session_id", sessionID).Msg("failed to delete authorization flow")
	}
}

func (s *Server) observeCallback(start time.Time, result string) {
	metrics.CallbackDuration.WithLabelValues(result).Observe(s.nowFunc().Sub(start).Seconds())
}

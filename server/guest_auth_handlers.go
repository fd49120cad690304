package server

import (
	"encoding/json"
	"net/http"

	"github.com/jrsteele09/go-guest-auth/guestauth"
	"github.com/jrsteele09/go-guest-auth/server/loginsession"
	"github.com/rs/zerolog/log"
)

type initiateRequest struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"displayName"`
	Phone       string `json:"phone"`
}

type codeRequest struct {
	Code string `json:"code"`
}

// machine resolves the verification machine of the calling tab.
func (s *Server) machine(w http.ResponseWriter, r *http.Request) (*guestauth.Machine, bool) {
	m, err := s.machines.Get(s.machineKey(w, r))
	if err != nil {
		log.Error().Err(err).Msg("failed to create verification machine")
		writeJSONError(w, "server_error", "verification is unavailable", http.StatusInternalServerError)
		return nil, false
	}
	return m, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 16<<10)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, "invalid_request", "malformed request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) GuestAuthViewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := s.machine(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, m.View())
	}
}

func (s *Server) InitiateAuthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req initiateRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		m, ok := s.machine(w, r)
		if !ok {
			return
		}
		m.SetDetails(guestauth.Details{DisplayName: req.DisplayName, Phone: req.Phone})
		writeJSON(w, http.StatusOK, m.InitiateAuth(r.Context(), req.Identifier))
	}
}

func (s *Server) EnterCodeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req codeRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		m, ok := s.machine(w, r)
		if !ok {
			return
		}
		before := m.View().Step
		view := m.EnterCode(r.Context(), req.Code)
		if before != guestauth.StepAuthenticated && view.Step == guestauth.StepAuthenticated {
			s.startLoginSession(w, r, m)
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) ResendCodeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := s.machine(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, m.ResendCode(r.Context()))
	}
}

func (s *Server) ChangeIdentifierHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := s.machine(w, r)
		if !ok {
			return
		}
		writeJSON(w, http.StatusOK, m.ChangeIdentifier())
	}
}

func (s *Server) SignOutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, ok := s.machine(w, r)
		if !ok {
			return
		}
		view := m.SignOut(r.Context())
		if sessionID, _, found := s.loginSession(r); found {
			if err := s.services.LoginSessions.Delete(sessionID); err != nil {
				log.Warn().Err(err).Msg("failed to delete login session")
			}
		}
		s.ClearLoginSessionCookie(w, r)
		writeJSON(w, http.StatusOK, view)
	}
}

// startLoginSession records the verified guest so the redirect callback can
// later identify the caller from its own cookie.
func (s *Server) startLoginSession(w http.ResponseWriter, r *http.Request, m *guestauth.Machine) {
	result, ok := m.Result()
	if !ok {
		return
	}
	now := s.nowFunc()
	maxAge := s.config.GetMaxSessionAge()
	session := loginsession.Session{
		Identifier:  result.Identifier,
		Subject:     result.Identity.Subject,
		Name:        result.Identity.Name,
		CustomerKey: result.CustomerKey,
		CreatedAt:   now,
		ExpiresAt:   now.Add(maxAge),
	}
	if result.Token != nil {
		session.AccessToken = result.Token.AccessToken
		session.RefreshToken = result.Token.RefreshToken
		session.TokenExpiry = result.Token.Expiry
		if idToken, ok := result.Token.Extra("id_token").(string); ok {
			session.IDToken = idToken
		}
	}

	sessionID := generateRandomString(32)
	if err := s.services.LoginSessions.Upsert(sessionID, session); err != nil {
		log.Error().Err(err).Msg("failed to store login session")
		return
	}
	s.SetLoginSessionCookie(w, sessionID, r, int(maxAge.Seconds()))
}

package server

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-guest-auth/server/loginsession"
	"github.com/rs/zerolog/log"
)

const (
	// loggedInSessionID is the name of the cookie holding the guest login session
	loggedInSessionID = "loggedInSessionId"
	// browserCookieName holds the secret that scopes verification machines to one browser
	browserCookieName = "guest_browser_id"
	// tabHeaderName lets a page keep one conversation per browser tab
	tabHeaderName = "X-Guest-Tab"

	browserIDBytes = 32
)

// generateRandomString creates a random base64url string
func generateRandomString(length int) string {
	b := make([]byte, length)
	rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

func (s *Server) cookieSecure(r *http.Request) bool {
	return s.config.GetSecureCookies() || getScheme(r) == "https"
}

func (s *Server) SetLoginSessionCookie(w http.ResponseWriter, sessionID string, r *http.Request, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     loggedInSessionID,
		Value:    sessionID,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
	})
}

func (s *Server) ClearLoginSessionCookie(w http.ResponseWriter, r *http.Request) {
	s.SetLoginSessionCookie(w, "", r, -1)
}

// machineKey returns the registry key of the calling tab. The key is always
// scoped by the browser cookie; the tab header only selects a tab within that
// browser and never identifies a machine on its own.
func (s *Server) machineKey(w http.ResponseWriter, r *http.Request) string {
	key := s.browserID(w, r)
	if tab := r.Header.Get(tabHeaderName); tab != "" {
		if _, err := uuid.Parse(tab); err == nil {
			key += "/" + tab
		}
	}
	return key
}

// browserID returns the caller's browser secret, issuing one when the cookie
// is missing or malformed.
func (s *Server) browserID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(browserCookieName); err == nil {
		if b, err := base64.RawURLEncoding.DecodeString(c.Value); err == nil && len(b) == browserIDBytes {
			return c.Value
		}
	}
	id := generateRandomString(browserIDBytes)
	http.SetCookie(w, &http.Cookie{
		Name:     browserCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cookieSecure(r),
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// loginSession returns the caller's login session from its own cookie.
func (s *Server) loginSession(r *http.Request) (string, loginsession.Session, bool) {
	c, err := r.Cookie(loggedInSessionID)
	if err != nil || c.Value == "" {
		return "", loginsession.Session{}, false
	}
	session, err := s.services.LoginSessions.Get(c.Value)
	if err != nil {
		return "", loginsession.Session{}, false
	}
	return c.Value, session, true
}

// redirectSuccess redirects after a completed action
func redirectSuccess(w http.ResponseWriter, r *http.Request, path string) {
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// redirectWithError redirects with a guest facing message only
func redirectWithError(w http.ResponseWriter, r *http.Request, path, errorMsg string) {
	http.Redirect(w, r, withQuery(path, "error", errorMsg), http.StatusSeeOther)
}

func withQuery(path, key, value string) string {
	u, err := url.Parse(path)
	if err != nil {
		return path + "?" + url.Values{key: {value}}.Encode()
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeJSONError(w http.ResponseWriter, errorCode, description string, statusCode int) {
	writeJSON(w, statusCode, map[string]string{
		"error":             errorCode,
		"error_description": description,
	})
}

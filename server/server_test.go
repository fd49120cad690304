package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-guest-auth/correlation"
	"github.com/jrsteele09/go-guest-auth/guestauth"
	"github.com/jrsteele09/go-guest-auth/identity"
	"github.com/jrsteele09/go-guest-auth/identity/providerfake"
	"github.com/jrsteele09/go-guest-auth/internal/config"
	"github.com/jrsteele09/go-guest-auth/profiles"
	fakecustomerrepo "github.com/jrsteele09/go-guest-auth/profiles/repofake"
	"github.com/jrsteele09/go-guest-auth/server"
	"github.com/jrsteele09/go-guest-auth/server/loginsession"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	landingRoute = "/booking/guest"
	failureRoute = "/booking/start-over"
)

type testConfig struct {
	config.Config
}

func (testConfig) GetEnv() string                       { return "TEST" }
func (testConfig) GetCallbackURL() string               { return server.RouteCallback }
func (testConfig) GetLandingRoute() string              { return landingRoute }
func (testConfig) GetFailureRoute() string              { return failureRoute }
func (testConfig) GetMaxOTPAttempts() int               { return 3 }
func (testConfig) GetCallbackBudget() time.Duration     { return 2 * time.Second }
func (testConfig) GetMachineIdleTimeout() time.Duration { return time.Minute }
func (testConfig) GetMaxSessionAge() time.Duration      { return time.Hour }
func (testConfig) GetSecureCookies() bool               { return false }
func (testConfig) GetAllowedOrigins() config.AllowedOrigins {
	return config.AllowedOrigins{"https://booking.example.com": struct{}{}}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentLink struct {
	to   string
	link string
}

type recordingMailer struct {
	mu    sync.Mutex
	links []sentLink
}

func (m *recordingMailer) SendSignInLink(ctx context.Context, to, link string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, sentLink{to: to, link: link})
	return nil
}

func (m *recordingMailer) sent() []sentLink {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentLink(nil), m.links...)
}

type testFixture struct {
	provider  *providerfake.FakeProvider
	customers *fakecustomerrepo.FakeCustomerRepo
	store     *correlation.Store
	sessions  *loginsession.CacheLoginSessionRepo
	mailer    *recordingMailer
	clock     *clock
	ts        *httptest.Server
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		provider:  providerfake.NewFakeProvider(),
		customers: fakecustomerrepo.NewFakeCustomerRepo(),
		mailer:    &recordingMailer{},
		clock:     &clock{now: time.Now()},
	}

	adapter, err := identity.NewAdapter(f.provider)
	require.NoError(t, err)
	profileService, err := profiles.NewService(f.customers)
	require.NoError(t, err)
	f.store, err = correlation.NewStore(correlation.NewMemoryBackend(), correlation.WithNowFunc(f.clock.Now))
	require.NoError(t, err)
	f.sessions = loginsession.NewCacheLoginSessionRepo(time.Minute)

	srv, err := server.New(testConfig{Config: config.New()}, server.Services{
		Identity:      adapter,
		Profiles:      profileService,
		Correlations:  f.store,
		LoginSessions: f.sessions,
		Mailer:        f.mailer,
	}, server.WithNowFunc(f.clock.Now), server.WithGatherer(prometheus.NewRegistry()))
	require.NoError(t, err)

	f.ts = httptest.NewServer(srv)
	t.Cleanup(f.ts.Close)
	return f
}

// guest is one browser with its own cookies.
type guest struct {
	t      *testing.T
	f      *testFixture
	client *http.Client
}

func (f *testFixture) newGuest(t *testing.T) *guest {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &guest{
		t: t,
		f: f,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (g *guest) post(path string, body any) *http.Response {
	g.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(g.t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := g.client.Post(g.f.ts.URL+path, "application/json", &buf)
	require.NoError(g.t, err)
	g.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (g *guest) get(path string) *http.Response {
	g.t.Helper()
	resp, err := g.client.Get(g.f.ts.URL + path)
	require.NoError(g.t, err)
	g.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (g *guest) view(resp *http.Response) guestauth.View {
	g.t.Helper()
	require.Equal(g.t, http.StatusOK, resp.StatusCode)
	var v guestauth.View
	require.NoError(g.t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (g *guest) cookie(name string) string {
	u, _ := url.Parse(g.f.ts.URL)
	for _, c := range g.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func (g *guest) signIn(identifier string) guestauth.View {
	g.t.Helper()
	v := g.view(g.post(server.RouteGuestAuthInitiate, map[string]string{"identifier": identifier, "displayName": "Ada Guest"}))
	require.Equal(g.t, guestauth.StepAwaitingCode, v.Step)
	code, ok := g.f.provider.LastCode(identifier)
	require.True(g.t, ok)
	v = g.view(g.post(server.RouteGuestAuthCode, map[string]string{"code": code}))
	require.Equal(g.t, guestauth.StepAuthenticated, v.Step)
	return v
}

// authorize starts the redirect flow and returns the provider redirect location.
func (g *guest) authorize() *url.URL {
	g.t.Helper()
	resp := g.post(server.RouteAuthorize, nil)
	require.Equal(g.t, http.StatusSeeOther, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(g.t, err)
	require.NotEmpty(g.t, location.Query().Get("session_id"))
	return location
}

func requireRedirect(t *testing.T, resp *http.Response, path string) url.Values {
	t.Helper()
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	location, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	require.Equal(t, path, location.Path)
	return location.Query()
}

func (f *testFixture) status(t *testing.T, g *guest, sessionID string) (int, map[string]any) {
	t.Helper()
	resp := g.get("/auth/sessions/" + sessionID)
	body := map[string]any{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestNewValidation(t *testing.T) {
	_, err := server.New(nil, server.Services{})
	require.Error(t, err)
	_, err = server.New(testConfig{Config: config.New()}, server.Services{})
	require.Error(t, err)
}

func TestGuestAuthAPI(t *testing.T) {
	t.Run("new tab starts anonymous", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		v := g.view(g.get(server.RouteGuestAuth))
		require.Equal(t, guestauth.StepAnonymous, v.Step)
		require.False(t, v.CanEnterCode)
		require.NotEmpty(t, g.cookie("guest_browser_id"))
	})

	t.Run("sign in uses the synced customer id and opens a login session", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		v := g.signIn("new@guest.com")

		require.True(t, f.provider.HasIdentity("new@guest.com"))
		require.Equal(t, 1, f.customers.Upserts())
		require.NotEmpty(t, v.CustomerKey)
		require.True(t, v.CanSignOut)

		sessionID := g.cookie("loggedInSessionId")
		require.NotEmpty(t, sessionID)
		session, err := f.sessions.Get(sessionID)
		require.NoError(t, err)
		require.Equal(t, "new@guest.com", session.Identifier)
		require.Equal(t, v.CustomerKey, session.CustomerKey)
		require.NotEqual(t, session.Subject, session.CustomerKey)
		require.Empty(t, session.ConversationID)
	})

	t.Run("wrong code counts an attempt", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		v := g.view(g.post(server.RouteGuestAuthInitiate, map[string]string{"identifier": "guest@example.com"}))
		require.Equal(t, guestauth.StepAwaitingCode, v.Step)

		code, _ := f.provider.LastCode("guest@example.com")
		wrong := "000000"
		if code == wrong {
			wrong = "111111"
		}
		v = g.view(g.post(server.RouteGuestAuthCode, map[string]string{"code": wrong}))
		require.Equal(t, guestauth.StepAwaitingCode, v.Step)
		require.Equal(t, 1, v.Attempts)
		require.NotNil(t, v.Error)
		require.Equal(t, guestauth.ErrorKindAuth, v.Error.Kind)
		require.Empty(t, g.cookie("loggedInSessionId"))
	})

	t.Run("partial code is buffered", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		g.view(g.post(server.RouteGuestAuthInitiate, map[string]string{"identifier": "guest@example.com"}))
		v := g.view(g.post(server.RouteGuestAuthCode, map[string]string{"code": "12a3"}))
		require.Equal(t, guestauth.StepAwaitingCode, v.Step)
		require.Equal(t, "123", v.CodeInput)
		require.Equal(t, 0, v.Attempts)
	})

	t.Run("invalid identifier never reaches the provider", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		v := g.view(g.post(server.RouteGuestAuthInitiate, map[string]string{"identifier": "not-an-email"}))
		require.Equal(t, guestauth.StepAnonymous, v.Step)
		require.NotNil(t, v.Error)
		require.Equal(t, guestauth.ErrorKindValidation, v.Error.Kind)
		require.Equal(t, 0, f.provider.Calls(providerfake.OpRequestCode))
	})

	t.Run("change identifier returns to anonymous", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		g.view(g.post(server.RouteGuestAuthInitiate, map[string]string{"identifier": "guest@example.com"}))
		v := g.view(g.post(server.RouteGuestAuthChangeIdentifier, nil))
		require.Equal(t, guestauth.StepAnonymous, v.Step)
		require.Empty(t, v.PendingIdentifier)
	})

	t.Run("resend issues a new code", func(t *testing.T) {
		f := setupTestFixture(t)
		f.provider.AddIdentity("guest@example.com", "Guest")
		g := f.newGuest(t)
		g.view(g.post(server.RouteGuestAuthInitiate, map[string]string{"identifier": "guest@example.com"}))
		first, _ := f.provider.LastCode("guest@example.com")
		v := g.view(g.post(server.RouteGuestAuthResend, nil))
		require.Equal(t, guestauth.StepAwaitingCode, v.Step)
		require.Equal(t, 2, f.provider.Calls(providerfake.OpRequestCode))

		second, _ := f.provider.LastCode("guest@example.com")
		if first != second {
			v = g.view(g.post(server.RouteGuestAuthCode, map[string]string{"code": first}))
			require.Equal(t, guestauth.StepAwaitingCode, v.Step)
		}
		v = g.view(g.post(server.RouteGuestAuthCode, map[string]string{"code": second}))
		require.Equal(t, guestauth.StepAuthenticated, v.Step)
	})

	t.Run("sign out clears the login session", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		g.signIn("guest@example.com")
		sessionID := g.cookie("loggedInSessionId")

		v := g.view(g.post(server.RouteGuestAuthSignOut, nil))
		require.Equal(t, guestauth.StepAnonymous, v.Step)
		require.Empty(t, g.cookie("loggedInSessionId"))
		_, err := f.sessions.Get(sessionID)
		require.Error(t, err)
	})

	t.Run("tabs are independent", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		g.signIn("guest@example.com")

		req, err := http.NewRequest(http.MethodGet, f.ts.URL+server.RouteGuestAuth, nil)
		require.NoError(t, err)
		req.Header.Set("X-Guest-Tab", "6f1c2a86-8a52-4d5e-9b0e-0c7c1f3f4d21")
		resp, err := g.client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		v := g.view(resp)
		require.Equal(t, guestauth.StepAnonymous, v.Step)
	})

	t.Run("tab header alone cannot select another browser's machine", func(t *testing.T) {
		f := setupTestFixture(t)
		victim := f.newGuest(t)
		victim.signIn("victim@example.com")

		tab := "6f1c2a86-8a52-4d5e-9b0e-0c7c1f3f4d21"
		get := func(g *guest) guestauth.View {
			req, err := http.NewRequest(http.MethodGet, f.ts.URL+server.RouteGuestAuth, nil)
			require.NoError(t, err)
			req.Header.Set("X-Guest-Tab", tab)
			resp, err := g.client.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			return g.view(resp)
		}
		require.Equal(t, guestauth.StepAnonymous, get(victim).Step)
		victim.view(victim.post(server.RouteGuestAuthInitiate, map[string]string{"identifier": "victim@example.com"}))

		other := f.newGuest(t)
		v := get(other)
		require.Equal(t, guestauth.StepAnonymous, v.Step)
		require.Empty(t, v.PendingIdentifier)
	})

	t.Run("malformed body", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		resp, err := g.client.Post(f.ts.URL+server.RouteGuestAuthInitiate, "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAuthorize(t *testing.T) {
	t.Run("requires a login session", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		resp := g.post(server.RouteAuthorize, nil)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("redirects to the provider and records a pending correlation", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		g.signIn("guest@example.com")
		location := g.authorize()
		require.Equal(t, server.RouteCallback, location.Path)

		sessionID := location.Query().Get("session_id")
		rec, err := f.store.Get(context.Background(), sessionID)
		require.NoError(t, err)
		require.Equal(t, correlation.StatusPending, rec.Status)
		require.Equal(t, "guest@example.com", rec.GuestIdentifier)
		require.NotEmpty(t, rec.ConversationID)
		require.NotEqual(t, g.cookie("guest_browser_id"), rec.ConversationID)
	})

	t.Run("repeat within the duplicate window reuses the pending record", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		g.signIn("guest@example.com")
		first := g.authorize()

		resp := g.post(server.RouteAuthorize, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		require.Equal(t, true, body["reused"])
		require.Equal(t, first.Query().Get("session_id"), body["sessionId"])
	})

	t.Run("email delivery sends the link once", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		g.signIn("guest@example.com")

		resp := g.post(server.RouteAuthorize+"?delivery=email", nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
		resp = g.post(server.RouteAuthorize+"?delivery=email", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		sent := f.mailer.sent()
		require.Len(t, sent, 1)
		require.Equal(t, "guest@example.com", sent[0].to)
		require.Contains(t, sent[0].link, "session_id=")
	})
}

func TestCallback(t *testing.T) {
	t.Run("completion materializes tokens and lands on the conversation", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		g.signIn("guest@example.com")
		location := g.authorize()

		query := requireRedirect(t, g.get(location.String()), landingRoute)
		require.NotEmpty(t, query.Get("conversation"))
		require.Len(t, query, 1)

		session, err := f.sessions.Get(g.cookie("loggedInSessionId"))
		require.NoError(t, err)
		require.Equal(t, query.Get("conversation"), session.ConversationID)
		require.NotEmpty(t, session.AccessToken)
		require.NotEmpty(t, session.IDToken)
		require.False(t, session.TokenExpiry.IsZero())

		code, body := f.status(t, g, location.Query().Get("session_id"))
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, "completed", body["status"])
	})

	t.Run("landing conversation does not reach the guest's machine", func(t *testing.T) {
		f := setupTestFixture(t)
		victim := f.newGuest(t)
		victim.signIn("victim@example.com")
		conversation := requireRedirect(t, victim.get(victim.authorize().String()), landingRoute).Get("conversation")
		require.NotEmpty(t, conversation)

		other := f.newGuest(t)
		req, err := http.NewRequest(http.MethodGet, f.ts.URL+server.RouteGuestAuth, nil)
		require.NoError(t, err)
		req.Header.Set("X-Guest-Tab", conversation)
		resp, err := other.client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		v := other.view(resp)
		require.Equal(t, guestauth.StepAnonymous, v.Step)
		require.Empty(t, v.PendingIdentifier)
		require.Empty(t, v.CustomerKey)

		other.view(other.post(server.RouteGuestAuthSignOut, nil))
		v = victim.view(victim.get(server.RouteGuestAuth))
		require.Equal(t, guestauth.StepAuthenticated, v.Step)
		require.Equal(t, 0, f.provider.Calls(providerfake.OpSignOut))
	})

	t.Run("access_denied fails the record with a cancelled message", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		g.signIn("guest@example.com")
		sessionID := g.authorize().Query().Get("session_id")

		query := requireRedirect(t, g.get(server.RouteCallback+"?session_id="+sessionID+"&error=access_denied&error_description=internal+detail"), failureRoute)
		require.Equal(t, "authentication was cancelled", query.Get("error"))
		require.Len(t, query, 1)

		code, body := f.status(t, g, sessionID)
		require.Equal(t, http.StatusOK, code)
		require.Equal(t, "failed", body["status"])
		require.Equal(t, 0, f.provider.Calls(providerfake.OpCompleteAuthorization))
	})

	t.Run("other provider errors are reported generically", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		g.signIn("guest@example.com")
		sessionID := g.authorize().Query().Get("session_id")

		query := requireRedirect(t, g.get(server.RouteCallback+"?session_id="+sessionID+"&error=server_error"), failureRoute)
		require.Equal(t, "authentication failed", query.Get("error"))
	})

	t.Run("replay is rejected without new tokens", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		g.signIn("guest@example.com")
		location := g.authorize()

		requireRedirect(t, g.get(location.String()), landingRoute)
		session, err := f.sessions.Get(g.cookie("loggedInSessionId"))
		require.NoError(t, err)

		requireRedirect(t, g.get(location.String()), failureRoute)
		require.Equal(t, 1, f.provider.Calls(providerfake.OpCompleteAuthorization))
		again, err := f.sessions.Get(g.cookie("loggedInSessionId"))
		require.NoError(t, err)
		require.Equal(t, session.AccessToken, again.AccessToken)
	})

	t.Run("another guest cannot complete the session and burns it", func(t *testing.T) {
		f := setupTestFixture(t)
		owner := f.newGuest(t)
		owner.signIn("owner@example.com")
		location := owner.authorize()

		intruder := f.newGuest(t)
		intruder.signIn("intruder@example.com")
		query := requireRedirect(t, intruder.get(location.String()), failureRoute)
		require.NotContains(t, query.Get("error"), "owner@example.com")

		requireRedirect(t, owner.get(location.String()), failureRoute)
		_, body := f.status(t, owner, location.Query().Get("session_id"))
		require.Equal(t, "failed", body["status"])
		require.Equal(t, 0, f.provider.Calls(providerfake.OpCompleteAuthorization))
	})

	t.Run("callback without a login session burns the session", func(t *testing.T) {
		f := setupTestFixture(t)
		owner := f.newGuest(t)
		owner.signIn("owner@example.com")
		location := owner.authorize()

		stranger := f.newGuest(t)
		requireRedirect(t, stranger.get(location.String()), failureRoute)
		_, body := f.status(t, owner, location.Query().Get("session_id"))
		require.Equal(t, "failed", body["status"])
	})

	t.Run("expired session offers start over", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		g.signIn("guest@example.com")
		location := g.authorize()

		f.clock.Advance(correlation.DefaultTTL)
		query := requireRedirect(t, g.get(location.String()), failureRoute)
		require.NotEmpty(t, query.Get("error"))

		code, body := f.status(t, g, location.Query().Get("session_id"))
		require.Equal(t, http.StatusNotFound, code)
		require.Equal(t, map[string]any{"status": "expired"}, body)
	})

	t.Run("missing session id", func(t *testing.T) {
		f := setupTestFixture(t)
		g := f.newGuest(t)
		requireRedirect(t, g.get(server.RouteCallback), failureRoute)
	})
}

func TestSessionStatusUnknown(t *testing.T) {
	f := setupTestFixture(t)
	g := f.newGuest(t)
	code, body := f.status(t, g, "does-not-exist")
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, map[string]any{"status": "expired"}, body)
}

func TestOperationalRoutes(t *testing.T) {
	f := setupTestFixture(t)
	g := f.newGuest(t)

	t.Run("health", func(t *testing.T) {
		resp := g.get(server.RouteHealth)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("metrics", func(t *testing.T) {
		resp := g.get(server.RouteMetrics)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("cors preflight for an allowed origin", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodOptions, f.ts.URL+server.RouteGuestAuthCode, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://booking.example.com")
		resp, err := g.client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
		require.Equal(t, "https://booking.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
		require.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	})

	t.Run("cors headers are withheld from unknown origins", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, f.ts.URL+server.RouteGuestAuth, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", "https://evil.example.com")
		resp, err := g.client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	})
}

package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Guest verification API
	RouteGuestAuth                 = "/api/guest-auth"
	RouteGuestAuthInitiate         = "/api/guest-auth/initiate"
	RouteGuestAuthCode             = "/api/guest-auth/code"
	RouteGuestAuthResend           = "/api/guest-auth/resend"
	RouteGuestAuthChangeIdentifier = "/api/guest-auth/change-identifier"
	RouteGuestAuthSignOut          = "/api/guest-auth/sign-out"

	// Redirect flow
	RouteAuthorize     = "/auth/authorize"
	RouteCallback      = "/auth/callback"
	RouteSessionStatus = "/auth/sessions/{session_id}"

	// Operations
	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"
)

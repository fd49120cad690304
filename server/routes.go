package server

func (s *Server) initRoutes() {
	// Guest verification API (one machine per browser tab)
	s.RegisterRouteHandler("GET "+RouteGuestAuth, ChainMiddleware(s.GuestAuthViewHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteGuestAuthInitiate, ChainMiddleware(s.InitiateAuthHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteGuestAuthCode, ChainMiddleware(s.EnterCodeHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteGuestAuthResend, ChainMiddleware(s.ResendCodeHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteGuestAuthChangeIdentifier, ChainMiddleware(s.ChangeIdentifierHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("POST "+RouteGuestAuthSignOut, ChainMiddleware(s.SignOutHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS /api/", ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))

	// Redirect flow
	s.RegisterRouteHandler("POST "+RouteAuthorize, ChainMiddleware(s.AuthorizeHandler(), s.BrowserMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteCallback, ChainMiddleware(s.CallbackHandler(), s.BrowserMiddleware()...))
	s.RegisterRouteHandler("GET "+RouteSessionStatus, ChainMiddleware(s.SessionStatusHandler(), s.APIMiddleware()...))
	s.RegisterRouteHandler("OPTIONS /auth/sessions/", ChainMiddleware(s.PreflightHandler(), s.APIMiddleware()...))

	s.RegisterRouteHandler("GET "+RouteMetrics, s.metricsHandler())
	s.RegisterRouteFunc("GET "+RouteHealth, s.HealthHandler())
}

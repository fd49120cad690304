package config

type RouteConfig interface {
	GetLandingRoute() string
	GetFailureRoute() string
}

type Routes struct{}

var _ RouteConfig = Routes{}

// GetLandingRoute is where a completed callback sends the guest (the guest details step of checkout).
func (Routes) GetLandingRoute() string {
	return GetEnv("LANDING_ROUTE", "/booking/guest")
}

// GetFailureRoute only ever offers "start over".
func (Routes) GetFailureRoute() string {
	return GetEnv("FAILURE_ROUTE", "/booking/start-over")
}

package config

import "strings"

// ProviderMode selects the identity provider implementation.
type ProviderMode string

const (
	ProviderModeRemote ProviderMode = "remote" // hosted identity provider over HTTP
	ProviderModeLocal  ProviderMode = "local"  // in-process provider for development
)

type ProviderConfig interface {
	GetProviderMode() ProviderMode
	GetProviderName() string
	GetProviderClientID() string
	GetProviderClientSecret() string
	GetProviderAPIURL() string
	GetProviderIssuerURL() string
	GetProviderTokenURL() string
	GetProviderScopes() []string
	GetCallbackURL() string
}

type Provider struct{}

var _ ProviderConfig = Provider{}

func (Provider) GetProviderMode() ProviderMode {
	if strings.EqualFold(GetEnv("PROVIDER_MODE", ""), string(ProviderModeRemote)) {
		return ProviderModeRemote
	}
	return ProviderModeLocal
}

// GetProviderName is used to key cached workload credentials.
func (Provider) GetProviderName() string {
	return GetEnv("PROVIDER_NAME", "identity")
}

func (Provider) GetProviderClientID() string {
	return GetEnv("PROVIDER_CLIENT_ID", "")
}

func (Provider) GetProviderClientSecret() string {
	return GetEnv("PROVIDER_CLIENT_SECRET", "")
}

func (Provider) GetProviderAPIURL() string {
	return strings.TrimRight(GetEnv("PROVIDER_API_URL", "http://localhost:9000"), "/")
}

func (Provider) GetProviderIssuerURL() string {
	return GetEnv("PROVIDER_ISSUER_URL", "http://localhost:9000")
}

func (p Provider) GetProviderTokenURL() string {
	return GetEnv("PROVIDER_TOKEN_URL", p.GetProviderAPIURL()+"/oauth2/token")
}

func (Provider) GetProviderScopes() []string {
	return strings.Fields(GetEnv("PROVIDER_SCOPES", "identities:write authorizations:write"))
}

// GetCallbackURL is the redirect target registered with the provider.
func (Provider) GetCallbackURL() string {
	return GetEnv("CALLBACK_URL", EnvVars{}.GetBaseURL()+"/auth/callback")
}

package config

type SmtpConfig interface {
	GetSmtpHost() string
	GetSmtpPort() int
	GetSmtpAccount() string
	GetSmtpPassword() string
	GetSmtpFrom() string
	SmtpEnabled() bool
}

type Smtp struct{}

var _ SmtpConfig = Smtp{}

func (Smtp) GetSmtpHost() string {
	return GetEnv("SMTP_HOST", "")
}

func (Smtp) GetSmtpPort() int {
	return GetEnvInt("SMTP_PORT", 587)
}

func (Smtp) GetSmtpAccount() string {
	return GetEnv("SMTP_ACCOUNT", "")
}

func (Smtp) GetSmtpPassword() string {
	return GetEnv("SMTP_PASSWORD", "")
}

func (s Smtp) GetSmtpFrom() string {
	return GetEnv("SMTP_FROM", s.GetSmtpAccount())
}

func (s Smtp) SmtpEnabled() bool {
	return s.GetSmtpHost() != ""
}

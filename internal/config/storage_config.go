package config

type StorageConfig interface {
	GetRedisAddr() string
	GetRedisPassword() string
	GetRedisDB() int
	GetDatabaseURL() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

func (Storage) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Storage) GetRedisPassword() string {
	return GetEnv("REDIS_PASSWORD", "")
}

func (Storage) GetRedisDB() int {
	return GetEnvInt("REDIS_DB", 0)
}

// GetDatabaseURL is the postgres DSN. Empty disables the postgres backed stores.
func (Storage) GetDatabaseURL() string {
	return GetEnv("DATABASE_URL", "")
}

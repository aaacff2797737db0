package util

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// GetEnvOrElse returns the environment variable with the given key, or
// the fallback value if the variable is empty or unset.
func GetEnvOrElse(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

// GetEnvOrFail returns the environment variable with the given key,
// failing if the variable is empty or unset.
func GetEnvOrFail(key string) (string, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return "", errors.Errorf("environment variable %s is not set", key)
	}
	return value, nil
}

// GetDatabasePort reads the DATABASE_PORT environment variable,
// defaulting to the standard Postgres port.
func GetDatabasePort() int {
	const defaultPort = 5432
	env, ok := os.LookupEnv("DATABASE_PORT")
	if !ok || env == "" {
		return defaultPort
	}
	port, err := strconv.Atoi(env)
	if err != nil {
		return defaultPort
	}
	return port
}

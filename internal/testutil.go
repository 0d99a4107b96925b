package internal

import (
	"fmt"
	"os"
)

// ConnString builds a PostgreSQL connection string from the standard
// environment variables. DATABASE_URL wins when set.
func ConnString() string {
	if connStr := os.Getenv("DATABASE_URL"); connStr != "" {
		return connStr
	}

	host := getEnvOrDefault("PGHOST", "localhost")
	port := getEnvOrDefault("PGPORT", "5432")
	user := getEnvOrDefault("PGUSER", "postgres")
	password := getEnvOrDefault("PGPASSWORD", "postgres")
	database := getEnvOrDefault("PGDATABASE", "postgres")

	if password != "" {
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s?sslmode=disable",
			user, password, host, port, database,
		)
	}
	return fmt.Sprintf(
		"postgres://%s@%s:%s/%s?sslmode=disable",
		user, host, port, database,
	)
}

// HasDatabaseEnv reports whether any PostgreSQL connection variable is set.
// Integration tests use it to skip when no database is around.
func HasDatabaseEnv() bool {
	return os.Getenv("DATABASE_URL") != "" || os.Getenv("PGHOST") != ""
}

// getEnvOrDefault retrieves an environment variable or returns a default
// value if the variable is not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

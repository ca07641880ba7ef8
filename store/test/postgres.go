package test

import (
	"os"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const (
	testUser     = "testuser"
	testPassword = "testpassword"
	testDatabase = "sitebuilder_test"
	testImage    = "postgres:16-alpine"
)

// GetPostgresDSN returns a DSN for PostgreSQL testing.
// POSTGRES_TEST_DSN wins; otherwise a fresh container is started for the test.
func GetPostgresDSN(t *testing.T) string {
	if dsn := os.Getenv("POSTGRES_TEST_DSN"); dsn != "" {
		return dsn
	}
	if testing.Short() {
		t.Skip("skipping postgres container in -short mode")
	}

	pgContainer, err := postgres.Run(t.Context(),
		testImage,
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername(testUser),
		postgres.WithPassword(testPassword),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(t.Context(), "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	return connStr
}

package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"

	"github.com/dx-tooling/sitebuilder-webapp-sub000/internal/version"
)

// Migration files live under store/migration/{driver}/. LATEST.sql holds the
// full schema and is applied to fresh databases only.

//go:embed migration
var migrationFS embed.FS

const (
	// LatestSchemaFileName is the name of the latest schema file.
	LatestSchemaFileName = "LATEST.sql"
)

// Migrate initializes the database schema if it has not been created yet.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.preMigrate(ctx); err != nil {
		return errors.Wrap(err, "failed to pre-migrate")
	}
	return nil
}

// preMigrate checks if the database is initialized and applies the latest schema if not.
func (s *Store) preMigrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if initialized {
		return nil
	}

	filePath := s.getMigrationBasePath() + LatestSchemaFileName
	bytes, err := migrationFS.ReadFile(filePath)
	if err != nil {
		return errors.Errorf("failed to read latest schema file: %s", err)
	}

	tx, err := s.driver.GetDB().BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to start transaction")
	}
	defer tx.Rollback()

	slog.Info("initializing new database with latest schema", slog.String("file", filePath))
	if err := s.execute(ctx, tx, string(bytes)); err != nil {
		return errors.Errorf("failed to execute SQL file %s, err %s", filePath, err)
	}
	schemaVersion := version.GetCurrentVersion(s.profile.Mode)
	if _, err := tx.ExecContext(ctx, s.rebind("INSERT INTO schema_version (version) VALUES (?)"), schemaVersion); err != nil {
		return errors.Wrap(err, "failed to record schema version")
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}

	slog.Info("database initialized successfully", slog.String("schemaVersion", schemaVersion))
	return nil
}

func (s *Store) getMigrationBasePath() string {
	return fmt.Sprintf("migration/%s/", s.profile.Driver)
}

// rebind converts ? placeholders for drivers that number them.
func (s *Store) rebind(query string) string {
	if s.profile.Driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// execute runs each statement of a schema file inside the transaction.
func (s *Store) execute(ctx context.Context, tx *sql.Tx, stmt string) error {
	for i, statement := range splitSQL(stmt) {
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return errors.Wrapf(err, "failed to execute statement %d: %s", i+1, statement)
		}
	}
	return nil
}

// splitSQL splits a schema file on semicolons, dropping comment lines.
// Schema files must not contain semicolons inside string literals.
func splitSQL(sql string) []string {
	var statements []string
	var current strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		current.WriteString(line)
		current.WriteString("\n")
		if strings.HasSuffix(trimmed, ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, strings.TrimSuffix(stmt, ";"))
			}
			current.Reset()
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

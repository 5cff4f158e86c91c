package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
)

// ErrNoChange is returned when the schema is already at the target version.
var ErrNoChange = migrate.ErrNoChange

// DefaultSchema matches the BEACON_DB_SCHEMA default.
const DefaultSchema = "beacon"

var schemaRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Direction selects which way Migrate moves the schema.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection accepts "up" or "down".
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Up, Down:
		return d, nil
	default:
		return "", fmt.Errorf("db: direction must be up or down, got %q", s)
	}
}

// Migrate applies the embedded migrations inside schema. The SQL files use
// unqualified names; search_path points them, and the schema_migrations
// table, at schema. Up creates the schema when missing. Already being at
// the target version is reported as ErrNoChange.
func Migrate(ctx context.Context, dsn, schema string, dir Direction) error {
	if strings.TrimSpace(dsn) == "" {
		return errors.New("db: BEACON_DATABASE_URL is not set")
	}
	if _, err := ParseDirection(string(dir)); err != nil {
		return err
	}
	murl, err := migrateURL(dsn, schema)
	if err != nil {
		return err
	}

	if dir == Up {
		if err := ensureSchema(ctx, dsn, schema); err != nil {
			return err
		}
	}

	src, err := iofs.New(MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("db: migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, murl)
	if err != nil {
		return fmt.Errorf("db: migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if dir == Up {
		return m.Up()
	}
	return m.Down()
}

func ensureSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return fmt.Errorf("db: connect: %w", err)
	}
	defer func() { _ = conn.Close(ctx) }()

	if _, err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("db: create schema %s: %w", schema, err)
	}
	return nil
}

// migrateURL rewrites a libpq-style URL to the pgx/v5 driver scheme and
// pins search_path to schema.
func migrateURL(dsn, schema string) (string, error) {
	if !schemaRe.MatchString(schema) {
		return "", fmt.Errorf("db: invalid schema name %q", schema)
	}
	u, err := url.Parse(strings.TrimSpace(dsn))
	if err != nil {
		return "", fmt.Errorf("db: parse dsn: %w", err)
	}
	switch u.Scheme {
	case "postgres", "postgresql", "pgx5":
		u.Scheme = "pgx5"
	default:
		return "", fmt.Errorf("db: dsn must be a postgres:// URL, got scheme %q", u.Scheme)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool the directory uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDirectory implements Directory over PostgreSQL.
//
// The pool is owned by the caller; this directory must NOT close it.
// Schema identifiers are validated and quoted.
type PostgresDirectory struct {
	db     DB
	schema string
}

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "beacon").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(db DB, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{db: db, schema: "beacon"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.db == nil {
		return nil, fmt.Errorf("identity: nil db")
	}
	return d, nil
}

func (d *PostgresDirectory) users() string {
	return pgx.Identifier{d.schema, "users"}.Sanitize()
}

const userColumns = `id, identifier, display_name, role, status, password_hash, created_at, updated_at`

func scanUser(row pgx.Row) (User, error) {
	var (
		u            User
		role, status string
	)
	if err := row.Scan(&u.ID, &u.Identifier, &u.DisplayName, &role, &status, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	u.Status = Status(status)
	return u, nil
}

func (d *PostgresDirectory) GetUser(ctx context.Context, id string) (User, error) {
	const op = "identity.PostgresDirectory.GetUser"
	if strings.TrimSpace(id) == "" {
		return User{}, invalid(op, "missing id")
	}

	u, err := scanUser(d.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+d.users()+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (d *PostgresDirectory) FindByIdentifier(ctx context.Context, identifier string) (User, error) {
	const op = "identity.PostgresDirectory.FindByIdentifier"
	norm := NormalizeIdentifier(identifier)
	if norm == "" {
		return User{}, invalid(op, "missing identifier")
	}

	u, err := scanUser(d.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM `+d.users()+` WHERE identifier = $1`, norm))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

func (d *PostgresDirectory) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	const op = "identity.PostgresDirectory.UpdatePasswordHash"
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "empty hash")
	}
	tag, err := d.db.Exec(ctx,
		`UPDATE `+d.users()+` SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, hash, now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

// Upsert inserts u or, when the ID already exists, replaces its mutable fields.
// Used by provisioning tooling; the session layer never calls it.
func (d *PostgresDirectory) Upsert(ctx context.Context, u User, now time.Time) (User, error) {
	const op = "identity.PostgresDirectory.Upsert"

	u.Identifier = NormalizeIdentifier(u.Identifier)
	if u.Identifier == "" {
		return User{}, invalid(op, "identifier is required")
	}
	if !u.Role.Valid() {
		return User{}, invalid(op, "invalid role")
	}
	if !u.Status.Valid() {
		return User{}, invalid(op, "invalid status")
	}
	if strings.TrimSpace(u.ID) == "" {
		id, err := NewUserID(now)
		if err != nil {
			return User{}, err
		}
		u.ID = id
	}

	out, err := scanUser(d.db.QueryRow(ctx,
		`INSERT INTO `+d.users()+` (id, identifier, display_name, role, status, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		 ON CONFLICT (id) DO UPDATE SET
		     identifier = EXCLUDED.identifier,
		     display_name = EXCLUDED.display_name,
		     role = EXCLUDED.role,
		     status = EXCLUDED.status,
		     password_hash = EXCLUDED.password_hash,
		     updated_at = EXCLUDED.updated_at
		 RETURNING `+userColumns,
		u.ID, u.Identifier, u.DisplayName, string(u.Role), string(u.Status), u.PasswordHash, now))
	if err != nil {
		if pgIsUniqueViolation(err) {
			return User{}, OpError{Op: op, Kind: ErrConflict, Msg: "identifier"}
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// SetStatus changes a user's status. Existing access tokens stop working on
// the next guarded request because the guard re-reads status every time.
func (d *PostgresDirectory) SetStatus(ctx context.Context, id string, st Status, now time.Time) error {
	const op = "identity.PostgresDirectory.SetStatus"
	if !st.Valid() {
		return invalid(op, "invalid status")
	}
	tag, err := d.db.Exec(ctx,
		`UPDATE `+d.users()+` SET status = $2, updated_at = $3 WHERE id = $1`,
		id, string(st), now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505"
}

// SetRole changes a user's role. Role is re-read from the directory on every
// refresh and guarded request, so demotions apply immediately.
func (d *PostgresDirectory) SetRole(ctx context.Context, id string, r Role, now time.Time) error {
	const op = "identity.PostgresDirectory.SetRole"
	if !r.Valid() {
		return invalid(op, "invalid role")
	}
	tag, err := d.db.Exec(ctx,
		`UPDATE `+d.users()+` SET role = $2, updated_at = $3 WHERE id = $1`,
		id, string(r), now)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "user"}
	}
	return nil
}

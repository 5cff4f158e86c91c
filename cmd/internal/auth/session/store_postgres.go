package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"beacon/cmd/internal/auth/autherr"
)

// DB is the subset of *pgxpool.Pool the session store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store over beacon.refresh_sessions.
// The pool is owned by the caller.
type PostgresStore struct {
	db    DB
	table string
}

// NewPostgresStore creates a Postgres-backed session store in schema.
// An empty schema means "beacon".
func NewPostgresStore(db DB, schema string) *PostgresStore {
	if schema == "" {
		schema = "beacon"
	}
	return &PostgresStore{db: db, table: pgx.Identifier{schema, "refresh_sessions"}.Sanitize()}
}

const recordColumns = `id, user_id, token_hash, device_name, device_type, ip_address, user_agent,
	issued_at, expires_at, last_used_at, is_revoked, revoked_at, revoked_reason, replaced_by_id`

func scanRecord(row pgx.Row) (Record, error) {
	var (
		r               Record
		devType, reason string
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.TokenHash, &r.DeviceName, &devType, &r.IPAddress, &r.UserAgent,
		&r.IssuedAt, &r.ExpiresAt, &r.LastUsedAt, &r.IsRevoked, &r.RevokedAt, &reason, &r.ReplacedByID,
	)
	if err != nil {
		return Record{}, err
	}
	r.DeviceType = DeviceType(devType)
	r.RevokedReason = RevokeReason(reason)
	return r, nil
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) insert(ctx context.Context, q execer, rec Record) error {
	_, err := q.Exec(ctx, `INSERT INTO `+s.table+` (
			id, user_id, token_hash, device_name, device_type, ip_address, user_agent,
			issued_at, expires_at, last_used_at, is_revoked, revoked_at, revoked_reason, replaced_by_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $8, false, NULL, '', '')`,
		rec.ID, rec.UserID, rec.TokenHash, rec.DeviceName, string(rec.DeviceType), rec.IPAddress, rec.UserAgent,
		rec.IssuedAt, rec.ExpiresAt,
	)
	if err != nil {
		if pgIsUniqueViolation(err) {
			return errDuplicateHash
		}
		return fmt.Errorf("session: insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Insert(ctx context.Context, rec Record) error {
	return s.insert(ctx, s.db, rec)
}

func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (Record, error) {
	r, err := scanRecord(s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM `+s.table+` WHERE token_hash = $1`, hash))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, autherr.ErrSessionNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("session: find: %w", err)
	}
	return r, nil
}

// Rotate runs the conditional revoke and the insert in one transaction.
// Under READ COMMITTED a concurrent rotation of the same row blocks on the row
// lock, then re-evaluates "NOT is_revoked" and matches zero rows.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, oldHash string, next Record) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("session: rotate begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `UPDATE `+s.table+`
		SET is_revoked = true,
		    revoked_at = $2,
		    revoked_reason = $3,
		    last_used_at = $2,
		    replaced_by_id = $4
		WHERE token_hash = $1 AND NOT is_revoked`,
		oldHash, now, string(ReasonTokenRefresh), next.ID)
	if err != nil {
		return fmt.Errorf("session: rotate revoke: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return autherr.ErrTokenRevoked
	}

	if err := s.insert(ctx, tx, next); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("session: rotate commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeByHash(ctx context.Context, now time.Time, hash string, reason RevokeReason) error {
	// The RETURNING row exists whether or not this call flipped the flag.
	var id string
	err := s.db.QueryRow(ctx, `UPDATE `+s.table+`
		SET is_revoked = true,
		    revoked_at = COALESCE(revoked_at, $2),
		    revoked_reason = CASE WHEN is_revoked THEN revoked_reason ELSE $3 END
		WHERE token_hash = $1
		RETURNING id`,
		hash, now, string(reason)).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return autherr.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("session: revoke: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAllByUser(ctx context.Context, now time.Time, userID string, reason RevokeReason) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE `+s.table+`
		SET is_revoked = true, revoked_at = $2, revoked_reason = $3
		WHERE user_id = $1 AND NOT is_revoked`,
		userID, now, string(reason))
	if err != nil {
		return 0, fmt.Errorf("session: revoke all: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListActiveByUser(ctx context.Context, now time.Time, userID string) ([]Record, error) {
	rows, err := s.db.Query(ctx, `SELECT `+recordColumns+` FROM `+s.table+`
		WHERE user_id = $1 AND NOT is_revoked AND expires_at > $2
		ORDER BY issued_at DESC`, userID, now)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("session: list scan: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM `+s.table+`
		WHERE expires_at < $1 OR (is_revoked AND revoked_at < $1)`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("session: delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

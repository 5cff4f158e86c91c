package realtime

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"

	"beacon/cmd/identity"
)

// QueryRower is the subset of *pgxpool.Pool the authorizer uses.
type QueryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRoomAuthorizer checks domain room membership against tables
// owned by the domain modules:
//
//	conversation:<id> -> <schema>.conversation_participants(conversation_id, user_id)
//	incident:<id>     -> <schema>.incident_responders(incident_id, user_id)
//
// Users at or above Bypass (if set) may join any incident room.
type PostgresRoomAuthorizer struct {
	db     QueryRower
	schema string
	bypass identity.Role
}

// PostgresAuthorizerOption configures PostgresRoomAuthorizer.
type PostgresAuthorizerOption func(*PostgresRoomAuthorizer) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithAuthorizerSchema sets the schema (default "beacon").
func WithAuthorizerSchema(schema string) PostgresAuthorizerOption {
	return func(a *PostgresRoomAuthorizer) error {
		schema = strings.TrimSpace(schema)
		if !pgIdentRe.MatchString(schema) {
			return errors.New("realtime: invalid schema identifier")
		}
		a.schema = schema
		return nil
	}
}

// WithIncidentBypass lets roles at or above r join every incident room.
func WithIncidentBypass(r identity.Role) PostgresAuthorizerOption {
	return func(a *PostgresRoomAuthorizer) error {
		if !r.Valid() {
			return errors.New("realtime: invalid bypass role")
		}
		a.bypass = r
		return nil
	}
}

func NewPostgresRoomAuthorizer(db QueryRower, opts ...PostgresAuthorizerOption) (*PostgresRoomAuthorizer, error) {
	a := &PostgresRoomAuthorizer{db: db, schema: "beacon"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	if a.db == nil {
		return nil, errors.New("realtime: nil db")
	}
	return a, nil
}

func (a *PostgresRoomAuthorizer) CanJoin(ctx context.Context, userID string, role identity.Role, room string) (bool, error) {
	kind, id := ParseRoom(room)

	var table, column string
	switch kind {
	case RoomConversation:
		table, column = "conversation_participants", "conversation_id"
	case RoomIncident:
		if a.bypass != "" && role.AtLeast(a.bypass) {
			return true, nil
		}
		table, column = "incident_responders", "incident_id"
	default:
		return false, nil
	}
	if strings.TrimSpace(userID) == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var one int
	err := a.db.QueryRow(ctx,
		`SELECT 1 FROM `+pgx.Identifier{a.schema, table}.Sanitize()+
			` WHERE `+column+` = $1 AND user_id = $2 LIMIT 1`,
		id, userID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

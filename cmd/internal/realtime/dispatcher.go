package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"beacon/cmd/identity"
	"beacon/cmd/internal/auth/autherr"
	v1 "beacon/shared/contracts/realtime/v1"
)

// ErrInvalidTarget is returned for emits to a malformed user, role or room.
var ErrInvalidTarget = errors.New("realtime: invalid emit target")

// Emitter is the surface domain producers (chat, incidents, tracking)
// push events through. Payloads are opaque and encoded once per emit.
type Emitter interface {
	EmitToUser(userID, event string, payload any) error
	EmitToRole(role identity.Role, event string, payload any) error
	EmitToMinimumRole(min identity.Role, event string, payload any) error
	EmitToRoom(room, event string, payload any) error
	EmitToAll(event string, payload any) error
}

// Dispatcher publishes emits on the Bus and validates connection-initiated
// room joins.
type Dispatcher struct {
	reg   *Registry
	bus   Bus
	authz RoomAuthorizer

	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

var _ Emitter = (*Dispatcher)(nil)

// NewDispatcher shares reg's bus and elevated threshold. A nil authz denies
// every domain room.
func NewDispatcher(reg *Registry, authz RoomAuthorizer, opts ...Option) *Dispatcher {
	s := newSettings(opts)
	if authz == nil {
		authz = DenyDomainRooms
	}
	return &Dispatcher{
		reg:     reg,
		bus:     reg.bus,
		authz:   authz,
		log:     s.log,
		metrics: s.metrics,
		now:     s.now,
	}
}

func (d *Dispatcher) EmitToUser(userID, event string, payload any) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return fmt.Errorf("%w: empty user id", ErrInvalidTarget)
	}
	return d.emit("user", Message{Rooms: []string{UserRoom(userID)}}, event, payload)
}

func (d *Dispatcher) EmitToRole(role identity.Role, event string, payload any) error {
	if !role.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidTarget, role)
	}
	return d.emit("role", Message{Rooms: []string{RoleRoom(role)}}, event, payload)
}

// EmitToMinimumRole targets every role room at or above min. A user sits in
// exactly one role room and Deliver dedupes per connection, so each
// connection receives one copy.
func (d *Dispatcher) EmitToMinimumRole(min identity.Role, event string, payload any) error {
	if !min.Valid() {
		return fmt.Errorf("%w: role %q", ErrInvalidTarget, min)
	}
	roles := identity.RolesAtLeast(min)
	rooms := make([]string, 0, len(roles))
	for _, r := range roles {
		rooms = append(rooms, RoleRoom(r))
	}
	return d.emit("min_role", Message{Rooms: rooms}, event, payload)
}

// EmitToRoom is a raw passthrough for rooms whose membership has already
// been validated.
func (d *Dispatcher) EmitToRoom(room, event string, payload any) error {
	if kind, _ := ParseRoom(room); kind == RoomInvalid {
		return fmt.Errorf("%w: room %q", ErrInvalidTarget, room)
	}
	return d.emit("room", Message{Rooms: []string{room}}, event, payload)
}

func (d *Dispatcher) EmitToAll(event string, payload any) error {
	return d.emit("all", Message{All: true}, event, payload)
}

func (d *Dispatcher) emit(target string, m Message, event string, payload any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("realtime: empty event name")
	}
	data, err := jsonOf(payload)
	if err != nil {
		return fmt.Errorf("realtime: encode payload: %w", err)
	}
	now := d.now()
	env, err := newEnvelope(v1.TypeEvent, v1.EventPayload{Event: event, Data: data}, now)
	if err != nil {
		return err
	}
	m.Envelope = env

	if err := d.bus.Publish(m); err != nil {
		d.metrics.busDrop()
		d.log.Warn("realtime.emit.drop", "target", target, "event", event, "err", err)
		return err
	}
	d.metrics.emitted(target)
	return nil
}

// Join validates and applies a connection-initiated join:
//
//	user:<own id>                 always
//	monitoring, tracking:<id>     iff role >= elevated threshold
//	conversation:<id>, incident:<id>  iff the RoomAuthorizer approves
//
// Anything else, including role:* and unknown prefixes, is denied.
func (d *Dispatcher) Join(ctx context.Context, c *Conn, room string) error {
	const op = "realtime.Join"

	kind, id := ParseRoom(room)
	allowed := false
	switch kind {
	case RoomUser:
		allowed = id == c.UserID
	case RoomMonitor, RoomTracking:
		allowed = c.Role.AtLeast(d.reg.ElevatedRole())
	case RoomConversation, RoomIncident:
		ok, err := d.authz.CanJoin(ctx, c.UserID, c.Role, room)
		if err != nil {
			d.log.Error("realtime.join.authz_fail", "conn_id", c.ID, "room", room, "err", err)
			return autherr.Unavailable(op, err)
		}
		allowed = ok
	}

	if !allowed {
		d.metrics.denied(kind)
		d.log.Info("realtime.join.denied", "conn_id", c.ID, "user_id", c.UserID, "role", string(c.Role), "room", room)
		return autherr.E(op, autherr.ErrRoomAccessDenied, nil)
	}

	if _, err := d.reg.join(c, room); err != nil {
		return err
	}
	return nil
}

// Leave drops a room joined after registration. The user and role rooms
// stay for the life of the connection; leaving them reports false.
func (d *Dispatcher) Leave(c *Conn, room string) bool {
	switch kind, _ := ParseRoom(room); kind {
	case RoomInvalid, RoomUser, RoomRole:
		return false
	}
	return d.reg.leave(c, room)
}

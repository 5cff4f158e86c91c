// Package v1 defines the Beacon Realtime Protocol v1 contract.
//
// It is shared between the server and clients (including tools/scripts) and
// depends only on the standard library.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version embedded into every envelope.
const Version = "v1"

// Subprotocol is negotiated during the WebSocket upgrade.
const Subprotocol = "beacon.realtime.v1"

// Type constants (wire-stable).
const (
	// TypeHello asks the server to describe the connection (client -> server).
	TypeHello = "hello"
	// TypeHelloAck describes the connection (server -> client). Also sent
	// unprompted right after the upgrade.
	TypeHelloAck = "hello_ack"

	// TypeRoomJoin requests membership in a room (client -> server).
	TypeRoomJoin = "room_join"
	// TypeRoomJoined confirms a join (server -> client).
	TypeRoomJoined = "room_joined"
	// TypeRoomLeave drops membership in a room (client -> server).
	TypeRoomLeave = "room_leave"
	// TypeRoomLeft confirms a leave (server -> client).
	TypeRoomLeft = "room_left"

	// TypeEvent carries a server-side emit (server -> room members).
	TypeEvent = "event"

	// TypeError is a generic error envelope (server -> client).
	TypeError = "error"
)

// Presence event names carried in EventPayload.Event.
const (
	EventPresenceOnline  = "presence.online"
	EventPresenceOffline = "presence.offline"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation of an inbound envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch e.Type {
	case "":
		return errors.New("missing field: type")
	case TypeHello, TypeRoomJoin, TypeRoomLeave:
		return nil
	case TypeHelloAck, TypeRoomJoined, TypeRoomLeft, TypeEvent, TypeError:
		return fmt.Errorf("server-only type: %q", e.Type)
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}

// ---- Payloads ----

// HelloAckPayload describes the authenticated connection.
type HelloAckPayload struct {
	ConnectionID string   `json:"connection_id"`
	UserID       string   `json:"user_id"`
	Role         string   `json:"role"`
	Rooms        []string `json:"rooms"`
}

// RoomPayload names a room in join/leave requests and their confirmations.
type RoomPayload struct {
	Room string `json:"room"`
}

// EventPayload wraps an opaque domain payload with its event name.
type EventPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PresenceData is the Data of presence.online / presence.offline events.
type PresenceData struct {
	UserID string    `json:"user_id"`
	Role   string    `json:"role"`
	At     time.Time `json:"at"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Room    string `json:"room,omitempty"`
}

package realtime

import (
	"context"

	"beacon/cmd/identity"
)

// RoomAuthorizer decides membership for domain rooms (conversation:*,
// incident:*) whose ownership lives outside this package.
type RoomAuthorizer interface {
	CanJoin(ctx context.Context, userID string, role identity.Role, room string) (bool, error)
}

// RoomAuthorizerFunc adapts a function to RoomAuthorizer.
type RoomAuthorizerFunc func(ctx context.Context, userID string, role identity.Role, room string) (bool, error)

func (f RoomAuthorizerFunc) CanJoin(ctx context.Context, userID string, role identity.Role, room string) (bool, error) {
	return f(ctx, userID, role, room)
}

// DenyDomainRooms rejects every domain room join.
var DenyDomainRooms RoomAuthorizer = RoomAuthorizerFunc(func(context.Context, string, identity.Role, string) (bool, error) {
	return false, nil
})

// Package session implements Beacon's credential and token lifecycle.
//
// Access tokens are PASETO v4.public and carry the user ID and role. Refresh
// tokens are HS256 JWTs carrying only the user ID plus a unique token ID; the
// server stores their keyed hash, never the token itself.
//
// Refresh tokens are single use. Rotation revokes the presented record with a
// conditional update and inserts its replacement in the same atomic step, so
// of two concurrent refreshes with the same token exactly one wins and the
// other observes autherr.ErrTokenRevoked.
package session

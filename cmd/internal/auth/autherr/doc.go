// Package autherr defines the error kinds shared by the session lifecycle,
// the session guard and the realtime handshake, and maps them to HTTP
// statuses, handshake rejection codes and user-facing messages.
package autherr

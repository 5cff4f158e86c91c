// Package authapi exposes the session lifecycle over HTTP: login, refresh,
// logout, sign-out-everywhere, password change and the caller's profile.
package authapi

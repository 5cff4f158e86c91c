// Package guard authenticates requests by access token and re-derives the
// caller's role and status from the directory on every request.
package guard

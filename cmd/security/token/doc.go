// Package token hashes refresh tokens for server-side storage.
//
// With a key configured the digest is HMAC-SHA256(token, key); without one it
// falls back to SHA-256(token) for local development. Output is always a
// 64-char hex string.
package token

// Package password hashes and verifies account secrets.
//
// New hashes are Argon2id in a PHC-style string. Verify also accepts legacy
// bcrypt hashes ($2a$, $2b$, $2y$) so imported accounts can sign in; callers
// use NeedsRehash to upgrade them on the next successful login.
//
// Hash strings are untrusted input during Verify and are bounded accordingly.
package password

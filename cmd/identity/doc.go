// Package identity holds Beacon's user directory: the canonical user record,
// the ordered role hierarchy, account status, and the Directory lookups used by
// the session lifecycle and the session guard.
//
// The directory is the source of truth for role and status. Nothing in the
// session or realtime layers trusts a role carried by an older token.
package identity

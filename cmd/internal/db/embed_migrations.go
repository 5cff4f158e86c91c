// Package db owns the Postgres schema: embedded migrations and the runner
// used by beaconctl.
package db

import "embed"

// MigrationFS embeds the SQL migrations applied by Migrate.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS

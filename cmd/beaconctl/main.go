// Command beaconctl runs operator tasks against the beacon database:
// schema migrations, account provisioning and session maintenance.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"beacon/cmd/identity"
	"beacon/cmd/internal/app"
	"beacon/cmd/internal/auth/session"
	"beacon/cmd/internal/db"
	"beacon/cmd/security/password"

	"github.com/spf13/pflag"
)

const usage = `usage: beaconctl <command> [flags]

commands:
  migrate up|down                         apply or roll back the schema
  user add --identifier ID --password PW  create an account
           [--name NAME] [--role ROLE] [--status STATUS]
  user status IDENTIFIER STATUS           approve, suspend or reject an account
  user role IDENTIFIER ROLE               change an account's role
  sessions sweep                          delete long-expired refresh sessions
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "beaconctl:", err)
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var errUsage = errors.New("invalid arguments")

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errUsage
	}
	lookup := app.EnvLookup(".env")

	switch args[0] {
	case "migrate":
		return runMigrate(ctx, lookup, args[1], out)
	case "user":
		return runUser(ctx, lookup, args[1], args[2:], out)
	case "sessions":
		if args[1] != "sweep" {
			return errUsage
		}
		return runSweep(ctx, out)
	default:
		return errUsage
	}
}

func databaseURL(lookup func(string) (string, bool)) (string, error) {
	dsn, ok := lookup("BEACON_DATABASE_URL")
	if !ok {
		return "", errors.New("BEACON_DATABASE_URL is required")
	}
	return dsn, nil
}

func schemaName(lookup func(string) (string, bool)) string {
	if s, ok := lookup("BEACON_DB_SCHEMA"); ok {
		return s
	}
	return db.DefaultSchema
}

func runMigrate(ctx context.Context, lookup func(string) (string, bool), arg string, out io.Writer) error {
	dir, err := db.ParseDirection(arg)
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	dsn, err := databaseURL(lookup)
	if err != nil {
		return err
	}
	switch err := db.Migrate(ctx, dsn, schemaName(lookup), dir); {
	case errors.Is(err, db.ErrNoChange):
		fmt.Fprintln(out, "migrate: no change")
	case err != nil:
		return err
	default:
		fmt.Fprintf(out, "migrate: %s applied to schema %s\n", dir, schemaName(lookup))
	}
	return nil
}

func openDirectory(ctx context.Context, lookup func(string) (string, bool)) (*identity.PostgresDirectory, func(), error) {
	dsn, err := databaseURL(lookup)
	if err != nil {
		return nil, nil, err
	}
	schema := schemaName(lookup)
	pool, err := app.NewDBPool(ctx, app.Config{DatabaseURL: dsn, DBMaxConns: 2})
	if err != nil {
		return nil, nil, fmt.Errorf("db: %w", err)
	}
	dir, err := identity.NewPostgresDirectory(pool, identity.WithSchema(schema))
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return dir, pool.Close, nil
}

func runUser(ctx context.Context, lookup func(string) (string, bool), sub string, args []string, out io.Writer) error {
	switch sub {
	case "add":
		return userAdd(ctx, lookup, args, out)
	case "status", "role":
		if len(args) != 2 {
			return errUsage
		}
		return userUpdate(ctx, lookup, sub, args[0], args[1], out)
	default:
		return errUsage
	}
}

func userAdd(ctx context.Context, lookup func(string) (string, bool), args []string, out io.Writer) error {
	fs := pflag.NewFlagSet("user add", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	ident := fs.String("identifier", "", "login identifier")
	name := fs.String("name", "", "display name")
	pw := fs.String("password", "", "initial password")
	roleFlag := fs.String("role", string(identity.RoleRider), "role")
	statusFlag := fs.String("status", string(identity.StatusApproved), "status")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	role, err := identity.ParseRole(*roleFlag)
	if err != nil {
		return err
	}
	status, err := identity.ParseStatus(*statusFlag)
	if err != nil {
		return err
	}
	if identity.NormalizeIdentifier(*ident) == "" || *pw == "" {
		return fmt.Errorf("%w: --identifier and --password are required", errUsage)
	}

	pwCfg, err := password.FromLookup(lookup)
	if err != nil {
		return err
	}
	if err := pwCfg.ValidateFor(*ident, *pw); err != nil {
		return err
	}
	hash, err := pwCfg.Hash(*pw)
	if err != nil {
		return err
	}

	dir, closeDB, err := openDirectory(ctx, lookup)
	if err != nil {
		return err
	}
	defer closeDB()

	u, err := dir.Upsert(ctx, identity.User{
		Identifier:   *ident,
		DisplayName:  *name,
		Role:         role,
		Status:       status,
		PasswordHash: hash,
	}, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "user %s created (%s, %s)\n", u.ID, u.Role, u.Status)
	return nil
}

func userUpdate(ctx context.Context, lookup func(string) (string, bool), field, ident, value string, out io.Writer) error {
	dir, closeDB, err := openDirectory(ctx, lookup)
	if err != nil {
		return err
	}
	defer closeDB()

	u, err := dir.FindByIdentifier(ctx, ident)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	switch field {
	case "status":
		st, err := identity.ParseStatus(value)
		if err != nil {
			return err
		}
		if err := dir.SetStatus(ctx, u.ID, st, now); err != nil {
			return err
		}
	case "role":
		r, err := identity.ParseRole(value)
		if err != nil {
			return err
		}
		if err := dir.SetRole(ctx, u.ID, r, now); err != nil {
			return err
		}
	}
	fmt.Fprintf(out, "user %s %s set to %s\n", u.ID, field, value)
	return nil
}

// runSweep needs the full service config since the session service owns the
// retention policy.
func runSweep(ctx context.Context, out io.Writer) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.DatabaseURL == "" {
		return errors.New("BEACON_DATABASE_URL is required")
	}
	log := app.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	pool, err := app.NewDBPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	users, err := identity.NewPostgresDirectory(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		return err
	}
	svc, err := session.NewService(cfg.Session, session.NewPostgresStore(pool, cfg.DBSchema), users,
		session.WithLogger(log.With(slog.String("component", "beaconctl"))),
		session.WithPasswords(cfg.Passwords),
	)
	if err != nil {
		return err
	}
	n, err := svc.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "sessions: %d expired sessions removed\n", n)
	return nil
}

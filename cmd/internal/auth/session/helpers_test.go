package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"beacon/cmd/identity"
	"beacon/cmd/security/password"
)

const testSecret = "correct horse battery staple"

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	cfg.RefreshSigningKey = "refresh-signing-key-0123456789abcdef"
	cfg.TokenHMACKey = "token-hmac-key-0123456789abcdef0123"
	return cfg
}

func fastPasswords() password.Config {
	p := password.DefaultConfig()
	p.Params.MemoryKiB = 8 * 1024
	p.Params.Iterations = 1
	p.Params.Parallelism = 1
	return p
}

type fixture struct {
	svc   *Service
	store *MemoryStore
	users *identity.MemoryDirectory
}

func newFixture(t *testing.T, mutate ...func(*Config)) fixture {
	t.Helper()

	cfg := testConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	store := NewMemoryStore()
	users := identity.NewMemoryDirectory()

	svc, err := NewService(cfg, store, users,
		WithPasswords(fastPasswords()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return fixture{svc: svc, store: store, users: users}
}

func (f fixture) addUser(t *testing.T, ident string, role identity.Role, st identity.Status) identity.User {
	t.Helper()

	h, err := fastPasswords().Hash(testSecret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := f.users.Upsert(context.Background(), identity.User{
		Identifier:   ident,
		Role:         role,
		Status:       st,
		PasswordHash: h,
	}, time.Now().UTC())
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	return u
}

func (f fixture) login(t *testing.T, ident string, dev Device, now time.Time) Issued {
	t.Helper()

	iss, _, err := f.svc.Login(context.Background(), now, LoginInput{Identifier: ident, Secret: testSecret, Device: dev})
	if err != nil {
		t.Fatalf("Login(%s): %v", ident, err)
	}
	return iss
}

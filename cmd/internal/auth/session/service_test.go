package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"beacon/cmd/identity"
	"beacon/cmd/internal/auth/autherr"
)

func TestLogin_PersistsHashedRecord(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.addUser(t, "rider@example.com", identity.RoleRider, identity.StatusApproved)
	now := time.Now().UTC()

	iss := f.login(t, "Rider@Example.com", Device{Name: "Pixel", Type: DeviceAndroid}, now)
	if iss.AccessToken == "" || iss.RefreshToken == "" || iss.SessionID == "" {
		t.Fatalf("expected full token pair, got %+v", iss)
	}

	rec, err := f.store.FindByHash(context.Background(), f.svc.HashRefreshToken(iss.RefreshToken))
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}
	if rec.IsRevoked || rec.UserID != u.ID || rec.ID != iss.SessionID {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.TokenHash == iss.RefreshToken {
		t.Fatalf("raw refresh token must never be stored")
	}
	if rec.DeviceType != DeviceAndroid || !rec.ExpiresAt.Equal(iss.RefreshExp) {
		t.Fatalf("device/expiry not recorded: %+v", rec)
	}

	claims, err := f.svc.VerifyAccess(iss.AccessToken, now)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != u.ID || claims.Role != identity.RoleRider {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestLogin_Failures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addUser(t, "ok@example.com", identity.RolePolice, identity.StatusApproved)
	f.addUser(t, "pending@example.com", identity.RoleRider, identity.StatusPending)
	f.addUser(t, "suspended@example.com", identity.RoleRider, identity.StatusSuspended)
	f.addUser(t, "rejected@example.com", identity.RoleRider, identity.StatusRejected)

	cases := []struct {
		name   string
		ident  string
		secret string
		want   error
	}{
		{"unknown identifier", "nobody@example.com", testSecret, autherr.ErrInvalidCredentials},
		{"wrong secret", "ok@example.com", "not the secret", autherr.ErrInvalidCredentials},
		{"empty secret", "ok@example.com", "", autherr.ErrInvalidCredentials},
		{"pending", "pending@example.com", testSecret, autherr.ErrAccountPending},
		{"suspended", "suspended@example.com", testSecret, autherr.ErrAccountSuspended},
		{"rejected", "rejected@example.com", testSecret, autherr.ErrAccountRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := f.svc.Login(context.Background(), time.Now().UTC(), LoginInput{Identifier: tc.ident, Secret: tc.secret})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestLogin_WrongSecretForPendingAccountIsGeneric(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addUser(t, "pending@example.com", identity.RoleRider, identity.StatusPending)

	_, _, err := f.svc.Login(context.Background(), time.Now().UTC(),
		LoginInput{Identifier: "pending@example.com", Secret: "guess"})
	if !errors.Is(err, autherr.ErrInvalidCredentials) {
		t.Fatalf("status must not leak before the secret is verified, got %v", err)
	}
}

func TestRefresh_SingleUse(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addUser(t, "vol@example.com", identity.RoleVolunteer, identity.StatusApproved)
	now := time.Now().UTC()
	ctx := context.Background()

	first := f.login(t, "vol@example.com", Device{Type: DeviceIOS}, now)

	second, err := f.svc.Refresh(ctx, now.Add(time.Minute), first.RefreshToken, Device{})
	if err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if second.RefreshToken == first.RefreshToken || second.SessionID == first.SessionID {
		t.Fatalf("rotation must mint a new token and record")
	}

	_, err = f.svc.Refresh(ctx, now.Add(2*time.Minute), first.RefreshToken, Device{})
	if !errors.Is(err, autherr.ErrTokenRevoked) {
		t.Fatalf("replay must fail with ErrTokenRevoked, got %v", err)
	}

	old, _ := f.store.FindByHash(ctx, f.svc.HashRefreshToken(first.RefreshToken))
	if old.RevokedReason != ReasonTokenRefresh || old.ReplacedByID != second.SessionID {
		t.Fatalf("old record not linked to successor: %+v", old)
	}
	next, _ := f.store.FindByHash(ctx, f.svc.HashRefreshToken(second.RefreshToken))
	if next.DeviceType != DeviceIOS {
		t.Fatalf("device type should carry over on rotation, got %q", next.DeviceType)
	}

	if _, err := f.svc.Refresh(ctx, now.Add(3*time.Minute), second.RefreshToken, Device{}); err != nil {
		t.Fatalf("successor token should refresh: %v", err)
	}
}

func TestRefresh_ConcurrentExactlyOneWinner(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addUser(t, "race@example.com", identity.RoleRider, identity.StatusApproved)
	now := time.Now().UTC()

	iss := f.login(t, "race@example.com", Device{}, now)

	const n = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		revoked int
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Refresh(context.Background(), now.Add(time.Second), iss.RefreshToken, Device{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, autherr.ErrTokenRevoked):
				revoked++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if wins != 1 || revoked != n-1 {
		t.Fatalf("expected 1 winner and %d revoked, got wins=%d revoked=%d", n-1, wins, revoked)
	}
}

func TestRefresh_RederivesRoleAndStatus(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.addUser(t, "cmd@example.com", identity.RoleCommander, identity.StatusApproved)
	now := time.Now().UTC()
	ctx := context.Background()

	iss := f.login(t, "cmd@example.com", Device{}, now)

	if err := f.users.SetRole(ctx, u.ID, identity.RoleVolunteer, now); err != nil {
		t.Fatalf("SetRole: %v", err)
	}
	next, err := f.svc.Refresh(ctx, now.Add(time.Second), iss.RefreshToken, Device{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	claims, err := f.svc.VerifyAccess(next.AccessToken, now.Add(time.Second))
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.Role != identity.RoleVolunteer {
		t.Fatalf("role must come from the directory, got %q", claims.Role)
	}

	if err := f.users.SetStatus(ctx, u.ID, identity.StatusSuspended, now); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	_, err = f.svc.Refresh(ctx, now.Add(2*time.Second), next.RefreshToken, Device{})
	if !errors.Is(err, autherr.ErrAccountSuspended) {
		t.Fatalf("expected ErrAccountSuspended, got %v", err)
	}
}

func TestRefresh_Failures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.addUser(t, "x@example.com", identity.RoleRider, identity.StatusApproved)
	now := time.Now().UTC()
	ctx := context.Background()

	iss := f.login(t, "x@example.com", Device{Type: DeviceWeb}, now)

	_, err := f.svc.Refresh(ctx, iss.RefreshExp.Add(time.Hour), iss.RefreshToken, Device{})
	if !errors.Is(err, autherr.ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	otherCfg := testConfig()
	otherCfg.RefreshSigningKey = "a-different-signing-key-0123456789"
	forger, err := NewJWTRefreshManager(otherCfg)
	if err != nil {
		t.Fatalf("NewJWTRefreshManager: %v", err)
	}
	forged, _, err := forger.Issue(u.ID, time.Hour, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = f.svc.Refresh(ctx, now, forged, Device{})
	if !errors.Is(err, autherr.ErrTokenInvalidSignature) {
		t.Fatalf("expected ErrTokenInvalidSignature, got %v", err)
	}

	_, err = f.svc.Refresh(ctx, now, "garbage", Device{})
	if !errors.Is(err, autherr.ErrAuthMalformed) {
		t.Fatalf("expected ErrAuthMalformed, got %v", err)
	}

	// Well-signed token whose record is gone.
	orphan, _, err := f.svc.refresh.Issue(u.ID, time.Hour, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	_, err = f.svc.Refresh(ctx, now, orphan, Device{})
	if !errors.Is(err, autherr.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestLogout_IsolatesDevices(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.addUser(t, "two@example.com", identity.RolePolice, identity.StatusApproved)
	now := time.Now().UTC()
	ctx := context.Background()

	a := f.login(t, "two@example.com", Device{Name: "A", Type: DeviceAndroid}, now)
	b := f.login(t, "two@example.com", Device{Name: "B", Type: DeviceWeb}, now)

	if err := f.svc.Logout(ctx, now, a.RefreshToken); err != nil {
		t.Fatalf("Logout(A): %v", err)
	}
	if err := f.svc.Logout(ctx, now, a.RefreshToken); err != nil {
		t.Fatalf("second Logout(A) must be a no-op: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, now.Add(time.Second), b.RefreshToken, Device{}); err != nil {
		t.Fatalf("Refresh(B) after Logout(A): %v", err)
	}
	if _, err := f.svc.Refresh(ctx, now.Add(time.Second), a.RefreshToken, Device{}); !errors.Is(err, autherr.ErrTokenRevoked) {
		t.Fatalf("Refresh(A) after logout: expected ErrTokenRevoked, got %v", err)
	}

	if err := f.svc.Logout(ctx, now, "never-issued"); !errors.Is(err, autherr.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if err := f.svc.Logout(ctx, now, " "); !errors.Is(err, autherr.ErrAuthMissing) {
		t.Fatalf("expected ErrAuthMissing, got %v", err)
	}
}

func TestLogoutAll_Idempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.addUser(t, "many@example.com", identity.RoleAdmin, identity.StatusApproved)
	now := time.Now().UTC()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		f.login(t, "many@example.com", Device{}, now)
	}

	n, err := f.svc.LogoutAll(ctx, now, u.ID)
	if err != nil || n != 3 {
		t.Fatalf("first LogoutAll: n=%d err=%v", n, err)
	}
	n, err = f.svc.LogoutAll(ctx, now, u.ID)
	if err != nil || n != 0 {
		t.Fatalf("second LogoutAll: n=%d err=%v", n, err)
	}

	active, err := f.svc.ActiveSessions(ctx, now, u.ID)
	if err != nil || len(active) != 0 {
		t.Fatalf("expected no active sessions, got %d (%v)", len(active), err)
	}
}

func TestRevokeFamilyOnReuse(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *Config) { c.RevokeFamilyOnReuse = true })
	f.addUser(t, "reuse@example.com", identity.RoleRider, identity.StatusApproved)
	now := time.Now().UTC()
	ctx := context.Background()

	stolen := f.login(t, "reuse@example.com", Device{}, now)
	other := f.login(t, "reuse@example.com", Device{}, now)

	rotated, err := f.svc.Refresh(ctx, now.Add(time.Second), stolen.RefreshToken, Device{})
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if _, err := f.svc.Refresh(ctx, now.Add(2*time.Second), stolen.RefreshToken, Device{}); !errors.Is(err, autherr.ErrTokenRevoked) {
		t.Fatalf("replay: expected ErrTokenRevoked, got %v", err)
	}

	for _, tok := range []string{rotated.RefreshToken, other.RefreshToken} {
		if _, err := f.svc.Refresh(ctx, now.Add(3*time.Second), tok, Device{}); !errors.Is(err, autherr.ErrTokenRevoked) {
			t.Fatalf("family should be revoked after reuse, got %v", err)
		}
	}
}

func TestChangePassword_RevokesEverySession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	u := f.addUser(t, "pw@example.com", identity.RolePolice, identity.StatusApproved)
	now := time.Now().UTC()
	ctx := context.Background()

	a := f.login(t, "pw@example.com", Device{}, now)
	f.login(t, "pw@example.com", Device{}, now)

	if _, err := f.svc.ChangePassword(ctx, now, u.ID, "wrong", "a brand new passphrase"); !errors.Is(err, autherr.ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	n, err := f.svc.ChangePassword(ctx, now, u.ID, testSecret, "a brand new passphrase")
	if err != nil || n != 2 {
		t.Fatalf("ChangePassword: n=%d err=%v", n, err)
	}
	if _, err := f.svc.Refresh(ctx, now.Add(time.Second), a.RefreshToken, Device{}); !errors.Is(err, autherr.ErrTokenRevoked) {
		t.Fatalf("old sessions must be revoked, got %v", err)
	}
	if _, _, err := f.svc.Login(ctx, now, LoginInput{Identifier: "pw@example.com", Secret: "a brand new passphrase"}); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	t.Parallel()
	f := newFixture(t, func(c *Config) { c.Retention = time.Hour })
	f.addUser(t, "sweep@example.com", identity.RoleRider, identity.StatusApproved)
	now := time.Now().UTC()
	ctx := context.Background()

	old := f.login(t, "sweep@example.com", Device{Type: DeviceWeb}, now)
	if err := f.svc.Logout(ctx, now, old.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	live := f.login(t, "sweep@example.com", Device{Type: DeviceWeb}, now.Add(2*time.Hour))

	n, err := f.svc.SweepExpired(ctx, now.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("SweepExpired: n=%d err=%v", n, err)
	}
	if _, err := f.store.FindByHash(ctx, f.svc.HashRefreshToken(live.RefreshToken)); err != nil {
		t.Fatalf("live session must survive the sweep: %v", err)
	}
}

func TestLogin_UpgradesLegacyHash(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	weak := fastPasswords()
	weak.Params.KeyLength = 16
	h, err := weak.Hash(testSecret)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	u, err := f.users.Upsert(ctx, identity.User{
		Identifier: "legacy@example.com", Role: identity.RoleRider,
		Status: identity.StatusApproved, PasswordHash: h,
	}, now)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	f.login(t, "legacy@example.com", Device{}, now)

	got, _ := f.users.GetUser(ctx, u.ID)
	if got.PasswordHash == h {
		t.Fatalf("expected hash to be upgraded")
	}
	f.login(t, "legacy@example.com", Device{}, now)
}

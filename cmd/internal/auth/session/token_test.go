package session

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"beacon/cmd/identity"
	"beacon/cmd/internal/auth/autherr"
)

func TestPasetoAccess_IssueAndVerify(t *testing.T) {
	t.Parallel()

	mgr, err := NewPasetoAccessManager(testConfig())
	if err != nil {
		t.Fatalf("NewPasetoAccessManager: %v", err)
	}

	now := time.Now().UTC()
	tok, exp, err := mgr.Issue("01J0USER", identity.RoleCommander, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !exp.After(now) {
		t.Fatalf("expected exp after now")
	}

	claims, err := mgr.Verify(tok, now.Add(time.Second))
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "01J0USER" || claims.Role != identity.RoleCommander || claims.Issuer != "beacon" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if mgr.PublicKeyHex() == "" {
		t.Fatalf("expected public key")
	}
}

func TestPasetoAccess_Classification(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	mgr, err := NewPasetoAccessManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoAccessManager: %v", err)
	}
	otherKey, err := NewPasetoAccessManager(testConfig())
	if err != nil {
		t.Fatalf("NewPasetoAccessManager: %v", err)
	}
	otherIssuerCfg := cfg
	otherIssuerCfg.Issuer = "someone-else"
	otherIssuer, err := NewPasetoAccessManager(otherIssuerCfg)
	if err != nil {
		t.Fatalf("NewPasetoAccessManager: %v", err)
	}

	now := time.Now().UTC()
	good, _, _ := mgr.Issue("u1", identity.RolePolice, now)
	forged, _, _ := otherKey.Issue("u1", identity.RoleSuperAdmin, now)
	foreign, _, _ := otherIssuer.Issue("u1", identity.RolePolice, now)

	cases := []struct {
		name string
		tok  string
		at   time.Time
		want error
	}{
		{"empty", "  ", now, autherr.ErrAuthMissing},
		{"not paseto", "Bearer abc", now, autherr.ErrAuthMalformed},
		{"local purpose", "v4.local.AAAA", now, autherr.ErrAuthMalformed},
		{"wrong key", forged, now, autherr.ErrTokenInvalidSignature},
		{"wrong issuer", foreign, now, autherr.ErrTokenInvalidSignature},
		{"truncated", good[:len(good)-4], now, autherr.ErrTokenInvalidSignature},
		{"expired", good, now.Add(cfg.AccessTokenTTL + cfg.ClockSkew + time.Second), autherr.ErrTokenExpired},
		{"within skew", good, now.Add(cfg.AccessTokenTTL + cfg.ClockSkew/2), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := mgr.Verify(tc.tok, tc.at)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected ok, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestJWTRefresh_Classification(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	mgr, err := NewJWTRefreshManager(cfg)
	if err != nil {
		t.Fatalf("NewJWTRefreshManager: %v", err)
	}

	now := time.Now().UTC()
	good, exp, err := mgr.Issue("u1", time.Hour, now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := mgr.Verify(good, now)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != "u1" || claims.TokenID == "" || claims.ExpiresAt.Unix() != exp.Unix() {
		t.Fatalf("unexpected claims: %+v", claims)
	}

	again, _, _ := mgr.Issue("u1", time.Hour, now)
	if again == good {
		t.Fatalf("two refresh tokens in the same second must differ")
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		Issuer:    cfg.Issuer,
		Subject:   "u1",
		ID:        "x",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("none token: %v", err)
	}

	cases := []struct {
		name string
		tok  string
		at   time.Time
		want error
	}{
		{"empty", "", now, autherr.ErrAuthMissing},
		{"garbage", "not.a.jwt", now, autherr.ErrAuthMalformed},
		{"alg none", none, now, autherr.ErrTokenInvalidSignature},
		{"expired", good, now.Add(2 * time.Hour), autherr.ErrTokenExpired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := mgr.Verify(tc.tok, tc.at); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

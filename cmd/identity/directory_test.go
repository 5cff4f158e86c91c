package identity

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryDirectory_UpsertAndLookup(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	d := NewMemoryDirectory()

	u, err := d.Upsert(ctx, User{Identifier: "Rider@Example.com", Role: RoleRider, Status: StatusApproved}, now)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if u.ID == "" || u.Identifier != "rider@example.com" {
		t.Fatalf("unexpected user: %+v", u)
	}

	got, err := d.FindByIdentifier(ctx, "RIDER@example.com")
	if err != nil || got.ID != u.ID {
		t.Fatalf("find: %+v %v", got, err)
	}

	if _, err := d.GetUser(ctx, "missing"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryDirectory_IdentifierConflict(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	d := NewMemoryDirectory()

	if _, err := d.Upsert(ctx, User{Identifier: "a@x.io", Role: RoleRider, Status: StatusApproved}, now); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	_, err := d.Upsert(ctx, User{Identifier: "A@X.io", Role: RolePolice, Status: StatusApproved}, now)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestMemoryDirectory_StatusRoleAndPassword(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	d := NewMemoryDirectory()

	u, err := d.Upsert(ctx, User{Identifier: "+15550100", Role: RolePolice, Status: StatusApproved}, now)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if err := d.SetStatus(ctx, u.ID, StatusSuspended, now); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if err := d.SetRole(ctx, u.ID, RoleVolunteer, now); err != nil {
		t.Fatalf("set role: %v", err)
	}
	if err := d.UpdatePasswordHash(ctx, u.ID, "$argon2id$x", now); err != nil {
		t.Fatalf("update hash: %v", err)
	}

	got, _ := d.GetUser(ctx, u.ID)
	if got.Status != StatusSuspended || got.Role != RoleVolunteer || got.PasswordHash != "$argon2id$x" {
		t.Fatalf("unexpected user after updates: %+v", got)
	}

	if err := d.SetStatus(ctx, u.ID, Status("gone"), now); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if err := d.UpdatePasswordHash(ctx, "nope", "h", now); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

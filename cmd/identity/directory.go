package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

// User is Beacon's canonical security principal as stored in the directory.
type User struct {
	ID           string
	Identifier   string // normalized email or phone
	DisplayName  string
	Role         Role
	Status       Status
	PasswordHash string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Directory is the read/write boundary the session layer needs from the user store.
//
// GetUser and FindByIdentifier return an error wrapping ErrNotFound when no
// row matches. Any other error is treated as the directory being unavailable.
type Directory interface {
	GetUser(ctx context.Context, id string) (User, error)
	FindByIdentifier(ctx context.Context, identifier string) (User, error)
	UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error
}

// MemoryDirectory is an in-process Directory for tests and single-node dev runs.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byID    map[string]User
	byIdent map[string]string
}

// NewMemoryDirectory returns an empty MemoryDirectory.
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		byID:    make(map[string]User),
		byIdent: make(map[string]string),
	}
}

// Upsert inserts or replaces u. Identifier is normalized; an empty ID is
// generated.
func (d *MemoryDirectory) Upsert(ctx context.Context, u User, now time.Time) (User, error) {
	const op = "identity.MemoryDirectory.Upsert"

	u.Identifier = NormalizeIdentifier(u.Identifier)
	if u.Identifier == "" {
		return User{}, invalid(op, "identifier is required")
	}
	if !u.Role.Valid() {
		return User{}, invalid(op, "invalid role")
	}
	if !u.Status.Valid() {
		return User{}, invalid(op, "invalid status")
	}
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	if strings.TrimSpace(u.ID) == "" {
		id, err := NewUserID(now)
		if err != nil {
			return User{}, err
		}
		u.ID = id
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if owner, ok := d.byIdent[u.Identifier]; ok && owner != u.ID {
		return User{}, OpError{Op: op, Kind: ErrConflict, Msg: "identifier"}
	}
	if prev, ok := d.byID[u.ID]; ok {
		delete(d.byIdent, prev.Identifier)
		u.CreatedAt = prev.CreatedAt
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	d.byID[u.ID] = u
	d.byIdent[u.Identifier] = u.ID
	return u, nil
}

// SetStatus changes a user's status.
func (d *MemoryDirectory) SetStatus(_ context.Context, id string, st Status, now time.Time) error {
	const op = "identity.MemoryDirectory.SetStatus"
	if !st.Valid() {
		return invalid(op, "invalid status")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.byID[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	u.Status = st
	u.UpdatedAt = now
	d.byID[id] = u
	return nil
}

// SetRole changes a user's role.
func (d *MemoryDirectory) SetRole(_ context.Context, id string, r Role, now time.Time) error {
	const op = "identity.MemoryDirectory.SetRole"
	if !r.Valid() {
		return invalid(op, "invalid role")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.byID[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	u.Role = r
	u.UpdatedAt = now
	d.byID[id] = u
	return nil
}

func (d *MemoryDirectory) GetUser(ctx context.Context, id string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	u, ok := d.byID[id]
	if !ok {
		return User{}, NotFoundError{Op: "identity.MemoryDirectory.GetUser", Resource: "user"}
	}
	return u, nil
}

func (d *MemoryDirectory) FindByIdentifier(ctx context.Context, identifier string) (User, error) {
	if err := ctx.Err(); err != nil {
		return User{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byIdent[NormalizeIdentifier(identifier)]
	if !ok {
		return User{}, NotFoundError{Op: "identity.MemoryDirectory.FindByIdentifier", Resource: "user"}
	}
	return d.byID[id], nil
}

func (d *MemoryDirectory) UpdatePasswordHash(ctx context.Context, id, hash string, now time.Time) error {
	const op = "identity.MemoryDirectory.UpdatePasswordHash"
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(hash) == "" {
		return invalid(op, "empty hash")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	u, ok := d.byID[id]
	if !ok {
		return NotFoundError{Op: op, Resource: "user"}
	}
	u.PasswordHash = hash
	u.UpdatedAt = now
	d.byID[id] = u
	return nil
}

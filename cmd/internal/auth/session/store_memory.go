package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"beacon/cmd/internal/auth/autherr"
)

// MemoryStore is an in-process Store for tests and single-node dev runs.
// One mutex guards all records, which makes Rotate trivially atomic.
type MemoryStore struct {
	mu     sync.Mutex
	byHash map[string]*Record
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byHash: make(map[string]*Record)}
}

func (s *MemoryStore) Insert(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byHash[rec.TokenHash]; ok {
		return errDuplicateHash
	}
	r := rec
	s.byHash[rec.TokenHash] = &r
	return nil
}

func (s *MemoryStore) FindByHash(ctx context.Context, hash string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byHash[hash]
	if !ok {
		return Record{}, autherr.ErrSessionNotFound
	}
	return *r, nil
}

func (s *MemoryStore) Rotate(ctx context.Context, now time.Time, oldHash string, next Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byHash[oldHash]
	if !ok {
		return autherr.ErrSessionNotFound
	}
	if old.IsRevoked {
		return autherr.ErrTokenRevoked
	}
	if _, dup := s.byHash[next.TokenHash]; dup {
		return errDuplicateHash
	}

	t := now
	old.IsRevoked = true
	old.RevokedAt = &t
	old.RevokedReason = ReasonTokenRefresh
	old.LastUsedAt = &t
	old.ReplacedByID = next.ID

	n := next
	s.byHash[next.TokenHash] = &n
	return nil
}

func (s *MemoryStore) RevokeByHash(ctx context.Context, now time.Time, hash string, reason RevokeReason) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byHash[hash]
	if !ok {
		return autherr.ErrSessionNotFound
	}
	if !r.IsRevoked {
		t := now
		r.IsRevoked = true
		r.RevokedAt = &t
		r.RevokedReason = reason
	}
	return nil
}

func (s *MemoryStore) RevokeAllByUser(ctx context.Context, now time.Time, userID string, reason RevokeReason) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.byHash {
		if r.UserID != userID || r.IsRevoked {
			continue
		}
		t := now
		r.IsRevoked = true
		r.RevokedAt = &t
		r.RevokedReason = reason
		n++
	}
	return n, nil
}

func (s *MemoryStore) ListActiveByUser(ctx context.Context, now time.Time, userID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for _, r := range s.byHash {
		if r.UserID == userID && r.Active(now) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for h, r := range s.byHash {
		expired := r.ExpiresAt.Before(cutoff)
		revoked := r.IsRevoked && r.RevokedAt != nil && r.RevokedAt.Before(cutoff)
		if expired || revoked {
			delete(s.byHash, h)
			n++
		}
	}
	return n, nil
}

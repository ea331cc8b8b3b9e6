// Package memory provides a thread-safe in-memory credential store for tests and
// local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"sesame.dev/internal/auth"
	"sesame.dev/internal/ids"
)

// Store implements auth.CredentialStore. Username and email uniqueness is enforced
// under the same lock as the write, the way a database constraint would.
type Store struct {
	mu sync.RWMutex

	byID       map[string]*auth.User
	byUsername map[string]string
	byEmail    map[string]string

	now func() time.Time
}

var _ auth.CredentialStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		byID:       make(map[string]*auth.User),
		byUsername: make(map[string]string),
		byEmail:    make(map[string]string),
		now:        time.Now,
	}
}

func (s *Store) FindByHandle(ctx context.Context, handle string) (*auth.User, error) {
	u, err := s.FindByUsername(ctx, handle)
	if err == nil {
		return u, nil
	}
	return s.FindByEmail(ctx, handle)
}

func (s *Store) FindByUsername(_ context.Context, username string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return s.copyOf(id), nil
}

func (s *Store) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return s.copyOf(id), nil
}

func (s *Store) FindByID(_ context.Context, id string) (*auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.byID[id]; !ok {
		return nil, auth.ErrNotFound
	}
	return s.copyOf(id), nil
}

func (s *Store) List(_ context.Context) ([]auth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]auth.User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

func (s *Store) Create(_ context.Context, u *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(u.Email)
	if _, taken := s.byUsername[u.Username]; taken {
		return auth.ErrAlreadyExists
	}
	if _, taken := s.byEmail[email]; taken {
		return auth.ErrAlreadyExists
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	now := s.now().UTC()
	u.Email = email
	u.CreatedAt = now
	u.UpdatedAt = now

	cp := *u
	s.byID[cp.ID] = &cp
	s.byUsername[cp.Username] = cp.ID
	s.byEmail[cp.Email] = cp.ID
	return nil
}

func (s *Store) Update(_ context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	next := *current
	if upd.Username != nil {
		if owner, taken := s.byUsername[*upd.Username]; taken && owner != id {
			return nil, auth.ErrAlreadyExists
		}
		next.Username = *upd.Username
	}
	if upd.Email != nil {
		email := strings.ToLower(*upd.Email)
		if owner, taken := s.byEmail[email]; taken && owner != id {
			return nil, auth.ErrAlreadyExists
		}
		next.Email = email
	}
	if upd.Password != nil {
		next.PasswordHash = *upd.Password
	}
	if upd.IsAdmin != nil {
		next.IsAdmin = *upd.IsAdmin
	}
	if !upd.Empty() {
		next.UpdatedAt = s.now().UTC()
	}

	delete(s.byUsername, current.Username)
	delete(s.byEmail, current.Email)
	s.byID[id] = &next
	s.byUsername[next.Username] = id
	s.byEmail[next.Email] = id
	return s.copyOf(id), nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.byUsername, u.Username)
	delete(s.byEmail, u.Email)
	delete(s.byID, id)
	return nil
}

// Ping always succeeds; it exists so the store satisfies readiness probes.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) copyOf(id string) *auth.User {
	cp := *s.byID[id]
	return &cp
}

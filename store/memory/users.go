// Package memory provides a process-local authcore.UserStore for tests and
// single-node development. Data is lost on restart.
package memory

import (
	"context"
	"sync"

	"github.com/sitebook/authcore"
)

// UserStore keeps users and backup code hashes in maps guarded by one
// mutex, which makes every compare-and-set method trivially atomic.
type UserStore struct {
	mu      sync.Mutex
	byID    map[string]*authcore.User
	byEmail map[string]string
	codes   map[string]map[[32]byte]bool
}

func NewUserStore() *UserStore {
	return &UserStore{
		byID:    make(map[string]*authcore.User),
		byEmail: make(map[string]string),
		codes:   make(map[string]map[[32]byte]bool),
	}
}

func (s *UserStore) CreateUser(_ context.Context, u *authcore.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[u.Email]; taken {
		return authcore.ErrConflict
	}
	cp := *u
	s.byID[u.ID] = &cp
	s.byEmail[u.Email] = u.ID
	return nil
}

func (s *UserStore) GetUserByEmail(_ context.Context, email string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[email]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	cp := *s.byID[id]
	return &cp, nil
}

func (s *UserStore) GetUserByID(_ context.Context, id string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *UserStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (s *UserStore) SetPendingTwoFactor(_ context.Context, id, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	if u.TwoFactorEnabled {
		return authcore.ErrAlreadyEnrolled
	}
	u.TwoFactorSecret = secret
	return nil
}

func (s *UserStore) EnableTwoFactor(_ context.Context, id, secret string, counter int64, codes [][32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return false, authcore.ErrUserNotFound
	}
	if u.TwoFactorEnabled || u.TwoFactorSecret != secret {
		return false, nil
	}
	u.TwoFactorEnabled = true
	u.TOTPLastCounter = counter
	s.codes[id] = codeSet(codes)
	return true, nil
}

func (s *UserStore) DisableTwoFactor(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	u.TwoFactorEnabled = false
	u.TwoFactorSecret = ""
	u.TOTPLastCounter = -1
	delete(s.codes, id)
	return nil
}

func (s *UserStore) AdvanceTOTPCounter(_ context.Context, id string, counter int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return false, authcore.ErrUserNotFound
	}
	if counter <= u.TOTPLastCounter {
		return false, nil
	}
	u.TOTPLastCounter = counter
	return true, nil
}

func (s *UserStore) ReplaceBackupCodes(_ context.Context, id string, codes [][32]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	if !u.TwoFactorEnabled {
		return authcore.ErrNotEnrolled
	}
	s.codes[id] = codeSet(codes)
	return nil
}

func (s *UserStore) ConsumeBackupCode(_ context.Context, id string, hash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.codes[id]
	used, ok := set[hash]
	if !ok || used {
		return false, nil
	}
	set[hash] = true
	return true, nil
}

func (s *UserStore) CountBackupCodes(_ context.Context, id string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, used := range s.codes[id] {
		if !used {
			n++
		}
	}
	return n, nil
}

func codeSet(codes [][32]byte) map[[32]byte]bool {
	set := make(map[[32]byte]bool, len(codes))
	for _, c := range codes {
		set[c] = false
	}
	return set
}

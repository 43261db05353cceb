package auth

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/xtrntr/kdex/internal/db"
	"github.com/xtrntr/kdex/internal/models"
)

// MemoryStore is a UserStore for deployments without a database. Users do
// not survive a restart.
type MemoryStore struct {
	mu     sync.Mutex
	nextID int
	users  map[string]*models.User
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*models.User)}
}

// CreateUser enforces the same uniqueness rules as the users table
func (m *MemoryStore) CreateUser(_ context.Context, username, passwordHash string, address common.Address) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username || u.Address == address {
			return nil, db.ErrUserExists
		}
	}
	m.nextID++
	u := &models.User{
		ID:           m.nextID,
		Username:     username,
		PasswordHash: passwordHash,
		Address:      address,
		CreatedAt:    time.Now(),
	}
	m.users[username] = u
	return u, nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, db.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// MaxPasswordLength is the bcrypt input limit in bytes.
const MaxPasswordLength = 72

var (
	// ErrUserExists is returned when creating a duplicate user.
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound is returned when deleting an unknown user.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmptyCredentials is returned for a blank username or password.
	ErrEmptyCredentials = errors.New("username and password are required")
	// ErrPasswordTooLong is returned for passwords over MaxPasswordLength.
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
)

// hashCost is the bcrypt work factor for new hashes.
var hashCost = bcrypt.DefaultCost

// CredentialStore manages user accounts.
type CredentialStore interface {
	Verify(ctx context.Context, user, pass string) (bool, error)
	CreateUser(ctx context.Context, user, pass string) error
	DeleteUser(ctx context.Context, user string) error
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyCredentials
	}
	if len(password) > MaxPasswordLength {
		return "", ErrPasswordTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// MemoryStore keeps accounts in memory. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.RWMutex
	hashes map[string]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{hashes: make(map[string]string)}
}

// AddHash registers user with an existing bcrypt hash, replacing any
// previous entry.
func (m *MemoryStore) AddHash(user, hash string) error {
	if user == "" || hash == "" {
		return ErrEmptyCredentials
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("user %s: invalid password hash: %w", user, err)
	}
	m.mu.Lock()
	m.hashes[user] = hash
	m.mu.Unlock()
	return nil
}

// CreateUser adds user with a freshly hashed password.
func (m *MemoryStore) CreateUser(_ context.Context, user, pass string) error {
	if user == "" {
		return ErrEmptyCredentials
	}
	hash, err := HashPassword(pass)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashes[user]; ok {
		return fmt.Errorf("%w: %s", ErrUserExists, user)
	}
	m.hashes[user] = hash

	logrus.WithFields(logrus.Fields{
		"function": "MemoryStore.CreateUser",
		"username": user,
	}).Info("User created")
	return nil
}

// DeleteUser removes user.
func (m *MemoryStore) DeleteUser(_ context.Context, user string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.hashes[user]; !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, user)
	}
	delete(m.hashes, user)
	return nil
}

// Verify checks pass against the stored hash. Unknown users are a plain
// false, not an error.
func (m *MemoryStore) Verify(_ context.Context, user, pass string) (bool, error) {
	m.mu.RLock()
	hash, ok := m.hashes[user]
	m.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return CheckPassword(hash, pass), nil
}

// Users returns the registered usernames in order.
func (m *MemoryStore) Users() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]string, 0, len(m.hashes))
	for u := range m.hashes {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

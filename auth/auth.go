// Package auth signs users in, resolves session tokens and decides what a
// role may do.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/c360studio/aibenefits/storage"
	"github.com/c360studio/aibenefits/tracker"
)

// Authentication errors.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUnauthenticated    = errors.New("not signed in")
	ErrSessionExpired     = errors.New("session expired")
	ErrForbidden          = errors.New("permission denied")
	ErrWeakPassword       = errors.New("password must be 8 to 72 bytes long")
)

// Password length bounds. bcrypt ignores input past 72 bytes and refuses it.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 72
)

// Store is the persistence the service needs.
type Store interface {
	GetUser(ctx context.Context, id string) (*tracker.User, error)
	GetUserByEmail(ctx context.Context, email string) (*tracker.User, error)
	CreateSession(ctx context.Context, sess *storage.Session) error
	GetSession(ctx context.Context, tokenHash string) (*storage.Session, error)
	DeleteSession(ctx context.Context, tokenHash string) error
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// Service issues and resolves sessions.
type Service struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a session service whose sessions last ttl.
func NewService(store Store, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, ttl: ttl, now: time.Now, logger: logger}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Login is the outcome of a successful sign-in. Token is only ever returned
// here; the store keeps its hash.
type Login struct {
	Token     string
	User      *tracker.User
	ExpiresAt time.Time
}

// passwordCost is the bcrypt cost of stored hashes.
const passwordCost = bcrypt.DefaultCost

// dummyHash is compared against when the email is unknown. It has the same
// cost as stored hashes so both failure paths take as long.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("unused-password"), passwordCost)

// Login verifies credentials and opens a session.
func (s *Service) Login(ctx context.Context, email, password string) (*Login, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if errors.Is(err, storage.ErrNotFound) {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if user.PasswordHash == "" || !CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &storage.Session{
		TokenHash: HashToken(token),
		UserID:    user.ID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("User signed in", "user_id", user.ID, "role", user.Role)
	return &Login{Token: token, User: user, ExpiresAt: sess.ExpiresAt}, nil
}

// Authenticate resolves a session token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*tracker.User, error) {
	if token == "" {
		return nil, ErrUnauthenticated
	}
	hash := HashToken(token)
	sess, err := s.store.GetSession(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !s.now().Before(sess.ExpiresAt) {
		if err := s.store.DeleteSession(ctx, hash); err != nil {
			s.logger.Warn("Failed to delete expired session", "error", err)
		}
		return nil, ErrSessionExpired
	}

	user, err := s.store.GetUser(ctx, sess.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnauthenticated
	}
	if err != nil {
		return nil, fmt.Errorf("get session user: %w", err)
	}
	return user, nil
}

// Logout ends the session identified by token.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.store.DeleteSession(ctx, HashToken(token))
}

// PurgeExpired removes every expired session.
func (s *Service) PurgeExpired(ctx context.Context) (int64, error) {
	return s.store.DeleteExpiredSessions(ctx, s.now())
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength || len(password) > MaxPasswordLength {
		return "", ErrWeakPassword
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), passwordCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// HashToken returns the stored form of a session token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func newToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

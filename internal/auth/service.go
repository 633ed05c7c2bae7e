package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/vovakirdan/chatrelay/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when trying to register with existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Service provides authentication operations.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// Register creates a new user with hashed password and returns a JWT token.
func (s *Service) Register(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return "", ErrInvalidUsername
	}
	if len(password) < 6 {
		return "", ErrInvalidPassword
	}

	existing, err := s.store.GetUserByUsername(ctx, username)
	if err == nil && existing != nil {
		return "", ErrUserExists
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, hashedPassword)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username, false)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

// Login validates credentials and returns a JWT token.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return "", ErrInvalidCredentials
	}

	if errPwd := ComparePassword(user.PasswordHash, password); errPwd != nil {
		return "", ErrInvalidCredentials
	}

	token, err := GenerateToken(s.jwtConfig, user.ID, user.Username, false)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}

	return token, nil
}

// CreateGuestUser creates a temporary guest user and returns a JWT token
// along with the guest's generated username.
func (s *Service) CreateGuestUser(ctx context.Context) (token, username string, err error) {
	sessionID := strings.ReplaceAll(uuid.NewString(), "-", "")

	user, err := s.store.CreateGuestUser(ctx, sessionID)
	if err != nil {
		return "", "", fmt.Errorf("create guest user: %w", err)
	}

	token, err = GenerateToken(s.jwtConfig, user.ID, user.Username, true)
	if err != nil {
		return "", "", fmt.Errorf("generate token: %w", err)
	}

	return token, user.Username, nil
}

// VerifyToken validates a token string and returns its claims.
func (s *Service) VerifyToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/xtrntr/kdex/internal/models"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid token")
	// ErrReservedAddress is returned when registering an address the
	// exchange itself operates, such as custody or the fee account
	ErrReservedAddress = errors.New("address is reserved")
)

// UserStore persists registered users
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string, address common.Address) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// Claims identify the caller of a protected endpoint
type Claims struct {
	UserID   int            `json:"user_id"`
	Username string         `json:"username"`
	Address  common.Address `json:"address"`
	jwt.RegisteredClaims
}

// AuthService handles user authentication
type AuthService struct {
	users    UserStore
	secret   []byte
	ttl      time.Duration
	reserved map[common.Address]struct{}
	now      func() time.Time
}

// NewAuthService creates a new auth service signing with secret. No user
// may register one of the reserved addresses.
func NewAuthService(users UserStore, secret string, ttl time.Duration, reserved ...common.Address) *AuthService {
	s := &AuthService{
		users:    users,
		secret:   []byte(secret),
		ttl:      ttl,
		reserved: make(map[common.Address]struct{}, len(reserved)),
		now:      time.Now,
	}
	for _, addr := range reserved {
		s.reserved[addr] = struct{}{}
	}
	return s
}

// Register creates a new user with hashed password, bound to address
func (s *AuthService) Register(ctx context.Context, username, password string, address common.Address) (*models.User, error) {
	// Validate input
	if username == "" {
		return nil, fmt.Errorf("username cannot be empty")
	}
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("username too long (max 50 characters)")
	}
	if len(password) > 72 {
		return nil, fmt.Errorf("password too long (max 72 characters)")
	}
	if address == (common.Address{}) {
		return nil, fmt.Errorf("address cannot be empty")
	}
	if _, ok := s.reserved[address]; ok {
		return nil, fmt.Errorf("%w: %s", ErrReservedAddress, address.Hex())
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user, err := s.users.CreateUser(ctx, username, string(hashedPassword), address)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Login verifies credentials and generates a JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.GetUserByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := s.now()
	claims := Claims{
		UserID:   user.ID,
		Username: user.Username,
		Address:  user.Address,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	tokenString, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return tokenString, nil
}

// GetUserFromToken validates a JWT and returns its claims
func (s *AuthService) GetUserFromToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Address == (common.Address{}) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

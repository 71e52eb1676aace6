// Package auth registers accounts, checks passwords and issues the bearer
// tokens that identify callers of the HTTP and gRPC APIs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/bookstore/services/lending/internal/apperr"
	"github.com/bookstore/services/lending/internal/clock"
	"github.com/bookstore/services/lending/internal/db"
	"github.com/bookstore/services/lending/internal/repo"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 6

// Principal is the authenticated caller.
type Principal struct {
	UserID uint
	Role   string
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == db.RoleAdmin
}

// LoginResult is returned by a successful Login.
type LoginResult struct {
	Token  string `json:"token"`
	Role   string `json:"role"`
	UserID uint   `json:"user_id"`
}

type claims struct {
	ID   uint   `json:"id"`
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Service handles registration, login and token verification
type Service struct {
	users  *repo.UserRepository
	secret []byte
	expiry time.Duration
	clock  clock.Clock
	cost   int
	log    *zap.Logger
}

// NewService creates an auth service signing HS256 tokens with secret
func NewService(users *repo.UserRepository, secret string, expiry time.Duration, clk clock.Clock, log *zap.Logger) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{
		users:  users,
		secret: []byte(secret),
		expiry: expiry,
		clock:  clk,
		cost:   bcrypt.DefaultCost,
		log:    log,
	}
}

// Register creates an account. Role defaults to student.
func (s *Service) Register(ctx context.Context, name, email, password, role string) (*db.User, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return nil, apperr.Validation("Name, email and password are required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, apperr.Validation("Invalid email address")
	}
	if len(password) < minPasswordLength {
		return nil, apperr.Validation("Password must be at least %d characters", minPasswordLength)
	}

	switch role {
	case "":
		role = db.RoleStudent
	case db.RoleAdmin, db.RoleStudent:
	default:
		return nil, apperr.Validation("Role must be admin or student")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &db.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repo.ErrUserAlreadyExists) {
			return nil, apperr.Conflict("User already exists")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login checks the credentials and returns a signed token.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, apperr.Unauthorized("Invalid email or password")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, apperr.Unauthorized("Invalid email or password")
	}

	token, err := s.IssueToken(user)
	if err != nil {
		return nil, err
	}

	return &LoginResult{Token: token, Role: user.Role, UserID: user.ID}, nil
}

// IssueToken signs a token for user that expires after the configured duration.
func (s *Service) IssueToken(user *db.User) (string, error) {
	now := s.clock.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		ID:   user.ID,
		Role: user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
		},
	})

	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses a bearer token and returns its principal.
func (s *Service) Verify(token string) (*Principal, error) {
	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.clock.Now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		s.log.Debug("Token rejected", zap.Error(err))
		return nil, apperr.Unauthorized("Invalid or expired token")
	}
	if c.ID == 0 {
		return nil, apperr.Unauthorized("Invalid or expired token")
	}

	return &Principal{UserID: c.ID, Role: c.Role}, nil
}

// Profile returns the account a principal belongs to.
func (s *Service) Profile(ctx context.Context, userID uint) (*db.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, apperr.NotFound("User not found")
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(*Principal)
	return p, ok && p != nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

// ResolveStudent decides which student an operation acts on. A student
// principal may only act on itself; admins and anonymous callers
// (when authentication is optional) use the requested id.
func ResolveStudent(ctx context.Context, requested uint) (uint, error) {
	p, ok := FromContext(ctx)
	if !ok {
		if requested == 0 {
			return 0, apperr.Validation("user_id is required")
		}
		return requested, nil
	}
	if requested == 0 {
		return p.UserID, nil
	}
	if !p.IsAdmin() && requested != p.UserID {
		return 0, apperr.Forbidden("Not allowed to act for another user")
	}
	return requested, nil
}

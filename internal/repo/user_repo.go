package repo

import (
	"context"
	"errors"
	"strings"

	"github.com/bookstore/services/lending/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound is returned when a user is not found
	ErrUserNotFound = errors.New("user not found")

	// ErrUserAlreadyExists is returned when the email is already registered
	ErrUserAlreadyExists = errors.New("user already exists")
)

// UserRepository handles registered accounts
type UserRepository struct {
	db  *db.DB
	log *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(database *db.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{
		db:  database,
		log: logger,
	}
}

// CreateUser inserts a user; the email is normalized to lower case
func (r *UserRepository) CreateUser(ctx context.Context, user *db.User) error {
	user.Email = normalizeEmail(user.Email)
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrUserAlreadyExists
		}
		r.log.Error("Failed to create user", zap.String("email", user.Email), zap.Error(err))
		return err
	}

	r.log.Info("User registered", zap.Uint("user_id", user.ID), zap.String("role", user.Role))
	return nil
}

// GetUserByEmail looks a user up by email, case-insensitively
func (r *UserRepository) GetUserByEmail(ctx context.Context, email string) (*db.User, error) {
	var user db.User
	if err := r.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		r.log.Error("Failed to get user by email", zap.Error(err))
		return nil, err
	}
	return &user, nil
}

// GetUser retrieves a user by ID
func (r *UserRepository) GetUser(ctx context.Context, id uint) (*db.User, error) {
	var user db.User
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		r.log.Error("Failed to get user", zap.Uint("user_id", id), zap.Error(err))
		return nil, err
	}
	return &user, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

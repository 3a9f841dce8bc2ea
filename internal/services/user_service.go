package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/creditdesk/creditdesk/internal/database"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
)

// RoleSet is the part of the role policy the user service needs.
type RoleSet interface {
	HasRole(role string) bool
}

// UserService manages operator accounts.
type UserService struct {
	db    *gorm.DB
	roles RoleSet
}

func NewUserService(db *gorm.DB, roles RoleSet) *UserService {
	return &UserService{db: db, roles: roles}
}

// Create stores a new user with a bcrypt password hash.
func (s *UserService) Create(ctx context.Context, username, password, role string) (*database.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, workflow.NewValidationError("username", "is required")
	}
	if len(password) < 8 {
		return nil, workflow.NewValidationError("password", "must be at least 8 characters")
	}
	if role == workflow.SystemRole || !s.roles.HasRole(role) {
		return nil, workflow.NewValidationError("role", fmt.Sprintf("unknown role %q", role))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	user := &database.User{Username: username, PasswordHash: string(hash), Role: role}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(strings.ToLower(err.Error()), "unique") {
			return nil, ErrUserExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// Authenticate returns the user when the password matches.
func (s *UserService) Authenticate(ctx context.Context, username, password string) (*database.User, error) {
	var user database.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

func (s *UserService) List(ctx context.Context) ([]database.User, error) {
	var users []database.User
	if err := s.db.WithContext(ctx).Order("username ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

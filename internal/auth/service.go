package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arbitrage-platform-go/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrWeakPassword       = errors.New("password must be at least 8 characters")
)

// Service handles account registration and login.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
	secret []byte
	ttl    time.Duration
}

// NewService creates an auth service.
func NewService(db *gorm.DB, logger *zap.Logger, secret string, ttl time.Duration) *Service {
	return &Service{
		db:     db,
		logger: logger.Named("auth"),
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// Signup registers a new account with a zero balance and returns it together
// with a fresh access token.
func (s *Service) Signup(ctx context.Context, email, password string) (*models.Account, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, "", ErrInvalidCredentials
	}
	if len(password) < 8 {
		return nil, "", ErrWeakPassword
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}

	account := &models.Account{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Balance:      decimal.Zero,
	}
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || strings.Contains(err.Error(), "UNIQUE constraint") {
			return nil, "", ErrEmailTaken
		}
		return nil, "", fmt.Errorf("create account: %w", err)
	}

	token, err := NewAccessToken(account.ID.String(), account.Role, s.secret, s.ttl, time.Now())
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}

	s.logger.Info("Account registered", zap.String("account_id", account.ID.String()))
	return account, token, nil
}

// Login verifies credentials and returns the account with a fresh token.
func (s *Service) Login(ctx context.Context, email, password string) (*models.Account, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	var account models.Account
	if err := s.db.WithContext(ctx).First(&account, "email = ?", email).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("load account: %w", err)
	}

	ok, err := VerifyPassword(password, account.PasswordHash)
	if err != nil || !ok {
		return nil, "", ErrInvalidCredentials
	}

	token, err := NewAccessToken(account.ID.String(), account.Role, s.secret, s.ttl, time.Now())
	if err != nil {
		return nil, "", fmt.Errorf("issue token: %w", err)
	}
	return &account, token, nil
}

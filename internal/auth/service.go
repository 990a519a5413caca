package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens *TokenService
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenService) *Service {
	return &Service{repo: repo, tokens: tokens}
}

// Authenticate validates email/password credentials.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.FindByEmail(ctx, normaliseEmail(email))
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return user, nil
}

// Login authenticates and issues a bearer token.
func (s *Service) Login(ctx context.Context, input LoginInput) (LoginResult, error) {
	user, err := s.Authenticate(ctx, input.Email, input.Password)
	if err != nil {
		return LoginResult{}, err
	}
	token, expires, err := s.tokens.Issue(*user)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Token: token, ExpiresAt: expires, User: *user}, nil
}

// CreateUser hashes the password and stores a new active account.
func (s *Service) CreateUser(ctx context.Context, input CreateUserInput) (User, error) {
	role, ok := ParseRole(input.Role)
	if !ok {
		return User{}, fmt.Errorf("%w: unknown role %q", shared.ErrValidation, input.Role)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("auth: hash password: %w", err)
	}
	user := User{
		Email:        normaliseEmail(input.Email),
		FullName:     strings.TrimSpace(input.FullName),
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	created, err := s.repo.Create(ctx, user)
	if errors.Is(err, shared.ErrDuplicate) {
		return User{}, fmt.Errorf("%w: email %s already registered", shared.ErrDuplicate, user.Email)
	}
	return created, err
}

// ListUsers returns every account ordered by id.
func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// Verify resolves a bearer token to a principal.
func (s *Service) Verify(token string) (Principal, error) {
	return s.tokens.Verify(token)
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package account

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/grahmeen/health/internal/platform/apperr"
	"github.com/grahmeen/health/internal/platform/auth"
	"github.com/grahmeen/health/internal/platform/notification"
)

const minPasswordLen = 8

// dummyHash is compared against when the email is unknown so that both
// failure paths cost one bcrypt comparison.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("grahmeen-dummy-password"), bcrypt.DefaultCost)

type Service struct {
	repo   Repository
	tokens *auth.TokenIssuer
	cost   int
}

func NewService(repo Repository, tokens *auth.TokenIssuer) *Service {
	return &Service{repo: repo, tokens: tokens, cost: bcrypt.DefaultCost}
}

// SetHashCost overrides the bcrypt cost. Tests use bcrypt.MinCost.
func (s *Service) SetHashCost(cost int) { s.cost = cost }

func (s *Service) Register(ctx context.Context, in RegisterInput) (*User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	name := strings.TrimSpace(in.Name)
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if role == "" {
		role = auth.RolePatient
	}

	ve := &apperr.ValidationError{}
	if email == "" {
		ve.Add("email is required")
	} else if _, err := mail.ParseAddress(email); err != nil {
		ve.Add("email is invalid")
	}
	if in.Password == "" {
		ve.Add("password is required")
	} else if len(in.Password) < minPasswordLen {
		ve.Add(fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	if name == "" {
		ve.Add("name is required")
	}
	if role != auth.RolePatient && role != auth.RoleDoctor {
		ve.Add("role must be patient or doctor")
	}
	if err := ve.OrNil(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u := &User{
		Email:        email,
		Name:         name,
		Phone:        strings.TrimSpace(in.Phone),
		Role:         role,
		PasswordHash: string(hash),
	}
	if err := s.repo.Create(ctx, u); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, fmt.Errorf("email %w", apperr.ErrConflict)
		}
		return nil, err
	}
	return u, nil
}

func (s *Service) Login(ctx context.Context, in LoginInput) (*LoginResponse, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || in.Password == "" {
		return nil, apperr.Validation("email and password are required")
	}

	u, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			return nil, err
		}
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(in.Password))
		return nil, fmt.Errorf("invalid email or password: %w", apperr.ErrUnauthenticated)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(in.Password)); err != nil {
		return nil, fmt.Errorf("invalid email or password: %w", apperr.ErrUnauthenticated)
	}

	tok, err := s.tokens.Issue(u.ID.String(), u.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResponse{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		ExpiresAt:   tok.ExpiresAt,
		User:        u,
	}, nil
}

func (s *Service) Profile(ctx context.Context, userID string) (*User, error) {
	id, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("user %w", apperr.ErrNotFound)
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, in ProfileInput) (*User, error) {
	u, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperr.Validation("name must not be empty")
		}
		u.Name = name
	}
	if in.Phone != nil {
		u.Phone = strings.TrimSpace(*in.Phone)
	}
	if err := s.repo.Update(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Contact satisfies notification.ContactLookup.
func (s *Service) Contact(ctx context.Context, userID string) (notification.Contact, error) {
	u, err := s.Profile(ctx, userID)
	if err != nil {
		return notification.Contact{}, err
	}
	return notification.Contact{UserID: userID, Name: u.Name, Email: u.Email, Phone: u.Phone}, nil
}

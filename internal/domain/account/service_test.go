package account

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/grahmeen/health/internal/platform/apperr"
	"github.com/grahmeen/health/internal/platform/auth"
)

type mockRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]*User
}

func newMockRepo() *mockRepo {
	return &mockRepo{users: make(map[uuid.UUID]*User)}
}

func (m *mockRepo) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return fmt.Errorf("user %w", apperr.ErrConflict)
		}
	}
	u.ID = uuid.New()
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %w", apperr.ErrNotFound)
	}
	cp := *u
	return &cp, nil
}

func (m *mockRepo) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("user %w", apperr.ErrNotFound)
}

func (m *mockRepo) Update(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[u.ID]; !ok {
		return fmt.Errorf("user %w", apperr.ErrNotFound)
	}
	u.UpdatedAt = time.Now()
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

var testSecret = []byte("account-test-secret-at-least-32-bytes!")

func newTestService(t *testing.T) *Service {
	t.Helper()
	issuer, err := auth.NewTokenIssuer(testSecret, "grahmeen-health", time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	svc := NewService(newMockRepo(), issuer)
	svc.SetHashCost(bcrypt.MinCost)
	return svc
}

func registerPatient(t *testing.T, svc *Service) *User {
	t.Helper()
	u, err := svc.Register(context.Background(), RegisterInput{
		Email: " Amina@Example.com ", Password: "correct-horse", Name: "Amina", Phone: "+255700000010",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return u
}

func TestService_Register(t *testing.T) {
	svc := newTestService(t)
	u := registerPatient(t, svc)

	if u.Email != "amina@example.com" {
		t.Errorf("expected lower-cased email, got %q", u.Email)
	}
	if u.Role != auth.RolePatient {
		t.Errorf("expected default role patient, got %q", u.Role)
	}
	if u.PasswordHash == "" || u.PasswordHash == "correct-horse" {
		t.Error("expected password to be hashed")
	}
	if u.ID == uuid.Nil {
		t.Error("expected an ID")
	}
}

func TestService_RegisterValidation(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Register(context.Background(), RegisterInput{Role: "admin", Password: "short"})
	var ve *apperr.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	want := []string{"email is required", "password must be at least 8 characters", "name is required", "role must be patient or doctor"}
	if len(ve.Fields) != len(want) {
		t.Fatalf("fields = %v, want %v", ve.Fields, want)
	}
	for i := range want {
		if ve.Fields[i] != want[i] {
			t.Errorf("field %d = %q, want %q", i, ve.Fields[i], want[i])
		}
	}

	_, err = svc.Register(context.Background(), RegisterInput{Email: "not-an-email", Password: "longenough", Name: "X"})
	if !errors.As(err, &ve) || ve.Fields[0] != "email is invalid" {
		t.Errorf("expected invalid email, got %v", err)
	}
}

func TestService_RegisterDoctor(t *testing.T) {
	svc := newTestService(t)
	u, err := svc.Register(context.Background(), RegisterInput{
		Email: "doc@example.com", Password: "longenough", Name: "Dr. Mushi", Role: "Doctor",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if u.Role != auth.RoleDoctor {
		t.Errorf("role = %q, want doctor", u.Role)
	}
}

func TestService_RegisterDuplicate(t *testing.T) {
	svc := newTestService(t)
	registerPatient(t, svc)

	_, err := svc.Register(context.Background(), RegisterInput{
		Email: "amina@example.com", Password: "another-pass", Name: "Amina 2",
	})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestService_Login(t *testing.T) {
	svc := newTestService(t)
	u := registerPatient(t, svc)

	resp, err := svc.Login(context.Background(), LoginInput{Email: "AMINA@example.com", Password: "correct-horse"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.TokenType != "Bearer" || resp.AccessToken == "" {
		t.Errorf("unexpected token: %+v", resp)
	}
	if resp.User.ID != u.ID {
		t.Errorf("expected user %s, got %s", u.ID, resp.User.ID)
	}

	// The token must be accepted by the middleware built from the same secret.
	cfg := auth.JWTConfig{Issuer: "grahmeen-health", SigningKey: testSecret}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer "+resp.AccessToken)
	c := echo.New().NewContext(req, httptest.NewRecorder())

	var gotID string
	var gotRoles []string
	err = auth.JWTMiddleware(cfg)(func(c echo.Context) error {
		gotID = auth.UserIDFromContext(c.Request().Context())
		gotRoles = auth.RolesFromContext(c.Request().Context())
		return nil
	})(c)
	if err != nil {
		t.Fatalf("middleware rejected issued token: %v", err)
	}
	if gotID != u.ID.String() || len(gotRoles) != 1 || gotRoles[0] != auth.RolePatient {
		t.Errorf("unexpected identity %q %v", gotID, gotRoles)
	}
}

func TestService_LoginFailures(t *testing.T) {
	svc := newTestService(t)
	registerPatient(t, svc)

	tests := []struct {
		name string
		in   LoginInput
	}{
		{"wrong password", LoginInput{Email: "amina@example.com", Password: "wrong-password"}},
		{"unknown email", LoginInput{Email: "nobody@example.com", Password: "correct-horse"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tt.in)
			if !errors.Is(err, apperr.ErrUnauthenticated) {
				t.Fatalf("expected ErrUnauthenticated, got %v", err)
			}
		})
	}

	var ve *apperr.ValidationError
	if _, err := svc.Login(context.Background(), LoginInput{}); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError for empty input, got %v", err)
	}
}

func TestService_ProfileAndUpdate(t *testing.T) {
	svc := newTestService(t)
	u := registerPatient(t, svc)
	ctx := context.Background()

	name := "  Amina Said "
	phone := ""
	updated, err := svc.UpdateProfile(ctx, u.ID.String(), ProfileInput{Name: &name, Phone: &phone})
	if err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	if updated.Name != "Amina Said" || updated.Phone != "" {
		t.Errorf("unexpected profile: %+v", updated)
	}

	got, err := svc.Profile(ctx, u.ID.String())
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if got.Name != "Amina Said" {
		t.Errorf("update not persisted: %+v", got)
	}

	empty := " "
	var ve *apperr.ValidationError
	if _, err := svc.UpdateProfile(ctx, u.ID.String(), ProfileInput{Name: &empty}); !errors.As(err, &ve) {
		t.Errorf("expected ValidationError, got %v", err)
	}
}

func TestService_ProfileNotFound(t *testing.T) {
	svc := newTestService(t)
	for _, id := range []string{auth.DevUserID, uuid.NewString()} {
		if _, err := svc.Profile(context.Background(), id); !errors.Is(err, apperr.ErrNotFound) {
			t.Errorf("Profile(%q): expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestService_Contact(t *testing.T) {
	svc := newTestService(t)
	u := registerPatient(t, svc)

	c, err := svc.Contact(context.Background(), u.ID.String())
	if err != nil {
		t.Fatalf("Contact: %v", err)
	}
	if c.UserID != u.ID.String() || c.Email != "amina@example.com" || c.Phone != "+255700000010" || c.Name != "Amina" {
		t.Errorf("unexpected contact: %+v", c)
	}
}

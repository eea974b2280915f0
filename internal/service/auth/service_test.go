package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/xjrogers/Forma-sub002/internal/domain"
	"github.com/xjrogers/Forma-sub002/internal/repository"
)

type fakeUsers struct {
	byEmail map[string]*domain.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byEmail: map[string]*domain.User{}}
}

func (f *fakeUsers) CreateUser(_ context.Context, user *domain.User) error {
	f.byEmail[user.Email] = user
	return nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	if user, ok := f.byEmail[email]; ok {
		return user, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUsers) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	for _, user := range f.byEmail {
		if user.ID == id {
			return user, nil
		}
	}
	return nil, repository.ErrNotFound
}

func newTestService(users repository.UserRepository) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(users, logger, "test-secret", time.Hour)
}

func TestSignupAndLogin(t *testing.T) {
	svc := newTestService(newFakeUsers())

	user, token, err := svc.Signup(context.Background(), "Dev@Example.com ", "hunter22")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if user.Email != "dev@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if user.Plan != domain.PlanFree {
		t.Fatalf("new accounts must start on the free plan, got %q", user.Plan)
	}
	if token == "" {
		t.Fatal("expected a signed token")
	}

	claims, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != user.ID || claims.Plan != domain.PlanFree {
		t.Fatalf("unexpected claims %+v", claims)
	}

	if _, _, err := svc.Login(context.Background(), "dev@example.com", "hunter22"); err != nil {
		t.Fatalf("Login: %v", err)
	}
}

func TestSignupRejectsDuplicateEmail(t *testing.T) {
	svc := newTestService(newFakeUsers())

	if _, _, err := svc.Signup(context.Background(), "dev@example.com", "hunter22"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, _, err := svc.Signup(context.Background(), "dev@example.com", "other"); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc := newTestService(newFakeUsers())

	if _, _, err := svc.Signup(context.Background(), "dev@example.com", "hunter22"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "dev@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for wrong password, got %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

package auth

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/jxucoder/previewd/internal/model"
)

type fakeStore struct {
	byID    map[string]*model.User
	byEmail map[string]*model.User
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[string]*model.User{}, byEmail: map[string]*model.User{}}
}

func (s *fakeStore) CreateUser(u *model.User) error {
	if _, ok := s.byEmail[u.Email]; ok {
		return errors.New("duplicate email")
	}
	s.byID[u.ID] = u
	s.byEmail[u.Email] = u
	return nil
}

func (s *fakeStore) GetUserByEmail(email string) (*model.User, error) {
	if u, ok := s.byEmail[email]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func (s *fakeStore) GetUser(id string) (*model.User, error) {
	if u, ok := s.byID[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

func TestRegisterThenVerify(t *testing.T) {
	svc := New(newFakeStore(), "test-secret", 7)

	user, token, err := svc.Register("alice@example.com", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Email != "alice@example.com" {
		t.Fatalf("unexpected email: %s", user.Email)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	got, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, got.ID)
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := New(newFakeStore(), "test-secret", 7)

	if _, _, err := svc.Register("bob@example.com", "password123"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	_, _, err := svc.Register("bob@example.com", "anotherpassword")
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestRegisterRejectsInvalidEmailAndShortPassword(t *testing.T) {
	svc := New(newFakeStore(), "test-secret", 7)

	if _, _, err := svc.Register("not-an-email", "password123"); err == nil {
		t.Fatal("expected error for invalid email")
	}
	if _, _, err := svc.Register("carol@example.com", "short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestLoginRejectsWrongPassword(t *testing.T) {
	svc := New(newFakeStore(), "test-secret", 7)
	if _, _, err := svc.Register("dave@example.com", "password123"); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, _, err := svc.Login("dave@example.com", "wrongpassword")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestLoginRejectsUnknownEmail(t *testing.T) {
	svc := New(newFakeStore(), "test-secret", 7)
	_, _, err := svc.Login("ghost@example.com", "password123")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyRejectsTokenFromDifferentSecret(t *testing.T) {
	store := newFakeStore()
	svc := New(store, "test-secret", 7)
	_, token, err := svc.Register("erin@example.com", "password123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	other := New(store, "different-secret", 7)
	if _, err := other.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsGarbageToken(t *testing.T) {
	svc := New(newFakeStore(), "test-secret", 7)
	if _, err := svc.Verify("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

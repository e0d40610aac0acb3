// Package auth implements registration, login, and bearer-token
// verification. It is the JWT-issuance and password-hashing collaborator
// named as external in spec.md §6.
package auth

import (
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/jxucoder/previewd/internal/model"
)

// ErrInvalidCredentials is returned on unknown email or wrong password.
var ErrInvalidCredentials = errors.New("auth: invalid email or password")

// ErrEmailTaken is returned when registering an already-used email.
var ErrEmailTaken = errors.New("auth: email already registered")

// ErrInvalidToken is returned for a missing, malformed, or expired token.
var ErrInvalidToken = errors.New("auth: invalid or expired token")

// UserStore is the subset of store.Store that auth depends on.
type UserStore interface {
	CreateUser(*model.User) error
	GetUserByEmail(string) (*model.User, error)
	GetUser(string) (*model.User, error)
}

// Service issues and verifies JWT bearer tokens backed by a UserStore.
type Service struct {
	store      UserStore
	secret     []byte
	expireDays int
}

// New creates an auth Service. expireDays defaults to 7 if <= 0.
func New(store UserStore, secret string, expireDays int) *Service {
	if expireDays <= 0 {
		expireDays = 7
	}
	return &Service{store: store, secret: []byte(secret), expireDays: expireDays}
}

type claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Register creates a new user and returns a bearer token for it.
func (s *Service) Register(email, password string) (*model.User, string, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, "", fmt.Errorf("invalid email: %w", err)
	}
	if len(password) < 8 {
		return nil, "", fmt.Errorf("password must be at least 8 characters")
	}

	if _, err := s.store.GetUserByEmail(email); err == nil {
		return nil, "", ErrEmailTaken
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hashing password: %w", err)
	}

	u := &model.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.CreateUser(u); err != nil {
		return nil, "", fmt.Errorf("creating user: %w", err)
	}

	token, err := s.issue(u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Login verifies credentials and returns a fresh bearer token.
func (s *Service) Login(email, password string) (*model.User, string, error) {
	u, err := s.store.GetUserByEmail(email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.issue(u.ID)
	if err != nil {
		return nil, "", err
	}
	return u, token, nil
}

// Verify parses a bearer token and returns the user it was issued for.
func (s *Service) Verify(token string) (*model.User, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method)
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || c.UserID == "" {
		return nil, ErrInvalidToken
	}

	u, err := s.store.GetUser(c.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	return u, nil
}

func (s *Service) issue(userID string) (string, error) {
	now := time.Now().UTC()
	c := claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expireDays) * 24 * time.Hour)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString(s.secret)
}

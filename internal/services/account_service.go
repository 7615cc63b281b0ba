package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/storage"
)

// MinPasswordLength applies to new accounts only.
const MinPasswordLength = 6

var ErrWeakPassword = fmt.Errorf("password must be at least %d characters", MinPasswordLength)

// AccountService handles registration, login and account deletion.
type AccountService struct {
	store  storage.UserStore
	events EventPublisher
	cost   int
}

func NewAccountService(store storage.UserStore, events EventPublisher) *AccountService {
	return &AccountService{store: store, events: events, cost: bcrypt.DefaultCost}
}

// Register creates a user with a bcrypt password hash.
func (s *AccountService) Register(ctx context.Context, username, password string) (core.User, error) {
	u := core.User{Username: strings.TrimSpace(username)}
	if err := u.Validate(); err != nil {
		return core.User{}, err
	}
	if len(password) < MinPasswordLength {
		return core.User{}, ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return core.User{}, fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = string(hash)

	created, err := s.store.CreateUser(ctx, u)
	if err != nil {
		return core.User{}, fmt.Errorf("register %q: %w", u.Username, err)
	}
	slog.InfoContext(ctx, "User registered", "user_id", created.ID)
	return created, nil
}

// Authenticate returns the user when the credentials match. Unknown users
// and wrong passwords both yield core.ErrInvalidCredentials.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (core.User, error) {
	u, err := s.store.FindUserByName(ctx, strings.TrimSpace(username))
	if errors.Is(err, core.ErrUserNotFound) {
		return core.User{}, core.ErrInvalidCredentials
	}
	if err != nil {
		return core.User{}, fmt.Errorf("login: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		slog.WarnContext(ctx, "Failed login attempt", "user_id", u.ID)
		return core.User{}, core.ErrInvalidCredentials
	}
	return u, nil
}

func (s *AccountService) Get(ctx context.Context, userID int64) (core.User, error) {
	return s.store.FindUser(ctx, userID)
}

// Delete removes the user together with every category and transaction
// they own.
func (s *AccountService) Delete(ctx context.Context, userID int64) error {
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete account %d: %w", userID, err)
	}
	slog.InfoContext(ctx, "User deleted", "user_id", userID)
	if s.events != nil {
		ev := amqp.NewUserDeletedEvent(userID)
		if err := s.events.PublishLedgerEvent(ctx, ev); err != nil {
			slog.ErrorContext(ctx, "Failed to publish ledger event", "event_id", ev.ID, "type", ev.RoutingKey(), "error", err)
		}
	}
	return nil
}

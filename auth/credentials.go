// Package auth registers users, checks passwords and issues the bearer
// tokens that identify them afterwards.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"todoshare/models"
	"todoshare/store"
	"todoshare/utils"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// UserStore is the slice of store.Store the credential store needs.
type UserStore interface {
	CreateUser(ctx context.Context, username, passwordHash string) (models.User, error)
	UserByUsername(ctx context.Context, username string) (models.User, error)
}

type Credentials struct {
	users UserStore
	cost  int

	dummyOnce sync.Once
	dummyHash string
}

func NewCredentials(users UserStore, cost int) *Credentials {
	return &Credentials{users: users, cost: cost}
}

// Register stores a new user with a bcrypt hash of password. A taken
// username yields store.ErrConflict.
func (c *Credentials) Register(ctx context.Context, username, password string) (models.User, error) {
	if err := utils.ValidateUsername(username); err != nil {
		return models.User{}, &models.ValidationError{Field: "username", Message: err.Error()}
	}
	if err := utils.ValidatePassword(password); err != nil {
		return models.User{}, &models.ValidationError{Field: "password", Message: err.Error()}
	}

	hash, err := utils.HashPassword(password, c.cost)
	if err != nil {
		return models.User{}, err
	}
	user, err := c.users.CreateUser(ctx, username, hash)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return models.User{}, err
		}
		return models.User{}, fmt.Errorf("register %q: %w", username, err)
	}
	return user, nil
}

// Verify returns the user only when password matches the stored hash.
func (c *Credentials) Verify(ctx context.Context, username, password string) (models.User, error) {
	user, err := c.users.UserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		// Missing users still pay for one bcrypt comparison.
		utils.CheckPasswordHash(password, c.dummy())
		return models.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.User{}, fmt.Errorf("verify %q: %w", username, err)
	}
	if !utils.CheckPasswordHash(password, user.PasswordHash) {
		return models.User{}, ErrInvalidCredentials
	}
	return user, nil
}

func (c *Credentials) dummy() string {
	c.dummyOnce.Do(func() {
		c.dummyHash, _ = utils.HashPassword("dummy-password", c.cost)
	})
	return c.dummyHash
}

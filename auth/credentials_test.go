package auth_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"todoshare/auth"
	"todoshare/models"
	"todoshare/store"
)

func newCredentials(t *testing.T) *auth.Credentials {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return auth.NewCredentials(s, bcrypt.MinCost)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	creds := newCredentials(t)

	user, err := creds.Register(ctx, "alice", "pw1")
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if user.ID == 0 || user.Username != "alice" {
		t.Errorf("Register() = %+v", user)
	}
	if user.PasswordHash == "pw1" || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("pw1")) != nil {
		t.Error("Register() must store a bcrypt hash of the password")
	}

	if _, err := creds.Register(ctx, "alice", "other"); !errors.Is(err, store.ErrConflict) {
		t.Errorf("duplicate Register() error = %v, want ErrConflict", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	creds := newCredentials(t)
	tests := []struct {
		name      string
		username  string
		password  string
		wantField string
	}{
		{name: "Empty username", username: "", password: "pw", wantField: "username"},
		{name: "Empty password", username: "bob", password: "", wantField: "password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := creds.Register(context.Background(), tt.username, tt.password)
			var verr *models.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.wantField {
				t.Errorf("Register() error = %v, want validation error on %s", err, tt.wantField)
			}
		})
	}
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	creds := newCredentials(t)
	registered, err := creds.Register(ctx, "alice", "pw1")
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{name: "Correct password", username: "alice", password: "pw1"},
		{name: "Wrong password", username: "alice", password: "pw2", wantErr: auth.ErrInvalidCredentials},
		{name: "Unknown user", username: "mallory", password: "pw1", wantErr: auth.ErrInvalidCredentials},
		{name: "Empty password", username: "alice", password: "", wantErr: auth.ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user, err := creds.Verify(ctx, tt.username, tt.password)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Verify() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr == nil && user.ID != registered.ID {
				t.Errorf("Verify() user id = %d, want %d", user.ID, registered.ID)
			}
		})
	}
}

package utils

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	MaxUsernameLength    = 200
	MaxTitleLength       = 225
	MaxDescriptionLength = 225

	// bcrypt ignores everything past 72 bytes.
	MaxPasswordBytes = 72
)

func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return errors.New("username is required")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return errors.New("username must be at most 200 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return errors.New("username cannot contain whitespace")
	}
	return nil
}

func ValidatePassword(password string) error {
	if password == "" {
		return errors.New("password is required")
	}
	if len(password) > MaxPasswordBytes {
		return errors.New("password must be at most 72 bytes")
	}
	return nil
}

// ValidateTaskInput reports the first offending field, "title" or
// "description", along with the problem.
func ValidateTaskInput(title string, description *string) (field string, err error) {
	if strings.TrimSpace(title) == "" || utf8.RuneCountInString(title) > MaxTitleLength {
		return "title", errors.New("title must be between 1 and 225 characters")
	}
	if description != nil && utf8.RuneCountInString(*description) > MaxDescriptionLength {
		return "description", errors.New("description must be at most 225 characters")
	}
	return "", nil
}

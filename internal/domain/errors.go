package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	// ErrValidation marks a rejected write caused by a missing or malformed field.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a write that would break a uniqueness rule.
	ErrConflict = errors.New("conflict")
	// ErrNotFound marks a reference to a record that does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden marks an action the caller is not allowed to perform.
	ErrForbidden = errors.New("forbidden")
)

// Validationf wraps ErrValidation with a message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with a message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundf wraps ErrNotFound with a message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Forbiddenf wraps ErrForbidden with a message.
func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// ValidatePostText rejects blank post bodies.
func ValidatePostText(text string) error {
	if strings.TrimSpace(text) == "" {
		return Validationf("post text cannot be empty")
	}
	return nil
}

// ValidateCommentText rejects blank and overlong comment bodies.
func ValidateCommentText(text string) error {
	if strings.TrimSpace(text) == "" {
		return Validationf("comment text cannot be empty")
	}
	if utf8.RuneCountInString(text) > MaxCommentLength {
		return Validationf("comment text is too long")
	}
	return nil
}

// ValidateGroup checks the required group fields.
func ValidateGroup(g *Group) error {
	if strings.TrimSpace(g.Title) == "" {
		return Validationf("group title cannot be empty")
	}
	if utf8.RuneCountInString(g.Title) > MaxGroupTitleLength {
		return Validationf("group title is too long")
	}
	if strings.TrimSpace(g.Slug) == "" {
		return Validationf("group slug cannot be empty")
	}
	if utf8.RuneCountInString(g.Slug) > MaxGroupSlugLength {
		return Validationf("group slug is too long")
	}
	return nil
}

// ValidateUsername rejects blank and overlong usernames.
func ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return Validationf("username cannot be empty")
	}
	if utf8.RuneCountInString(username) > MaxUsernameLength {
		return Validationf("username is too long")
	}
	return nil
}

// ValidateFollow rejects self-follows.
func ValidateFollow(followerID, followeeID int64) error {
	if followerID == followeeID {
		return Conflictf("authors cannot follow themselves")
	}
	return nil
}

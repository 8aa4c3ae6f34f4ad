// Package validation provides common validation functions for identifiers
// that flow into cache keys, vector store namespaces, and persistence
// primary keys. This package has no dependencies on other internal packages
// to avoid import cycles.
package validation

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidUserID indicates the user_id value is malformed or attempts path traversal.
var ErrInvalidUserID = errors.New("invalid user_id")

// ErrInvalidSessionID indicates the session_id value is malformed or attempts path traversal.
var ErrInvalidSessionID = errors.New("invalid session_id")

// UserID checks if a user ID is safe for use as a single key segment in
// cache keys, vector namespaces, and persistence lookups. Returns the
// cleaned ID and an error if validation fails.
func UserID(userID string) (string, error) {
	if userID == "" {
		return "", ErrInvalidUserID
	}
	return cleanSegment(userID, ErrInvalidUserID)
}

// SessionID checks if a session ID is safe for use as a single key segment.
func SessionID(sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrInvalidSessionID
	}
	return cleanSegment(sessionID, ErrInvalidSessionID)
}

// cleanSegment rejects values that are not a single, non-traversing path
// segment: "." and ".." alone, embedded separators, and anything
// filepath.Clean would rewrite.
func cleanSegment(id string, errInvalid error) (string, error) {
	if id == "." || id == ".." {
		return "", errInvalid
	}
	if strings.ContainsAny(id, `/\`) {
		return "", errInvalid
	}

	clean := filepath.Clean(id)
	if clean != id ||
		strings.HasPrefix(clean, "..") ||
		strings.Contains(clean, string(os.PathSeparator)+"..") ||
		filepath.IsAbs(clean) {
		return "", errInvalid
	}

	return clean, nil
}

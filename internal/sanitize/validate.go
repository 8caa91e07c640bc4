package sanitize

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation errors for security checks.
var (
	// ErrPathTraversal indicates a path contains directory traversal sequences.
	ErrPathTraversal = errors.New("path contains directory traversal")

	// ErrEmptyPath indicates an empty path was provided.
	ErrEmptyPath = errors.New("path cannot be empty")

	// ErrInvalidID indicates a user, turn or request identifier is malformed.
	ErrInvalidID = errors.New("invalid identifier")
)

// MaxIDLength bounds user, turn and request identifiers.
const MaxIDLength = 128

// idPattern matches identifiers safe to use as URL path segments, map keys
// and log fields.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)

// ValidateID checks an identifier supplied by a caller.
func ValidateID(id string) error {
	switch {
	case id == "":
		return fmt.Errorf("%w: empty", ErrInvalidID)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: invalid UTF-8", ErrInvalidID)
	case len(id) > MaxIDLength:
		return fmt.Errorf("%w: exceeds max length %d", ErrInvalidID, MaxIDLength)
	case strings.Contains(id, ".."):
		return fmt.Errorf("%w: contains path characters", ErrInvalidID)
	case !idPattern.MatchString(id):
		return fmt.Errorf("%w: %q contains invalid characters", ErrInvalidID, id)
	}
	return nil
}

// ValidateOptionalID is ValidateID that accepts the empty string.
func ValidateOptionalID(id string) error {
	if id == "" {
		return nil
	}
	return ValidateID(id)
}

// ValidatePath checks a path for security issues:
//   - No directory traversal (..)
//   - Resolves to absolute path and validates it stays within expected root
//   - Returns the cleaned, absolute path or an error
//
// If allowedRoot is empty, only traversal checks are performed.
// If allowedRoot is provided, the path must resolve within that directory.
func ValidatePath(path, allowedRoot string) (string, error) {
	if path == "" {
		return "", ErrEmptyPath
	}

	if strings.Contains(path, "..") {
		return "", fmt.Errorf("%w: contains '..'", ErrPathTraversal)
	}

	cleanPath := filepath.Clean(path)
	absPath := cleanPath
	if !filepath.IsAbs(cleanPath) {
		var err error
		absPath, err = filepath.Abs(cleanPath)
		if err != nil {
			return "", fmt.Errorf("failed to resolve path: %w", err)
		}
	}

	if allowedRoot != "" {
		absRoot, err := filepath.Abs(allowedRoot)
		if err != nil {
			return "", fmt.Errorf("failed to resolve allowed root: %w", err)
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil {
			return "", fmt.Errorf("%w: path outside allowed root", ErrPathTraversal)
		}
		if strings.HasPrefix(rel, "..") {
			return "", fmt.Errorf("%w: path escapes allowed root", ErrPathTraversal)
		}
	}

	return absPath, nil
}

package sanitize

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	valid := []string{"alice", "user-42", "u_1", "tenant:alice", "alice@example.com", "550e8400-e29b-41d4-a716-446655440000"}
	for _, id := range valid {
		assert.NoError(t, ValidateID(id), id)
	}

	invalid := []string{"", "a b", "../etc", "a/b", "a..b", "al\x00ice", "\xff", strings.Repeat("a", MaxIDLength+1)}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateID(id), ErrInvalidID, "%q", id)
	}
}

func TestValidateOptionalID(t *testing.T) {
	assert.NoError(t, ValidateOptionalID(""))
	assert.NoError(t, ValidateOptionalID("turn-1"))
	assert.ErrorIs(t, ValidateOptionalID("turn 1"), ErrInvalidID)
}

func TestValidatePath(t *testing.T) {
	root := t.TempDir()
	tests := []struct {
		name        string
		path        string
		allowedRoot string
		wantErr     error
	}{
		{"empty path", "", "", ErrEmptyPath},
		{"simple relative path", "foo/bar", "", nil},
		{"simple absolute path", "/tmp/test", "", nil},
		{"traversal - simple", "../etc/passwd", "", ErrPathTraversal},
		{"traversal - middle", "foo/../../../etc/passwd", "", ErrPathTraversal},
		{"traversal - encoded still contains dots", "foo/..%2f..%2fetc/passwd", "", ErrPathTraversal},
		{"path within root", filepath.Join(root, "templates.toml"), root, nil},
		{"path outside root", "/etc/feltd/templates.toml", root, ErrPathTraversal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidatePath(tt.path, tt.allowedRoot)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(got))
		})
	}
}

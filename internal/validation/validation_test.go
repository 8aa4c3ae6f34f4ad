package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUserID_ValidAndInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		want  string
		errIs error
	}{
		{name: "empty", in: "", want: "", errIs: ErrInvalidUserID},
		{name: "simple", in: "user-1", want: "user-1", errIs: nil},
		{name: "dot", in: ".", want: "", errIs: ErrInvalidUserID},
		{name: "dotdot", in: "..", want: "", errIs: ErrInvalidUserID},
		{name: "slash", in: "a/b", want: "", errIs: ErrInvalidUserID},
		{name: "backslash", in: `a\b`, want: "", errIs: ErrInvalidUserID},
		{name: "traversal", in: "../escape", want: "", errIs: ErrInvalidUserID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := UserID(tt.in)
			assert.Equal(t, tt.want, got)
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}

func TestSessionID_ValidAndInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		want  string
		errIs error
	}{
		{name: "empty", in: "", want: "", errIs: ErrInvalidSessionID},
		{name: "simple", in: "sess-1", want: "sess-1", errIs: nil},
		{name: "dot", in: ".", want: "", errIs: ErrInvalidSessionID},
		{name: "dotdot", in: "..", want: "", errIs: ErrInvalidSessionID},
		{name: "slash", in: "a/b", want: "", errIs: ErrInvalidSessionID},
		{name: "backslash", in: `a\b`, want: "", errIs: ErrInvalidSessionID},
		{name: "traversal", in: "../escape", want: "", errIs: ErrInvalidSessionID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SessionID(tt.in)
			assert.Equal(t, tt.want, got)
			assert.ErrorIs(t, err, tt.errIs)
		})
	}
}

package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"not found", NotFound("op", "entity %d", 7), KindNotFound},
		{"permission denied", PermissionDenied("op", "users.list"), KindPermissionDenied},
		{"invalid transition", InvalidTransition("op", "draft -> done"), KindInvalidTransition},
		{"configuration gap", ConfigurationGap("op", "has_role"), KindConfigurationGap},
		{"store failure", StoreFailure("op", errors.New("boom")), KindStoreFailure},
		{"wrapped", fmt.Errorf("outer: %w", NotFound("op", "x")), KindNotFound},
		{"plain", errors.New("plain"), ""},
		{"nil", nil, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := fmt.Errorf("%w: user/alice", ErrDuplicate)
	err := StoreFailure("graph.CreateEntity", cause)

	assert.True(t, errors.Is(err, ErrDuplicate))
	assert.True(t, IsStoreFailure(err))
	assert.False(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "graph.CreateEntity")
	assert.Contains(t, err.Error(), "user/alice")
}

func TestCodeOf(t *testing.T) {
	err := fmt.Errorf("guard: %w", PermissionDenied("authz.Require", "can_call_meetings"))
	assert.Equal(t, "can_call_meetings", CodeOf(err))
	assert.True(t, IsPermissionDenied(err))
	assert.Equal(t, "", CodeOf(errors.New("x")))
}

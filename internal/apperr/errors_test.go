package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestE_Error(t *testing.T) {
	assert.Equal(t, "validation: table is required", New(Validation, "table is required").Error())
	assert.Equal(t, "backend: insert failed: boom", Wrap(Backend, "insert failed", errors.New("boom")).Error())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", New(Configuration, "x"), Configuration},
		{"wrapped", fmt.Errorf("outer: %w", New(InvalidIdentifier, "x")), InvalidIdentifier},
		{"plain", errors.New("x"), Internal},
		{"nil", nil, Internal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := Wrap(Backend, "call", sentinel)
	assert.ErrorIs(t, err, sentinel)
	assert.True(t, Is(err, Backend))
	assert.False(t, Is(err, Validation))
}

func TestWithDetails(t *testing.T) {
	e := Newf(Validation, "%d errors", 2).WithDetails([]int{1, 3})
	assert.Equal(t, "2 errors", e.Message)
	assert.Equal(t, []int{1, 3}, e.Details)
}

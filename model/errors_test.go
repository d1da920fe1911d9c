package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainError(t *testing.T) {
	e := PlainError("disk is full: %d bytes free", 0)
	assert.False(t, e.IsZero())
	assert.Nil(t, e.Pair())
	assert.Equal(t, "disk is full: 0 bytes free", e.String())
}

func TestCodeError(t *testing.T) {
	e := CodeError(CodeSeatAllowanceReached)
	assert.False(t, e.IsZero())
	assert.Equal(t, CodeSeatAllowanceReached, e.Code())
	assert.Equal(t, []string{
		"#(response.seatAllowanceReached)",
		"#(response.seatAllowanceReached.headline)",
	}, e.Pair())
	assert.Equal(t, "#(response.seatAllowanceReached)", e.String())
}

func TestErrorMessageZeroValue(t *testing.T) {
	var e ErrorMessage
	assert.True(t, e.IsZero())
	assert.Equal(t, "", e.String())
}

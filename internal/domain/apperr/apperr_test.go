package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type kindedErr struct{}

func (kindedErr) Error() string   { return "out" }
func (kindedErr) ErrorKind() Kind { return KindOutOfStock }

func TestKindOf(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindValidation, KindOf(Validation("op", "bad")))
	assert.Equal(t, KindOutOfStock, KindOf(fmt.Errorf("wrapped: %w", kindedErr{})))
	assert.Equal(t, KindNotFound, KindOf(fmt.Errorf("outer: %w", NotFound("op", errors.New("x")))))
}

func TestIsKind(t *testing.T) {
	assert.True(t, IsKind(Forbidden("op", "no"), KindAuthorization))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("db down")
	err := Internal("order.create", cause)

	assert.Equal(t, "order.create: internal failure: db down", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "just a message", New(KindConflict, "", "just a message").Error())
	assert.Equal(t, "op: msg", New(KindConflict, "op", "msg").Error())
}

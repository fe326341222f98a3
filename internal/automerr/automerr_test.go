package automerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWrapsKindAndOp(t *testing.T) {
	cause := errors.New("boom")
	err := New("Store.Get", KindNotFound, cause)
	assert.Equal(t, KindNotFound, err.Kind)
	assert.Equal(t, "Store.Get", err.Op)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "boom")
}

func TestIsMatchesWrappedKind(t *testing.T) {
	err := New("Vault.Decrypt", KindCrypto, errors.New("bad tag"))
	wrapped := errors.New("outer: " + err.Error())
	assert.True(t, Is(err, KindCrypto))
	assert.False(t, Is(err, KindIO))
	assert.False(t, Is(wrapped, KindCrypto))
}

func TestKindOfReturnsEmptyForForeignError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain error")))
	assert.Equal(t, KindTimeout, KindOf(New("Executor.Run", KindTimeout, nil)))
}

func TestErrorStringWithoutCause(t *testing.T) {
	err := New("Scheduler.Start", KindValidation, nil)
	assert.Equal(t, "Scheduler.Start: validation_error", err.Error())
}

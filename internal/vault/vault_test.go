package vault

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosslabs/personal-automator/internal/automerr"
)

func newTestVault(t *testing.T) *Vault {
	dir, err := os.MkdirTemp("", "vault-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	v := New(dir, 100000)
	require.NoError(t, v.Initialize())
	return v
}

func TestRoundTripEncryption(t *testing.T) {
	v := newTestVault(t)
	ct, err := v.Encrypt("super-secret-value")
	require.NoError(t, err)
	pt, err := v.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "super-secret-value", pt)
}

func TestEncryptionIsNondeterministic(t *testing.T) {
	v := newTestVault(t)
	a, err := v.Encrypt("same-plaintext")
	require.NoError(t, err)
	b, err := v.Encrypt("same-plaintext")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptFailsUnderDifferentKey(t *testing.T) {
	dir1, err := os.MkdirTemp("", "vault-test-a-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir1)
	dir2, err := os.MkdirTemp("", "vault-test-b-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir2)

	v1 := New(dir1, 100000)
	require.NoError(t, v1.Initialize())
	v2 := New(dir2, 100000)
	require.NoError(t, v2.Initialize())

	ct, err := v1.Encrypt("secret")
	require.NoError(t, err)
	_, err = v2.Decrypt(ct)
	assert.True(t, automerr.Is(err, automerr.KindCrypto))
}

func TestClearKeyDisablesVault(t *testing.T) {
	v := newTestVault(t)
	ct, err := v.Encrypt("secret")
	require.NoError(t, err)

	v.ClearKey()
	assert.False(t, v.Initialized())

	_, err = v.Decrypt(ct)
	assert.True(t, automerr.Is(err, automerr.KindCrypto))

	_, err = v.Encrypt("anything")
	assert.True(t, automerr.Is(err, automerr.KindCrypto))
}

func TestVerifyReportsHealth(t *testing.T) {
	v := newTestVault(t)
	assert.True(t, v.Verify())

	v.ClearKey()
	assert.False(t, v.Verify())
}

func TestReloadingFromDiskReusesSameKey(t *testing.T) {
	dir, err := os.MkdirTemp("", "vault-test-reload-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	v1 := New(dir, 100000)
	require.NoError(t, v1.Initialize())
	ct, err := v1.Encrypt("persisted-secret")
	require.NoError(t, err)

	v2 := New(dir, 100000)
	require.NoError(t, v2.Initialize())
	pt, err := v2.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "persisted-secret", pt)
}

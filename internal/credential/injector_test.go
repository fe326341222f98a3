package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosslabs/personal-automator/internal/store"
	"github.com/chaosslabs/personal-automator/internal/vault"
)

func newTestInjector(t *testing.T) (*Injector, *store.Store, *vault.Vault) {
	dbPath := filepath.Join(os.TempDir(), "personal_automator_test_injector.db")
	os.Remove(dbPath)
	t.Cleanup(func() { os.Remove(dbPath) })

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate())

	vaultDir, err := os.MkdirTemp("", "injector-vault-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(vaultDir) })
	vlt := vault.New(vaultDir, 100000)
	require.NoError(t, vlt.Initialize())

	return New(st, vlt), st, vlt
}

func TestInject_AllResolve(t *testing.T) {
	inj, st, vlt := newTestInjector(t)
	ctx := context.Background()

	ct, err := vlt.Encrypt("sk-test-123")
	require.NoError(t, err)
	_, err = st.Credentials().CreateWithValue(ctx, &store.Credential{Name: "api_key", Type: store.CredAPIKey}, ct)
	require.NoError(t, err)

	res := inj.Inject(ctx, []string{"api_key", "api_key"})
	assert.True(t, res.Success)
	assert.Empty(t, res.Missing)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "sk-test-123", res.Credentials["api_key"])
}

func TestInject_NotFound(t *testing.T) {
	inj, _, _ := newTestInjector(t)
	res := inj.Inject(context.Background(), []string{"nonexistent"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Missing, "nonexistent")
}

func TestInject_ExistsButNoValue(t *testing.T) {
	inj, st, _ := newTestInjector(t)
	ctx := context.Background()
	_, err := st.Credentials().Create(ctx, &store.Credential{Name: "empty_cred", Type: store.CredSecret})
	require.NoError(t, err)

	res := inj.Inject(ctx, []string{"empty_cred"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Missing, "empty_cred")
}

func TestInject_DecryptFailureIsErrorNotMissing(t *testing.T) {
	inj, st, _ := newTestInjector(t)
	ctx := context.Background()
	_, err := st.Credentials().CreateWithValue(ctx, &store.Credential{Name: "corrupt", Type: store.CredSecret}, "not-valid-base64-ciphertext!!")
	require.NoError(t, err)

	res := inj.Inject(ctx, []string{"corrupt"})
	assert.False(t, res.Success)
	assert.Empty(t, res.Missing)
	assert.NotEmpty(t, res.Errors)
}

func TestValidate(t *testing.T) {
	inj, st, vlt := newTestInjector(t)
	ctx := context.Background()
	ct, err := vlt.Encrypt("x")
	require.NoError(t, err)
	_, err = st.Credentials().CreateWithValue(ctx, &store.Credential{Name: "has_value", Type: store.CredSecret}, ct)
	require.NoError(t, err)

	result, err := inj.Validate(ctx, []string{"has_value", "missing_one"})
	require.NoError(t, err)
	assert.True(t, result["has_value"])
	assert.False(t, result["missing_one"])
}

func TestClearZeroesMap(t *testing.T) {
	creds := map[string]string{"a": "secret-a", "b": "secret-b"}
	Clear(creds)
	assert.Empty(t, creds)
}

package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosslabs/personal-automator/internal/automerr"
	"github.com/chaosslabs/personal-automator/internal/credential"
	"github.com/chaosslabs/personal-automator/internal/store"
	"github.com/chaosslabs/personal-automator/internal/vault"
)

type testEnv struct {
	executor *Executor
	store    *store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	dbPath := filepath.Join(os.TempDir(), "personal_automator_test_executor.db")
	os.Remove(dbPath)
	t.Cleanup(func() { os.Remove(dbPath) })

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate())

	dataDir, err := os.MkdirTemp("", "executor-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dataDir) })

	vlt := vault.New(filepath.Join(dataDir, "vault"), 100000)
	require.NoError(t, vlt.Initialize())

	inj := credential.New(st, vlt)
	ex := New(st, inj, dataDir, 5*time.Second, 30*time.Second, 1<<20, nil)
	return &testEnv{executor: ex, store: st}
}

func mustCreateTemplate(t *testing.T, st *store.Store, code string, requiredCreds []string) *store.Template {
	tpl := &store.Template{
		Name:                "t-" + store.NewID(),
		Category:            "test",
		Code:                code,
		RequiredCredentials: requiredCreds,
	}
	require.NoError(t, st.Templates().Create(context.Background(), tpl))
	return tpl
}

func mustCreateTask(t *testing.T, st *store.Store, tpl *store.Template, params map[string]interface{}, creds []string) int64 {
	id, err := st.Tasks().Create(context.Background(), &store.Task{
		TemplateID:    tpl.ID,
		Name:          "task-" + store.NewID(),
		Params:        params,
		ScheduleType:  store.ScheduleOnce,
		ScheduleValue: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		Credentials:   creds,
		Enabled:       true,
	})
	require.NoError(t, err)
	return id
}

func TestExecutor_RunSuccess(t *testing.T) {
	env := newTestEnv(t)
	tpl := mustCreateTemplate(t, env.store, `return params.x + 1;`, nil)
	taskID := mustCreateTask(t, env.store, tpl, map[string]interface{}{"x": float64(41)}, nil)

	result, err := env.executor.Run(context.Background(), taskID, RunOpts{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.JSONEq(t, "42", string(result.Output.Result))
	assert.Equal(t, store.StatusSuccess, result.Execution.Status)
}

func TestExecutor_RunMissingCredentials(t *testing.T) {
	env := newTestEnv(t)
	tpl := mustCreateTemplate(t, env.store, `return "unreachable";`, []string{"missing_cred"})
	taskID := mustCreateTask(t, env.store, tpl, nil, nil)

	result, err := env.executor.Run(context.Background(), taskID, RunOpts{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
	assert.Equal(t, store.StatusFailed, result.Execution.Status)
}

func TestExecutor_RunRuntimeThrow(t *testing.T) {
	env := newTestEnv(t)
	tpl := mustCreateTemplate(t, env.store, `throw new Error("boom");`, nil)
	taskID := mustCreateTask(t, env.store, tpl, nil, nil)

	result, err := env.executor.Run(context.Background(), taskID, RunOpts{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "boom")
}

func TestExecutor_RunTimeout(t *testing.T) {
	env := newTestEnv(t)
	tpl := mustCreateTemplate(t, env.store, `while(true) {}`, nil)
	taskID := mustCreateTask(t, env.store, tpl, nil, nil)

	result, err := env.executor.Run(context.Background(), taskID, RunOpts{TimeoutMs: 100})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")

	ex, err := env.store.Executions().Get(context.Background(), result.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusTimeout, ex.Status)
}

func TestExecutor_RunModuleNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	tpl := mustCreateTemplate(t, env.store, `return require("net");`, nil)
	taskID := mustCreateTask(t, env.store, tpl, nil, nil)

	result, err := env.executor.Run(context.Background(), taskID, RunOpts{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "Module 'net' is not allowed", result.Error)
	assert.Equal(t, automerr.KindModule, result.Kind)

	ex, err := env.store.Executions().Get(context.Background(), result.Execution.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, ex.Status)
	require.NotNil(t, ex.Error)
	assert.Equal(t, "Module 'net' is not allowed", *ex.Error)
}

func TestExecutor_Preflight(t *testing.T) {
	env := newTestEnv(t)
	tpl := mustCreateTemplate(t, env.store, `return 1;`, nil)
	tpl.ParamsSchema = []store.ParamDef{{Name: "required_param", Required: true}}
	require.NoError(t, env.store.Templates().Update(context.Background(), tpl))
	taskID := mustCreateTask(t, env.store, tpl, map[string]interface{}{}, nil)

	res, err := env.executor.Preflight(context.Background(), taskID)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.NotEmpty(t, res.Errors)
}

package sandbox

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testInput(t *testing.T, code string) Input {
	dir, err := os.MkdirTemp("", "sandbox-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return Input{
		Code:           code,
		Params:         map[string]interface{}{"x": float64(2)},
		Credentials:    map[string]string{"api_key": "secret"},
		ScratchDir:     dir,
		MaxConsoleSize: 1 << 16,
		StartedAt:      time.Now().UTC(),
		Deadline:       time.Now().Add(2 * time.Second),
	}
}

func TestRun_ReturnsValue(t *testing.T) {
	out, outcome, err := Run(context.Background(), testInput(t, `return params.x * 2;`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.JSONEq(t, "4", string(out.Result))
}

func TestRun_ConsoleCapture(t *testing.T) {
	out, outcome, err := Run(context.Background(), testInput(t, `console.log("hello", 42); return true;`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	require.Len(t, out.Console, 1)
	assert.Contains(t, out.Console[0], "[LOG]")
	assert.Contains(t, out.Console[0], "hello 42")
}

func TestRun_CredentialsAccessible(t *testing.T) {
	out, outcome, err := Run(context.Background(), testInput(t, `return credentials.api_key;`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.JSONEq(t, `"secret"`, string(out.Result))
}

func TestRun_ModuleNotAllowed(t *testing.T) {
	_, outcome, err := Run(context.Background(), testInput(t, `return require("net");`))
	require.Error(t, err)
	assert.Equal(t, OutcomeModuleNotAllowed, outcome)
	assert.Equal(t, "Module 'net' is not allowed", err.Error())
}

func TestRun_ModuleNotAllowed_UnregisteredGlobal(t *testing.T) {
	_, outcome, err := Run(context.Background(), testInput(t, `return process.pid;`))
	require.Error(t, err)
	assert.Equal(t, OutcomeModuleNotAllowed, outcome)
	assert.Equal(t, "Module 'process' is not allowed", err.Error())
}

func TestRun_RuntimeThrow(t *testing.T) {
	_, outcome, err := Run(context.Background(), testInput(t, `throw new Error("boom");`))
	assert.Error(t, err)
	assert.Equal(t, OutcomeRuntimeError, outcome)
}

func TestRun_TimeoutOnInfiniteLoop(t *testing.T) {
	in := testInput(t, `while(true) {}`)
	in.Deadline = time.Now().Add(100 * time.Millisecond)
	_, outcome, err := Run(context.Background(), in)
	assert.Error(t, err)
	assert.Equal(t, OutcomeTimeout, outcome)
}

func TestRun_FilesystemRootedInScratchDir(t *testing.T) {
	out, outcome, err := Run(context.Background(), testInput(t, `
		fs.writeFile("out.txt", "hi");
		return fs.readFile("out.txt");
	`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.JSONEq(t, `"hi"`, string(out.Result))
}

func TestRun_FilesystemEscapeRejected(t *testing.T) {
	_, outcome, err := Run(context.Background(), testInput(t, `return fs.readFile("../../etc/passwd");`))
	assert.Error(t, err)
	assert.Equal(t, OutcomeRuntimeError, outcome)
}

func TestRun_CryptoSHA256(t *testing.T) {
	out, outcome, err := Run(context.Background(), testInput(t, `return crypto.sha256("abc");`))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.JSONEq(t, `"ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"`, string(out.Result))
}

package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosslabs/personal-automator/internal/credential"
	"github.com/chaosslabs/personal-automator/internal/executor"
	"github.com/chaosslabs/personal-automator/internal/store"
	"github.com/chaosslabs/personal-automator/internal/vault"
)

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	dbPath := filepath.Join(os.TempDir(), "personal_automator_test_scheduler.db")
	os.Remove(dbPath)
	t.Cleanup(func() { os.Remove(dbPath) })

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate())

	dataDir, err := os.MkdirTemp("", "scheduler-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dataDir) })

	vlt := vault.New(filepath.Join(dataDir, "vault"), 100000)
	require.NoError(t, vlt.Initialize())
	inj := credential.New(st, vlt)
	ex := executor.New(st, inj, dataDir, 5*time.Second, 10*time.Second, 1<<20, nil)

	return New(st, ex, 50*time.Millisecond), st
}

func TestScheduler_RegisterAndUnregister(t *testing.T) {
	sched, st := newTestScheduler(t)
	tpl := &store.Template{Name: "t-" + store.NewID(), Code: `return 1;`}
	require.NoError(t, st.Templates().Create(context.Background(), tpl))

	taskID, err := st.Tasks().Create(context.Background(), &store.Task{
		TemplateID:    tpl.ID,
		Name:          "task-" + store.NewID(),
		ScheduleType:  store.ScheduleInterval,
		ScheduleValue: "1440",
		Enabled:       true,
	})
	require.NoError(t, err)

	task, err := st.Tasks().Get(context.Background(), taskID)
	require.NoError(t, err)
	sched.RegisterTask(context.Background(), task)
	assert.True(t, sched.IsTaskRegistered(taskID))
	assert.Equal(t, 1, sched.JobCount())

	sched.UnregisterTask(taskID)
	assert.False(t, sched.IsTaskRegistered(taskID))
	assert.Equal(t, 0, sched.JobCount())
}

func TestScheduler_RegisterPersistsNextRunAtBeforeFirstExecution(t *testing.T) {
	sched, st := newTestScheduler(t)
	tpl := &store.Template{Name: "t-" + store.NewID(), Code: `return 1;`}
	require.NoError(t, st.Templates().Create(context.Background(), tpl))

	fireAt := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	taskID, err := st.Tasks().Create(context.Background(), &store.Task{
		TemplateID:    tpl.ID,
		Name:          "task-" + store.NewID(),
		ScheduleType:  store.ScheduleOnce,
		ScheduleValue: fireAt,
		Enabled:       true,
	})
	require.NoError(t, err)

	task, err := st.Tasks().Get(context.Background(), taskID)
	require.NoError(t, err)
	require.Nil(t, task.NextRunAt)

	sched.RegisterTask(context.Background(), task)
	defer sched.UnregisterTask(taskID)

	updated, err := st.Tasks().Get(context.Background(), taskID)
	require.NoError(t, err)
	require.NotNil(t, updated.NextRunAt)

	parsed, err := time.Parse(time.RFC3339, fireAt)
	require.NoError(t, err)
	assert.WithinDuration(t, parsed, *updated.NextRunAt, time.Second)
}

func TestScheduler_OnceJobFiresAndDisables(t *testing.T) {
	sched, st := newTestScheduler(t)
	tpl := &store.Template{Name: "t-" + store.NewID(), Code: `return 1;`}
	require.NoError(t, st.Templates().Create(context.Background(), tpl))

	fireAt := time.Now().Add(100 * time.Millisecond).UTC().Format(time.RFC3339)
	taskID, err := st.Tasks().Create(context.Background(), &store.Task{
		TemplateID:    tpl.ID,
		Name:          "task-" + store.NewID(),
		ScheduleType:  store.ScheduleOnce,
		ScheduleValue: fireAt,
		Enabled:       true,
	})
	require.NoError(t, err)

	task, err := st.Tasks().Get(context.Background(), taskID)
	require.NoError(t, err)
	sched.RegisterTask(context.Background(), task)

	assert.Eventually(t, func() bool {
		updated, err := st.Tasks().Get(context.Background(), taskID)
		return err == nil && !updated.Enabled
	}, 3*time.Second, 50*time.Millisecond)

	assert.False(t, sched.IsTaskRegistered(taskID))
}

func TestScheduler_StartStop(t *testing.T) {
	sched, _ := newTestScheduler(t)
	require.NoError(t, sched.Start(context.Background()))
	assert.True(t, sched.IsRunning())
	sched.Stop()
	assert.False(t, sched.IsRunning())
}

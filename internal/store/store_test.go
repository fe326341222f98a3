package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaosslabs/personal-automator/internal/automerr"
)

func newTestStore(t *testing.T) *Store {
	dbPath := filepath.Join(os.TempDir(), "personal_automator_test_store_"+NewID()+".db")
	t.Cleanup(func() { os.Remove(dbPath) })

	st, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate())
	return st
}

func TestDeleteTask_CascadesToExecutions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tpl := &Template{Name: "t-" + NewID(), Code: `return 1;`}
	require.NoError(t, st.Templates().Create(ctx, tpl))

	taskID, err := st.Tasks().Create(ctx, &Task{
		TemplateID:    tpl.ID,
		Name:          "task-" + NewID(),
		ScheduleType:  ScheduleOnce,
		ScheduleValue: "2099-01-01T00:00:00Z",
		Enabled:       true,
	})
	require.NoError(t, err)

	ex1, err := st.Executions().Create(ctx, taskID)
	require.NoError(t, err)
	ex2, err := st.Executions().Create(ctx, taskID)
	require.NoError(t, err)

	require.NoError(t, st.Tasks().Delete(ctx, taskID))

	_, err = st.Executions().Get(ctx, ex1.ID)
	assert.Error(t, err)
	_, err = st.Executions().Get(ctx, ex2.ID)
	assert.Error(t, err)

	_, err = st.Tasks().Get(ctx, taskID)
	assert.Error(t, err)
}

func TestDeleteTemplate_BlockedWhileTaskReferencesIt(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	tpl := &Template{Name: "t-" + NewID(), Code: `return 1;`}
	require.NoError(t, st.Templates().Create(ctx, tpl))

	taskID, err := st.Tasks().Create(ctx, &Task{
		TemplateID:    tpl.ID,
		Name:          "task-" + NewID(),
		ScheduleType:  ScheduleOnce,
		ScheduleValue: "2099-01-01T00:00:00Z",
		Enabled:       true,
	})
	require.NoError(t, err)

	err = st.Templates().Delete(ctx, tpl.ID)
	require.Error(t, err)
	assert.Equal(t, automerr.KindIntegrity, automerr.KindOf(err))

	exists, err := st.Templates().Exists(ctx, tpl.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, st.Tasks().Delete(ctx, taskID))
	require.NoError(t, st.Templates().Delete(ctx, tpl.ID))

	exists, err = st.Templates().Exists(ctx, tpl.ID)
	require.NoError(t, err)
	assert.False(t, exists)
}

// Package scheduler ensures every enabled task's next fire time advances
// monotonically and the Executor is invoked at (or near) that time,
// surviving process restarts via a catch-up sweep. Registry shape
// (mutex-guarded map of cancel funcs, load-at-start, a Pool-style StopAll)
// is adapted from the teacher's worker.Pool + scheduler.Engine.
package scheduler

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/chaosslabs/personal-automator/internal/cronexpr"
	"github.com/chaosslabs/personal-automator/internal/executor"
	"github.com/chaosslabs/personal-automator/internal/store"
)

// job is a single task's registered handle: the goroutine driving its cron
// ticker / one-shot timer / interval loop, stoppable via cancel.
type job struct {
	taskID        int64
	scheduleType  store.ScheduleType
	scheduleValue string
	cancel        context.CancelFunc
}

// Scheduler owns the job registry and drives task execution on schedule.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[int64]*job
	wg   sync.WaitGroup

	store    *store.Store
	executor *executor.Executor

	sweepInterval time.Duration
	runCancel     context.CancelFunc
	running       bool
}

// New builds a Scheduler bound to st and ex. sweepInterval is the catch-up
// sweep cadence (spec default: 60s).
func New(st *store.Store, ex *executor.Executor, sweepInterval time.Duration) *Scheduler {
	return &Scheduler{
		jobs:          make(map[int64]*job),
		store:         st,
		executor:      ex,
		sweepInterval: sweepInterval,
	}
}

// Start loads all enabled tasks, registers a job for each, and begins the
// catch-up sweep. Safe to call once; call Stop before calling Start again.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runCancel = cancel
	s.running = true
	err := s.rescheduleAllLocked(runCtx)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.wg.Add(1)
	go s.sweepLoop(runCtx)
	return nil
}

// Stop cancels every registered job, the sweep loop, and waits for all of
// them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.runCancel != nil {
		s.runCancel()
	}
	for id, j := range s.jobs {
		j.cancel()
		delete(s.jobs, id)
	}
	s.running = false
	s.mu.Unlock()
	s.wg.Wait()
}

// IsRunning reports whether Start has been called without a matching Stop.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// JobCount returns the number of currently registered jobs.
func (s *Scheduler) JobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// IsTaskRegistered reports whether taskID currently has a registered job.
func (s *Scheduler) IsTaskRegistered(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[taskID]
	return ok
}

// RescheduleAll re-reads every enabled task from the Store and (re)registers
// a job for each, replacing any jobs already registered.
func (s *Scheduler) RescheduleAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rescheduleAllLocked(ctx)
}

func (s *Scheduler) rescheduleAllLocked(ctx context.Context) error {
	for id, j := range s.jobs {
		j.cancel()
		delete(s.jobs, id)
	}
	tasks, err := s.store.Tasks().List(ctx, store.TaskFilter{Enabled: boolPtr(true)})
	if err != nil {
		return err
	}
	for _, t := range tasks {
		s.registerTaskLocked(ctx, t)
	}
	return nil
}

// RegisterTask registers a job for task, replacing any existing job for the
// same id.
func (s *Scheduler) RegisterTask(ctx context.Context, task *store.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerTaskLocked(ctx, task)
}

func (s *Scheduler) registerTaskLocked(ctx context.Context, task *store.Task) {
	if existing, ok := s.jobs[task.ID]; ok {
		existing.cancel()
		delete(s.jobs, task.ID)
	}
	if !task.Enabled {
		return
	}

	nextRunAt := computeNextRunAt(task.ScheduleType, task.ScheduleValue, task.NextRunAt, time.Now().UTC())
	task.NextRunAt = nextRunAt
	if err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE tasks SET next_run_at=? WHERE id=?`, nextRunAt, task.ID)
		return err
	}); err != nil {
		log.Printf("scheduler: task %d: persist next run at registration: %v", task.ID, err)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	j := &job{taskID: task.ID, scheduleType: task.ScheduleType, scheduleValue: task.ScheduleValue, cancel: cancel}
	s.jobs[task.ID] = j

	s.wg.Add(1)
	switch task.ScheduleType {
	case store.ScheduleCron:
		go s.runCronJob(jobCtx, task.ID, task.ScheduleValue)
	case store.ScheduleOnce:
		go s.runOnceJob(jobCtx, task.ID, task.ScheduleValue)
	case store.ScheduleInterval:
		go s.runIntervalJob(jobCtx, task.ID, task.ScheduleValue, task.NextRunAt)
	default:
		s.wg.Done()
		log.Printf("scheduler: task %d has unknown schedule type %q, not registered", task.ID, task.ScheduleType)
		delete(s.jobs, task.ID)
	}
}

// UnregisterTask cancels and removes task's job, if any.
func (s *Scheduler) UnregisterTask(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[taskID]; ok {
		j.cancel()
		delete(s.jobs, taskID)
	}
}

// UpdateTaskSchedule re-reads taskID from the Store and re-registers its
// job (or unregisters it, if the task is now disabled or gone).
func (s *Scheduler) UpdateTaskSchedule(ctx context.Context, taskID int64) error {
	task, err := s.store.Tasks().Get(ctx, taskID)
	if err != nil {
		s.UnregisterTask(taskID)
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registerTaskLocked(ctx, task)
	return nil
}

func (s *Scheduler) runCronJob(ctx context.Context, taskID int64, expr string) {
	defer s.wg.Done()
	for {
		next, ok, err := cronexpr.NextAfter(expr, time.Now().UTC())
		if err != nil || !ok {
			log.Printf("scheduler: task %d: cron %q has no future fire, stopping job", taskID, expr)
			return
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.executeTaskJob(context.Background(), taskID)
		}
	}
}

func (s *Scheduler) runOnceJob(ctx context.Context, taskID int64, scheduleValue string) {
	defer s.wg.Done()
	fireAt, err := time.Parse(time.RFC3339, scheduleValue)
	if err != nil {
		log.Printf("scheduler: task %d: invalid once schedule %q: %v", taskID, scheduleValue, err)
		return
	}
	delay := time.Until(fireAt)
	if delay < 0 {
		delay = 0
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		s.executeTaskJob(context.Background(), taskID)
	}
	s.mu.Lock()
	delete(s.jobs, taskID)
	s.mu.Unlock()
}

func (s *Scheduler) runIntervalJob(ctx context.Context, taskID int64, scheduleValue string, nextRunAt *time.Time) {
	defer s.wg.Done()
	minutes, err := cronexpr.ParseIntervalMinutes(scheduleValue)
	if err != nil {
		log.Printf("scheduler: task %d: invalid interval schedule %q: %v", taskID, scheduleValue, err)
		return
	}
	interval := time.Duration(minutes) * time.Minute

	initialDelay := interval
	if nextRunAt != nil {
		if d := time.Until(*nextRunAt); d > 0 {
			initialDelay = d
		} else {
			initialDelay = 0
		}
	}

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.executeTaskJob(context.Background(), taskID)
			task, err := s.store.Tasks().Get(context.Background(), taskID)
			if err != nil || !task.Enabled {
				return
			}
			timer.Reset(interval)
		}
	}
}

// executeTaskJob implements spec.md §4.5's 5-step procedure.
func (s *Scheduler) executeTaskJob(ctx context.Context, taskID int64) {
	task, err := s.store.Tasks().Get(ctx, taskID)
	if err != nil {
		s.UnregisterTask(taskID)
		return
	}
	if !task.Enabled {
		s.UnregisterTask(taskID)
		return
	}

	if _, err := s.executor.Run(ctx, taskID, executor.RunOpts{}); err != nil {
		log.Printf("scheduler: task %d: run failed: %v", taskID, err)
	}

	now := time.Now().UTC()
	var newNextRunAt *time.Time
	switch task.ScheduleType {
	case store.ScheduleCron:
		if next, ok, err := cronexpr.NextAfter(task.ScheduleValue, now); err == nil && ok {
			newNextRunAt = &next
		}
	case store.ScheduleInterval:
		if minutes, err := cronexpr.ParseIntervalMinutes(task.ScheduleValue); err == nil {
			next := now.Add(time.Duration(minutes) * time.Minute)
			newNextRunAt = &next
		}
	case store.ScheduleOnce:
		newNextRunAt = nil
	}

	if err := s.store.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE tasks SET last_run_at=?, next_run_at=? WHERE id=?`, now, newNextRunAt, taskID)
		return err
	}); err != nil {
		log.Printf("scheduler: task %d: persist next run: %v", taskID, err)
	}

	if task.ScheduleType == store.ScheduleOnce {
		_ = s.store.Tasks().Update(ctx, taskID, store.TaskPatch{Enabled: boolPtr(false)})
		s.UnregisterTask(taskID)
	}
}

// sweepLoop heals missed fires for once/interval tasks (cron jobs own their
// own cadence via runCronJob) caused by process pauses or clock skew.
func (s *Scheduler) sweepLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Scheduler) sweepOnce(ctx context.Context) {
	due, err := s.store.Tasks().GetDueToRun(ctx, time.Now().UTC())
	if err != nil {
		log.Printf("scheduler: catch-up sweep: %v", err)
		return
	}
	for _, t := range due {
		if t.ScheduleType == store.ScheduleCron {
			continue
		}
		s.executeTaskJob(ctx, t.ID)
	}
}

// computeNextRunAt derives the next fire time for a freshly (re)registered
// task, honoring an already-future existing value for interval schedules
// instead of restarting the interval from now.
func computeNextRunAt(scheduleType store.ScheduleType, scheduleValue string, existing *time.Time, now time.Time) *time.Time {
	switch scheduleType {
	case store.ScheduleCron:
		if next, ok, err := cronexpr.NextAfter(scheduleValue, now); err == nil && ok {
			return &next
		}
		return nil
	case store.ScheduleOnce:
		if fireAt, err := time.Parse(time.RFC3339, scheduleValue); err == nil {
			return &fireAt
		}
		return nil
	case store.ScheduleInterval:
		if existing != nil && existing.After(now) {
			return existing
		}
		if minutes, err := cronexpr.ParseIntervalMinutes(scheduleValue); err == nil {
			next := now.Add(time.Duration(minutes) * time.Minute)
			return &next
		}
		return nil
	default:
		return nil
	}
}

func boolPtr(b bool) *bool { return &b }

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"election_ledger/pkg/config"
)

func setupTestScheduler(t *testing.T) *Scheduler {
	logger := zaptest.NewLogger(t)
	cfg := &config.SchedConfig{
		MaxConcurrent: 5,
		RetryDelay:    100 * time.Millisecond,
	}

	scheduler := NewScheduler(cfg, logger)
	require.NoError(t, scheduler.Start())

	return scheduler
}

func waitForStatus(t *testing.T, s *Scheduler, taskID string, want TaskStatus) Task {
	t.Helper()

	var task Task
	require.Eventually(t, func() bool {
		var err error
		task, err = s.GetTask(taskID)
		return err == nil && task.Status == want
	}, 5*time.Second, 20*time.Millisecond)
	return task
}

func TestValidateSchedule(t *testing.T) {
	tests := []struct {
		spec    string
		wantErr bool
	}{
		{"*/30 * * * * *", false},
		{"*/5 * * * *", false},
		{"@every 1m", false},
		{"@hourly", false},
		{"invalid", true},
		{"* * *", true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			err := ValidateSchedule(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestScheduleTask(t *testing.T) {
	scheduler := setupTestScheduler(t)
	defer scheduler.Stop()

	noop := func(ctx context.Context) error { return nil }

	t.Run("ValidTask", func(t *testing.T) {
		task := &Task{
			ID:          "persist",
			Name:        "Persist state",
			Schedule:    "*/5 * * * * *",
			MaxRetries:  3,
			ExecutionFn: noop,
		}

		require.NoError(t, scheduler.ScheduleTask(task))

		scheduledTask, err := scheduler.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, task.ID, scheduledTask.ID)
		assert.False(t, scheduledTask.NextRun.IsZero())
	})

	t.Run("InvalidSchedule", func(t *testing.T) {
		task := &Task{ID: "bad-schedule", Schedule: "invalid", ExecutionFn: noop}
		assert.Error(t, scheduler.ScheduleTask(task))
	})

	t.Run("MissingFields", func(t *testing.T) {
		assert.Error(t, scheduler.ScheduleTask(&Task{Schedule: "@hourly", ExecutionFn: noop}))
		assert.Error(t, scheduler.ScheduleTask(&Task{ID: "no-fn", Schedule: "@hourly"}))
		assert.Error(t, scheduler.ScheduleTask(&Task{ID: "negative", Schedule: "@hourly", MaxRetries: -1, ExecutionFn: noop}))
	})

	t.Run("DuplicateTask", func(t *testing.T) {
		task := &Task{ID: "duplicate", Schedule: "@hourly", ExecutionFn: noop}
		require.NoError(t, scheduler.ScheduleTask(task))
		assert.Error(t, scheduler.ScheduleTask(task))
	})
}

func TestTaskExecution(t *testing.T) {
	scheduler := setupTestScheduler(t)
	defer scheduler.Stop()

	t.Run("SuccessfulExecution", func(t *testing.T) {
		executed := make(chan struct{}, 1)
		task := &Task{
			ID:       "success",
			Schedule: "* * * * * *",
			ExecutionFn: func(ctx context.Context) error {
				select {
				case executed <- struct{}{}:
				default:
				}
				return nil
			},
		}
		require.NoError(t, scheduler.ScheduleTask(task))

		select {
		case <-executed:
		case <-time.After(3 * time.Second):
			t.Fatal("Task execution timeout")
		}

		scheduledTask := waitForStatus(t, scheduler, task.ID, TaskStatusComplete)
		assert.Nil(t, scheduledTask.Error)
		assert.False(t, scheduledTask.LastRun.IsZero())
	})

	t.Run("FailedExecution", func(t *testing.T) {
		expectedErr := errors.New("execution failed")
		task := &Task{
			ID:         "failure",
			Schedule:   "@hourly",
			MaxRetries: 1,
			ExecutionFn: func(ctx context.Context) error {
				return expectedErr
			},
		}
		require.NoError(t, scheduler.ScheduleTask(task))

		err := scheduler.RunNow(task.ID)
		assert.ErrorIs(t, err, expectedErr)

		scheduledTask, err := scheduler.GetTask(task.ID)
		require.NoError(t, err)
		assert.Equal(t, TaskStatusFailed, scheduledTask.Status)
		assert.ErrorIs(t, scheduledTask.Error, expectedErr)
		assert.Equal(t, 1, scheduledTask.RetryCount)
	})

	t.Run("RunNowUnknownTask", func(t *testing.T) {
		assert.Error(t, scheduler.RunNow("missing"))
	})

	t.Run("ConcurrentExecution", func(t *testing.T) {
		const numTasks = 10
		var completed int32

		for i := 0; i < numTasks; i++ {
			var once int32
			task := &Task{
				ID:       fmt.Sprintf("concurrent-task-%d", i),
				Schedule: "* * * * * *",
				ExecutionFn: func(ctx context.Context) error {
					time.Sleep(50 * time.Millisecond)
					if atomic.CompareAndSwapInt32(&once, 0, 1) {
						atomic.AddInt32(&completed, 1)
					}
					return nil
				},
			}
			require.NoError(t, scheduler.ScheduleTask(task))
		}

		assert.Eventually(t, func() bool {
			return atomic.LoadInt32(&completed) == numTasks
		}, 5*time.Second, 20*time.Millisecond)
	})
}

func TestTaskRetryBehavior(t *testing.T) {
	scheduler := setupTestScheduler(t)
	defer scheduler.Stop()

	var attempts int32
	task := &Task{
		ID:         "retry-task",
		Schedule:   "@hourly",
		MaxRetries: 2,
		ExecutionFn: func(ctx context.Context) error {
			if atomic.AddInt32(&attempts, 1) <= 2 {
				return errors.New("temporary failure")
			}
			return nil
		},
	}
	require.NoError(t, scheduler.ScheduleTask(task))

	require.NoError(t, scheduler.RunNow(task.ID))

	scheduledTask, err := scheduler.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusComplete, scheduledTask.Status)
	assert.Equal(t, 2, scheduledTask.RetryCount)
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestSchedulerRecovery(t *testing.T) {
	scheduler := setupTestScheduler(t)
	defer scheduler.Stop()

	var calls int32
	task := &Task{
		ID:         "recovery-task",
		Schedule:   "@hourly",
		MaxRetries: 1,
		ExecutionFn: func(ctx context.Context) error {
			if atomic.AddInt32(&calls, 1) == 1 {
				panic("unexpected panic")
			}
			return nil
		},
	}
	require.NoError(t, scheduler.ScheduleTask(task))

	require.NoError(t, scheduler.RunNow(task.ID))

	scheduledTask, err := scheduler.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskStatusComplete, scheduledTask.Status)
	assert.Equal(t, 1, scheduledTask.RetryCount)
}

func TestSchedulerMetrics(t *testing.T) {
	scheduler := setupTestScheduler(t)
	defer scheduler.Stop()

	successTask := &Task{
		ID:          "metrics-ok",
		Schedule:    "@hourly",
		ExecutionFn: func(ctx context.Context) error { return nil },
	}
	failTask := &Task{
		ID:          "metrics-fail",
		Schedule:    "@hourly",
		ExecutionFn: func(ctx context.Context) error { return errors.New("task failed") },
	}

	require.NoError(t, scheduler.ScheduleTask(successTask))
	require.NoError(t, scheduler.ScheduleTask(failTask))

	assert.NoError(t, scheduler.RunNow(successTask.ID))
	assert.Error(t, scheduler.RunNow(failTask.ID))

	stats := scheduler.GetSchedulerStats()
	assert.Equal(t, int64(2), stats.TasksScheduled)
	assert.Equal(t, int64(1), stats.TasksCompleted)
	assert.Equal(t, int64(1), stats.TasksFailed)
	assert.False(t, stats.LastUpdate.IsZero())
}

func TestScheduledRunFires(t *testing.T) {
	scheduler := setupTestScheduler(t)
	defer scheduler.Stop()

	executions := make(chan time.Time, 4)
	task := &Task{
		ID:       "every-second-task",
		Schedule: "* * * * * *",
		ExecutionFn: func(ctx context.Context) error {
			select {
			case executions <- time.Now():
			default:
			}
			return nil
		},
	}
	require.NoError(t, scheduler.ScheduleTask(task))

	scheduled, err := scheduler.GetTask(task.ID)
	require.NoError(t, err)
	assert.False(t, scheduled.NextRun.IsZero())

	select {
	case <-executions:
	case <-time.After(3 * time.Second):
		t.Fatal("schedule never fired")
	}
}

func TestSchedulerGracefulShutdown(t *testing.T) {
	scheduler := setupTestScheduler(t)

	started := make(chan struct{}, 1)
	task := &Task{
		ID:       "shutdown-task",
		Schedule: "* * * * * *",
		ExecutionFn: func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(10 * time.Second):
				return nil
			}
		},
	}
	require.NoError(t, scheduler.ScheduleTask(task))

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("task never started")
	}

	done := make(chan error, 1)
	go func() { done <- scheduler.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Scheduler shutdown timeout")
	}

	stopped := waitForStatus(t, scheduler, task.ID, TaskStatusCancelled)
	assert.ErrorIs(t, stopped.Error, context.Canceled)
}

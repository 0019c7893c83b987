package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"election_ledger/pkg/config"
)

// TaskStatus represents the current state of a scheduled task
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusComplete  TaskStatus = "complete"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// scheduleParser accepts standard five-field specs, an optional leading
// seconds field and descriptors such as @every 1m.
var scheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ValidateSchedule reports whether spec can be scheduled
func ValidateSchedule(spec string) error {
	if _, err := scheduleParser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron schedule: %w", err)
	}
	return nil
}

// Task represents a scheduled task
type Task struct {
	ID          string
	Name        string
	Schedule    string
	LastRun     time.Time
	NextRun     time.Time
	Status      TaskStatus
	Error       error
	RetryCount  int
	MaxRetries  int
	CronID      cron.EntryID
	ExecutionFn func(context.Context) error
}

// Scheduler runs periodic tasks on cron schedules with bounded concurrency
type Scheduler struct {
	cron       *cron.Cron
	tasks      map[string]*Task
	config     *config.SchedConfig
	logger     *zap.Logger
	metrics    *SchedulerMetrics
	workerPool chan struct{}
	ctx        context.Context
	cancel     context.CancelFunc
	mu         sync.RWMutex
}

// SchedulerMetrics tracks scheduler performance
type SchedulerMetrics struct {
	TasksScheduled  int64
	TasksCompleted  int64
	TasksFailed     int64
	AverageLatency  time.Duration
	ConcurrentTasks int
	LastUpdate      time.Time
	mu              sync.RWMutex
}

// NewScheduler creates a new scheduler instance
func NewScheduler(cfg *config.SchedConfig, logger *zap.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	return &Scheduler{
		cron: cron.New(
			cron.WithParser(scheduleParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		tasks:      make(map[string]*Task),
		config:     cfg,
		logger:     logger,
		metrics:    &SchedulerMetrics{},
		workerPool: make(chan struct{}, maxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start begins the scheduler
func (s *Scheduler) Start() error {
	s.logger.Info("Starting scheduler",
		zap.Int("maxConcurrent", cap(s.workerPool)))

	go s.collectMetrics()

	s.cron.Start()

	return nil
}

// Stop cancels running tasks and waits for them to return
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping scheduler")

	s.cancel()

	ctx := s.cron.Stop()
	<-ctx.Done()

	return nil
}

// ScheduleTask adds a new task to the scheduler
func (s *Scheduler) ScheduleTask(task *Task) error {
	if err := s.validateTask(task); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}

	cronID, err := s.cron.AddFunc(task.Schedule, func() {
		s.executeTask(s.ctx, task)
	})
	if err != nil {
		return fmt.Errorf("scheduling task: %w", err)
	}

	task.CronID = cronID
	task.Status = TaskStatusPending
	task.NextRun = s.cron.Entry(cronID).Next
	s.tasks[task.ID] = task

	s.metrics.mu.Lock()
	s.metrics.TasksScheduled++
	s.metrics.LastUpdate = time.Now()
	s.metrics.mu.Unlock()

	s.logger.Info("Task scheduled",
		zap.String("taskID", task.ID),
		zap.String("schedule", task.Schedule),
		zap.Time("nextRun", task.NextRun))

	return nil
}

// RunNow executes a scheduled task immediately and returns its result
func (s *Scheduler) RunNow(taskID string) error {
	s.mu.RLock()
	task, exists := s.tasks[taskID]
	s.mu.RUnlock()
	if !exists {
		return fmt.Errorf("task %s not found", taskID)
	}

	return s.executeTask(s.ctx, task)
}

// GetTask returns a copy of the task's current state
func (s *Scheduler) GetTask(taskID string) (Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, exists := s.tasks[taskID]
	if !exists {
		return Task{}, fmt.Errorf("task %s not found", taskID)
	}

	return *task, nil
}

// GetSchedulerStats returns current scheduler statistics
func (s *Scheduler) GetSchedulerStats() SchedulerStats {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()

	return SchedulerStats{
		TasksScheduled:  s.metrics.TasksScheduled,
		TasksCompleted:  s.metrics.TasksCompleted,
		TasksFailed:     s.metrics.TasksFailed,
		AverageLatency:  s.metrics.AverageLatency,
		ConcurrentTasks: s.metrics.ConcurrentTasks,
		LastUpdate:      s.metrics.LastUpdate,
	}
}

// SchedulerStats represents scheduler statistics
type SchedulerStats struct {
	TasksScheduled  int64
	TasksCompleted  int64
	TasksFailed     int64
	AverageLatency  time.Duration
	ConcurrentTasks int
	LastUpdate      time.Time
}

// Private methods

func (s *Scheduler) executeTask(ctx context.Context, task *Task) error {
	select {
	case s.workerPool <- struct{}{}:
		defer func() { <-s.workerPool }()
	case <-ctx.Done():
		return ctx.Err()
	}

	start := time.Now()

	s.mu.Lock()
	task.Status = TaskStatusRunning
	task.LastRun = start
	s.mu.Unlock()

	err := s.runTaskWithRetries(ctx, task)

	s.mu.Lock()
	switch {
	case err == nil:
		task.Status = TaskStatusComplete
		task.Error = nil
	case ctx.Err() != nil:
		task.Status = TaskStatusCancelled
		task.Error = err
	default:
		task.Status = TaskStatusFailed
		task.Error = err
	}
	task.NextRun = s.cron.Entry(task.CronID).Next
	s.mu.Unlock()

	elapsed := time.Since(start)
	s.metrics.mu.Lock()
	if err != nil {
		s.metrics.TasksFailed++
	} else {
		s.metrics.TasksCompleted++
	}
	s.metrics.AverageLatency = (s.metrics.AverageLatency*9 + elapsed) / 10
	s.metrics.LastUpdate = time.Now()
	s.metrics.mu.Unlock()

	s.logger.Info("Task execution completed",
		zap.String("taskID", task.ID),
		zap.Duration("duration", elapsed),
		zap.Error(err))

	return err
}

func (s *Scheduler) runTaskWithRetries(ctx context.Context, task *Task) error {
	var lastErr error

	for attempt := 0; attempt <= task.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.config.RetryDelay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		s.mu.Lock()
		task.RetryCount = attempt
		s.mu.Unlock()

		err := s.runOnce(ctx, task)
		if err == nil {
			return nil
		}
		lastErr = err
		s.logger.Warn("Task execution failed",
			zap.String("taskID", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		if ctx.Err() != nil {
			return lastErr
		}
	}

	return fmt.Errorf("task failed after %d retries: %w", task.MaxRetries, lastErr)
}

// runOnce converts a panicking task into an error
func (s *Scheduler) runOnce(ctx context.Context, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	return task.ExecutionFn(ctx)
}

func (s *Scheduler) validateTask(task *Task) error {
	if task.ID == "" {
		return fmt.Errorf("task ID cannot be empty")
	}
	if task.Schedule == "" {
		return fmt.Errorf("task schedule cannot be empty")
	}
	if task.ExecutionFn == nil {
		return fmt.Errorf("task execution function cannot be nil")
	}
	if task.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	return ValidateSchedule(task.Schedule)
}

func (s *Scheduler) collectMetrics() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.updateMetrics()
		}
	}
}

func (s *Scheduler) updateMetrics() {
	s.mu.RLock()
	runningTasks := 0
	for _, task := range s.tasks {
		if task.Status == TaskStatusRunning {
			runningTasks++
		}
	}
	s.mu.RUnlock()

	s.metrics.mu.Lock()
	s.metrics.ConcurrentTasks = runningTasks
	s.metrics.LastUpdate = time.Now()
	s.metrics.mu.Unlock()
}

package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task interface for scheduled tasks
type Task interface {
	Run(ctx context.Context) error
	Interval() time.Duration
	Name() string
}

// Scheduler manages multiple scheduled tasks
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc
	tasks  []Task
	wg     sync.WaitGroup
	logger *slog.Logger
}

// New creates a new task scheduler
func New(ctx context.Context, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make([]Task, 0),
		logger: logger,
	}
}

// AddTask adds a task to the scheduler. Tasks with a non-positive interval are skipped.
func (s *Scheduler) AddTask(task Task) {
	if task.Interval() <= 0 {
		s.logger.Warn("Skipping task without interval", "task", task.Name())
		return
	}
	s.tasks = append(s.tasks, task)
}

// Tasks returns the names of the registered tasks
func (s *Scheduler) Tasks() []string {
	names := make([]string, 0, len(s.tasks))
	for _, task := range s.tasks {
		names = append(names, task.Name())
	}
	return names
}

// Start begins running all scheduled tasks
func (s *Scheduler) Start() {
	s.logger.Info("Starting task scheduler")
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runTask(task)
	}
	s.logger.Info("Task scheduler started", "task_count", len(s.tasks))
}

// Stop gracefully stops all tasks
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping task scheduler")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Task scheduler stopped")
}

// runTask runs a single task on its schedule
func (s *Scheduler) runTask(task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval())
	defer ticker.Stop()

	// Run immediately on start
	s.run(task)

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.run(task)
		}
	}
}

func (s *Scheduler) run(task Task) {
	if err := task.Run(s.ctx); err != nil && s.ctx.Err() == nil {
		s.logger.Error("Error running task", "task", task.Name(), "error", err)
	}
}

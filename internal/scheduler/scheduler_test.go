package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTask struct {
	name     string
	interval time.Duration
	runs     atomic.Int32
	err      error
}

func (t *countingTask) Run(ctx context.Context) error {
	t.runs.Add(1)
	return t.err
}

func (t *countingTask) Interval() time.Duration { return t.interval }
func (t *countingTask) Name() string            { return t.name }

func TestScheduler_RunsImmediatelyAndOnInterval(t *testing.T) {
	s := New(context.Background(), nil)
	task := &countingTask{name: "tick", interval: 20 * time.Millisecond}
	s.AddTask(task)
	assert.Equal(t, []string{"tick"}, s.Tasks())

	s.Start()
	require.Eventually(t, func() bool { return task.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	runs := task.runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, runs, task.runs.Load(), "task ran after Stop")
}

func TestScheduler_ErrorsDoNotStopTask(t *testing.T) {
	s := New(context.Background(), nil)
	task := &countingTask{name: "failing", interval: 10 * time.Millisecond, err: assert.AnError}
	s.AddTask(task)

	s.Start()
	defer s.Stop()
	require.Eventually(t, func() bool { return task.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_SkipsTaskWithoutInterval(t *testing.T) {
	s := New(context.Background(), nil)
	s.AddTask(&countingTask{name: "never", interval: 0})
	assert.Empty(t, s.Tasks())
}

func TestScheduler_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(ctx, nil)
	s.AddTask(&countingTask{name: "tick", interval: time.Hour})
	s.Start()

	cancel()
	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}

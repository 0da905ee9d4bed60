// Package sched emits the periodic tick events that drive account refresh
// and roster reload cycles.
package sched

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/candlelabs/portsync/internal/schema"
)

// Publisher delivers tick events to the broadcast bus.
type Publisher interface {
	Publish(ctx context.Context, evt *schema.Event) error
}

// Task describes one periodic tick stream.
type Task struct {
	TaskID   uint64
	Interval time.Duration
}

// Scheduler runs a set of interval tasks, each publishing tick events under
// its task id until the context ends.
type Scheduler struct {
	tasks  []Task
	pub    Publisher
	logger *log.Logger
}

// New constructs a scheduler over the given tasks.
func New(pub Publisher, logger *log.Logger, tasks ...Task) *Scheduler {
	if logger == nil {
		logger = log.New(os.Stdout, "scheduler ", log.LstdFlags|log.Lmicroseconds)
	}
	return &Scheduler{tasks: tasks, pub: pub, logger: logger}
}

// Run blocks until the context ends, ticking every task at its interval.
func (s *Scheduler) Run(ctx context.Context) {
	done := make(chan struct{})
	for _, task := range s.tasks {
		task := task
		go func() {
			s.runTask(ctx, task)
			done <- struct{}{}
		}()
	}
	for range s.tasks {
		<-done
	}
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	if task.Interval <= 0 {
		s.logger.Printf("task_id=%d has no interval; not scheduled", task.TaskID)
		return
	}
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	sequence := uint64(0)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sequence++
			evt := &schema.Event{
				TaskID: task.TaskID,
				Type:   schema.EventTypeTick,
				Tick: &schema.TickEvent{
					IntervalSec: int64(task.Interval / time.Second),
					Sequence:    sequence,
				},
			}
			if err := s.pub.Publish(ctx, evt); err != nil {
				s.logger.Printf("tick publish failed for task_id=%d: %v", task.TaskID, err)
			}
		}
	}
}

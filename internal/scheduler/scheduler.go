package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrStopped         = errors.New("scheduler is stopped")
	ErrInvalidInterval = errors.New("interval must be positive")
)

// Task is a callback scheduled for a point in time. Periodic tasks carry a
// non-zero interval.
type Task struct {
	ID       string
	RunAt    time.Time
	Interval time.Duration
	Callback func(ctx context.Context)
	index    int // index in the heap (for heap.Interface)
}

// taskHeap is a min-heap of tasks ordered by RunAt
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	return h[i].RunAt.Before(h[j].RunAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	task := x.(*Task)
	task.index = len(*h)
	*h = append(*h, task)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	task := old[n-1]
	old[n-1] = nil
	task.index = -1
	*h = old[0 : n-1]
	return task
}

// Stats contains statistics about the scheduler
type Stats struct {
	Scheduled int
	Running   int
	Fired     int64
	// Skipped counts periodic ticks dropped because the previous run of the
	// same task was still in progress.
	Skipped int64
}

// Scheduler runs callbacks from a min-heap of deadlines. A periodic task is
// re-armed only after its callback returns, so one task never runs
// concurrently with itself.
type Scheduler struct {
	heap    taskHeap
	tasks   map[string]*Task // queued tasks by ID
	running map[string]*Task // tasks whose callback is in progress

	mu      sync.Mutex
	wakeup  chan struct{}
	stopCh  chan struct{}
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	fired   int64
	skipped int64
}

// New creates a scheduler. Callbacks receive a context cancelled by Stop.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		heap:    make(taskHeap, 0),
		tasks:   make(map[string]*Task),
		running: make(map[string]*Task),
		wakeup:  make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
	heap.Init(&s.heap)
	return s
}

// Start starts the scheduling loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop cancels the callback context and waits for running callbacks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

// Schedule runs callback once at runAt, replacing any task with the same ID.
func (s *Scheduler) Schedule(id string, runAt time.Time, callback func(ctx context.Context)) error {
	return s.add(&Task{ID: id, RunAt: runAt, Callback: callback})
}

// Every runs callback every interval, starting one interval from now.
func (s *Scheduler) Every(id string, interval time.Duration, callback func(ctx context.Context)) error {
	return s.EveryAt(id, time.Now().Add(interval), interval, callback)
}

// EveryAt runs callback at first and then every interval.
func (s *Scheduler) EveryAt(id string, first time.Time, interval time.Duration, callback func(ctx context.Context)) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	return s.add(&Task{ID: id, RunAt: first, Interval: interval, Callback: callback})
}

func (s *Scheduler) add(task *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}

	// Remove existing task with same ID if present
	if existing, ok := s.tasks[task.ID]; ok {
		heap.Remove(&s.heap, existing.index)
		delete(s.tasks, task.ID)
	}
	// A running periodic task with the same ID is not re-armed.
	delete(s.running, task.ID)

	heap.Push(&s.heap, task)
	s.tasks[task.ID] = task

	if s.heap[0] == task {
		s.notify()
	}
	return nil
}

// Cancel removes a task. A periodic task whose callback is running finishes
// that run and is not re-armed.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := false
	if task, ok := s.tasks[id]; ok {
		heap.Remove(&s.heap, task.index)
		delete(s.tasks, id)
		cancelled = true
	}
	if _, ok := s.running[id]; ok {
		delete(s.running, id)
		cancelled = true
	}
	return cancelled
}

// Stats returns statistics about the scheduler
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Scheduled: len(s.tasks),
		Running:   len(s.running),
		Fired:     s.fired,
		Skipped:   s.skipped,
	}
}

func (s *Scheduler) notify() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// run is the main scheduler loop
func (s *Scheduler) run() {
	for {
		s.mu.Lock()

		if s.stopped {
			s.mu.Unlock()
			return
		}

		var waitDuration time.Duration
		if s.heap.Len() == 0 {
			waitDuration = 24 * time.Hour
		} else {
			next := s.heap[0]
			waitDuration = time.Until(next.RunAt)

			if waitDuration <= 0 {
				task := heap.Pop(&s.heap).(*Task)
				delete(s.tasks, task.ID)
				if task.Interval > 0 {
					s.running[task.ID] = task
				}
				s.fired++
				s.wg.Add(1)
				go s.execute(task)

				s.mu.Unlock()
				continue
			}
		}

		s.mu.Unlock()

		timer := time.NewTimer(waitDuration)
		select {
		case <-timer.C:
		case <-s.wakeup:
			timer.Stop()
		case <-s.stopCh:
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) execute(task *Task) {
	defer s.wg.Done()

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("scheduled task panicked", "task", task.ID, "panic", r)
			}
		}()
		task.Callback(s.ctx)
	}()

	if task.Interval == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || s.running[task.ID] != task {
		return
	}
	delete(s.running, task.ID)

	next, missed := nextRun(task.RunAt, task.Interval, time.Now())
	if missed > 0 {
		s.skipped += missed
		s.logger.Warn("scheduled task overran its interval, ticks skipped",
			"task", task.ID, "skipped", missed, "interval", task.Interval)
	}
	task.RunAt = next
	heap.Push(&s.heap, task)
	s.tasks[task.ID] = task
	if s.heap[0] == task {
		s.notify()
	}
}

// nextRun returns the first tick after now on the grid last+k*interval, and
// how many ticks before it were missed.
func nextRun(last time.Time, interval time.Duration, now time.Time) (time.Time, int64) {
	next := last.Add(interval)
	if next.After(now) {
		return next, 0
	}
	missed := int64(now.Sub(next)/interval) + 1
	return next.Add(time.Duration(missed) * interval), missed
}

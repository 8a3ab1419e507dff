// Package scheduler owns named recurring tasks. Each task runs once immediately
// and then on every tick until stopped; stopping cancels the task context so
// in-flight work is aborted.
package scheduler

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// Task is one run of a recurring job. It must return promptly once ctx is done.
type Task func(ctx context.Context)

type entry struct {
	interval time.Duration
	ticker   *time.Ticker
	cancel   context.CancelFunc
}

// Scheduler is safe for concurrent use. Tasks may call Stop/Start on their own scheduler.
type Scheduler struct {
	root   context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*entry
	closed bool
	wg     sync.WaitGroup
}

// New returns a scheduler whose task contexts derive from ctx.
func New(ctx context.Context) *Scheduler {
	root, cancel := context.WithCancel(ctx)
	return &Scheduler{root: root, cancel: cancel, tasks: make(map[string]*entry)}
}

// Start runs task now and every interval under name. It returns false (and does
// nothing) when name is already running, interval is not positive or the scheduler is closed.
func (s *Scheduler) Start(name string, interval time.Duration, task Task) bool {
	return s.start(name, interval, task, true)
}

// StartDeferred is Start without the immediate run: the first run happens one interval from now.
func (s *Scheduler) StartDeferred(name string, interval time.Duration, task Task) bool {
	return s.start(name, interval, task, false)
}

func (s *Scheduler) start(name string, interval time.Duration, task Task, immediate bool) bool {
	if interval <= 0 || task == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.tasks[name]; ok {
		return false
	}
	ctx, cancel := context.WithCancel(s.root)
	e := &entry{interval: interval, ticker: time.NewTicker(interval), cancel: cancel}
	s.tasks[name] = e
	s.wg.Add(1)
	go s.run(ctx, name, e, task, immediate)
	return true
}

func (s *Scheduler) run(ctx context.Context, name string, e *entry, task Task, immediate bool) {
	defer s.wg.Done()
	defer e.ticker.Stop()
	defer func() {
		if r := recover(); r != nil {
			log.Printf("scheduler: task %s panicked: %v", name, r)
			s.remove(name, e)
		}
	}()
	if immediate {
		task(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.ticker.C:
			if ctx.Err() != nil {
				return
			}
			task(ctx)
		}
	}
}

// Stop cancels name. It does not wait for an in-flight run to return.
func (s *Scheduler) Stop(name string) bool {
	s.mu.Lock()
	e, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	if ok {
		e.cancel()
	}
	return ok
}

func (s *Scheduler) remove(name string, e *entry) {
	s.mu.Lock()
	if s.tasks[name] == e {
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	e.cancel()
}

// StopAll cancels every task.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]*entry)
	s.mu.Unlock()
	for _, e := range tasks {
		e.cancel()
	}
}

// IsRunning reports whether name is scheduled.
func (s *Scheduler) IsRunning(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Running returns the sorted names of scheduled tasks.
func (s *Scheduler) Running() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)
	return names
}

// Interval returns the current interval of name, or 0 when it is not running.
func (s *Scheduler) Interval(name string) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.tasks[name]; ok {
		return e.interval
	}
	return 0
}

// Reschedule changes the interval of a running task; the next tick is one new interval away.
func (s *Scheduler) Reschedule(name string, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tasks[name]
	if !ok {
		return false
	}
	e.interval = interval
	e.ticker.Reset(interval)
	return true
}

// Close stops every task and waits for in-flight runs to return. Start fails afterwards.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.StopAll()
	s.cancel()
	s.wg.Wait()
}

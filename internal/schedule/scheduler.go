package schedule

import (
	"container/heap"
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Task is a unit of deferred work. The context is the scheduler's runtime
// context and is cancelled on Stop.
type Task func(ctx context.Context)

// Planned describes a single entry to install. Zero At means now (or
// now+Every for periodic entries). Every > 0 makes the entry re-arm itself.
type Planned struct {
	At    time.Time
	Every time.Duration
	Run   Task
}

type entry struct {
	at      time.Time
	every   time.Duration
	group   string
	run     Task
	index   int
	seq     uint64
	removed bool
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Scheduler runs deferred and periodic tasks off a single timer over a
// min-heap of deadlines. Entries are keyed by group so that all timers of
// one concern can be cancelled or replaced in one atomic step.
type Scheduler struct {
	mu      sync.Mutex
	entries entryHeap
	groups  map[string]map[*entry]struct{}
	seq     uint64
	wake    chan struct{}

	startStopMutex sync.Mutex
	started        bool
	runtimeCtx     context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		groups: make(map[string]map[*entry]struct{}),
		wake:   make(chan struct{}, 1),
	}
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.startStopMutex.Lock()
	defer s.startStopMutex.Unlock()
	if s.started {
		return nil
	}
	s.runtimeCtx, s.cancel = context.WithCancel(ctx)
	s.started = true

	s.wg.Add(1)
	go s.loop(s.runtimeCtx)
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.startStopMutex.Lock()
	if !s.started {
		s.startStopMutex.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.startStopMutex.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Schedule installs a single entry under the group.
func (s *Scheduler) Schedule(group string, p Planned) {
	s.mu.Lock()
	s.add(group, p)
	s.mu.Unlock()
	s.kick()
}

// After is a one-shot convenience over Schedule.
func (s *Scheduler) After(group string, delay time.Duration, run Task) {
	s.Schedule(group, Planned{At: time.Now().Add(delay), Run: run})
}

// Replace drops every pending entry of the group and installs the given
// ones, all under one lock. Tasks already running are unaffected.
func (s *Scheduler) Replace(group string, tasks ...Planned) {
	s.mu.Lock()
	s.cancelLocked(group)
	for _, p := range tasks {
		s.add(group, p)
	}
	s.mu.Unlock()
	s.kick()
}

// Cancel drops every pending entry of the group.
func (s *Scheduler) Cancel(group string) {
	s.mu.Lock()
	s.cancelLocked(group)
	s.mu.Unlock()
	s.kick()
}

// Pending reports the number of not-yet-fired entries of the group.
func (s *Scheduler) Pending(group string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.groups[group])
}

func (s *Scheduler) add(group string, p Planned) {
	at := p.At
	if at.IsZero() {
		at = time.Now()
		if p.Every > 0 {
			at = at.Add(p.Every)
		}
	}
	s.seq++
	e := &entry{
		at:    at,
		every: p.Every,
		group: group,
		run:   p.Run,
		seq:   s.seq,
	}
	heap.Push(&s.entries, e)
	if s.groups[group] == nil {
		s.groups[group] = make(map[*entry]struct{})
	}
	s.groups[group][e] = struct{}{}
}

func (s *Scheduler) cancelLocked(group string) {
	for e := range s.groups[group] {
		e.removed = true
	}
	delete(s.groups, group)
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		now := time.Now()
		due := s.collectDue(now)
		for _, e := range due {
			e := e
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() {
					if r := recover(); r != nil {
						log.WithField("group", e.group).Errorf("scheduled task panic: %v", r)
					}
				}()
				e.run(ctx)
			}()
		}

		wait := s.nextWait(now)
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) collectDue(now time.Time) []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*entry
	for s.entries.Len() > 0 {
		next := s.entries[0]
		if next.removed {
			heap.Pop(&s.entries)
			continue
		}
		if next.at.After(now) {
			break
		}
		heap.Pop(&s.entries)
		due = append(due, next)
		if next.every > 0 {
			for !next.at.After(now) {
				next.at = next.at.Add(next.every)
			}
			heap.Push(&s.entries, next)
		} else {
			delete(s.groups[next.group], next)
			if len(s.groups[next.group]) == 0 {
				delete(s.groups, next.group)
			}
		}
	}
	return due
}

func (s *Scheduler) nextWait(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.entries.Len() > 0 {
		next := s.entries[0]
		if next.removed {
			heap.Pop(&s.entries)
			continue
		}
		wait := next.at.Sub(now)
		if wait < time.Millisecond {
			wait = time.Millisecond
		}
		return wait
	}
	return time.Hour
}

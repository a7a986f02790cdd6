package stowage

import (
	"context"
	"errors"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

// taskKey identifies a pending flush: one per backend and key.
type taskKey struct {
	key string
	id  int
}

type task struct {
	timer *time.Timer
	run   func(context.Context) error
}

// scheduler is a trailing-edge debouncer. Each schedule call for a key
// replaces the pending task for that key and restarts its timer. There is
// no maximum wait: a steady stream of writes postpones the flush until
// the stream pauses.
type scheduler struct {
	tasks   *xsync.Map[taskKey, *task]
	fail    func(taskKey, error)
	timeout time.Duration
}

func newScheduler(timeout time.Duration, fail func(taskKey, error)) *scheduler {
	return &scheduler{
		tasks:   xsync.NewMap[taskKey, *task](),
		fail:    fail,
		timeout: timeout,
	}
}

// schedule arranges for run to be called once d after the last call for k.
func (s *scheduler) schedule(k taskKey, d time.Duration, run func(context.Context) error) {
	s.tasks.Compute(k, func(old *task, loaded bool) (*task, xsync.ComputeOp) {
		if loaded {
			old.timer.Stop()
		}
		t := &task{run: run}
		t.timer = time.AfterFunc(d, func() { s.fire(k, t) })
		return t, xsync.UpdateOp
	})
}

// take removes t from the table if it is still the pending task for k.
// Exactly one of fire, drain and stopAll wins a given task.
func (s *scheduler) take(k taskKey, t *task) bool {
	mine := false
	s.tasks.Compute(k, func(cur *task, loaded bool) (*task, xsync.ComputeOp) {
		if loaded && cur == t {
			mine = true
			return nil, xsync.DeleteOp
		}
		return cur, xsync.CancelOp
	})
	return mine
}

func (s *scheduler) fire(k taskKey, t *task) {
	if !s.take(k, t) {
		return
	}
	//nolint:contextcheck // timer-driven flush outlives any caller context
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := t.run(ctx); err != nil {
		s.fail(k, err)
	}
}

// pending returns the number of scheduled tasks.
func (s *scheduler) pending() int {
	return s.tasks.Size()
}

// drain runs every pending task now.
func (s *scheduler) drain(ctx context.Context) error {
	type entry struct {
		t *task
		k taskKey
	}
	var queued []entry
	s.tasks.Range(func(k taskKey, t *task) bool {
		queued = append(queued, entry{k: k, t: t})
		return true
	})

	var errs []error
	for _, e := range queued {
		if !s.take(e.k, e.t) {
			continue
		}
		e.t.timer.Stop()
		if err := e.t.run(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// stopAll drops every pending task without running it.
func (s *scheduler) stopAll() {
	s.tasks.Range(func(k taskKey, t *task) bool {
		if s.take(k, t) {
			t.timer.Stop()
		}
		return true
	})
}

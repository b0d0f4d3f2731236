// Package scheduler provides the serial task loops a chunk store uses to
// deliver callbacks and to talk to its backend.
package scheduler

import "sync"

// Loop runs posted tasks one at a time, in the order they were posted, on a
// dedicated goroutine. Post never blocks and never runs the task inline.
type Loop struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []func()
	stopped bool
	done    chan struct{}
}

// NewLoop starts a loop.
func NewLoop() *Loop {
	l := &Loop{done: make(chan struct{})}
	l.cond = sync.NewCond(&l.mu)
	go l.run()
	return l
}

// Post schedules fn. After Stop, fn runs on its own goroutine once every task
// queued before Stop has finished.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		go func() {
			<-l.done
			fn()
		}()
		return
	}
	l.tasks = append(l.tasks, fn)
	l.mu.Unlock()
	l.cond.Signal()
}

// Stop lets the queued tasks drain and then ends the loop goroutine. It is
// safe to call from inside a task and more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
	l.cond.Signal()
}

// Done is closed once the loop goroutine has exited.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.mu.Lock()
		for len(l.tasks) == 0 && !l.stopped {
			l.cond.Wait()
		}
		if len(l.tasks) == 0 {
			l.mu.Unlock()
			return
		}
		fn := l.tasks[0]
		l.tasks[0] = nil
		l.tasks = l.tasks[1:]
		l.mu.Unlock()

		fn()
	}
}

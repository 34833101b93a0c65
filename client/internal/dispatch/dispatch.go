// Package dispatch provides a single-consumer serial task queue. Update
// callbacks can arrive on arbitrary goroutines; everything that touches
// published UI state is funneled through one queue so no locking is needed
// on the state itself.
package dispatch

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

const queueDepth = 64

// Queue executes submitted tasks one at a time, in submission order, on
// the goroutine that calls Run.
type Queue struct {
	tasks    chan func()
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		tasks: make(chan func(), queueDepth),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Run drains the queue until Stop is called. It is expected to be invoked
// from the goroutine that owns the UI state, typically the tray loop.
func (q *Queue) Run() {
	defer close(q.done)
	for {
		select {
		case task := <-q.tasks:
			task()
		case <-q.stop:
			// drain what was already queued before shutting down
			for {
				select {
				case task := <-q.tasks:
					task()
				default:
					return
				}
			}
		}
	}
}

// Stop terminates Run after the already queued tasks have executed.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		close(q.stop)
	})
	<-q.done
}

// Async submits a task without waiting for it to run. Tasks submitted
// after Stop are dropped with a log line rather than blocking the caller.
func (q *Queue) Async(task func()) {
	select {
	case <-q.stop:
		log.Debugf("dispatch queue stopped, dropping task")
	case q.tasks <- task:
	}
}

// Sync submits a task and waits for it to finish. It must not be called
// from the queue goroutine itself.
func (q *Queue) Sync(task func()) {
	ran := make(chan struct{})
	q.Async(func() {
		defer close(ran)
		task()
	})
	select {
	case <-ran:
	case <-q.done:
	}
}

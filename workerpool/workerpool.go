// Package workerpool bounds the concurrency of per-epoch verification runs.
// Both sources are rate-limited upstream, so fanning out wider than a handful
// of workers only queues requests behind the limiter.
package workerpool

import (
	"sync"
)

type Pool struct {
	workers int
	tasks   chan func()
	quit    chan struct{}
	wg      sync.WaitGroup
}

// New creates a pool with a fixed worker count and a bounded task queue.
func New(workers, queueSize int) *Pool {
	return &Pool{
		workers: workers,
		tasks:   make(chan func(), queueSize),
		quit:    make(chan struct{}),
	}
}

// Start launches the worker goroutines.
func (p *Pool) Start() {
	for i := 0; i < p.workers; i++ {
		go p.worker()
	}
}

// Submit queues a task. Blocks when the queue is full.
func (p *Pool) Submit(task func()) {
	p.wg.Add(1)
	p.tasks <- task
}

// QueuedTasks returns the number of tasks not yet picked up by a worker.
func (p *Pool) QueuedTasks() int {
	return len(p.tasks)
}

// Wait blocks until every submitted task has finished.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Stop shuts the workers down. Pending tasks in the queue are dropped, so
// call Wait first when they matter.
func (p *Pool) Stop() {
	close(p.quit)
}

func (p *Pool) worker() {
	for {
		select {
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			task()
			p.wg.Done()
		case <-p.quit:
			return
		}
	}
}

// Package pool provides a fixed-size worker pool with a non-blocking submit
// queue, and futures that compose on top of it.
package pool

import (
	"errors"
	"fmt"
	"sync"

	"bestprice/logger"
)

var ErrPoolClosed = errors.New("pool: closed")

// Pool runs submitted tasks on a fixed number of worker goroutines. Tasks
// queue without bound, so Submit never blocks the caller.
type Pool struct {
	size int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	active int
	closed bool

	wg        sync.WaitGroup
	closeOnce sync.Once
	log       *logger.Entry
}

// New starts a pool with size workers. Sizes below one are raised to one.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	p := &Pool{
		size: size,
		log:  logger.GetLogger().WithComponent("pool"),
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}

	p.log.WithFields(logger.Fields{"workers": size}).Debug("worker pool started")
	return p
}

func (p *Pool) Size() int {
	return p.size
}

// Pending returns the number of tasks queued or running.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) + p.active
}

// Submit enqueues task. It returns ErrPoolClosed once Close has been called.
func (p *Pool) Submit(task func()) error {
	if task == nil {
		return fmt.Errorf("pool: nil task")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.queue = append(p.queue, task)
	p.mu.Unlock()

	p.cond.Signal()
	return nil
}

// Close stops accepting tasks, runs everything already queued and waits for
// the workers to exit. It must not be called from inside a task.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.cond.Broadcast()
	})
	p.wg.Wait()
	p.log.Debug("worker pool stopped")
}

func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		task := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.active++
		p.mu.Unlock()

		p.run(task)

		p.mu.Lock()
		p.active--
		p.mu.Unlock()
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.WithFields(logger.Fields{"panic": fmt.Sprint(r)}).Error("task panicked")
		}
	}()
	task()
}

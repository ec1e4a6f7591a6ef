// Package task provides the two executors the STPP endpoint runs on: a
// shared worker pool for blocking background work (image fetches) and a
// per-session courier that serialises all session mutation onto a single
// goroutine.
package task

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Pool runs submitted functions on a fixed set of worker goroutines.
type Pool struct {
	ch     chan func()
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines draining the submission queue.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{ch: make(chan func(), 64)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for fn := range p.ch {
				fn()
			}
		}()
	}
	return p
}

// Run submits fn to the pool. It blocks if all workers are busy and the
// queue is full. Returns false after Close.
func (p *Pool) Run(fn func()) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	p.ch <- fn
	p.mu.Unlock()
	return true
}

// Close stops accepting work and waits for the workers to drain the queue.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()
	p.wg.Wait()
}

// Courier is a serial executor. Functions run one at a time, in submission
// order, on a single goroutine owned by the courier. A session confines all
// of its state to its courier, so no session field needs a lock.
type Courier struct {
	logger hclog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

// NewCourier starts the courier goroutine.
func NewCourier(logger hclog.Logger) *Courier {
	c := &Courier{
		logger: logger,
		done:   make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	go c.run()
	return c
}

func (c *Courier) run() {
	defer close(c.done)
	c.mu.Lock()
	for {
		for len(c.queue) == 0 {
			if c.closed {
				c.mu.Unlock()
				return
			}
			c.cond.Wait()
		}
		fn := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()
		c.dispatch(fn)
		c.mu.Lock()
	}
}

func (c *Courier) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in courier task", "panic", r)
		}
	}()
	fn()
}

// Run enqueues fn. Ordering is FIFO. Returns false once the courier is
// closed; the caller then owns whatever cleanup fn would have done.
func (c *Courier) Run(fn func()) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, fn)
	c.cond.Signal()
	c.mu.Unlock()
	return true
}

// Close stops the courier after draining already-queued work. It does not
// wait; use Done to observe the goroutine exiting. Functions submitted
// after Close are rejected by Run.
func (c *Courier) Close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		c.cond.Signal()
	}
	c.mu.Unlock()
}

// Done is closed once the courier goroutine has exited.
func (c *Courier) Done() <-chan struct{} {
	return c.done
}

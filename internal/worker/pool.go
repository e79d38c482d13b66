package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

const defaultSize = 64

// Task is one unit of background work.
type Task func(ctx context.Context) error

type job struct {
	ctx  context.Context
	name string
	task Task
}

// keyQueue holds the tasks of one key that have not started yet.
type keyQueue struct {
	pending []job
	running int
}

// Pool runs tasks on a bounded number of goroutines. Tasks outlive the context
// they were submitted with; only the pool timeout bounds them.
//
// Every task belongs to a key. At most perKey tasks of the same key hold a slot at
// once, the rest wait in that key's FIFO queue, so a key whose tasks hang can never
// occupy more than perKey of the size slots.
type Pool struct {
	slots   chan struct{}
	perKey  int
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.Mutex
	queues map[string]*keyQueue
}

// NewPool creates a pool running at most size tasks at once and at most perKey
// tasks of a single key. perKey <= 0 or above size means size. Caller should call
// Stop for graceful shutdown.
func NewPool(size, perKey int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = defaultSize
	}
	if perKey <= 0 || perKey > size {
		perKey = size
	}
	return &Pool{
		slots:   make(chan struct{}, size),
		perKey:  perKey,
		timeout: timeout,
		queues:  make(map[string]*keyQueue),
	}
}

// Go queues task under key and returns without waiting for a slot.
func (p *Pool) Go(ctx context.Context, key, name string, task Task) {
	p.wg.Add(1)

	p.mu.Lock()
	q, ok := p.queues[key]
	if !ok {
		q = &keyQueue{}
		p.queues[key] = q
	}
	q.pending = append(q.pending, job{ctx: context.WithoutCancel(ctx), name: name, task: task})
	p.startLocked(key, q)
	p.mu.Unlock()
}

// Pending reports how many tasks of key are queued or running.
func (p *Pool) Pending(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	q, ok := p.queues[key]
	if !ok {
		return 0
	}
	return len(q.pending) + q.running
}

func (p *Pool) startLocked(key string, q *keyQueue) {
	for q.running < p.perKey && len(q.pending) > 0 {
		j := q.pending[0]
		q.pending[0] = job{}
		q.pending = q.pending[1:]
		q.running++
		go p.run(key, j)
	}
}

func (p *Pool) run(key string, j job) {
	p.slots <- struct{}{}
	defer func() {
		<-p.slots
		p.finish(key)
	}()
	p.exec(j)
}

func (p *Pool) exec(j job) {
	ctx := j.ctx
	cancel := context.CancelFunc(func() {})
	if p.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
	}
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "worker: task panic",
				"task", j.name,
				"error", fmt.Errorf("%v, stack: %s", r, debug.Stack()),
			)
		}
		cancel()
	}()

	if err := j.task(ctx); err != nil {
		slog.ErrorContext(ctx, "worker: task failed",
			"task", j.name,
			"error", err,
		)
	}
}

func (p *Pool) finish(key string) {
	p.mu.Lock()
	q := p.queues[key]
	q.running--
	if q.running == 0 && len(q.pending) == 0 {
		delete(p.queues, key)
	} else {
		p.startLocked(key, q)
	}
	p.mu.Unlock()
	p.wg.Done()
}

// Stop waits for all scheduled tasks to finish.
func (p *Pool) Stop() {
	p.wg.Wait()
}

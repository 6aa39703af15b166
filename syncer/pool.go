package syncer

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Job is a unit of remote work executed by the pool.
type Job func(ctx context.Context)

// PoolConfig sizes a Pool.
type PoolConfig struct {
	Workers        int
	Buffer         int
	HandoffTimeout time.Duration
}

// Pool runs jobs on a fixed set of workers draining a buffered channel. When
// the buffer stays full past the handoff timeout the job runs on its own
// goroutine instead, so Submit never blocks for long.
type Pool struct {
	mu      sync.RWMutex
	jobs    chan Job
	closed  bool
	handoff time.Duration
	log     *log.Logger
	wg      sync.WaitGroup
	inline  sync.WaitGroup
}

// NewPool starts cfg.Workers workers.
func NewPool(cfg PoolConfig, logger *log.Logger) *Pool {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	p := &Pool{
		jobs:    make(chan Job, cfg.Buffer),
		handoff: cfg.HandoffTimeout,
		log:     logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(p.jobs)
	}
	logger.Infof("sync pool started, workers: %d, buffer: %d, handoff: %v", cfg.Workers, cfg.Buffer, cfg.HandoffTimeout)
	return p
}

func (p *Pool) worker(jobs <-chan Job) {
	defer p.wg.Done()
	for j := range jobs {
		p.run(j)
	}
}

func (p *Pool) run(j Job) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Errorf("sync job panicked: %v", r)
		}
	}()
	j(context.Background())
}

// Submit hands j to a worker, falling back to a dedicated goroutine when the
// pool is saturated or closed.
func (p *Pool) Submit(j Job) {
	if p.tryEnqueue(j) {
		return
	}
	p.log.Warn("sync buffer saturated; processing inline")
	p.inline.Add(1)
	go func() {
		defer p.inline.Done()
		p.run(j)
	}()
}

func (p *Pool) tryEnqueue(j Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	if trySendNonBlocking(p.jobs, j) {
		return true
	}
	if p.handoff <= 0 {
		return false
	}

	timer := time.NewTimer(p.handoff)
	defer timer.Stop()
	return sendWithTimer(p.jobs, j, timer.C)
}

// Close stops accepting queued jobs and waits for every started job to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	p.wg.Wait()
	p.inline.Wait()
}

func trySendNonBlocking[T any](ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}

func sendWithTimer[T any](ch chan<- T, v T, timer <-chan time.Time) bool {
	select {
	case ch <- v:
		return true
	case <-timer:
		return false
	}
}

package llm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Pool bounds concurrent LLM calls so the entity-extraction worker
// (spec.md §4.6) and the dedup verifier (§4.5) don't together exceed the
// provider's effective rate limit. Grounded on the teacher's
// inference.Pool (internal/inference/pool.go): a buffered job channel
// drained by a fixed set of worker goroutines, each job resolved through
// a result channel.
type Pool struct {
	gateway Gateway
	jobs    chan job
	wg      sync.WaitGroup

	submitted int64
	completed int64
	failed    int64

	closeOnce sync.Once
	done      chan struct{}
}

type job struct {
	ctx          context.Context
	systemPrompt string
	userPrompt   string
	opts         Options
	result       chan<- jobResult
}

type jobResult struct {
	text string
	err  error
}

// PoolConfig mirrors the teacher's worker-count/queue-depth knobs.
type PoolConfig struct {
	Workers   int
	QueueSize int
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: 4, QueueSize: 64}
}

func NewPool(gateway Gateway, cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}

	p := &Pool{
		gateway: gateway,
		jobs:    make(chan job, cfg.QueueSize),
		done:    make(chan struct{}),
	}

	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			text, err := p.gateway.Complete(j.ctx, j.systemPrompt, j.userPrompt, j.opts)
			if err != nil {
				atomic.AddInt64(&p.failed, 1)
			} else {
				atomic.AddInt64(&p.completed, 1)
			}
			j.result <- jobResult{text: text, err: err}
		}
	}
}

// SubmitSync enqueues a completion and blocks for its result, the shape
// every call site in this module uses (extraction, verification,
// summarization all need the answer before proceeding).
func (p *Pool) SubmitSync(ctx context.Context, systemPrompt, userPrompt string, opts Options) (string, error) {
	result := make(chan jobResult, 1)
	atomic.AddInt64(&p.submitted, 1)

	select {
	case p.jobs <- job{ctx: ctx, systemPrompt: systemPrompt, userPrompt: userPrompt, opts: opts, result: result}:
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.done:
		return "", fmt.Errorf("llm: pool is shut down")
	}

	select {
	case r := <-result:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-p.done:
		return "", fmt.Errorf("llm: pool is shut down")
	}
}

// QueueLength reports how many jobs are currently buffered awaiting a
// worker, useful for a caller deciding whether to shed load.
func (p *Pool) QueueLength() int { return len(p.jobs) }

// Metrics is a snapshot of pool throughput.
type Metrics struct {
	Submitted int64
	Completed int64
	Failed    int64
}

func (p *Pool) GetMetrics() Metrics {
	return Metrics{
		Submitted: atomic.LoadInt64(&p.submitted),
		Completed: atomic.LoadInt64(&p.completed),
		Failed:    atomic.LoadInt64(&p.failed),
	}
}

// Shutdown stops accepting new jobs and waits for in-flight workers to
// drain.
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	p.wg.Wait()
}

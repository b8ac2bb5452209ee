package workerpool

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Policy decides what Do does when the queue is full
type Policy string

const (
	// PolicyBlock waits for queue space until the caller's context ends
	PolicyBlock Policy = "block"
	// PolicyReject fails fast with ErrPoolFull
	PolicyReject Policy = "reject"

	DefaultWorkers   = 1
	DefaultQueueSize = 8
)

var (
	ErrPoolFull    = errors.New("inference pool is full")
	ErrPoolStopped = errors.New("inference pool is stopped")
	ErrJobPanicked = errors.New("inference job panicked")
)

// Config holds configuration for the Pool
// Optional fields with defaults:
// - Workers: jobs running at once (default: 1)
// - QueueSize: jobs waiting for a worker (default: 8)
// - Policy: "block" or "reject" (default: "block")
type Config struct {
	Workers   int
	QueueSize int
	Policy    Policy
}

type job struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// Pool bounds how many CPU-heavy inference jobs run concurrently
type Pool struct {
	jobs    chan *job
	workers int
	policy  Policy
	quit    chan struct{}
	wg      sync.WaitGroup
	busy    atomic.Int32
	start   sync.Once
	stop    sync.Once
	logger  *zap.Logger
}

// ValidateConfig validates the Config
func ValidateConfig(config Config) error {
	if config.Workers < 0 {
		return fmt.Errorf("workers must be positive, got %d", config.Workers)
	}
	if config.QueueSize < 0 {
		return fmt.Errorf("queue size must be positive, got %d", config.QueueSize)
	}
	switch config.Policy {
	case "", PolicyBlock, PolicyReject:
	default:
		return fmt.Errorf("queue policy must be block or reject, got %q", config.Policy)
	}
	return nil
}

// NewConfigFromEnv reads INFERENCE_* variables
func NewConfigFromEnv() Config {
	config := Config{
		Policy: Policy(os.Getenv("INFERENCE_QUEUE_POLICY")),
	}
	if workersStr := os.Getenv("INFERENCE_WORKERS"); workersStr != "" {
		if workers, err := strconv.Atoi(workersStr); err == nil && workers > 0 {
			config.Workers = workers
		}
	}
	if queueStr := os.Getenv("INFERENCE_QUEUE"); queueStr != "" {
		if queue, err := strconv.Atoi(queueStr); err == nil && queue >= 0 {
			config.QueueSize = queue
		}
	}
	return config
}

// New creates a pool; call Start before submitting work
func New(config Config, logger *zap.Logger) (*Pool, error) {
	if err := ValidateConfig(config); err != nil {
		return nil, err
	}

	workers := config.Workers
	if workers == 0 {
		workers = DefaultWorkers
		logger.Info("Using default inference workers", zap.Int("workers", workers))
	}

	queueSize := config.QueueSize
	if queueSize == 0 {
		queueSize = DefaultQueueSize
		logger.Info("Using default inference queue size", zap.Int("queueSize", queueSize))
	}

	policy := config.Policy
	if policy == "" {
		policy = PolicyBlock
	}

	return &Pool{
		jobs:    make(chan *job, queueSize),
		workers: workers,
		policy:  policy,
		quit:    make(chan struct{}),
		logger:  logger,
	}, nil
}

// Start launches the worker goroutines
func (p *Pool) Start() {
	p.start.Do(func() {
		for i := 1; i <= p.workers; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}
		p.logger.Info("Inference pool started",
			zap.Int("workers", p.workers),
			zap.Int("queueSize", cap(p.jobs)),
			zap.String("policy", string(p.policy)))
	})
}

// Stop ends the workers after their current job. Queued jobs fail with ErrPoolStopped.
func (p *Pool) Stop() {
	p.stop.Do(func() {
		close(p.quit)
		p.wg.Wait()
		p.logger.Info("Inference pool stopped")
	})
}

// Do runs fn on a worker and waits for its result. The context bounds both
// the wait for a slot and the job itself.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	select {
	case <-p.quit:
		return ErrPoolStopped
	default:
	}

	if p.policy == PolicyReject {
		select {
		case p.jobs <- j:
		default:
			p.logger.Warn("Inference pool full, rejecting job", zap.Int("queued", len(p.jobs)))
			return ErrPoolFull
		}
	} else {
		select {
		case p.jobs <- j:
		case <-ctx.Done():
			return ctx.Err()
		case <-p.quit:
			return ErrPoolStopped
		}
	}

	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolStopped
	}
}

// Queued returns the number of jobs waiting for a worker
func (p *Pool) Queued() int {
	return len(p.jobs)
}

// Busy returns the number of jobs currently running
func (p *Pool) Busy() int {
	return int(p.busy.Load())
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		select {
		case <-p.quit:
			return
		case j := <-p.jobs:
			if err := j.ctx.Err(); err != nil {
				j.done <- err
				continue
			}
			p.busy.Add(1)
			j.done <- p.run(id, j)
			p.busy.Add(-1)
		}
	}
}

func (p *Pool) run(id int, j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Inference job panicked", zap.Int("worker", id), zap.Any("panic", r))
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return j.fn(j.ctx)
}

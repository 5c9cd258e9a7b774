package worker

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/andresmejia3/veil/internal/config"
	"github.com/andresmejia3/veil/internal/pipeline"
	"github.com/andresmejia3/veil/internal/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool is closed")

// Job is one redaction request. Input and Output must be unique per job.
type Job struct {
	ID     uuid.UUID
	Input  string
	Output string
	Params config.Params
}

// NewJob assigns a fresh ID.
func NewJob(input, output string, params config.Params) Job {
	return Job{ID: uuid.New(), Input: input, Output: output, Params: params}
}

// Result reports how a Job ended.
type Result struct {
	Job      Job
	Worker   int
	Result   types.ProcessingResult
	Err      error
	Started  time.Time
	Finished time.Time
}

// Duration is the wall time the job spent in a worker.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Processor runs one job to completion.
type Processor func(ctx context.Context, job Job) (types.ProcessingResult, error)

// SessionProcessor builds a Processor that opens a fresh pipeline Session per
// job from base, overriding the effect and model with the job's params.
// When a job fails after it began writing its output, the partial file is
// removed. A file that was already at the output path is left alone if the
// job failed before touching it.
func SessionProcessor(base pipeline.Options) Processor {
	return func(ctx context.Context, job Job) (types.ProcessingResult, error) {
		opts := base
		opts.Effect = job.Params.EffectConfig()
		opts.Model = job.Params.Model()
		if opts.Logger != nil {
			opts.Logger = opts.Logger.WithField("job", job.ID.String())
		}

		started := false
		next := opts.Hooks.OutputStarted
		opts.Hooks.OutputStarted = func(path string) {
			started = true
			if next != nil {
				next(path)
			}
		}

		res, err := pipeline.Run(ctx, opts, job.Input, job.Output)
		if err != nil {
			if started {
				RemovePartial(job.Output)
			}
			return types.ProcessingResult{}, err
		}
		return res, nil
	}
}

// RemovePartial deletes an output left behind by a failed job.
func RemovePartial(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).WithField("path", path).Warn("Failed to remove partial output")
	}
}

// Pool runs jobs on a fixed number of goroutines. Each job is processed by
// exactly one worker; workers share nothing but the Processor.
type Pool struct {
	size    int
	process Processor
	logger  logrus.FieldLogger

	tasks   chan Job
	results chan Result
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool of size workers (at least one). Call Start before Submit.
func NewPool(size int, process Processor, logger logrus.FieldLogger) *Pool {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Pool{
		size:    size,
		process: process,
		logger:  logger,
		tasks:   make(chan Job, size),
		results: make(chan Result, size*2),
	}
}

// Size is the number of workers.
func (p *Pool) Size() int { return p.size }

// Start launches the workers. They exit once Close has drained the queue;
// jobs dequeued after ctx is done fail with ctx's error without running.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			p.run(ctx, workerID)
		}(i)
	}
}

func (p *Pool) run(ctx context.Context, id int) {
	logger := p.logger.WithField("worker", id)
	for job := range p.tasks {
		jl := logger.WithFields(logrus.Fields{"job": job.ID.String(), "input": job.Input})

		res := Result{Job: job, Worker: id, Started: time.Now()}
		if err := ctx.Err(); err != nil {
			res.Err = err
		} else {
			jl.Debug("Job started")
			res.Result, res.Err = p.process(ctx, job)
		}
		res.Finished = time.Now()

		if res.Err != nil {
			jl.WithError(res.Err).Warn("Job failed")
		} else {
			jl.WithFields(logrus.Fields{
				"faces":    res.Result.FacesDetected,
				"duration": res.Duration().Round(time.Millisecond),
			}).Info("Job finished")
		}
		p.results <- res
	}
}

// Submit queues a job, blocking while all workers are busy.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results delivers one Result per submitted job. It is closed after Close
// once every queued job has finished, so it must be drained concurrently.
func (p *Pool) Results() <-chan Result {
	return p.results
}

// Close stops accepting jobs and waits for queued ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.results)
}

package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/Gobusters/ectologger"

	"github.com/tributaryhq/tributary/pkg/metrics"
	"github.com/tributaryhq/tributary/pkg/models"
	"github.com/tributaryhq/tributary/pkg/tracing"
)

// BatchCeiling caps a single ProcessBatch call regardless of the requested limit
const BatchCeiling = 100

// Store is the slice of the job repository the processor needs
type Store interface {
	ClaimBatch(ctx context.Context, jobTypes []models.JobType, limit, maxAttempts int) ([]models.Job, error)
	Complete(ctx context.Context, id string) error
	FailOrRetry(ctx context.Context, id string, attempts, maxAttempts int, errMsg string) error
	Stats(ctx context.Context) (*models.JobStats, error)
}

// Handler executes one job. A returned error counts as a failed attempt.
type Handler func(ctx context.Context, job models.Job) error

// JobResult is the outcome of one executed job
type JobResult struct {
	JobID   string         `json:"jobId"`
	JobType models.JobType `json:"jobType"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
}

// BatchResult aggregates the outcomes of one ProcessBatch call
type BatchResult struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Results   []JobResult `json:"results"`
}

// Processor claims and executes background jobs. Only registered job types
// are claimed, so an instance that lacks a handler never starves one that
// has it.
type Processor struct {
	store       Store
	maxAttempts int
	logger      ectologger.Logger

	mu       sync.RWMutex
	handlers map[models.JobType]Handler
}

// NewProcessor creates a job processor
func NewProcessor(store Store, maxAttempts int, logger ectologger.Logger) *Processor {
	return &Processor{
		store:       store,
		maxAttempts: maxAttempts,
		logger:      logger,
		handlers:    make(map[models.JobType]Handler),
	}
}

// Register binds a handler to a job type, replacing any existing binding
func (p *Processor) Register(jobType models.JobType, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobType] = handler
}

func (p *Processor) registeredTypes() []models.JobType {
	p.mu.RLock()
	defer p.mu.RUnlock()
	types := make([]models.JobType, 0, len(p.handlers))
	for t := range p.handlers {
		types = append(types, t)
	}
	return types
}

// ProcessNext claims and executes at most one job. Returns nil when no job
// was due.
func (p *Processor) ProcessNext(ctx context.Context) (*JobResult, error) {
	batch, err := p.ProcessBatch(ctx, 1)
	if err != nil {
		return nil, err
	}
	if batch.Processed == 0 {
		return nil, nil
	}
	return &batch.Results[0], nil
}

// ProcessBatch claims and executes up to limit jobs, capped at BatchCeiling.
// Individual job failures are recorded per job in the result, never
// surfaced as a batch error; only claim errors fail the batch.
func (p *Processor) ProcessBatch(ctx context.Context, limit int) (*BatchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "jobs.Processor.ProcessBatch")
	defer span.End()

	if limit < 1 || limit > BatchCeiling {
		limit = BatchCeiling
	}

	result := &BatchResult{Results: []JobResult{}}

	types := p.registeredTypes()
	if len(types) == 0 {
		return result, nil
	}

	claimed, err := p.store.ClaimBatch(ctx, types, limit, p.maxAttempts)
	if err != nil {
		return nil, err
	}

	for _, job := range claimed {
		outcome := p.execute(ctx, job)
		result.Processed++
		if outcome.Success {
			result.Succeeded++
		} else {
			result.Failed++
		}
		result.Results = append(result.Results, outcome)
	}
	return result, nil
}

// execute is the error boundary: a panicking handler fails its job and
// nothing else
func (p *Processor) execute(ctx context.Context, job models.Job) JobResult {
	result := JobResult{JobID: job.JobID, JobType: job.JobType}

	p.mu.RLock()
	handler, ok := p.handlers[job.JobType]
	p.mu.RUnlock()
	if !ok {
		// claim filtered on registered types, so this means a concurrent deregistration
		result.Error = "no handler registered"
		p.fail(ctx, job, result.Error)
		return result
	}

	err := p.run(ctx, handler, job)
	if err != nil {
		result.Error = err.Error()
		p.fail(ctx, job, result.Error)
		return result
	}

	result.Success = true
	if err := p.store.Complete(ctx, job.ID); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"job_id": job.JobID}).Error("Failed to complete job")
		return result
	}
	metrics.JobsProcessed.WithLabelValues(string(job.JobType), "completed").Inc()
	return result
}

func (p *Processor) run(ctx context.Context, handler Handler, job models.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (p *Processor) fail(ctx context.Context, job models.Job, errMsg string) {
	outcome := "retried"
	if job.Attempts+1 >= p.maxAttempts {
		outcome = "failed"
	}

	if err := p.store.FailOrRetry(ctx, job.ID, job.Attempts, p.maxAttempts, errMsg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{"job_id": job.JobID}).Error("Failed to record job failure")
		return
	}
	metrics.JobsProcessed.WithLabelValues(string(job.JobType), outcome).Inc()
	p.logger.WithContext(ctx).WithFields(map[string]any{"job_id": job.JobID, "job_type": job.JobType, "attempts": job.Attempts + 1, "outcome": outcome, "error": errMsg}).Warn("Job failed")
}

// Stats reports queue depth by status and type
func (p *Processor) Stats(ctx context.Context) (*models.JobStats, error) {
	return p.store.Stats(ctx)
}

package fulfillment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"agentdesk/internal/apperr"
	"agentdesk/internal/models"
	"agentdesk/internal/services"
)

const (
	transitionAttempts = 3
	transitionBackoff  = 200 * time.Millisecond
)

type Transitioner interface {
	Transition(ctx context.Context, req services.TransitionRequest) (models.ServiceRequest, error)
}

type Metrics interface {
	RecordFulfillment(serviceID, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) RecordFulfillment(string, string) {}

type job struct {
	req models.ServiceRequest
	svc models.Service
}

// Runner is a bounded worker pool for instant requests. Requests that cannot
// be queued stay PROCESSING until an operator moves them.
type Runner struct {
	lifecycle Transitioner
	providers ProviderSource
	jobs      chan job
	workers   int
	timeout   time.Duration
	backoff   time.Duration
	metrics   Metrics
	logger    *slog.Logger
}

func NewRunner(lifecycle Transitioner, providers ProviderSource, workers, queueSize int, timeout time.Duration) *Runner {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = workers * 16
	}
	return &Runner{
		lifecycle: lifecycle,
		providers: providers,
		jobs:      make(chan job, queueSize),
		workers:   workers,
		timeout:   timeout,
		backoff:   transitionBackoff,
		metrics:   noopMetrics{},
		logger:    slog.Default(),
	}
}

func (r *Runner) SetMetrics(metrics Metrics) {
	if metrics != nil {
		r.metrics = metrics
	}
}

func (r *Runner) SetLogger(logger *slog.Logger) {
	if logger != nil {
		r.logger = logger
	}
}

// Dispatch queues req without blocking. It reports false when the queue is
// full.
func (r *Runner) Dispatch(req models.ServiceRequest, svc models.Service) bool {
	select {
	case r.jobs <- job{req: req, svc: svc}:
		return true
	default:
		r.metrics.RecordFulfillment(svc.ID, "queue_full")
		return false
	}
}

// Run processes queued jobs until ctx is cancelled. Jobs still queued at that
// point are left PROCESSING.
func (r *Runner) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case j := <-r.jobs:
					r.process(ctx, j)
				}
			}
		}()
	}
	wg.Wait()
	if left := len(r.jobs); left > 0 {
		r.logger.Warn("fulfillment stopped with queued requests", "queued", left)
	}
}

func (r *Runner) process(ctx context.Context, j job) {
	payload, err := r.fulfill(ctx, j)
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		// The provider outcome is unknown; an operator settles it.
		r.metrics.RecordFulfillment(j.svc.ID, "interrupted")
		r.logger.Warn("fulfillment interrupted by shutdown; request left PROCESSING", "request_id", j.req.ID, "service_id", j.svc.ID)
		return
	}
	target := services.TransitionRequest{RequestID: j.req.ID, Target: models.RequestCompleted, ResultPayload: payload}
	if err != nil {
		r.logger.Warn("fulfillment failed", "request_id", j.req.ID, "service_id", j.svc.ID, "error", err)
		target = services.TransitionRequest{RequestID: j.req.ID, Target: models.RequestFailed, Note: failureNote(err)}
	}

	// The settlement must land even if shutdown starts mid-job.
	settleCtx := context.WithoutCancel(ctx)
	_, err = r.transition(settleCtx, target)
	if err != nil && target.Target == models.RequestCompleted && errors.Is(err, apperr.ValidationError) {
		r.logger.Warn("provider result rejected", "request_id", j.req.ID, "error", err)
		target = services.TransitionRequest{RequestID: j.req.ID, Target: models.RequestFailed, Note: "provider returned no usable result"}
		_, err = r.transition(settleCtx, target)
	}
	switch {
	case err == nil:
		r.metrics.RecordFulfillment(j.svc.ID, outcomeFor(target.Target))
	case errors.Is(err, apperr.IllegalTransition):
		// An operator settled it first.
		r.metrics.RecordFulfillment(j.svc.ID, "superseded")
		r.logger.Info("fulfillment superseded", "request_id", j.req.ID, "error", err)
	default:
		r.metrics.RecordFulfillment(j.svc.ID, "transition_error")
		r.logger.Error("fulfillment transition failed", "request_id", j.req.ID, "target", target.Target, "error", err)
	}
}

func (r *Runner) fulfill(ctx context.Context, j job) (models.Payload, error) {
	provider, err := r.providers.ProviderFor(j.svc)
	if err != nil {
		return nil, err
	}
	jobCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return provider.Fulfill(jobCtx, j.req)
}

// transition retries StorageConflict with a linear backoff.
func (r *Runner) transition(ctx context.Context, req services.TransitionRequest) (models.ServiceRequest, error) {
	var (
		updated models.ServiceRequest
		err     error
	)
	for attempt := 1; attempt <= transitionAttempts; attempt++ {
		updated, err = r.lifecycle.Transition(ctx, req)
		if err == nil || !errors.Is(err, apperr.StorageConflict) || attempt == transitionAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return models.ServiceRequest{}, ctx.Err()
		case <-time.After(time.Duration(attempt) * r.backoff):
		}
	}
	return updated, err
}

func failureNote(err error) string {
	var timeout interface{ Timeout() bool }
	switch {
	case errors.Is(err, ErrProviderNotConfigured):
		return "provider not configured"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &timeout) && timeout.Timeout():
		return "provider timeout"
	default:
		return "provider error: " + err.Error()
	}
}

func outcomeFor(status models.RequestStatus) string {
	if status == models.RequestCompleted {
		return "completed"
	}
	return "failed"
}

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/datasmith/databench/dataset"
	"github.com/datasmith/databench/scanner"
	"github.com/datasmith/databench/workbench"
)

// ErrBusy signals backpressure: every worker slot stayed occupied for the
// whole queue-wait window. The transport maps it to a retryable status;
// requests are never silently dropped.
var ErrBusy = errors.New("all execution workers are busy")

// Executor runs approved code against a dataset. The workbench is the real
// implementation; the seam exists so the policy-gate property is testable.
type Executor interface {
	Execute(ctx context.Context, code string, ds *dataset.Dataset, params map[string]any) workbench.Result
}

// Request is one inbound execution request. It is treated as immutable and
// always as untrusted, regardless of how the code was produced.
type Request struct {
	Code    string
	Dataset *dataset.Dataset
	Params  map[string]any
}

// Response is the terminal outcome returned to the caller.
type Response struct {
	ID          string
	Status      workbench.Status
	Dataset     *dataset.Dataset
	Diagnostics string
	Violations  []scanner.Violation
}

// Config bounds the gateway's request intake.
type Config struct {
	Workers         int64
	QueueWait       time.Duration
	MaxCodeBytes    int
	MaxDatasetCells int
}

// Gateway coordinates the per-request pipeline: shape validation, the
// static policy gate, worker-slot acquisition and restricted execution.
type Gateway struct {
	logger   *zap.Logger
	scanner  *scanner.Scanner
	executor Executor
	slots    *semaphore.Weighted
	cfg      Config
}

// New creates a gateway with a bounded worker pool.
func New(logger *zap.Logger, sc *scanner.Scanner, executor Executor, cfg Config) *Gateway {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Gateway{
		logger:   logger,
		scanner:  sc,
		executor: executor,
		slots:    semaphore.NewWeighted(cfg.Workers),
		cfg:      cfg,
	}
}

// Handle runs the synchronous pipeline for one request. Malformed requests
// and policy rejections are returned as first-class responses; the only
// error conditions are backpressure (ErrBusy) and caller cancellation.
func (g *Gateway) Handle(ctx context.Context, req Request) (Response, error) {
	id := uuid.NewString()
	log := g.logger.With(zap.String("execution_id", id))

	if resp, bad := g.validate(id, req); bad {
		log.Info("request rejected as malformed", zap.String("reason", resp.Diagnostics))
		executionsTotal.WithLabelValues(string(resp.Status)).Inc()
		return resp, nil
	}

	decision := g.scanner.Scan(req.Code)
	if !decision.Allowed {
		for _, v := range decision.Violations {
			policyViolations.WithLabelValues(v.RuleID).Inc()
		}
		log.Info("request rejected by policy scan",
			zap.Int("violations", len(decision.Violations)))
		executionsTotal.WithLabelValues(string(workbench.StatusPolicyRejected)).Inc()
		return Response{
			ID:          id,
			Status:      workbench.StatusPolicyRejected,
			Diagnostics: decision.Reason(),
			Violations:  decision.Violations,
		}, nil
	}

	if err := g.acquireSlot(ctx); err != nil {
		log.Warn("no worker slot available", zap.Error(err))
		return Response{}, err
	}
	defer g.slots.Release(1)

	inFlight.Inc()
	start := time.Now()
	result := g.executor.Execute(ctx, req.Code, req.Dataset, req.Params)
	executionDuration.Observe(time.Since(start).Seconds())
	inFlight.Dec()

	executionsTotal.WithLabelValues(string(result.Status)).Inc()
	log.Info("execution completed",
		zap.String("status", string(result.Status)),
		zap.Duration("elapsed", time.Since(start)))

	return Response{
		ID:          id,
		Status:      result.Status,
		Dataset:     result.Output,
		Diagnostics: result.Diagnostics,
	}, nil
}

// validate enforces the request shape contract before the scanner runs.
func (g *Gateway) validate(id string, req Request) (Response, bool) {
	malformed := func(format string, args ...any) (Response, bool) {
		return Response{
			ID:          id,
			Status:      workbench.StatusMalformedRequest,
			Diagnostics: fmt.Sprintf(format, args...),
		}, true
	}

	if req.Code == "" {
		return malformed("code must not be empty")
	}
	if g.cfg.MaxCodeBytes > 0 && len(req.Code) > g.cfg.MaxCodeBytes {
		return malformed("code size %d bytes exceeds the %d byte limit", len(req.Code), g.cfg.MaxCodeBytes)
	}
	if req.Dataset == nil {
		return malformed("dataset is required")
	}
	if err := req.Dataset.Validate(); err != nil {
		return malformed("invalid dataset: %v", err)
	}
	if g.cfg.MaxDatasetCells > 0 && req.Dataset.CellCount() > g.cfg.MaxDatasetCells {
		return malformed("dataset has %d cells, exceeding the %d cell limit",
			req.Dataset.CellCount(), g.cfg.MaxDatasetCells)
	}
	for key, value := range req.Params {
		if _, err := dataset.NormalizeCell(value); err != nil {
			return malformed("parameter %q: %v", key, err)
		}
	}

	return Response{}, false
}

// acquireSlot waits up to the queue window for a free worker.
func (g *Gateway) acquireSlot(ctx context.Context) error {
	waitCtx := ctx
	if g.cfg.QueueWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, g.cfg.QueueWait)
		defer cancel()
	}

	if err := g.slots.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBusy
	}
	return nil
}

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OldStager01/oke-autoscaler/internal/controlplane"
	"github.com/OldStager01/oke-autoscaler/internal/decision"
	"github.com/OldStager01/oke-autoscaler/internal/events"
	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/internal/metrics"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

var ErrTickInProgress = errors.New("evaluation tick already in progress")

type SnapshotAssembler interface {
	Assemble(ctx context.Context, poolID string, now time.Time) (*models.NodePoolSnapshot, *models.NodePool, error)
}

type DemandCounter interface {
	CountUnschedulable(ctx context.Context, poolName string) (int, error)
}

type Drainer interface {
	Drain(ctx context.Context, nodeName string) error
}

type Resizer interface {
	ResizeNodePool(ctx context.Context, pool *models.NodePool, size int) (*controlplane.ResizeResult, error)
}

type PipelineConfig struct {
	PoolID   string
	Interval time.Duration
	// Timeout bounds one tick, execution included.
	Timeout time.Duration
	DryRun  bool

	Decision  decision.Config
	Assembler SnapshotAssembler
	Demand    DemandCounter
	Drainer   Drainer
	Resizer   Resizer

	EventPublisher *events.Publisher
	Metrics        *metrics.Metrics
	Clock          func() time.Time
}

// Pipeline runs evaluation ticks for one node pool. At most one tick is in
// flight at a time.
type Pipeline struct {
	config  PipelineConfig
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
	mu      sync.Mutex

	tickMu sync.Mutex
	latest *models.TickResult
	resMu  sync.RWMutex
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Timeout == 0 || cfg.Timeout > cfg.Interval {
		cfg.Timeout = cfg.Interval
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.EventPublisher == nil {
		cfg.EventPublisher = events.NewPublisher(events.NewEventBus(0))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pipeline{
		config: cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	if err := p.config.Decision.Validate(); err != nil {
		return err
	}

	p.running = true
	p.wg.Add(1)
	go p.run()

	logger.WithPool(p.config.PoolID).Infof("Pipeline started, interval %s", p.config.Interval)
	return nil
}

func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	logger.WithPool(p.config.PoolID).Info("Pipeline stopped")
}

func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pipeline) PoolID() string {
	return p.config.PoolID
}

// LatestResult returns the result of the last completed tick, or nil.
func (p *Pipeline) LatestResult() *models.TickResult {
	p.resMu.RLock()
	defer p.resMu.RUnlock()
	return p.latest
}

func (p *Pipeline) run() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.runCycle()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.runCycle()
		}
	}
}

func (p *Pipeline) runCycle() {
	if _, err := p.RunOnce(p.ctx); err != nil {
		logger.WithPool(p.config.PoolID).Warnf("Skipping tick: %v", err)
	}
}

// RunOnce evaluates the pool and executes the decision. Every failure is
// reported in the returned tick result; the error is only set when the tick
// did not run.
func (p *Pipeline) RunOnce(ctx context.Context) (*models.TickResult, error) {
	if !p.tickMu.TryLock() {
		return nil, ErrTickInProgress
	}
	defer p.tickMu.Unlock()

	traceID := logger.TraceIDFromContext(ctx)
	if traceID == "" {
		ctx, traceID = logger.NewTraceContext(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	start := time.Now()
	result := p.tick(ctx, p.config.EventPublisher.WithTraceID(traceID))
	result.TraceID = traceID

	p.config.Metrics.ObserveTickDuration(p.config.PoolID, time.Since(start))
	if result.IsError() {
		p.config.Metrics.IncTickError(p.config.PoolID, result.Body.Reason)
	}

	p.resMu.Lock()
	p.latest = result
	p.resMu.Unlock()

	p.config.EventPublisher.WithTraceID(traceID).TickCompleted(result)
	return result, nil
}

func (p *Pipeline) tick(ctx context.Context, pub *events.Publisher) *models.TickResult {
	poolID := p.config.PoolID
	log := logger.WithPoolCtx(ctx, poolID)
	now := p.config.Clock()

	snapshot, pool, err := p.config.Assembler.Assemble(ctx, poolID, now)
	if err != nil {
		log.Errorf("Snapshot assembly failed: %v", err)
		return models.NewErrorResult(poolID, models.ErrorReasonCollaboratorFailure, err.Error())
	}
	pub.SnapshotAssembled(snapshot)

	cfg := p.config.Decision
	if !snapshot.IsUpdating() {
		pending, err := p.config.Demand.CountUnschedulable(ctx, snapshot.PoolName)
		if err != nil {
			log.Errorf("Counting unschedulable pods failed: %v", err)
			return models.NewErrorResult(poolID, models.ErrorReasonCollaboratorFailure, err.Error())
		}
		cfg.PendingDemandCount = pending
	}

	scalingDecision, err := decision.Evaluate(snapshot, cfg, now)
	if err != nil {
		log.Errorf("Evaluation failed: %v", err)
		reason := models.ErrorReasonCollaboratorFailure
		if errors.Is(err, decision.ErrPreconditionViolation) {
			reason = models.ErrorReasonPreconditionViolation
		}
		return models.NewErrorResult(poolID, reason, err.Error())
	}
	pub.DecisionMade(scalingDecision)
	p.config.Metrics.ObserveDecision(scalingDecision)

	if scalingDecision.ShouldExecute() {
		if p.config.DryRun {
			log.Infof("Dry run, not executing %s to %d nodes", scalingDecision.Action, scalingDecision.ResultingSize)
		} else if err := p.execute(ctx, pub, pool, scalingDecision); err != nil {
			pub.ScalingFailed(poolID, string(scalingDecision.Reason), err)
			return models.NewErrorResult(poolID, models.ErrorReasonCollaboratorFailure, err.Error())
		}
	}

	return models.NewDecisionResult(scalingDecision)
}

func (p *Pipeline) execute(ctx context.Context, pub *events.Publisher, pool *models.NodePool, d *models.ScalingDecision) error {
	log := logger.WithPoolCtx(ctx, d.PoolID)
	pub.ScalingStarted(d)

	if d.Action == models.ActionScaleDown {
		if d.DrainTarget == nil {
			return fmt.Errorf("%w: scale-down without drain target", decision.ErrPreconditionViolation)
		}
		pub.DrainStarted(d.PoolID, d.DrainTarget)
		if err := p.config.Drainer.Drain(ctx, d.DrainTarget.NodeName); err != nil {
			return fmt.Errorf("drain %s: %w", d.DrainTarget.NodeName, err)
		}
		log.Infof("Drained node %s", d.DrainTarget.NodeName)
	}

	result, err := p.config.Resizer.ResizeNodePool(ctx, pool, d.ResultingSize)
	if err != nil {
		return err
	}

	pub.ScalingComplete(d)
	log.Infof(
		"Scaling complete: %s %d -> %d nodes (work request %s)",
		d.Action, d.CurrentSize, d.ResultingSize, result.WorkRequestID,
	)
	return nil
}

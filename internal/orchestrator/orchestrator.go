package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/OldStager01/oke-autoscaler/internal/decision"
	"github.com/OldStager01/oke-autoscaler/internal/events"
	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/internal/metrics"
	"github.com/OldStager01/oke-autoscaler/pkg/config"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

var ErrPoolNotManaged = errors.New("node pool is not managed")

// PoolDeps are the collaborators a pool pipeline talks to.
type PoolDeps struct {
	Assembler SnapshotAssembler
	Demand    DemandCounter
	Drainer   Drainer
	Resizer   Resizer
}

type Orchestrator struct {
	config      *config.Config
	eventBus    *events.EventBus
	eventLogger *events.EventLogger
	metrics     *metrics.Metrics
	pipelines   map[string]*Pipeline
	mu          sync.RWMutex
}

// New wires the event bus and its logger. store may be nil when tick
// results are not persisted.
func New(cfg *config.Config, store events.TickResultStore, m *metrics.Metrics) *Orchestrator {
	if m == nil {
		m = metrics.New()
	}

	eventBus := events.NewEventBus(cfg.Events.BufferSize)
	eventBus.OnDrop(m.IncEventDropped)
	eventLogger := events.NewEventLogger(store, eventBus.SubscribeAll())

	return &Orchestrator{
		config:      cfg,
		eventBus:    eventBus,
		eventLogger: eventLogger,
		metrics:     m,
		pipelines:   make(map[string]*Pipeline),
	}
}

func (o *Orchestrator) Start() error {
	logger.Info("Orchestrator starting")
	o.eventLogger.Start()
	return nil
}

func (o *Orchestrator) Stop() {
	logger.Info("Orchestrator stopping")

	o.mu.Lock()
	for poolID, pipeline := range o.pipelines {
		logger.Infof("Stopping pipeline for node pool %s", poolID)
		pipeline.Stop()
	}
	o.mu.Unlock()

	o.eventLogger.Stop()
	o.eventBus.Close()

	logger.Info("Orchestrator stopped")
}

func (o *Orchestrator) decisionConfig() decision.Config {
	return decision.Config{
		EvalWindowMinutes:          o.config.Pool.EvalWindowMinutes,
		StabilizationMarginMinutes: o.config.Pool.StabilizationMarginMinutes,
		CPUThreshold:               o.config.Pool.CPUThreshold,
		RAMThreshold:               o.config.Pool.RAMThreshold,
	}
}

// AddPool registers a pipeline for poolID without starting its loop.
func (o *Orchestrator) AddPool(poolID string, deps PoolDeps) (*Pipeline, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, exists := o.pipelines[poolID]; exists {
		return nil, fmt.Errorf("pipeline already exists for node pool %s", poolID)
	}

	pipeline := NewPipeline(PipelineConfig{
		PoolID:         poolID,
		Interval:       o.config.Pipeline.Interval,
		Timeout:        o.config.Pipeline.Timeout,
		DryRun:         o.config.Pipeline.DryRun,
		Decision:       o.decisionConfig(),
		Assembler:      deps.Assembler,
		Demand:         deps.Demand,
		Drainer:        deps.Drainer,
		Resizer:        deps.Resizer,
		EventPublisher: events.NewPublisher(o.eventBus),
		Metrics:        o.metrics,
	})
	if err := pipeline.config.Decision.Validate(); err != nil {
		return nil, err
	}

	o.pipelines[poolID] = pipeline
	return pipeline, nil
}

func (o *Orchestrator) StartPool(poolID string) error {
	pipeline, err := o.pipeline(poolID)
	if err != nil {
		return err
	}

	if err := pipeline.Start(); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	logger.WithPool(poolID).Info("Node pool pipeline started")
	return nil
}

func (o *Orchestrator) StopPool(poolID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	pipeline, exists := o.pipelines[poolID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrPoolNotManaged, poolID)
	}

	pipeline.Stop()
	delete(o.pipelines, poolID)
	logger.WithPool(poolID).Info("Node pool pipeline stopped")

	return nil
}

func (o *Orchestrator) pipeline(poolID string) (*Pipeline, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	pipeline, exists := o.pipelines[poolID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotManaged, poolID)
	}
	return pipeline, nil
}

// Evaluate runs one tick for poolID now.
func (o *Orchestrator) Evaluate(ctx context.Context, poolID string) (*models.TickResult, error) {
	pipeline, err := o.pipeline(poolID)
	if err != nil {
		return nil, err
	}
	return pipeline.RunOnce(ctx)
}

func (o *Orchestrator) LatestResult(poolID string) (*models.TickResult, error) {
	pipeline, err := o.pipeline(poolID)
	if err != nil {
		return nil, err
	}
	return pipeline.LatestResult(), nil
}

func (o *Orchestrator) GetPoolStatus(poolID string) (bool, error) {
	pipeline, err := o.pipeline(poolID)
	if err != nil {
		return false, err
	}
	return pipeline.IsRunning(), nil
}

func (o *Orchestrator) ListPools() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	pools := make([]string, 0, len(o.pipelines))
	for poolID := range o.pipelines {
		pools = append(pools, poolID)
	}
	sort.Strings(pools)
	return pools
}

func (o *Orchestrator) SubscribeEvents(eventType models.EventType) <-chan *models.Event {
	return o.eventBus.Subscribe(eventType)
}

func (o *Orchestrator) SubscribeAllEvents() <-chan *models.Event {
	return o.eventBus.SubscribeAll()
}

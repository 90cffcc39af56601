package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/oke-autoscaler/internal/collector"
	"github.com/OldStager01/oke-autoscaler/internal/controlplane"
	"github.com/OldStager01/oke-autoscaler/internal/decision"
	"github.com/OldStager01/oke-autoscaler/internal/events"
	"github.com/OldStager01/oke-autoscaler/internal/metrics"
	"github.com/OldStager01/oke-autoscaler/pkg/config"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

const testPoolID = "ocid1.nodepool.oc1..test"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	clock    *testClock
	sim      *controlplane.Simulator
	source   *collector.MockSource
	pipeline *Pipeline
	events   <-chan *models.Event
	bus      *events.EventBus
}

func newHarness(t *testing.T, size int, mutate func(*PipelineConfig)) *harness {
	t.Helper()

	clock := &testClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	sim := controlplane.NewSimulator(controlplane.SimulatorConfig{
		PoolID:        testPoolID,
		PoolName:      "workers",
		InitialSize:   size,
		ProvisionTime: time.Minute,
		Now:           clock.Now,
	})
	source := collector.NewMockSource(collector.MockSourceConfig{BaseCPU: 60, BaseRAM: 60})
	bus := events.NewEventBus(64)
	t.Cleanup(bus.Close)

	cfg := PipelineConfig{
		PoolID:   testPoolID,
		Interval: time.Minute,
		Decision: decision.Config{
			EvalWindowMinutes:          5,
			StabilizationMarginMinutes: 3,
			CPUThreshold:               40,
		},
		Assembler: collector.NewAssembler(sim, source, collector.AssemblerConfig{
			MinSize: 1,
			MaxSize: 4,
			Window:  5 * time.Minute,
		}),
		Demand:         sim,
		Drainer:        sim,
		Resizer:        sim,
		EventPublisher: events.NewPublisher(bus),
		Metrics:        metrics.New(),
		Clock:          clock.Now,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return &harness{
		clock:    clock,
		sim:      sim,
		source:   source,
		pipeline: NewPipeline(cfg),
		events:   bus.SubscribeAll(),
		bus:      bus,
	}
}

func (h *harness) drainEvents() []models.EventType {
	var types []models.EventType
	for {
		select {
		case e := <-h.events:
			types = append(types, e.Type)
		default:
			return types
		}
	}
}

func TestPipeline_ScaleUpOnDemand(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.sim.SetPendingPods(3)

	result, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ResultSuccess, result.Kind)
	assert.Equal(t, "scale-up", result.Body.Action)
	assert.Equal(t, "unschedulable-pods", result.Body.Reason)
	require.NotNil(t, result.Body.NodeCount)
	assert.Equal(t, 3, *result.Body.NodeCount)
	require.NotNil(t, result.Body.UnschedulablePodsCount)
	assert.Equal(t, 3, *result.Body.UnschedulablePodsCount)
	assert.NotEmpty(t, result.TraceID)

	history := h.sim.ResizeHistory()
	require.Len(t, history, 1)
	assert.Equal(t, 2, history[0].PreviousSize)
	assert.Equal(t, 3, history[0].TargetSize)

	assert.Equal(t, []models.EventType{
		models.EventTypeSnapshotAssembled,
		models.EventTypeDecisionMade,
		models.EventTypeScalingStarted,
		models.EventTypeScalingComplete,
		models.EventTypeTickCompleted,
	}, h.drainEvents())
	assert.Same(t, result, h.pipeline.LatestResult())
}

func TestPipeline_UpdatingPoolSkipsDemand(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.sim.SetPendingPods(3)

	_, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	// The new node is still CREATING.
	result, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ResultSuccess, result.Kind)
	assert.Equal(t, "none", result.Body.Action)
	assert.Equal(t, "node-pool-updating", result.Body.Reason)
	assert.Equal(t, "updating", result.Body.NodePoolStatus)
	assert.Nil(t, result.Body.UnschedulablePodsCount)
	assert.Len(t, h.sim.ResizeHistory(), 1)
}

func TestPipeline_StabilizingAfterScaleUp(t *testing.T) {
	h := newHarness(t, 2, nil)
	h.sim.SetPendingPods(3)

	_, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	// Active but younger than the stabilization margin.
	h.clock.Advance(90 * time.Second)
	result, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "node-pool-status", result.Body.Reason)
	assert.Equal(t, "stabilizing", result.Body.NodePoolStatus)
	require.NotNil(t, result.Body.UnschedulablePodsCount)

	// Stable again after warm-up plus the margin has passed.
	h.clock.Advance(8 * time.Minute)
	result, err = h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "scale-up", result.Body.Action)
	assert.Equal(t, 4, *result.Body.NodeCount)
}

func TestPipeline_MaxLimitReachedIsWarning(t *testing.T) {
	h := newHarness(t, 4, nil)
	h.sim.SetPendingPods(1)

	result, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ResultWarning, result.Kind)
	assert.Equal(t, "node-max-limit-reached", result.Body.Reason)
	assert.Empty(t, h.sim.ResizeHistory())

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"warning":{
		"action":"none",
		"reason":"node-max-limit-reached",
		"unschedulable-pods-count":1,
		"node-pool-name":"workers",
		"node-pool-status":"ready",
		"node-count":4
	}}`, string(data))
}

func TestPipeline_ScaleDownDrainsLIFONode(t *testing.T) {
	h := newHarness(t, 3, nil)
	h.source.SetBase(10, 60)

	pool, err := h.sim.GetNodePool(context.Background(), testPoolID)
	require.NoError(t, err)
	// The initial nodes share a creation time, so the lowest id is drained.
	target := pool.Nodes[0].Name

	result, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "scale-down", result.Body.Action)
	assert.Equal(t, "cpu", result.Body.Reason)
	assert.Equal(t, 2, *result.Body.NodeCount)
	assert.Nil(t, result.Body.UnschedulablePodsCount)
	assert.True(t, h.sim.IsCordoned(target))

	types := h.drainEvents()
	assert.Contains(t, types, models.EventTypeDrainStarted)
	assert.Contains(t, types, models.EventTypeScalingComplete)
}

func TestPipeline_NoScaleDownAtMinSize(t *testing.T) {
	h := newHarness(t, 1, nil)
	h.source.SetBase(5, 5)

	result, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "none", result.Body.Action)
	assert.Equal(t, "no-resource-pressure", result.Body.Reason)
	assert.Empty(t, h.sim.ResizeHistory())
}

func TestPipeline_DryRunDoesNotExecute(t *testing.T) {
	h := newHarness(t, 2, func(cfg *PipelineConfig) { cfg.DryRun = true })
	h.sim.SetPendingPods(2)

	result, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "scale-up", result.Body.Action)
	assert.Empty(t, h.sim.ResizeHistory())
}

func TestPipeline_ErrorRecords(t *testing.T) {
	t.Run("metrics failure", func(t *testing.T) {
		h := newHarness(t, 2, nil)
		h.source.SetShouldFail(true, errors.New("monitoring unavailable"))

		result, err := h.pipeline.RunOnce(context.Background())
		require.NoError(t, err)

		assert.Equal(t, models.ResultError, result.Kind)
		assert.Equal(t, models.ErrorReasonCollaboratorFailure, result.Body.Reason)
		assert.Contains(t, result.Body.Detail, "monitoring unavailable")
		assert.Contains(t, h.drainEvents(), models.EventTypeTickFailed)
	})

	t.Run("resize failure", func(t *testing.T) {
		h := newHarness(t, 2, nil)
		h.sim.SetPendingPods(1)
		h.sim.FailNextResize(errors.New("quota exceeded"))

		result, err := h.pipeline.RunOnce(context.Background())
		require.NoError(t, err)

		assert.Equal(t, models.ResultError, result.Kind)
		assert.Equal(t, models.ErrorReasonCollaboratorFailure, result.Body.Reason)
		assert.Contains(t, h.drainEvents(), models.EventTypeScalingFailed)
	})

	t.Run("unknown pool", func(t *testing.T) {
		h := newHarness(t, 2, func(cfg *PipelineConfig) { cfg.PoolID = "ocid1.nodepool.oc1..other" })

		result, err := h.pipeline.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, models.ErrorReasonCollaboratorFailure, result.Body.Reason)
	})

	t.Run("invalid settings", func(t *testing.T) {
		h := newHarness(t, 2, func(cfg *PipelineConfig) { cfg.Decision.EvalWindowMinutes = 0 })

		result, err := h.pipeline.RunOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, models.ErrorReasonPreconditionViolation, result.Body.Reason)
	})
}

type failingDrainer struct {
	err   error
	nodes []string
}

func (f *failingDrainer) Drain(ctx context.Context, nodeName string) error {
	f.nodes = append(f.nodes, nodeName)
	return f.err
}

func TestPipeline_DrainTimeoutSkipsResize(t *testing.T) {
	drainer := &failingDrainer{err: errors.New("node drain timed out: 10.0.10.2 after 90s")}
	h := newHarness(t, 3, func(cfg *PipelineConfig) { cfg.Drainer = drainer })
	h.source.SetBase(10, 60)

	result, err := h.pipeline.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, models.ResultError, result.Kind)
	assert.Equal(t, models.ErrorReasonCollaboratorFailure, result.Body.Reason)
	assert.Contains(t, result.Body.Detail, "timed out")
	assert.Len(t, drainer.nodes, 1)
	assert.Empty(t, h.sim.ResizeHistory())

	types := h.drainEvents()
	assert.Contains(t, types, models.EventTypeDrainStarted)
	assert.Contains(t, types, models.EventTypeScalingFailed)
	assert.NotContains(t, types, models.EventTypeScalingComplete)
}

type blockingAssembler struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingAssembler) Assemble(ctx context.Context, poolID string, now time.Time) (*models.NodePoolSnapshot, *models.NodePool, error) {
	close(b.entered)
	<-b.release
	return nil, nil, errors.New("released")
}

func TestPipeline_RejectsConcurrentTick(t *testing.T) {
	blocker := &blockingAssembler{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, 1, func(cfg *PipelineConfig) { cfg.Assembler = blocker })

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.pipeline.RunOnce(context.Background())
	}()

	<-blocker.entered
	_, err := h.pipeline.RunOnce(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(blocker.release)
	<-done
}

func TestPipeline_StartStop(t *testing.T) {
	h := newHarness(t, 2, nil)

	require.NoError(t, h.pipeline.Start())
	assert.True(t, h.pipeline.IsRunning())

	require.Eventually(t, func() bool { return h.pipeline.LatestResult() != nil }, time.Second, 10*time.Millisecond)

	h.pipeline.Stop()
	assert.False(t, h.pipeline.IsRunning())
	h.pipeline.Stop()
}

func testConfig() *config.Config {
	return &config.Config{
		Pool: config.PoolConfig{
			EvalWindowMinutes:          5,
			StabilizationMarginMinutes: 3,
			MinSize:                    1,
			MaxSize:                    4,
			CPUThreshold:               40,
		},
		Pipeline: config.PipelineConfig{Interval: time.Hour, Timeout: time.Minute},
		Events:   config.EventsConfig{BufferSize: 16},
	}
}

func TestOrchestrator_Evaluate(t *testing.T) {
	sim := controlplane.NewSimulator(controlplane.SimulatorConfig{PoolID: testPoolID, PoolName: "workers", InitialSize: 2})
	source := collector.NewMockSource(collector.MockSourceConfig{BaseCPU: 70, BaseRAM: 70})

	o := New(testConfig(), nil, nil)
	require.NoError(t, o.Start())
	defer o.Stop()

	_, err := o.AddPool(testPoolID, PoolDeps{
		Assembler: collector.NewAssembler(sim, source, collector.AssemblerConfig{MinSize: 1, MaxSize: 4, Window: 5 * time.Minute}),
		Demand:    sim,
		Drainer:   sim,
		Resizer:   sim,
	})
	require.NoError(t, err)

	_, err = o.AddPool(testPoolID, PoolDeps{})
	assert.Error(t, err)

	latest, err := o.LatestResult(testPoolID)
	require.NoError(t, err)
	assert.Nil(t, latest)

	result, err := o.Evaluate(context.Background(), testPoolID)
	require.NoError(t, err)
	assert.Equal(t, "no-resource-pressure", result.Body.Reason)

	latest, err = o.LatestResult(testPoolID)
	require.NoError(t, err)
	assert.Same(t, result, latest)

	assert.Equal(t, []string{testPoolID}, o.ListPools())

	_, err = o.Evaluate(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPoolNotManaged)

	require.NoError(t, o.StopPool(testPoolID))
	assert.ErrorIs(t, o.StopPool(testPoolID), ErrPoolNotManaged)
}

func TestOrchestrator_RejectsInvalidPoolSettings(t *testing.T) {
	cfg := testConfig()
	cfg.Pool.EvalWindowMinutes = 0

	o := New(cfg, nil, nil)
	defer o.Stop()

	_, err := o.AddPool(testPoolID, PoolDeps{})
	assert.ErrorIs(t, err, decision.ErrPreconditionViolation)
}

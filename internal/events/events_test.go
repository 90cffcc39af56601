package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

func receive(t *testing.T, ch <-chan *models.Event) *models.Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return nil
	}
}

func TestEventBus_SubscribeAndPublish(t *testing.T) {
	bus := NewEventBus(4)
	defer bus.Close()

	decisions := bus.Subscribe(models.EventTypeDecisionMade)
	all := bus.SubscribeAll()

	pub := NewPublisher(bus).WithTraceID("trace-1")
	pub.DecisionMade(&models.ScalingDecision{PoolID: "pool-1", Action: models.ActionScaleUp, Reason: models.ReasonUnschedulableDemand})

	event := receive(t, decisions)
	assert.Equal(t, models.EventTypeDecisionMade, event.Type)
	assert.Equal(t, "pool-1", event.PoolID)
	assert.Equal(t, "trace-1", event.TraceID)
	assert.Equal(t, models.SeverityInfo, event.Severity)

	assert.Same(t, event, receive(t, all))
}

func TestEventBus_DropsWhenFull(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	ch := bus.Subscribe(models.EventTypeTickCompleted)
	pub := NewPublisher(bus)
	result := models.NewErrorResult("pool-1", models.ErrorReasonMissingInput, "")

	pub.TickCompleted(models.NewDecisionResult(&models.ScalingDecision{PoolID: "pool-1"}))
	pub.TickCompleted(models.NewDecisionResult(&models.ScalingDecision{PoolID: "pool-1"}))
	pub.TickCompleted(result)

	assert.Len(t, ch, 1)
}

func TestEventBus_CloseIsIdempotent(t *testing.T) {
	bus := NewEventBus(0)
	ch := bus.SubscribeAll()

	bus.Close()
	bus.Close()

	_, ok := <-ch
	assert.False(t, ok)

	bus.Publish(models.NewEvent(models.EventTypeDecisionMade, "pool-1", "ignored"))
}

func TestPublisher_TickCompletedSeverity(t *testing.T) {
	tests := []struct {
		name     string
		result   *models.TickResult
		wantType models.EventType
		wantSev  models.EventSeverity
	}{
		{
			name:     "success",
			result:   models.NewDecisionResult(&models.ScalingDecision{PoolID: "p", Reason: models.ReasonNoPressure}),
			wantType: models.EventTypeTickCompleted,
			wantSev:  models.SeverityInfo,
		},
		{
			name:     "warning",
			result:   models.NewDecisionResult(&models.ScalingDecision{PoolID: "p", Reason: models.ReasonMaxLimitReached}),
			wantType: models.EventTypeTickCompleted,
			wantSev:  models.SeverityWarning,
		},
		{
			name:     "error",
			result:   models.NewErrorResult("p", models.ErrorReasonCollaboratorFailure, "boom"),
			wantType: models.EventTypeTickFailed,
			wantSev:  models.SeverityCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := NewEventBus(2)
			defer bus.Close()
			all := bus.SubscribeAll()

			NewPublisher(bus).TickCompleted(tt.result)

			event := receive(t, all)
			assert.Equal(t, tt.wantType, event.Type)
			assert.Equal(t, tt.wantSev, event.Severity)
			assert.Same(t, tt.result, event.Data)
		})
	}
}

type memoryStore struct {
	mu      sync.Mutex
	results []models.TickResult
	err     error
}

func (s *memoryStore) Insert(ctx context.Context, result *models.TickResult) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	s.results = append(s.results, *result)
	return len(s.results), nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

func TestEventLogger_PersistsTickResults(t *testing.T) {
	bus := NewEventBus(10)
	store := &memoryStore{}
	el := NewEventLogger(store, bus.SubscribeAll())
	el.Start()

	pub := NewPublisher(bus).WithTraceID("trace-9")
	pub.DecisionMade(&models.ScalingDecision{PoolID: "pool-1"})
	pub.TickCompleted(models.NewDecisionResult(&models.ScalingDecision{PoolID: "pool-1"}))
	pub.TickCompleted(models.NewErrorResult("pool-1", models.ErrorReasonMissingInput, ""))

	require.Eventually(t, func() bool { return store.count() == 2 }, time.Second, 10*time.Millisecond)
	el.Stop()
	bus.Close()

	assert.Equal(t, "trace-9", store.results[0].TraceID)
	assert.Equal(t, models.ResultSuccess, store.results[0].Kind)
	assert.Equal(t, models.ResultError, store.results[1].Kind)
}

func TestEventLogger_StoreFailureDoesNotStopLoop(t *testing.T) {
	bus := NewEventBus(10)
	store := &memoryStore{err: errors.New("db down")}
	el := NewEventLogger(store, bus.SubscribeAll())
	el.Start()

	NewPublisher(bus).TickCompleted(models.NewErrorResult("pool-1", models.ErrorReasonMissingInput, ""))
	bus.Close()

	done := make(chan struct{})
	go func() {
		el.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event logger did not stop")
	}
	assert.Zero(t, store.count())
}

func TestEventLogger_StopFlushesBufferedResults(t *testing.T) {
	for i := 0; i < 50; i++ {
		bus := NewEventBus(10)
		store := &memoryStore{}
		el := NewEventLogger(store, bus.SubscribeAll())
		el.Start()

		pub := NewPublisher(bus)
		pub.DecisionMade(&models.ScalingDecision{PoolID: "pool-1"})
		pub.TickCompleted(models.NewDecisionResult(&models.ScalingDecision{PoolID: "pool-1"}))
		el.Stop()
		bus.Close()

		require.Equal(t, 1, store.count(), "iteration %d", i)
	}
}

func TestEventLogger_StopWithoutStart(t *testing.T) {
	el := NewEventLogger(nil, make(chan *models.Event))
	el.Stop()
}

func TestEventBus_OnDrop(t *testing.T) {
	bus := NewEventBus(1)
	defer bus.Close()

	var dropped []models.EventType
	bus.OnDrop(func(eventType models.EventType) { dropped = append(dropped, eventType) })

	all := bus.SubscribeAll()
	bus.Publish(models.NewEvent(models.EventTypeDrainStarted, "pool-1", "first"))
	bus.Publish(models.NewEvent(models.EventTypeScalingStarted, "pool-1", "second"))

	assert.Len(t, all, 1)
	assert.Equal(t, []models.EventType{models.EventTypeScalingStarted}, dropped)
}

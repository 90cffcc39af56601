package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/monitoring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OldStager01/oke-autoscaler/internal/resilience"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakePoolReader struct {
	pool     *models.NodePool
	created  map[string]time.Time
	poolErr  error
	timeErr  error
	timeCall int
	mu       sync.Mutex
}

func (f *fakePoolReader) GetNodePool(ctx context.Context, poolID string) (*models.NodePool, error) {
	if f.poolErr != nil {
		return nil, f.poolErr
	}
	return f.pool, nil
}

func (f *fakePoolReader) GetNodeCreationTime(ctx context.Context, nodeID string) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeCall++
	if f.timeErr != nil {
		return time.Time{}, f.timeErr
	}
	return f.created[nodeID], nil
}

func newFakeReader(states ...models.NodeLifecycleState) *fakePoolReader {
	pool := &models.NodePool{ID: "pool-1", Name: "workers", CompartmentID: "comp-1"}
	created := make(map[string]time.Time)
	for i, state := range states {
		id := string(rune('a' + i))
		pool.Nodes = append(pool.Nodes, models.PoolNode{ID: id, Name: "10.0.0." + id, LifecycleState: state})
		created[id] = testNow.Add(-time.Duration(10+i) * time.Minute)
	}
	pool.Size = len(pool.LiveNodes())
	return &fakePoolReader{pool: pool, created: created}
}

func TestQuery_Validate(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		wantErr bool
	}{
		{"valid", Query{ResourceID: "n1", Metric: MetricCPU, Window: 5 * time.Minute}, false},
		{"missing resource", Query{Metric: MetricCPU, Window: 5 * time.Minute}, true},
		{"missing metric", Query{ResourceID: "n1", Window: 5 * time.Minute}, true},
		{"window too short", Query{ResourceID: "n1", Metric: MetricCPU, Window: 30 * time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.query.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidQuery)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAssembler_Assemble(t *testing.T) {
	ctx := context.Background()
	reader := newFakeReader(models.NodeStateActive, models.NodeStateActive, models.NodeStateDeleted)
	source := NewMockSource(MockSourceConfig{})
	source.SetNodeLoad("a", NodeLoad{CPU: 20, RAM: 30})
	source.SetNodeLoad("b", NodeLoad{CPU: 60, RAM: 70})

	asm := NewAssembler(reader, source, AssemblerConfig{MinSize: 1, MaxSize: 5, Window: 5 * time.Minute, Concurrency: 2})

	snapshot, pool, err := asm.Assemble(ctx, "pool-1", testNow)
	require.NoError(t, err)
	require.NotNil(t, pool)

	assert.Equal(t, "pool-1", snapshot.PoolID)
	assert.Equal(t, "workers", snapshot.PoolName)
	assert.Equal(t, models.PoolStatusReady, snapshot.LifecycleStatus)
	assert.Equal(t, 2, snapshot.CurrentSize)
	assert.Equal(t, 1, snapshot.MinSize)
	assert.Equal(t, 5, snapshot.MaxSize)
	assert.Equal(t, testNow, snapshot.AssembledAt)

	require.Len(t, snapshot.Members, 2)
	assert.Equal(t, "a", snapshot.Members[0].ID)
	assert.Equal(t, 20.0, snapshot.Members[0].CPUUtilization)
	assert.Equal(t, 30.0, snapshot.Members[0].RAMUtilization)
	assert.Equal(t, reader.created["a"], snapshot.Members[0].CreatedAt)
	assert.Equal(t, "b", snapshot.Members[1].ID)
	assert.Equal(t, 70.0, snapshot.Members[1].RAMUtilization)
	assert.Equal(t, 4, source.Calls())
}

func TestAssembler_UpdatingPoolSkipsMembers(t *testing.T) {
	reader := newFakeReader(models.NodeStateActive, models.NodeStateCreating)
	source := NewMockSource(MockSourceConfig{BaseCPU: 50})

	asm := NewAssembler(reader, source, AssemblerConfig{MinSize: 1, MaxSize: 5, Window: 5 * time.Minute})

	snapshot, _, err := asm.Assemble(context.Background(), "pool-1", testNow)
	require.NoError(t, err)

	assert.True(t, snapshot.IsUpdating())
	assert.Equal(t, 2, snapshot.CurrentSize)
	assert.Empty(t, snapshot.Members)
	assert.Zero(t, source.Calls())
	assert.Zero(t, reader.timeCall)
}

func TestAssembler_EmptyPool(t *testing.T) {
	reader := newFakeReader()
	asm := NewAssembler(reader, NewMockSource(MockSourceConfig{}), AssemblerConfig{MaxSize: 3, Window: 5 * time.Minute})

	snapshot, _, err := asm.Assemble(context.Background(), "pool-1", testNow)
	require.NoError(t, err)

	assert.Equal(t, 0, snapshot.CurrentSize)
	assert.Empty(t, snapshot.Members)
}

func TestAssembler_Failures(t *testing.T) {
	boom := errors.New("boom")

	t.Run("pool lookup", func(t *testing.T) {
		reader := newFakeReader(models.NodeStateActive)
		reader.poolErr = boom
		asm := NewAssembler(reader, NewMockSource(MockSourceConfig{}), AssemblerConfig{Window: 5 * time.Minute})

		_, _, err := asm.Assemble(context.Background(), "pool-1", testNow)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("creation time", func(t *testing.T) {
		reader := newFakeReader(models.NodeStateActive, models.NodeStateActive)
		reader.timeErr = boom
		asm := NewAssembler(reader, NewMockSource(MockSourceConfig{}), AssemblerConfig{Window: 5 * time.Minute})

		snapshot, pool, err := asm.Assemble(context.Background(), "pool-1", testNow)
		assert.ErrorIs(t, err, boom)
		assert.Nil(t, snapshot)
		assert.Nil(t, pool)
	})

	t.Run("metrics", func(t *testing.T) {
		reader := newFakeReader(models.NodeStateActive)
		source := NewMockSource(MockSourceConfig{})
		source.SetShouldFail(true, nil)
		asm := NewAssembler(reader, source, AssemblerConfig{Window: 5 * time.Minute})

		_, _, err := asm.Assemble(context.Background(), "pool-1", testNow)
		assert.ErrorIs(t, err, ErrCollectionFailed)
	})
}

func TestMockSource_JitterIsClamped(t *testing.T) {
	source := NewMockSource(MockSourceConfig{BaseCPU: 99, BaseRAM: 1, Jitter: 10})
	q := Query{ResourceID: "n1", Window: time.Minute}

	for i := 0; i < 50; i++ {
		q.Metric = MetricCPU
		cpu, err := source.MeanUtilization(context.Background(), q)
		require.NoError(t, err)
		assert.LessOrEqual(t, cpu, 100.0)
		assert.GreaterOrEqual(t, cpu, 89.0)

		q.Metric = MetricMemory
		ram, err := source.MeanUtilization(context.Background(), q)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, ram, 0.0)
		assert.LessOrEqual(t, ram, 11.0)
	}
}

type fakeSummarizer struct {
	resp    monitoring.SummarizeMetricsDataResponse
	err     error
	request monitoring.SummarizeMetricsDataRequest
}

func (f *fakeSummarizer) SummarizeMetricsData(ctx context.Context, request monitoring.SummarizeMetricsDataRequest) (monitoring.SummarizeMetricsDataResponse, error) {
	f.request = request
	return f.resp, f.err
}

func datapoints(values ...float64) []monitoring.AggregatedDatapoint {
	points := make([]monitoring.AggregatedDatapoint, 0, len(values))
	for _, v := range values {
		points = append(points, monitoring.AggregatedDatapoint{Value: common.Float64(v)})
	}
	return points
}

func TestOCIMonitoringSource_MeanUtilization(t *testing.T) {
	q := Query{
		CompartmentID: "comp-1",
		ResourceID:    "ocid1.instance.oc1..abc",
		Metric:        MetricCPU,
		Window:        5 * time.Minute,
		End:           testNow,
	}

	t.Run("averages datapoints", func(t *testing.T) {
		fake := &fakeSummarizer{resp: monitoring.SummarizeMetricsDataResponse{
			Items: []monitoring.MetricData{{AggregatedDatapoints: datapoints(30, 50)}},
		}}
		source := &OCIMonitoringSource{client: fake}

		value, err := source.MeanUtilization(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, 40.0, value)

		details := fake.request.SummarizeMetricsDataDetails
		assert.Equal(t, "comp-1", *fake.request.CompartmentId)
		assert.Equal(t, computeAgentNamespace, *details.Namespace)
		assert.Equal(t, `CpuUtilization[5m]{resourceId = "ocid1.instance.oc1..abc"}.mean()`, *details.Query)
		assert.Equal(t, "5m", *details.Resolution)
		assert.Equal(t, testNow.Add(-5*time.Minute), details.StartTime.Time)
		assert.Equal(t, testNow, details.EndTime.Time)
	})

	t.Run("no datapoints", func(t *testing.T) {
		fake := &fakeSummarizer{resp: monitoring.SummarizeMetricsDataResponse{
			Items: []monitoring.MetricData{{}},
		}}
		source := &OCIMonitoringSource{client: fake}

		_, err := source.MeanUtilization(context.Background(), q)
		assert.ErrorIs(t, err, ErrNoDatapoints)
	})

	t.Run("service error", func(t *testing.T) {
		source := &OCIMonitoringSource{client: &fakeSummarizer{err: errors.New("503")}}

		_, err := source.MeanUtilization(context.Background(), q)
		assert.ErrorIs(t, err, ErrCollectionFailed)
	})
}

type flakySource struct {
	failures int
	calls    int
	value    float64
}

func (f *flakySource) MeanUtilization(ctx context.Context, q Query) (float64, error) {
	f.calls++
	if f.calls <= f.failures {
		return 0, ErrCollectionFailed
	}
	return f.value, nil
}

func TestResilientSource(t *testing.T) {
	q := Query{ResourceID: "n1", Metric: MetricCPU, Window: time.Minute, End: testNow}

	t.Run("retries transient failures", func(t *testing.T) {
		inner := &flakySource{failures: 2, value: 42}
		source := NewResilientSource(ResilientSourceConfig{
			Source:        inner,
			MaxFailures:   5,
			RetryAttempts: 3,
			RetryDelay:    time.Millisecond,
		})

		value, err := source.MeanUtilization(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, 42.0, value)
		assert.Equal(t, 3, inner.calls)
		assert.Equal(t, resilience.StateClosed, source.CircuitState())
	})

	t.Run("opens circuit", func(t *testing.T) {
		inner := &flakySource{failures: 100}
		transitions := make(chan resilience.State, 4)
		source := NewResilientSource(ResilientSourceConfig{
			Source:        inner,
			MaxFailures:   2,
			Timeout:       time.Hour,
			RetryAttempts: 5,
			RetryDelay:    time.Millisecond,
			OnStateChange: func(name string, from, to resilience.State) {
				transitions <- to
			},
		})

		_, err := source.MeanUtilization(context.Background(), q)
		assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
		assert.Equal(t, 2, inner.calls)
		assert.Equal(t, resilience.StateOpen, source.CircuitState())
		select {
		case to := <-transitions:
			assert.Equal(t, resilience.StateOpen, to)
		case <-time.After(time.Second):
			t.Fatal("state change not reported")
		}

		source.ResetCircuit()
		assert.Equal(t, resilience.StateClosed, source.CircuitState())
	})

	t.Run("rejects invalid query", func(t *testing.T) {
		inner := &flakySource{}
		source := NewResilientSource(ResilientSourceConfig{Source: inner})

		_, err := source.MeanUtilization(context.Background(), Query{})
		assert.ErrorIs(t, err, ErrInvalidQuery)
		assert.Zero(t, inner.calls)
	})
}

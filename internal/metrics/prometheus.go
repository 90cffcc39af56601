package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/OldStager01/oke-autoscaler/internal/logger"
	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

const namespace = "oke_autoscaler"

// Metrics holds the autoscaler's Prometheus instruments on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	decisionsTotal      *prometheus.CounterVec
	tickErrorsTotal     *prometheus.CounterVec
	poolSize            *prometheus.GaugeVec
	poolAvgCPU          *prometheus.GaugeVec
	poolAvgRAM          *prometheus.GaugeVec
	pendingPods         *prometheus.GaugeVec
	tickDuration        *prometheus.HistogramVec
	circuitBreakerState *prometheus.GaugeVec
	eventsDropped       *prometheus.CounterVec
}

var (
	instance *Metrics
	once     sync.Once
)

// Get returns the process-wide metrics set.
func Get() *Metrics {
	once.Do(func() {
		instance = New()
		instance.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	})
	return instance
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Scaling decisions by action and reason",
		}, []string{"pool", "action", "reason"}),
		tickErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tick_errors_total",
			Help:      "Ticks that ended in an error record, by reason",
		}, []string{"pool", "kind"}),
		poolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_size",
			Help:      "Node pool size after the last decision",
		}, []string{"pool"}),
		poolAvgCPU: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_avg_cpu_percent",
			Help:      "Pool average CPU utilization over the evaluation window",
		}, []string{"pool"}),
		poolAvgRAM: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_avg_ram_percent",
			Help:      "Pool average RAM utilization over the evaluation window",
		}, []string{"pool"}),
		pendingPods: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_pods",
			Help:      "Unschedulable pods targeting the pool",
		}, []string{"pool"}),
		tickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Wall time of one evaluation tick including execution",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"pool"}),
		circuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Pipeline events a full subscriber did not receive",
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		m.decisionsTotal,
		m.tickErrorsTotal,
		m.poolSize,
		m.poolAvgCPU,
		m.poolAvgRAM,
		m.pendingPods,
		m.tickDuration,
		m.circuitBreakerState,
		m.eventsDropped,
	)

	return m
}

// ObserveDecision records the outcome of an evaluation.
func (m *Metrics) ObserveDecision(d *models.ScalingDecision) {
	m.decisionsTotal.WithLabelValues(d.PoolID, string(d.Action), string(d.Reason)).Inc()
	m.poolSize.WithLabelValues(d.PoolID).Set(float64(d.ResultingSize))
	m.pendingPods.WithLabelValues(d.PoolID).Set(float64(d.PendingDemand))
	if d.AvgCPU != nil {
		m.poolAvgCPU.WithLabelValues(d.PoolID).Set(*d.AvgCPU)
	}
	if d.AvgRAM != nil {
		m.poolAvgRAM.WithLabelValues(d.PoolID).Set(*d.AvgRAM)
	}
}

func (m *Metrics) IncTickError(poolID, reason string) {
	m.tickErrorsTotal.WithLabelValues(poolID, reason).Inc()
}

func (m *Metrics) ObserveTickDuration(poolID string, d time.Duration) {
	m.tickDuration.WithLabelValues(poolID).Observe(d.Seconds())
}

func (m *Metrics) SetCircuitBreakerState(name string, state int) {
	m.circuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) IncEventDropped(eventType models.EventType) {
	m.eventsDropped.WithLabelValues(string(eventType)).Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves the metrics on a dedicated port, for deployments that
// run without the API server.
func StartServer(port int, path string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, Get().Handler())

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Infof("Prometheus metrics server listening on %s%s", srv.Addr, path)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("Prometheus server error: %v", err)
		}
	}()

	return srv
}

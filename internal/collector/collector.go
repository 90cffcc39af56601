package collector

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCollectionFailed = errors.New("metric collection failed")
	ErrNoDatapoints     = errors.New("no datapoints for query window")
	ErrInvalidQuery     = errors.New("invalid metric query")
)

// Metric names in the oci_computeagent namespace.
type Metric string

const (
	MetricCPU    Metric = "CpuUtilization"
	MetricMemory Metric = "MemoryUtilization"
)

// Query asks for the mean of one metric for one compute instance over
// [End-Window, End].
type Query struct {
	CompartmentID string
	ResourceID    string
	Metric        Metric
	Window        time.Duration
	End           time.Time
}

func (q Query) Validate() error {
	if q.ResourceID == "" || q.Metric == "" {
		return ErrInvalidQuery
	}
	if q.Window < time.Minute {
		return ErrInvalidQuery
	}
	return nil
}

// MetricsSource returns time-aggregated utilization percentages.
type MetricsSource interface {
	MeanUtilization(ctx context.Context, q Query) (float64, error)
}

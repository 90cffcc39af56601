package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/oracle/oci-go-sdk/v65/common"
	"github.com/oracle/oci-go-sdk/v65/monitoring"
)

const computeAgentNamespace = "oci_computeagent"

type summarizer interface {
	SummarizeMetricsData(ctx context.Context, request monitoring.SummarizeMetricsDataRequest) (monitoring.SummarizeMetricsDataResponse, error)
}

// OCIMonitoringSource reads compute agent metrics from OCI Monitoring, one
// query per node per metric at a resolution equal to the window.
type OCIMonitoringSource struct {
	client summarizer
}

func NewOCIMonitoringSource(provider common.ConfigurationProvider, region string) (*OCIMonitoringSource, error) {
	client, err := monitoring.NewMonitoringClientWithConfigurationProvider(provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitoring client: %w", err)
	}
	if region != "" {
		client.SetRegion(region)
	}
	return &OCIMonitoringSource{client: client}, nil
}

func (s *OCIMonitoringSource) MeanUtilization(ctx context.Context, q Query) (float64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}

	resolution := fmt.Sprintf("%dm", int(q.Window/time.Minute))

	resp, err := s.client.SummarizeMetricsData(ctx, monitoring.SummarizeMetricsDataRequest{
		CompartmentId: common.String(q.CompartmentID),
		SummarizeMetricsDataDetails: monitoring.SummarizeMetricsDataDetails{
			Namespace:  common.String(computeAgentNamespace),
			Query:      common.String(buildQuery(q.Metric, resolution, q.ResourceID)),
			StartTime:  &common.SDKTime{Time: q.End.Add(-q.Window)},
			EndTime:    &common.SDKTime{Time: q.End},
			Resolution: common.String(resolution),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %s for %s: %v", ErrCollectionFailed, q.Metric, q.ResourceID, err)
	}

	var sum float64
	var count int
	for _, item := range resp.Items {
		for _, dp := range item.AggregatedDatapoints {
			if dp.Value == nil {
				continue
			}
			sum += *dp.Value
			count++
		}
		if count > 0 {
			break
		}
	}
	if count == 0 {
		return 0, fmt.Errorf("%w: %s for %s", ErrNoDatapoints, q.Metric, q.ResourceID)
	}

	return sum / float64(count), nil
}

func buildQuery(metric Metric, resolution, resourceID string) string {
	return fmt.Sprintf("%s[%s]{resourceId = %q}.mean()", metric, resolution, resourceID)
}

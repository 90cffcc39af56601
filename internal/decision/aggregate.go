package decision

import "github.com/OldStager01/oke-autoscaler/pkg/models"

// Utilization is the pool-wide mean CPU and RAM utilization.
type Utilization struct {
	AvgCPU float64
	AvgRAM float64
}

// AggregateUtilization averages member utilization over currentSize.
// Values are already time-aggregated per node. ok is false when currentSize
// is not positive.
func AggregateUtilization(members []models.NodeObservation, currentSize int) (Utilization, bool) {
	if currentSize <= 0 {
		return Utilization{}, false
	}

	var sumCPU, sumRAM float64
	for _, m := range members {
		sumCPU += m.CPUUtilization
		sumRAM += m.RAMUtilization
	}

	return Utilization{
		AvgCPU: sumCPU / float64(currentSize),
		AvgRAM: sumRAM / float64(currentSize),
	}, true
}

package decision

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

func TestAggregateUtilization(t *testing.T) {
	members := []models.NodeObservation{
		member("a", time.Hour, 10, 40),
		member("b", time.Hour, 30, 60),
	}

	u, ok := AggregateUtilization(members, 2)
	assert.True(t, ok)
	assert.InDelta(t, 20.0, u.AvgCPU, 0.0001)
	assert.InDelta(t, 50.0, u.AvgRAM, 0.0001)
}

func TestAggregateUtilization_ZeroSize(t *testing.T) {
	_, ok := AggregateUtilization(nil, 0)
	assert.False(t, ok)
}

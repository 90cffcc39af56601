package decision

import (
	"time"

	"github.com/OldStager01/oke-autoscaler/pkg/models"
)

// BaseWarmUp is how long a freshly created node is expected to take before
// it contributes schedulable capacity.
const BaseWarmUp = 6 * time.Minute

// Stability is the verdict of the pool-stability classifier.
type Stability struct {
	Stable   bool
	StableAt time.Time
	LIFONode models.NodeObservation
}

// ClassifyStability picks the most recently created member (ties go to the
// lowest id, then lowest name) and reports whether the pool has settled
// since it joined. ok is false when members is empty.
func ClassifyStability(members []models.NodeObservation, margin time.Duration, now time.Time) (Stability, bool) {
	if len(members) == 0 {
		return Stability{}, false
	}

	lifo := members[0]
	for _, m := range members[1:] {
		if newerThan(m, lifo) {
			lifo = m
		}
	}

	stableAt := lifo.CreatedAt.Add(BaseWarmUp + margin)
	return Stability{
		Stable:   now.After(stableAt),
		StableAt: stableAt,
		LIFONode: lifo,
	}, true
}

func newerThan(a, b models.NodeObservation) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	return a.Name < b.Name
}

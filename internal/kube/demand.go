package kube

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"

	"github.com/OldStager01/oke-autoscaler/internal/logger"
)

// PodDemandCounter counts pods the scheduler could not place that select
// the pool through a node selector label.
type PodDemandCounter struct {
	source   ClientSource
	labelKey string
}

func NewPodDemandCounter(source ClientSource, labelKey string) *PodDemandCounter {
	if labelKey == "" {
		labelKey = "name"
	}
	return &PodDemandCounter{source: source, labelKey: labelKey}
}

func (c *PodDemandCounter) CountUnschedulable(ctx context.Context, poolName string) (int, error) {
	client, err := c.source.Client(ctx)
	if err != nil {
		return 0, err
	}

	pods, err := client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		FieldSelector: fields.OneTermEqualSelector("status.phase", string(corev1.PodPending)).String(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to list pending pods: %w", err)
	}

	count := 0
	for i := range pods.Items {
		pod := &pods.Items[i]
		if IsUnschedulable(pod) && pod.Spec.NodeSelector[c.labelKey] == poolName {
			count++
		}
	}

	logger.FromContext(ctx).WithField("pool_name", poolName).Debugf("Unschedulable pods: %d", count)
	return count, nil
}

// IsUnschedulable reports whether the scheduler has marked the pod as
// unplaceable.
func IsUnschedulable(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodPending || pod.Spec.NodeName != "" {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodScheduled {
			return cond.Status == corev1.ConditionFalse && cond.Reason == corev1.PodReasonUnschedulable
		}
	}
	return false
}

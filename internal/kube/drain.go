package kube

import (
	"context"
	"errors"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	policyv1 "k8s.io/api/policy/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"

	"github.com/OldStager01/oke-autoscaler/internal/logger"
)

const uncordonTimeout = 10 * time.Second

type DrainConfig struct {
	GracePeriod  time.Duration
	Timeout      time.Duration
	PollInterval time.Duration
}

// NodeDrainer cordons a node and evicts its pods, skipping DaemonSet and
// mirror pods, then waits for the evicted pods to go away.
type NodeDrainer struct {
	source ClientSource
	cfg    DrainConfig
}

func NewNodeDrainer(source ClientSource, cfg DrainConfig) *NodeDrainer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &NodeDrainer{source: source, cfg: cfg}
}

// Drain cordons and empties nodeName. A node whose drain fails is uncordoned
// again so the pool keeps its capacity.
func (d *NodeDrainer) Drain(ctx context.Context, nodeName string) (err error) {
	client, err := d.source.Client(ctx)
	if err != nil {
		return err
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	log := logger.FromContext(ctx).WithField("node", nodeName)

	if err := setUnschedulable(ctx, client, nodeName, true); err != nil {
		return err
	}
	log.Info("Node cordoned")

	defer func() {
		if err == nil {
			return
		}
		rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), uncordonTimeout)
		defer cancel()
		if uerr := setUnschedulable(rollbackCtx, client, nodeName, false); uerr != nil {
			log.Errorf("Failed to uncordon node after failed drain: %v", uerr)
			return
		}
		log.Warn("Drain failed, node uncordoned")
	}()

	pods, err := podsToEvict(ctx, client, nodeName)
	if err != nil {
		return err
	}
	log.Infof("Evicting %d pods", len(pods))

	for i := range pods {
		if err := d.evict(ctx, client, &pods[i]); err != nil {
			return d.wrapTimeout(nodeName, err)
		}
	}

	if err := d.waitForDeletion(ctx, client, pods); err != nil {
		return d.wrapTimeout(nodeName, err)
	}

	log.Info("Node drained")
	return nil
}

func (d *NodeDrainer) wrapTimeout(nodeName string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || wait.Interrupted(err) {
		return fmt.Errorf("%w: %s after %s", ErrDrainTimeout, nodeName, d.cfg.Timeout)
	}
	return err
}

func setUnschedulable(ctx context.Context, client kubernetes.Interface, nodeName string, unschedulable bool) error {
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		node, err := client.CoreV1().Nodes().Get(ctx, nodeName, metav1.GetOptions{})
		if err != nil {
			return err
		}
		if node.Spec.Unschedulable == unschedulable {
			return nil
		}
		node.Spec.Unschedulable = unschedulable
		_, err = client.CoreV1().Nodes().Update(ctx, node, metav1.UpdateOptions{})
		return err
	})
	if err != nil {
		verb := "cordon"
		if !unschedulable {
			verb = "uncordon"
		}
		return fmt.Errorf("failed to %s node %s: %w", verb, nodeName, err)
	}
	return nil
}

func podsToEvict(ctx context.Context, client kubernetes.Interface, nodeName string) ([]corev1.Pod, error) {
	list, err := client.CoreV1().Pods(metav1.NamespaceAll).List(ctx, metav1.ListOptions{
		FieldSelector: fields.OneTermEqualSelector("spec.nodeName", nodeName).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods on node %s: %w", nodeName, err)
	}

	var pods []corev1.Pod
	for _, pod := range list.Items {
		if pod.Spec.NodeName != nodeName || skipEviction(&pod) {
			continue
		}
		pods = append(pods, pod)
	}
	return pods, nil
}

func skipEviction(pod *corev1.Pod) bool {
	if _, mirror := pod.Annotations[corev1.MirrorPodAnnotationKey]; mirror {
		return true
	}
	if owner := metav1.GetControllerOf(pod); owner != nil && owner.Kind == "DaemonSet" {
		return true
	}
	return pod.Status.Phase == corev1.PodSucceeded || pod.Status.Phase == corev1.PodFailed
}

// evict retries while a disruption budget rejects the eviction.
func (d *NodeDrainer) evict(ctx context.Context, client kubernetes.Interface, pod *corev1.Pod) error {
	grace := int64(d.cfg.GracePeriod / time.Second)
	eviction := &policyv1.Eviction{
		ObjectMeta: metav1.ObjectMeta{
			Name:      pod.Name,
			Namespace: pod.Namespace,
		},
		DeleteOptions: &metav1.DeleteOptions{GracePeriodSeconds: &grace},
	}

	return wait.PollUntilContextCancel(ctx, d.cfg.PollInterval, true, func(ctx context.Context) (bool, error) {
		err := client.PolicyV1().Evictions(pod.Namespace).Evict(ctx, eviction)
		switch {
		case err == nil, apierrors.IsNotFound(err):
			return true, nil
		case apierrors.IsTooManyRequests(err):
			logger.FromContext(ctx).Debugf("Eviction of %s/%s blocked by disruption budget", pod.Namespace, pod.Name)
			return false, nil
		default:
			return false, fmt.Errorf("failed to evict %s/%s: %w", pod.Namespace, pod.Name, err)
		}
	})
}

func (d *NodeDrainer) waitForDeletion(ctx context.Context, client kubernetes.Interface, pods []corev1.Pod) error {
	remaining := make(map[types.NamespacedName]types.UID, len(pods))
	for _, pod := range pods {
		remaining[types.NamespacedName{Namespace: pod.Namespace, Name: pod.Name}] = pod.UID
	}

	return wait.PollUntilContextCancel(ctx, d.cfg.PollInterval, true, func(ctx context.Context) (bool, error) {
		for key, uid := range remaining {
			current, err := client.CoreV1().Pods(key.Namespace).Get(ctx, key.Name, metav1.GetOptions{})
			switch {
			case apierrors.IsNotFound(err):
				delete(remaining, key)
			case err != nil:
				return false, fmt.Errorf("failed to get pod %s: %w", key, err)
			case current.UID != uid:
				// Replaced by a new pod with the same name.
				delete(remaining, key)
			}
		}
		return len(remaining) == 0, nil
	})
}

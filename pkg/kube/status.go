package kube

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/wait"
	"kubegems.io/modelimage/pkg/errors"
)

// PodPhase returns the phase of the first pod of deployment name.
func (c *Client) PodPhase(ctx context.Context, name string) (corev1.PodPhase, error) {
	selector := labels.SelectorFromSet(labels.Set{LabelApp: name})
	pods, err := c.Interface.CoreV1().Pods(c.Namespace).List(ctx, kubeapimeta.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return "", err
	}
	if len(pods.Items) == 0 {
		return "", errors.NewNotFoundError(fmt.Sprintf("no pod for deployment %s", name))
	}
	return pods.Items[0].Status.Phase, nil
}

func (c *Client) PodRunning(ctx context.Context, name string) (bool, error) {
	phase, err := c.PodPhase(ctx, name)
	if err != nil {
		return false, err
	}
	return phase == corev1.PodRunning, nil
}

// WaitPodRunning polls every interval until the pod of name is running.
func (c *Client) WaitPodRunning(ctx context.Context, name string, interval, timeout time.Duration) error {
	log := logr.FromContextOrDiscard(ctx)
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		running, err := c.PodRunning(ctx, name)
		if err != nil && !errors.IsErrCode(err, errors.ErrCodeNotFound) {
			return false, err
		}
		log.V(1).Info("pod status", "deployment", name, "running", running)
		return running, nil
	})
	if err != nil {
		if wait.Interrupted(err) {
			return errors.NewTimeoutError(fmt.Sprintf("pod of %s is not running after %s", name, timeout))
		}
		return errors.NewDeploymentFailedError(name, err)
	}
	return nil
}

package kube

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	kubeapimeta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/apimachinery/pkg/util/rand"
	"k8s.io/utils/ptr"
	"kubegems.io/modelimage/pkg/errors"
	"sigs.k8s.io/yaml"
)

const (
	LabelApp       = "app"
	LabelManagedBy = "app.kubernetes.io/managed-by"
	ManagedBy      = "modelimage"

	nameSuffixLength = 6
	// services and label values are DNS-1123 labels
	maxNameLength = 63
)

// Deployment is the record of one launched model image.
type Deployment struct {
	Name       string
	Image      string
	ServiceURL string
}

// GenerateName appends a random suffix of lowercase letters and digits to app.
// The result never exceeds 63 characters.
func GenerateName(app string) string {
	if n := maxNameLength - 1 - nameSuffixLength; len(app) > n {
		app = strings.TrimRight(app[:n], "-")
	}
	return app + "-" + rand.String(nameSuffixLength)
}

// Manifests returns the single replica Deployment and NodePort Service of name.
func Manifests(namespace, name, image string, hostPort, containerPort int32) (*appsv1.Deployment, *corev1.Service) {
	podlabels := map[string]string{LabelApp: name}
	objlabels := map[string]string{LabelApp: name, LabelManagedBy: ManagedBy}

	deployment := &appsv1.Deployment{
		TypeMeta: kubeapimeta.TypeMeta{APIVersion: "apps/v1", Kind: "Deployment"},
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    objlabels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To[int32](1),
			Selector: &kubeapimeta.LabelSelector{MatchLabels: podlabels},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: kubeapimeta.ObjectMeta{Labels: podlabels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  name,
							Image: image,
							Ports: []corev1.ContainerPort{{ContainerPort: containerPort}},
						},
					},
				},
			},
		},
	}
	service := &corev1.Service{
		TypeMeta: kubeapimeta.TypeMeta{APIVersion: "v1", Kind: "Service"},
		ObjectMeta: kubeapimeta.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels:    objlabels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeNodePort,
			Selector: podlabels,
			Ports: []corev1.ServicePort{
				{
					Port:       hostPort,
					TargetPort: intstr.FromInt32(containerPort),
				},
			},
		},
	}
	return deployment, service
}

// RenderManifests renders the objects Deploy would create as a yaml stream.
func (c *Client) RenderManifests(name, image string, hostPort, containerPort int32) ([]byte, error) {
	deployment, service := Manifests(c.Namespace, name, image, hostPort, containerPort)
	out := []byte{}
	for _, obj := range []any{deployment, service} {
		raw, err := yaml.Marshal(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, []byte("---\n")...)
		out = append(out, raw...)
	}
	return out, nil
}

// Deploy creates a Deployment and a NodePort Service named after app and returns
// the external URL of the service. A failure after the Deployment was created
// still returns the record so the caller can delete it.
func (c *Client) Deploy(ctx context.Context, app, image string, hostPort, containerPort int32) (*Deployment, error) {
	log := logr.FromContextOrDiscard(ctx)
	name := GenerateName(app)
	deployment, service := Manifests(c.Namespace, name, image, hostPort, containerPort)

	if _, err := c.Interface.AppsV1().Deployments(c.Namespace).Create(ctx, deployment, kubeapimeta.CreateOptions{}); err != nil {
		return nil, errors.NewDeploymentFailedError(name, err)
	}
	log.Info("deployment created", "name", name, "namespace", c.Namespace)
	record := &Deployment{Name: name, Image: image}

	created, err := c.Interface.CoreV1().Services(c.Namespace).Create(ctx, service, kubeapimeta.CreateOptions{})
	if err != nil {
		return record, errors.NewDeploymentFailedError(name, err)
	}
	log.Info("service created", "name", name)

	url, err := c.ServiceURL(ctx, created)
	if err != nil {
		return record, errors.NewDeploymentFailedError(name, err)
	}
	record.ServiceURL = url
	return record, nil
}

// ServiceURL is http://<node address>:<node port> of the first node,
// preferring its external address.
func (c *Client) ServiceURL(ctx context.Context, service *corev1.Service) (string, error) {
	if len(service.Spec.Ports) == 0 || service.Spec.Ports[0].NodePort == 0 {
		return "", fmt.Errorf("service %s has no node port", service.Name)
	}
	nodes, err := c.Interface.CoreV1().Nodes().List(ctx, kubeapimeta.ListOptions{})
	if err != nil {
		return "", err
	}
	if len(nodes.Items) == 0 {
		return "", fmt.Errorf("no nodes in cluster")
	}
	ip := NodeAddress(nodes.Items[0])
	if ip == "" {
		return "", fmt.Errorf("node %s has no address", nodes.Items[0].Name)
	}
	return fmt.Sprintf("http://%s:%d", ip, service.Spec.Ports[0].NodePort), nil
}

func NodeAddress(node corev1.Node) string {
	for _, typ := range []corev1.NodeAddressType{corev1.NodeExternalIP, corev1.NodeInternalIP} {
		for _, addr := range node.Status.Addresses {
			if addr.Type == typ && addr.Address != "" {
				return addr.Address
			}
		}
	}
	return ""
}

// Delete removes the Service and then the Deployment of name.
func (c *Client) Delete(ctx context.Context, name string) error {
	if name == "" {
		return errors.NewParameterInvalidError("deployment name is empty")
	}
	foreground := kubeapimeta.DeletePropagationForeground
	zero := int64(0)
	opts := kubeapimeta.DeleteOptions{GracePeriodSeconds: &zero, PropagationPolicy: &foreground}

	if err := c.Interface.CoreV1().Services(c.Namespace).Delete(ctx, name, opts); err != nil {
		return errors.NewDeploymentFailedError(name, fmt.Errorf("delete service: %w", err))
	}
	if err := c.Interface.AppsV1().Deployments(c.Namespace).Delete(ctx, name, opts); err != nil {
		return errors.NewDeploymentFailedError(name, fmt.Errorf("delete deployment: %w", err))
	}
	logr.FromContextOrDiscard(ctx).Info("deployment deleted", "name", name)
	return nil
}

// List returns the deployments created by this tool. ServiceURL stays empty
// when the service of a deployment is missing or has no node port yet.
func (c *Client) List(ctx context.Context) ([]Deployment, error) {
	selector := labels.SelectorFromSet(labels.Set{LabelManagedBy: ManagedBy})
	list, err := c.Interface.AppsV1().Deployments(c.Namespace).List(ctx, kubeapimeta.ListOptions{LabelSelector: selector.String()})
	if err != nil {
		return nil, err
	}
	ret := make([]Deployment, 0, len(list.Items))
	for _, item := range list.Items {
		record := Deployment{Name: item.Name}
		if containers := item.Spec.Template.Spec.Containers; len(containers) > 0 {
			record.Image = containers[0].Image
		}
		if service, err := c.Interface.CoreV1().Services(c.Namespace).Get(ctx, item.Name, kubeapimeta.GetOptions{}); err == nil {
			record.ServiceURL, _ = c.ServiceURL(ctx, service)
		}
		ret = append(ret, record)
	}
	return ret, nil
}

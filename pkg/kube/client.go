package kube

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
)

const DefaultNamespace = "default"

// TokenFunc returns a bearer token for the cluster, replacing the kubeconfig credentials.
type TokenFunc func(ctx context.Context) (string, error)

// Client manages scoring deployments in the namespace of a kubeconfig context.
type Client struct {
	Interface kubernetes.Interface
	Namespace string
}

// New loads the kubeconfig context kubeContext, or the current context when empty.
func New(ctx context.Context, kubeContext string, token TokenFunc) (*Client, error) {
	clientConfig := clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		clientcmd.NewDefaultClientConfigLoadingRules(),
		&clientcmd.ConfigOverrides{CurrentContext: kubeContext},
	)
	namespace, _, err := clientConfig.Namespace()
	if err != nil {
		return nil, fmt.Errorf("kubernetes context %q: %w", kubeContext, err)
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	restconfig, err := clientConfig.ClientConfig()
	if err != nil {
		return nil, fmt.Errorf("kubernetes context %q: %w", kubeContext, err)
	}
	if token != nil {
		if err := withBearerToken(ctx, restconfig, token); err != nil {
			return nil, err
		}
	}
	cs, err := kubernetes.NewForConfig(restconfig)
	if err != nil {
		return nil, err
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("kubernetes client", "host", restconfig.Host, "namespace", namespace)
	return &Client{Interface: cs, Namespace: namespace}, nil
}

func withBearerToken(ctx context.Context, config *rest.Config, token TokenFunc) error {
	bearer, err := token(ctx)
	if err != nil {
		return err
	}
	config.BearerToken = bearer
	config.BearerTokenFile = ""
	config.ExecProvider = nil
	config.AuthProvider = nil
	config.Username, config.Password = "", ""
	return nil
}

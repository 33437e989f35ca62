// Package workflow sequences registry login, image build, deployment and
// scoring calls into the actions of the modelimage command.
package workflow

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/registry"
	"kubegems.io/modelimage/pkg/actionlog"
	"kubegems.io/modelimage/pkg/cloud"
	"kubegems.io/modelimage/pkg/config"
	"kubegems.io/modelimage/pkg/docker"
	"kubegems.io/modelimage/pkg/errors"
	"kubegems.io/modelimage/pkg/kube"
	"kubegems.io/modelimage/pkg/modelrepo"
)

const (
	ImagesDir = "images"

	HostPort      = 8080
	ContainerPort = 8080
)

// ImageBuilder builds model images and publishes them to a registry.
type ImageBuilder interface {
	Build(ctx context.Context, dir string, tags []string, buildArgs map[string]string) (string, error)
	TagAndPush(ctx context.Context, source, repo, version string, auth registry.AuthConfig) (string, error)
}

// Deployer runs model images on a cluster.
type Deployer interface {
	Deploy(ctx context.Context, app, image string, hostPort, containerPort int32) (*kube.Deployment, error)
	Delete(ctx context.Context, name string) error
	WaitPodRunning(ctx context.Context, name string, interval, timeout time.Duration) error
	RenderManifests(name, image string, hostPort, containerPort int32) ([]byte, error)
	List(ctx context.Context) ([]kube.Deployment, error)
}

// ModelRepository is the model management service holding the model packages.
type ModelRepository interface {
	ListModels(ctx context.Context) ([]modelrepo.Model, error)
	GetModel(ctx context.Context, id string) (*modelrepo.Model, error)
	DownloadModel(ctx context.Context, id string) (io.ReadCloser, int64, error)
	FetchAstore(ctx context.Context, id, astoreName, astoreDir, dest string, opts modelrepo.WaitOptions) (string, error)
}

// ValidateFunc checks that an image reference can be pulled with auth.
type ValidateFunc func(ctx context.Context, ref string, auth registry.AuthConfig) error

type Options struct {
	HostPort      int32
	ContainerPort int32
	Health        kube.HealthOptions
	PodInterval   time.Duration
	PodTimeout    time.Duration
	Astore        modelrepo.WaitOptions
	QueryInterval time.Duration
	QueryTimeout  time.Duration
	PreviewLines  int
}

func DefaultOptions() Options {
	return Options{
		HostPort:      HostPort,
		ContainerPort: ContainerPort,
		Health:        kube.DefaultHealthOptions(),
		PodInterval:   2 * time.Second,
		PodTimeout:    2 * time.Minute,
		Astore:        modelrepo.DefaultAstoreWait(),
		QueryInterval: 5 * time.Second,
		QueryTimeout:  5 * time.Minute,
		PreviewLines:  5,
	}
}

type Workflow struct {
	Config   *config.Config
	Registry string
	Provider cloud.Provider
	Builder  ImageBuilder
	Kube     Deployer
	Repo     ModelRepository
	Validate ValidateFunc
	Actions  *actionlog.Log
	Out      io.Writer
	HTTP     *http.Client
	Options  Options

	// NewKube and NewRepo connect on first use, so actions that never
	// touch the cluster or the model repository work without them.
	NewKube func(ctx context.Context) (Deployer, error)
	NewRepo func(ctx context.Context) (ModelRepository, error)

	closers []io.Closer
}

// New logs into the registry of the configured provider and returns a
// workflow connected to the local docker daemon.
func New(ctx context.Context, cfg *config.Config, out io.Writer) (*Workflow, error) {
	if err := cfg.RequireModelRepo(); err != nil {
		return nil, err
	}
	builder, err := docker.NewBuilder(out)
	if err != nil {
		return nil, err
	}
	provider, err := cloud.New(ctx, cfg, builder)
	if err != nil {
		builder.Close()
		return nil, err
	}
	registry, err := cloud.Login(ctx, provider)
	if err != nil {
		builder.Close()
		return nil, err
	}
	actions := actionlog.Open(filepath.Join(cfg.WorkDir, actionlog.DefaultDir))
	w := &Workflow{
		Config:   cfg,
		Registry: registry,
		Provider: provider,
		Builder:  builder,
		Validate: docker.Validate,
		Actions:  actions,
		Out:      out,
		HTTP:     &http.Client{Timeout: 10 * time.Minute},
		Options:  DefaultOptions(),
		NewKube: func(ctx context.Context) (Deployer, error) {
			return kube.New(ctx, cfg.KubeContext, kubeToken(provider, cfg.KubeContext))
		},
		NewRepo: func(ctx context.Context) (ModelRepository, error) {
			return modelrepo.NewClient(ctx, cfg.ModelRepo)
		},
		closers: []io.Closer{builder, actions},
	}
	return w, nil
}

// kubeToken authenticates EKS clusters with a token presigned by STS.
func kubeToken(provider cloud.Provider, kubeContext string) kube.TokenFunc {
	aws, ok := provider.(*cloud.AWS)
	if !ok || kubeContext == "" {
		return nil
	}
	cluster := cloud.ClusterName(kubeContext)
	return func(ctx context.Context) (string, error) {
		return aws.Token(ctx, cluster)
	}
}

func (w *Workflow) Close() error {
	var first error
	for _, c := range w.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (w *Workflow) kube(ctx context.Context) (Deployer, error) {
	if w.Kube != nil {
		return w.Kube, nil
	}
	if w.NewKube == nil {
		return nil, errors.NewConfigInvalidError("kubernetes is not configured")
	}
	k, err := w.NewKube(ctx)
	if err != nil {
		return nil, err
	}
	w.Kube = k
	return k, nil
}

func (w *Workflow) repo(ctx context.Context) (ModelRepository, error) {
	if w.Repo != nil {
		return w.Repo, nil
	}
	if w.NewRepo == nil {
		return nil, errors.NewConfigInvalidError("model repository is not configured")
	}
	r, err := w.NewRepo(ctx)
	if err != nil {
		return nil, err
	}
	w.Repo = r
	return r, nil
}

func (w *Workflow) workDir() string {
	if w.Config == nil || w.Config.WorkDir == "" {
		return "."
	}
	return w.Config.WorkDir
}

func (w *Workflow) logsDir() string {
	return filepath.Join(w.workDir(), actionlog.DefaultDir)
}

func (w *Workflow) out() io.Writer {
	if w.Out == nil {
		return io.Discard
	}
	return w.Out
}

func (w *Workflow) printf(format string, args ...any) {
	fmt.Fprintf(w.out(), format, args...)
}

// guide prints usage hints shown in verbose mode.
func (w *Workflow) guide(lines ...string) {
	if w.Config == nil || !w.Config.Verbose {
		return
	}
	for _, line := range lines {
		fmt.Fprintln(w.out(), "Guides:", line)
	}
}

func (w *Workflow) record(action string, args ...string) {
	if err := w.Actions.Record(action, args...); err != nil {
		w.printf("Warning: failed to write action log: %v\n", err)
	}
}

func (w *Workflow) httpClient() *http.Client {
	if w.HTTP == nil {
		return http.DefaultClient
	}
	return w.HTTP
}

func (w *Workflow) authConfig() registry.AuthConfig {
	if w.Provider == nil {
		return registry.AuthConfig{}
	}
	return w.Provider.AuthConfig()
}

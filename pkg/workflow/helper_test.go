package workflow

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/registry"
	"github.com/mholt/archiver/v4"
	"kubegems.io/modelimage/pkg/actionlog"
	"kubegems.io/modelimage/pkg/config"
	"kubegems.io/modelimage/pkg/errors"
	"kubegems.io/modelimage/pkg/kube"
	"kubegems.io/modelimage/pkg/modelrepo"
)

const testRegistry = "registry.example.com/models/"

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

type fakeBuilder struct {
	dir       string
	tags      []string
	buildArgs map[string]string
	pushed    string
	version   string
	err       error
}

func (f *fakeBuilder) Build(ctx context.Context, dir string, tags []string, buildArgs map[string]string) (string, error) {
	f.dir, f.tags, f.buildArgs = dir, tags, buildArgs
	if f.err != nil {
		return "", f.err
	}
	return "sha256:0123456789ab", nil
}

func (f *fakeBuilder) TagAndPush(ctx context.Context, source, repo, version string, auth registry.AuthConfig) (string, error) {
	f.pushed, f.version = repo, version
	return repo + ":latest", nil
}

type fakeProvider struct {
	repositories []string
}

func (f *fakeProvider) Name() string { return config.ProviderDev }

func (f *fakeProvider) Login(ctx context.Context) (string, error) { return testRegistry, nil }

func (f *fakeProvider) EnsureRepository(ctx context.Context, repository string) error {
	f.repositories = append(f.repositories, repository)
	return nil
}

func (f *fakeProvider) AuthConfig() registry.AuthConfig {
	return registry.AuthConfig{Username: "user", Password: "secret"}
}

type fakeDeployer struct {
	mu         sync.Mutex
	serviceURL string
	deployErr  error
	podErr     error
	deleteErr  error
	deployed   []string
	deleted    []string
}

func (f *fakeDeployer) Deploy(ctx context.Context, app, image string, hostPort, containerPort int32) (*kube.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := app + "-abc123"
	f.deployed = append(f.deployed, name)
	if f.deployErr != nil {
		return &kube.Deployment{Name: name, Image: image}, f.deployErr
	}
	return &kube.Deployment{Name: name, Image: image, ServiceURL: f.serviceURL}, nil
}

func (f *fakeDeployer) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, name)
	return f.deleteErr
}

func (f *fakeDeployer) WaitPodRunning(ctx context.Context, name string, interval, timeout time.Duration) error {
	return f.podErr
}

func (f *fakeDeployer) RenderManifests(name, image string, hostPort, containerPort int32) ([]byte, error) {
	deployment, service := kube.Manifests("default", name, image, hostPort, containerPort)
	return []byte(deployment.Name + "\n" + service.Name + "\n"), nil
}

func (f *fakeDeployer) List(ctx context.Context) ([]kube.Deployment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ret := []kube.Deployment{}
	for _, name := range f.deployed {
		ret = append(ret, kube.Deployment{Name: name, ServiceURL: f.serviceURL})
	}
	return ret, nil
}

type fakeRepo struct {
	models  []modelrepo.Model
	zipfile string
	astores []string
}

func (f *fakeRepo) ListModels(ctx context.Context) ([]modelrepo.Model, error) {
	return f.models, nil
}

func (f *fakeRepo) GetModel(ctx context.Context, id string) (*modelrepo.Model, error) {
	for _, m := range f.models {
		if m.ID == id {
			return &m, nil
		}
	}
	return nil, errors.NewNotFoundError("model " + id)
}

func (f *fakeRepo) DownloadModel(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	content, err := os.ReadFile(f.zipfile)
	if err != nil {
		return nil, -1, err
	}
	return io.NopCloser(bytes.NewReader(content)), int64(len(content)), nil
}

func (f *fakeRepo) FetchAstore(ctx context.Context, id, astoreName, astoreDir, dest string, opts modelrepo.WaitOptions) (string, error) {
	f.astores = append(f.astores, astoreName)
	into := filepath.Join(dest, astoreName+modelrepo.AstoreExt)
	return into, os.WriteFile(into, []byte("astore"), 0o777)
}

type testWorkflow struct {
	*Workflow
	out      *bytes.Buffer
	actions  *bytes.Buffer
	builder  *fakeBuilder
	provider *fakeProvider
	deployer *fakeDeployer
	repo     *fakeRepo
}

func newTestWorkflow(t *testing.T) *testWorkflow {
	t.Helper()
	dir := t.TempDir()
	tw := &testWorkflow{
		out:      &bytes.Buffer{},
		actions:  &bytes.Buffer{},
		builder:  &fakeBuilder{},
		provider: &fakeProvider{},
		deployer: &fakeDeployer{},
		repo:     &fakeRepo{},
	}
	opts := DefaultOptions()
	opts.Health.Attempts = 3
	opts.Health.Delay = time.Millisecond
	opts.PodInterval = time.Millisecond
	opts.QueryInterval = 10 * time.Millisecond
	opts.QueryTimeout = 5 * time.Second
	tw.Workflow = &Workflow{
		Config: &config.Config{
			Provider:     config.ProviderDev,
			WorkDir:      dir,
			TemplatesDir: filepath.Join(dir, "templates"),
			AstoreDir:    filepath.Join(dir, "astore"),
			Verbose:      true,
		},
		Registry: testRegistry,
		Provider: tw.provider,
		Builder:  tw.builder,
		Kube:     tw.deployer,
		Repo:     tw.repo,
		Actions:  actionlog.New(nopCloser{tw.actions}),
		Out:      tw.out,
		Options:  opts,
	}
	return tw
}

// actionLines returns the recorded actions without their timestamps.
func (tw *testWorkflow) actionLines() []string {
	ret := []string{}
	for _, line := range strings.Split(strings.TrimSpace(tw.actions.String()), "\n") {
		if _, rest, ok := strings.Cut(line, ","); ok {
			ret = append(ret, rest)
		}
	}
	return ret
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// writeZip creates zipfile holding files at its root.
func writeZip(t *testing.T, zipfile string, files map[string]string) string {
	t.Helper()
	src := t.TempDir()
	for name, content := range files {
		writeFile(t, filepath.Join(src, name), content)
	}
	diskfiles, err := archiver.FilesFromDisk(&archiver.FromDiskOptions{ClearAttributes: true}, map[string]string{src + string(os.PathSeparator): ""})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(zipfile), 0o755); err != nil {
		t.Fatal(err)
	}
	out, err := os.Create(zipfile)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if err := (archiver.Zip{}).Archive(context.Background(), out, diskfiles); err != nil {
		t.Fatal(err)
	}
	return zipfile
}

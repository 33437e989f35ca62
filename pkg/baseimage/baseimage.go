// Package baseimage builds the runtime images model images are layered on.
package baseimage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/docker/docker/api/types/registry"
	"github.com/go-logr/logr"
	"kubegems.io/modelimage/pkg/cloud"
	"kubegems.io/modelimage/pkg/config"
	"kubegems.io/modelimage/pkg/docker"
	"kubegems.io/modelimage/pkg/errors"
	"kubegems.io/modelimage/pkg/modelpkg"
	"kubegems.io/modelimage/pkg/version"
)

const (
	PythonBaseDir = "python_base"
	RBaseDir      = "r_base"
	MasPyBaseDir  = "maspy_base"

	// FilesDir holds the docker build context below each base directory.
	FilesDir = "files"

	PythonMajorVersion = 3
	RTag               = "r-base"
)

type ImageBuilder interface {
	Build(ctx context.Context, dir string, tags []string, buildArgs map[string]string) (string, error)
	TagAndPush(ctx context.Context, source, repo, version string, auth registry.AuthConfig) (string, error)
}

type Generator struct {
	// Dir contains python_base, r_base and maspy_base.
	Dir      string
	Registry string
	Provider cloud.Provider
	Builder  ImageBuilder
	Out      io.Writer

	closer io.Closer
}

// New logs into the registry of the configured provider.
func New(ctx context.Context, cfg *config.Config, out io.Writer) (*Generator, error) {
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
	return &Generator{
		Dir:      cfg.WorkDir,
		Registry: registry,
		Provider: provider,
		Builder:  builder,
		Out:      out,
		closer:   builder,
	}, nil
}

func (g *Generator) Close() error {
	if g.closer == nil {
		return nil
	}
	return g.closer.Close()
}

// Python builds python<major>-base. Only Python 3 is supported.
func (g *Generator) Python(ctx context.Context, major int) (string, error) {
	if major != PythonMajorVersion {
		return "", errors.NewParameterInvalidError(fmt.Sprintf("incorrect Python major version %d, should be %d", major, PythonMajorVersion))
	}
	fmt.Fprintln(g.out(), "Preparing Dockerfile based on Python version...")
	base := filepath.Join(g.Dir, PythonBaseDir)
	src := filepath.Join(base, "Dockerfile."+strconv.Itoa(major))
	if _, err := os.Stat(src); err != nil {
		return "", errors.NewNotFoundError(fmt.Sprintf("%s doesn't exist", src))
	}
	if err := modelpkg.CopyFile(src, filepath.Join(base, FilesDir, "Dockerfile")); err != nil {
		return "", err
	}
	return g.build(ctx, base, "python"+strconv.Itoa(major)+"-base")
}

// R builds r-base.
func (g *Generator) R(ctx context.Context) (string, error) {
	return g.build(ctx, filepath.Join(g.Dir, RBaseDir), RTag)
}

// MasPy is not available in this release.
func (g *Generator) MasPy(ctx context.Context) error {
	fmt.Fprintln(g.out(), "Not available in this release!")
	return errors.NewUnsupportedError("maspy base image is not available in this release")
}

// build builds base/files as tag:<image version> and tag:latest and pushes both.
func (g *Generator) build(ctx context.Context, base string, tag string) (string, error) {
	log := logr.FromContextOrDiscard(ctx)
	imageVersion := version.ImageVersion()
	dir := filepath.Join(base, FilesDir)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return "", errors.NewNotFoundError(fmt.Sprintf("build folder %s doesn't exist", dir))
	}

	fmt.Fprintln(g.out(), "Building base image...")
	imageID, err := g.Builder.Build(ctx, dir, []string{tag + ":" + imageVersion, tag + ":latest"}, nil)
	if err != nil {
		return "", err
	}
	log.Info("base image built", "tag", tag, "id", imageID)

	fmt.Fprintln(g.out(), "Docker repository URL:", g.Registry)
	if err := g.Provider.EnsureRepository(ctx, tag); err != nil {
		return "", err
	}
	fmt.Fprintln(g.out(), "Pushing to repo...")
	imageURL, err := g.Builder.TagAndPush(ctx, imageID, g.Registry+tag, imageVersion, g.Provider.AuthConfig())
	if err != nil {
		return "", err
	}
	fmt.Fprintln(g.out(), "Pushed. Please verify it at container repository")
	fmt.Fprintln(g.out(), "Remote Image Url", imageURL)
	return imageURL, nil
}

func (g *Generator) out() io.Writer {
	if g.Out == nil {
		return io.Discard
	}
	return g.Out
}

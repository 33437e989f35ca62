package cloud

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/docker/docker/api/types/registry"
	"github.com/go-logr/logr"
	"golang.org/x/oauth2/google"
	"kubegems.io/modelimage/pkg/config"
	"kubegems.io/modelimage/pkg/errors"
)

const (
	gcrHost         = "gcr.io"
	gcrJSONKeyUser  = "_json_key"
	cloudPlatformSc = "https://www.googleapis.com/auth/cloud-platform"
)

// GCP logs into Google Container Registry with a service account key file.
type GCP struct {
	KeyFile string
	Project string
	Docker  DockerLogin

	auth registry.AuthConfig
}

func NewGCP(cfg *config.Config, docker DockerLogin) *GCP {
	return &GCP{KeyFile: cfg.GCP.KeyFile, Project: cfg.GCP.Project, Docker: docker}
}

func (g *GCP) Name() string {
	return config.ProviderGCP
}

func (g *GCP) Login(ctx context.Context) (string, error) {
	if g.KeyFile == "" {
		return "", errors.NewConfigInvalidError("service.account.keyfile is required in section [GCP]")
	}
	if g.Project == "" {
		return "", errors.NewConfigInvalidError("project.name is required in section [GCP]")
	}
	key, err := os.ReadFile(g.KeyFile)
	if err != nil {
		return "", errors.NewConfigInvalidError(fmt.Sprintf("read key file: %v", err))
	}
	if _, err := google.CredentialsFromJSON(ctx, key, cloudPlatformSc); err != nil {
		return "", errors.NewAuthFailedError(g.Name(), fmt.Errorf("invalid service account key: %w", err))
	}
	g.auth = registry.AuthConfig{
		Username:      gcrJSONKeyUser,
		Password:      strings.ReplaceAll(string(key), "\n", ""),
		ServerAddress: "https://" + gcrHost + "/v2/" + g.Project,
	}
	if g.Docker != nil {
		if err := g.Docker.Login(ctx, g.auth); err != nil {
			return "", errors.NewAuthFailedError(g.Name(), err)
		}
	}
	logr.FromContextOrDiscard(ctx).Info("login GCP GCR succeeded", "project", g.Project)
	return "https://" + gcrHost + "/" + g.Project, nil
}

func (g *GCP) EnsureRepository(ctx context.Context, repository string) error {
	return nil
}

func (g *GCP) AuthConfig() registry.AuthConfig {
	return g.auth
}

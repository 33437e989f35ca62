// Package cloud logs the local docker daemon into the registry of the
// configured provider and prepares remote repositories before a push.
package cloud

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/registry"
	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"kubegems.io/modelimage/pkg/config"
	"kubegems.io/modelimage/pkg/errors"
)

type Provider interface {
	Name() string
	// Login authenticates against the registry and returns its address.
	Login(ctx context.Context) (string, error)
	// EnsureRepository creates the image repository when the registry requires it.
	EnsureRepository(ctx context.Context, repository string) error
	// AuthConfig returns the credentials used to push and pull after Login.
	AuthConfig() registry.AuthConfig
}

// DockerLogin stores registry credentials in the docker daemon.
type DockerLogin interface {
	Login(ctx context.Context, auth registry.AuthConfig) error
}

// New returns the provider named by cfg.Provider.
func New(ctx context.Context, cfg *config.Config, docker DockerLogin) (Provider, error) {
	switch cfg.Provider {
	case config.ProviderAWS:
		return NewAWS(ctx, cfg, docker)
	case config.ProviderAzure:
		return NewAzure(cfg), nil
	case config.ProviderGCP:
		return NewGCP(cfg, docker), nil
	default:
		return NewStatic(cfg), nil
	}
}

// Login runs the provider login and returns the normalized image prefix.
func Login(ctx context.Context, provider Provider) (string, error) {
	log := logr.FromContextOrDiscard(ctx)
	log.Info("login", "provider", provider.Name())
	registry, err := provider.Login(ctx)
	if err != nil {
		return "", err
	}
	if registry == "" {
		return "", errors.NewAuthFailedError(provider.Name(), fmt.Errorf("no registry returned"))
	}
	log.V(1).Info("login succeeded", "provider", provider.Name(), "registry", registry)
	return config.ConvertBaseRepo(registry), nil
}

// Static serves providers without a login flow, the registry is read from base.repo.
type Static struct {
	provider string
	registry string
	auth     registry.AuthConfig
}

func NewStatic(cfg *config.Config) *Static {
	return &Static{provider: cfg.Provider, registry: cfg.BaseRepo}
}

func (s *Static) Name() string {
	return s.provider
}

func (s *Static) Login(ctx context.Context) (string, error) {
	if s.registry == "" {
		return "", errors.NewConfigInvalidError(fmt.Sprintf("base.repo is required in section [%s]", s.provider))
	}
	s.auth = keychainAuth(ctx, s.registry)
	return s.registry, nil
}

func (s *Static) EnsureRepository(ctx context.Context, repository string) error {
	return nil
}

func (s *Static) AuthConfig() registry.AuthConfig {
	return s.auth
}

// keychainAuth reads credentials stored by "docker login" or a credential helper.
func keychainAuth(ctx context.Context, registryAddr string) registry.AuthConfig {
	host := strings.SplitN(config.ConvertBaseRepo(registryAddr), "/", 2)[0]
	reg, err := name.NewRegistry(host)
	if err != nil {
		return registry.AuthConfig{}
	}
	authenticator, err := authn.DefaultKeychain.Resolve(reg)
	if err != nil {
		logr.FromContextOrDiscard(ctx).V(1).Info("no stored credentials", "registry", host, "error", err.Error())
		return registry.AuthConfig{}
	}
	cfg, err := authenticator.Authorization()
	if err != nil {
		return registry.AuthConfig{}
	}
	return registry.AuthConfig{
		Username:      cfg.Username,
		Password:      cfg.Password,
		Auth:          cfg.Auth,
		IdentityToken: cfg.IdentityToken,
		RegistryToken: cfg.RegistryToken,
		ServerAddress: host,
	}
}

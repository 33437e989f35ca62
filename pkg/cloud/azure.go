package cloud

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/docker/docker/api/types/registry"
	"github.com/go-logr/logr"
	"kubegems.io/modelimage/pkg/config"
	"kubegems.io/modelimage/pkg/errors"
)

const azureLoginSucceeded = "Login Succeeded"

// CommandRunner runs an external command and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) (stdout []byte, stderr []byte, err error)

func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &strings.Builder{}
	cmd.Stderr = stderr
	out, err := cmd.Output()
	return out, []byte(stderr.String()), err
}

// Azure logs in through the az cli, which stores the ACR credentials for docker.
type Azure struct {
	Registry string
	Run      CommandRunner

	auth registry.AuthConfig
}

func NewAzure(cfg *config.Config) *Azure {
	return &Azure{Registry: cfg.Azure.Registry, Run: ExecRunner}
}

func (a *Azure) Name() string {
	return config.ProviderAzure
}

func (a *Azure) Login(ctx context.Context) (string, error) {
	if a.Registry == "" {
		return "", errors.NewConfigInvalidError("azure.container.registry is required in section [Azure]")
	}
	stdout, stderr, err := a.Run(ctx, "az", "acr", "login", "--name", a.Registry)
	if !strings.Contains(string(stdout), azureLoginSucceeded) {
		detail := strings.TrimSpace(string(stdout) + "\n" + string(stderr))
		if err != nil {
			detail = fmt.Sprintf("%v: %s", err, detail)
		}
		return "", errors.NewAuthFailedError(a.Name(), fmt.Errorf("%s", detail))
	}
	registryAddr := strings.ToLower(a.Registry + ".azurecr.io")
	a.auth = keychainAuth(ctx, registryAddr)
	logr.FromContextOrDiscard(ctx).Info("login Azure Container Registry succeeded", "registry", registryAddr)
	return registryAddr, nil
}

func (a *Azure) EnsureRepository(ctx context.Context, repository string) error {
	return nil
}

func (a *Azure) AuthConfig() registry.AuthConfig {
	return a.auth
}

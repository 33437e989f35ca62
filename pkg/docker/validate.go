package docker

import (
	"context"
	"fmt"
	"strings"

	"github.com/docker/docker/api/types/registry"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/go-logr/logr"
)

// Validate checks that ref resolves in its registry with the given credentials.
func Validate(ctx context.Context, ref string, auth registry.AuthConfig) error {
	opts := []name.Option{}
	if insecureRegistry(ref) {
		opts = append(opts, name.Insecure)
	}
	reference, err := name.ParseReference(ref, opts...)
	if err != nil {
		return fmt.Errorf("parse image reference %s: %w", ref, err)
	}
	authenticator := authn.Anonymous
	if auth.Username != "" || auth.IdentityToken != "" || auth.RegistryToken != "" {
		authenticator = authn.FromConfig(authn.AuthConfig{
			Username:      auth.Username,
			Password:      auth.Password,
			IdentityToken: auth.IdentityToken,
			RegistryToken: auth.RegistryToken,
		})
	}
	desc, err := remote.Head(reference, remote.WithAuth(authenticator), remote.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("validate image %s: %w", ref, err)
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("image validated", "ref", ref, "digest", desc.Digest.String())
	return nil
}

// local registries are commonly served over plain http
func insecureRegistry(ref string) bool {
	host := strings.SplitN(ref, "/", 2)[0]
	return strings.HasPrefix(host, "localhost") || strings.HasPrefix(host, "127.0.0.1")
}

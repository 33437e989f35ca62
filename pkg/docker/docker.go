package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/jsonmessage"
	"github.com/go-logr/logr"
	"github.com/mholt/archiver/v4"
	"kubegems.io/modelimage/pkg/errors"
)

// API is the part of the docker engine client used to build and publish images.
type API interface {
	ImageBuild(ctx context.Context, buildContext io.Reader, options types.ImageBuildOptions) (types.ImageBuildResponse, error)
	ImageTag(ctx context.Context, source, target string) error
	ImagePush(ctx context.Context, image string, options image.PushOptions) (io.ReadCloser, error)
	RegistryLogin(ctx context.Context, auth registry.AuthConfig) (registry.AuthenticateOKBody, error)
	Close() error
}

type Builder struct {
	API API
	Out io.Writer
}

func NewBuilder(out io.Writer) (*Builder, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("connect docker daemon: %w", err)
	}
	return &Builder{API: cli, Out: out}, nil
}

func (b *Builder) Close() error {
	return b.API.Close()
}

func (b *Builder) Login(ctx context.Context, auth registry.AuthConfig) error {
	resp, err := b.API.RegistryLogin(ctx, auth)
	if err != nil {
		return err
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("docker login", "registry", auth.ServerAddress, "status", resp.Status)
	return nil
}

// Build builds dir without cache and tags the result with every tag. It returns the image id.
func (b *Builder) Build(ctx context.Context, dir string, tags []string, buildArgs map[string]string) (string, error) {
	log := logr.FromContextOrDiscard(ctx)
	files, err := archiver.FilesFromDisk(
		&archiver.FromDiskOptions{ClearAttributes: true},
		map[string]string{dir + string(os.PathSeparator): ""},
	)
	if err != nil {
		return "", err
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(archiver.Tar{}.Archive(ctx, pw, files))
	}()
	defer pr.Close()

	args := map[string]*string{}
	for k, v := range buildArgs {
		v := v
		args[k] = &v
	}
	log.V(1).Info("building image", "dir", dir, "tags", tags)
	resp, err := b.API.ImageBuild(ctx, pr, types.ImageBuildOptions{
		Tags:        tags,
		NoCache:     true,
		Remove:      true,
		BuildArgs:   args,
		Dockerfile:  "Dockerfile",
		ForceRemove: true,
	})
	if err != nil {
		return "", errors.NewBuildFailedError(firstOf(tags), err.Error())
	}
	defer resp.Body.Close()

	imageID := ""
	aux := func(msg jsonmessage.JSONMessage) {
		result := types.BuildResult{}
		if msg.Aux != nil && json.Unmarshal(*msg.Aux, &result) == nil && result.ID != "" {
			imageID = result.ID
		}
	}
	if err := jsonmessage.DisplayJSONMessagesStream(resp.Body, b.out(), 0, false, aux); err != nil {
		return "", errors.NewBuildFailedError(firstOf(tags), err.Error())
	}
	// older daemons and the classic builder may not report the id
	if imageID == "" {
		imageID = firstOf(tags)
	}
	if imageID == "" {
		return "", errors.NewBuildFailedError(dir, "image id not reported and no tag given")
	}
	return imageID, nil
}

// TagAndPush tags source as repo:version and repo:latest and pushes both,
// returning the latest reference. A failed push leaves the local tags in place.
func (b *Builder) TagAndPush(ctx context.Context, source, repo, version string, auth registry.AuthConfig) (string, error) {
	refs := []string{repo + ":" + version, repo + ":latest"}
	for _, ref := range refs {
		if err := b.API.ImageTag(ctx, source, ref); err != nil {
			return "", fmt.Errorf("tag %s as %s: %w", source, ref, err)
		}
	}
	for _, ref := range refs {
		if err := b.Push(ctx, ref, auth); err != nil {
			return "", err
		}
	}
	return refs[len(refs)-1], nil
}

func (b *Builder) Push(ctx context.Context, ref string, auth registry.AuthConfig) error {
	logr.FromContextOrDiscard(ctx).V(1).Info("pushing image", "ref", ref)
	encoded, err := registry.EncodeAuthConfig(auth)
	if err != nil {
		return err
	}
	rc, err := b.API.ImagePush(ctx, ref, image.PushOptions{RegistryAuth: encoded})
	if err != nil {
		return errors.NewPushFailedError(ref, err.Error())
	}
	defer rc.Close()
	// an errorDetail in the stream surfaces as a JSONError here
	if err := jsonmessage.DisplayJSONMessagesStream(rc, b.out(), 0, false, nil); err != nil {
		return errors.NewPushFailedError(ref, err.Error())
	}
	return nil
}

func (b *Builder) out() io.Writer {
	if b.Out == nil {
		return io.Discard
	}
	return b.Out
}

func firstOf(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

package workflow

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/jedib0t/go-pretty/v6/table"
	"kubegems.io/modelimage/pkg/errors"
	"kubegems.io/modelimage/pkg/kube"
	"kubegems.io/modelimage/pkg/modelpkg"
)

// Launch runs imageURL on the cluster and waits for its scoring service.
// A deployment that never becomes healthy is deleted again.
func (w *Workflow) Launch(ctx context.Context, imageURL string) (*kube.Deployment, error) {
	log := logr.FromContextOrDiscard(ctx)
	k, err := w.kube(ctx)
	if err != nil {
		return nil, err
	}
	if err := w.validate(ctx, imageURL); err != nil {
		return nil, err
	}

	w.printf("Launching container instance...\n")
	app := modelpkg.LaunchName(imageURL)
	log.V(1).Info("deploying", "app", app, "image", imageURL)
	deployment, err := k.Deploy(ctx, app, imageURL, w.Options.HostPort, w.Options.ContainerPort)
	if err != nil {
		w.printf("Deployment failed! Please check environment settings!\n")
		if deployment != nil {
			w.cleanup(ctx, deployment.Name)
		}
		return nil, err
	}
	if deployment.ServiceURL == "" {
		w.printf("Deployment failed! Please check environment settings!\n")
		w.cleanup(ctx, deployment.Name)
		return nil, errors.NewDeploymentFailedError(deployment.Name, fmt.Errorf("no service url"))
	}
	w.record("launch", imageURL, deployment.Name, deployment.ServiceURL)

	w.printf("Checking whether the instance is up or not...\n")
	if err := kube.WaitHealthy(ctx, deployment.ServiceURL, w.Options.Health); err != nil {
		w.printf("Deployment failed! Please check docker image url!\n")
		w.cleanup(ctx, deployment.Name)
		return nil, err
	}
	if err := k.WaitPodRunning(ctx, deployment.Name, w.Options.PodInterval, w.Options.PodTimeout); err != nil {
		w.printf("Deployment failed! Please check docker image url!\n")
		w.cleanup(ctx, deployment.Name)
		return nil, err
	}
	w.printf("Instance is up!\n")
	w.printf("Deployment name: %s\nService URL: %s\n", deployment.Name, deployment.ServiceURL)
	w.guide(
		"> modelimage execute "+deployment.ServiceURL+" <input file>",
		"> modelimage stop "+deployment.Name,
	)
	return deployment, nil
}

// Manifests renders the Deployment and Service Launch would create for imageURL.
func (w *Workflow) Manifests(ctx context.Context, imageURL string) ([]byte, error) {
	k, err := w.kube(ctx)
	if err != nil {
		return nil, err
	}
	return k.RenderManifests(kube.GenerateName(modelpkg.LaunchName(imageURL)), imageURL, w.Options.HostPort, w.Options.ContainerPort)
}

// Stop deletes the deployment and service of name.
func (w *Workflow) Stop(ctx context.Context, name string) error {
	if name == "" {
		return errors.NewParameterInvalidError("deployment name is empty")
	}
	k, err := w.kube(ctx)
	if err != nil {
		return err
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("stopping", "deployment", name)
	if err := k.Delete(ctx, name); err != nil {
		return err
	}
	w.record("stop", name)
	w.printf("Deletion succeeded\n")
	return nil
}

// Deployments prints the model images currently launched by this tool.
func (w *Workflow) Deployments(ctx context.Context) ([]kube.Deployment, error) {
	k, err := w.kube(ctx)
	if err != nil {
		return nil, err
	}
	list, err := k.List(ctx)
	if err != nil {
		return nil, err
	}
	t := table.NewWriter()
	t.SetOutputMirror(w.out())
	t.AppendHeader(table.Row{"Name", "Image", "Service URL"})
	for _, d := range list {
		t.AppendRow(table.Row{d.Name, d.Image, d.ServiceURL})
	}
	t.Render()
	return list, nil
}

func (w *Workflow) validate(ctx context.Context, imageURL string) error {
	if w.Validate == nil {
		return nil
	}
	w.printf("Validating image repository url...\n")
	if err := w.Validate(ctx, imageURL, w.authConfig()); err != nil {
		w.printf("Failed on validating %s\n", imageURL)
		return err
	}
	w.printf("Completed validation.\n")
	return nil
}

// cleanup deletes a half created deployment, keeping the original error.
func (w *Workflow) cleanup(ctx context.Context, name string) {
	if err := w.Stop(ctx, name); err != nil {
		logr.FromContextOrDiscard(ctx).Error(err, "cleanup deployment", "name", name)
		w.printf("Failed to delete deployment %s: %v\n", name, err)
		w.printf("Please delete it with:\n> modelimage stop %s\n", name)
	}
}

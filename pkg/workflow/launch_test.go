package workflow

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/docker/docker/api/types/registry"
	"github.com/google/go-cmp/cmp"
	"kubegems.io/modelimage/pkg/errors"
)

const testImage = testRegistry + "my-model_4f2a:latest"

func pongServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestLaunch(t *testing.T) {
	tw := newTestWorkflow(t)
	tw.deployer.serviceURL = pongServer(t, "pong").URL
	var validated string
	tw.Validate = func(ctx context.Context, ref string, auth registry.AuthConfig) error {
		validated = ref
		if auth.Username != "user" {
			return fmt.Errorf("unexpected auth %+v", auth)
		}
		return nil
	}

	deployment, err := tw.Launch(context.Background(), testImage)
	if err != nil {
		t.Fatalf("Launch() error = %v", err)
	}
	if validated != testImage {
		t.Errorf("validated %q", validated)
	}
	if deployment.Name != "my-model-abc123" || deployment.ServiceURL != tw.deployer.serviceURL {
		t.Errorf("Launch() = %+v", deployment)
	}
	if len(tw.deployer.deleted) != 0 {
		t.Errorf("healthy deployment deleted: %v", tw.deployer.deleted)
	}
	want := []string{fmt.Sprintf("launch,%s,%s,%s", testImage, deployment.Name, deployment.ServiceURL)}
	if diff := cmp.Diff(want, tw.actionLines()); diff != "" {
		t.Errorf("actions (-want +got):\n%s", diff)
	}
}

func TestLaunch_Failures(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		deployErr   error
		podErr      error
		validateErr error
		wantCode    errors.ErrCode
		wantDeleted bool
	}{
		{name: "invalid image", body: "pong", validateErr: errors.NewNotFoundError("image"), wantCode: errors.ErrCodeNotFound},
		{name: "service failed", body: "pong", deployErr: errors.NewDeploymentFailedError("x", fmt.Errorf("boom")), wantCode: errors.ErrCodeDeploymentFailed, wantDeleted: true},
		{name: "never healthy", body: "nope", wantCode: errors.ErrCodeTimeout, wantDeleted: true},
		{name: "pod not running", body: "pong", podErr: errors.NewTimeoutError("pod"), wantCode: errors.ErrCodeTimeout, wantDeleted: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tw := newTestWorkflow(t)
			tw.deployer.serviceURL = pongServer(t, tt.body).URL
			tw.deployer.deployErr = tt.deployErr
			tw.deployer.podErr = tt.podErr
			tw.Validate = func(ctx context.Context, ref string, auth registry.AuthConfig) error {
				return tt.validateErr
			}
			_, err := tw.Launch(context.Background(), testImage)
			if !errors.IsErrCode(err, tt.wantCode) {
				t.Fatalf("Launch() error = %v, want %s", err, tt.wantCode)
			}
			if deleted := len(tw.deployer.deleted) > 0; deleted != tt.wantDeleted {
				t.Errorf("deleted = %v, want %v", tw.deployer.deleted, tt.wantDeleted)
			}
		})
	}
}

func TestLaunch_CleanupFailure(t *testing.T) {
	tw := newTestWorkflow(t)
	tw.Config.Verbose = false
	tw.deployer.serviceURL = pongServer(t, "pong").URL
	tw.deployer.podErr = errors.NewTimeoutError("pod")
	tw.deployer.deleteErr = fmt.Errorf("forbidden")
	tw.Validate = func(ctx context.Context, ref string, auth registry.AuthConfig) error { return nil }

	if _, err := tw.Launch(context.Background(), testImage); !errors.IsErrCode(err, errors.ErrCodeTimeout) {
		t.Fatalf("Launch() error = %v, want TIMEOUT", err)
	}
	name := tw.deployer.deployed[0]
	out := tw.out.String()
	if !strings.Contains(out, "Failed to delete deployment "+name+": forbidden") || !strings.Contains(out, "> modelimage stop "+name) {
		t.Errorf("cleanup failure not reported:\n%s", out)
	}
}

func TestStop(t *testing.T) {
	tw := newTestWorkflow(t)
	if err := tw.Stop(context.Background(), ""); !errors.IsErrCode(err, errors.ErrCodeInvalidParameter) {
		t.Errorf("Stop(\"\") error = %v", err)
	}
	if err := tw.Stop(context.Background(), "my-model-abc123"); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if diff := cmp.Diff([]string{"my-model-abc123"}, tw.deployer.deleted); diff != "" {
		t.Errorf("deleted (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"stop,my-model-abc123"}, tw.actionLines()); diff != "" {
		t.Errorf("actions (-want +got):\n%s", diff)
	}
}

func TestScore(t *testing.T) {
	tw := newTestWorkflow(t)
	ts, runner := newScoringServer(t)
	close(runner.release)
	tw.deployer.serviceURL = ts.URL

	const data = "id,x\n1,0.5\n"
	csvfile := filepath.Join(t.TempDir(), "input.csv")
	writeFile(t, csvfile, data)

	file, err := tw.Score(context.Background(), testImage, csvfile)
	if err != nil {
		t.Fatalf("Score() error = %v", err)
	}
	result, _ := os.ReadFile(file)
	if string(result) != data {
		t.Errorf("result = %q, want %q", result, data)
	}
	if diff := cmp.Diff([]string{"my-model-abc123"}, tw.deployer.deleted); diff != "" {
		t.Errorf("deployment not stopped (-want +got):\n%s", diff)
	}
	actions := []string{}
	for _, line := range tw.actionLines() {
		action, _, _ := strings.Cut(line, ",")
		actions = append(actions, action)
	}
	if diff := cmp.Diff([]string{"launch", "execute", "query", "stop"}, actions); diff != "" {
		t.Errorf("actions (-want +got):\n%s", diff)
	}
}

func TestScore_StopsAfterExecuteFailure(t *testing.T) {
	tw := newTestWorkflow(t)
	tw.deployer.serviceURL = pongServer(t, "pong").URL

	_, err := tw.Score(context.Background(), testImage, filepath.Join(t.TempDir(), "missing.csv"))
	if !errors.IsErrCode(err, errors.ErrCodeInvalidParameter) {
		t.Fatalf("Score() error = %v", err)
	}
	if len(tw.deployer.deleted) != 1 {
		t.Errorf("deployment not stopped: %v", tw.deployer.deleted)
	}
}

func TestDeploymentsAndManifests(t *testing.T) {
	tw := newTestWorkflow(t)
	tw.deployer.serviceURL = pongServer(t, "pong").URL
	if _, err := tw.Launch(context.Background(), testImage); err != nil {
		t.Fatal(err)
	}
	list, err := tw.Deployments(context.Background())
	if err != nil || len(list) != 1 {
		t.Fatalf("Deployments() = %v, %v", list, err)
	}
	if !strings.Contains(tw.out.String(), "my-model-abc123") {
		t.Errorf("table does not list the deployment:\n%s", tw.out.String())
	}
	manifests, err := tw.Manifests(context.Background(), testImage)
	if err != nil || !strings.HasPrefix(string(manifests), "my-model-") {
		t.Errorf("Manifests() = %q, %v", manifests, err)
	}
}

package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"kubegems.io/modelimage/pkg/errors"
	"kubegems.io/modelimage/pkg/modelpkg"
	"kubegems.io/modelimage/pkg/modelrepo"
)

const testDockerfile = "ARG base_repo\nFROM ${base_repo}python3-base:latest\nCOPY . /pybox/model/\nENTRYPOINT [\"/pybox/app/start.sh\"]\n"

func TestPublish_File(t *testing.T) {
	tests := []struct {
		name          string
		scoreCodeType string
		template      string
	}{
		{name: "python", scoreCodeType: "Python", template: "template-py"},
		{name: "r", scoreCodeType: "R", template: "template-r"},
		{name: "unsupported falls back to default", scoreCodeType: "SAS", template: "template"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tw := newTestWorkflow(t)
			for _, folder := range []string{"template", "template-py", "template-r"} {
				writeFile(t, filepath.Join(tw.Config.TemplatesDir, folder, "Dockerfile"), testDockerfile)
				writeFile(t, filepath.Join(tw.Config.TemplatesDir, folder, "marker"), folder)
			}
			zipfile := writeZip(t, filepath.Join(t.TempDir(), "My_Model.zip"), map[string]string{
				"ModelProperties.json": `{"id":"4f2a","name":"My Model!!","scoreCodeType":"` + tt.scoreCodeType + `"}`,
				"requirements.json":    `[{"step":"install sklearn","command":"pip install scikit-learn"}]`,
			})

			imageURL, err := tw.Publish(context.Background(), PublishByFile, zipfile)
			if err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if want := testRegistry + "my-model_4f2a:latest"; imageURL != want {
				t.Errorf("Publish() = %s, want %s", imageURL, want)
			}

			wantDir := filepath.Join(tw.Config.WorkDir, ImagesDir, "my_model")
			if tw.builder.dir != wantDir {
				t.Errorf("build dir = %s, want %s", tw.builder.dir, wantDir)
			}
			if diff := cmp.Diff([]string{"my-model_4f2a:na", "my-model_4f2a:latest"}, tw.builder.tags); diff != "" {
				t.Errorf("build tags (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(map[string]string{BuildArgBaseRepo: testRegistry}, tw.builder.buildArgs); diff != "" {
				t.Errorf("build args (-want +got):\n%s", diff)
			}
			if tw.builder.pushed != testRegistry+"my-model_4f2a" || tw.builder.version != VersionUnknown {
				t.Errorf("pushed %s version %s", tw.builder.pushed, tw.builder.version)
			}
			if diff := cmp.Diff([]string{"my-model_4f2a"}, tw.provider.repositories); diff != "" {
				t.Errorf("ensured repositories (-want +got):\n%s", diff)
			}

			marker, err := os.ReadFile(filepath.Join(wantDir, "marker"))
			if err != nil || string(marker) != tt.template {
				t.Errorf("template marker = %q, %v, want %q", marker, err, tt.template)
			}
			dockerfile, err := os.ReadFile(filepath.Join(wantDir, "Dockerfile"))
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(string(dockerfile), "#install sklearn\nRUN pip install scikit-learn\nENTRYPOINT") {
				t.Errorf("dependencies not inserted:\n%s", dockerfile)
			}
			if _, err := os.Stat(filepath.Join(wantDir, "My_Model.zip")); err != nil {
				t.Errorf("model zip not staged: %v", err)
			}
			sum, err := modelpkg.Digest(zipfile)
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]string{"publish,4f2a,na," + imageURL + "," + sum.String()}, tw.actionLines()); diff != "" {
				t.Errorf("actions (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPublish_ID(t *testing.T) {
	tw := newTestWorkflow(t)
	writeFile(t, filepath.Join(tw.Config.TemplatesDir, "template", "Dockerfile"), testDockerfile)
	tw.repo.zipfile = writeZip(t, filepath.Join(t.TempDir(), "download.zip"), map[string]string{
		"AstoreMetadata.json":  "{}",
		"ModelProperties.json": `{"id":"9C1D","name":"gradient boosting","scoreCodeType":"ds2MultiType"}`,
		"_7TXNCT1GDNGSV":       "",
	})
	tw.repo.models = []modelrepo.Model{{ID: "9C1D", Name: "Gradient Boosting", ModelVersionName: "1.0", ScoreCodeType: "ds2MultiType"}}

	imageURL, err := tw.Publish(context.Background(), PublishByID, "9C1D")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if want := testRegistry + "gradient_9C1D:latest"; imageURL != want {
		t.Errorf("Publish() = %s, want %s", imageURL, want)
	}
	dir := filepath.Join(tw.Config.WorkDir, ImagesDir, "model-9c1d")
	if _, err := os.Stat(filepath.Join(dir, "model-9C1D.zip")); err != nil {
		t.Errorf("model zip not downloaded: %v", err)
	}
	if diff := cmp.Diff([]string{"_7TXNCT1GDNGSV"}, tw.repo.astores); diff != "" {
		t.Errorf("fetched astores (-want +got):\n%s", diff)
	}
	if tw.builder.version != "1.0" {
		t.Errorf("version = %s, want 1.0", tw.builder.version)
	}
}

func TestPublish_Errors(t *testing.T) {
	tw := newTestWorkflow(t)
	ctx := context.Background()

	if _, err := tw.Publish(ctx, "name", "x"); !errors.IsErrCode(err, errors.ErrCodeInvalidParameter) {
		t.Errorf("unknown kind error = %v", err)
	}
	if _, err := tw.Publish(ctx, PublishByFile, filepath.Join(t.TempDir(), "missing.zip")); !errors.IsErrCode(err, errors.ErrCodeNotFound) {
		t.Errorf("missing file error = %v", err)
	}
	zipfile := writeZip(t, filepath.Join(t.TempDir(), "m.zip"), map[string]string{
		"ModelProperties.json": `{"id":"1","name":"m","scoreCodeType":"python"}`,
	})
	if _, err := tw.Publish(ctx, PublishByFile, zipfile); !errors.IsErrCode(err, errors.ErrCodeConfigInvalid) {
		t.Errorf("missing template error = %v", err)
	}
	if tw.builder.tags != nil {
		t.Errorf("build ran without template")
	}
}

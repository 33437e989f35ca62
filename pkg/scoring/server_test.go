package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mholt/archiver/v4"
)

// fakeRunner copies the input to the output once release is closed.
type fakeRunner struct {
	release chan struct{}
	jobs    chan Job
}

func (f *fakeRunner) Run(ctx context.Context, job Job, out io.Writer) error {
	f.jobs <- job
	select {
	case <-f.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	content, err := os.ReadFile(filepath.Join(job.Dir, job.Input))
	if err != nil {
		return err
	}
	io.WriteString(out, "scored\n")
	return os.WriteFile(filepath.Join(job.Dir, job.Output), content, 0o644)
}

func newTestServer(t *testing.T, files map[string]string) (*Server, *fakeRunner, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	writeModelZip(t, filepath.Join(dir, "model.zip"), files)
	opts := DefaultOptions()
	opts.ModelRepository = dir
	opts.SystemLog = filepath.Join(t.TempDir(), "system.log")
	server, err := NewServer(context.Background(), opts)
	if err != nil {
		t.Fatal(err)
	}
	runner := &fakeRunner{release: make(chan struct{}), jobs: make(chan Job, 8)}
	server.Runner = runner
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ts.Close()
		server.Wait()
	})
	return server, runner, ts
}

// writeModelZip packs files into a zip the way exported models are shipped.
func writeModelZip(t *testing.T, zipfile string, files map[string]string) {
	t.Helper()
	src := t.TempDir()
	if len(files) == 0 {
		files = map[string]string{"ModelProperties.json": "{}"}
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(src, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	diskfiles, err := archiver.FilesFromDisk(&archiver.FromDiskOptions{ClearAttributes: true}, map[string]string{src + string(os.PathSeparator): ""})
	if err != nil {
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
}

func upload(t *testing.T, url string, filename string, content string) *http.Response {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatal(err)
		}
		io.WriteString(fw, content)
	}
	mw.Close()
	resp, err := http.Post(url+"/executions", mw.FormDataContentType(), body)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	content, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(content)
}

func TestServer_Ping(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	status, body := get(t, ts.URL+"/")
	if status != http.StatusOK || body != "pong" {
		t.Errorf("GET / = %d %q, want 200 pong", status, body)
	}
}

func TestServer_ExecuteAndQuery(t *testing.T) {
	_, runner, ts := newTestServer(t, map[string]string{"m_score.py": ""})
	const data = "a,b\n1,2\n"

	resp := upload(t, ts.URL, "test.csv", data)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /executions = %d", resp.StatusCode)
	}
	created := StatusResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	if created.Status != http.StatusCreated || created.ID == "" {
		t.Fatalf("unexpected response %+v", created)
	}

	job := <-runner.jobs
	if job.Script != "m_score.py" || job.Input != created.ID+"_input.csv" {
		t.Errorf("unexpected job %+v", job)
	}
	if status, _ := get(t, ts.URL+"/query/"+created.ID); status != http.StatusNotFound {
		t.Errorf("query before completion = %d, want 404", status)
	}
	if status, _ := get(t, ts.URL+"/query/"+created.ID+".partial"); status != http.StatusNotFound {
		t.Errorf("query partial output = %d, want 404", status)
	}

	close(runner.release)
	var status int
	var body string
	for i := 0; i < 100; i++ {
		if status, body = get(t, ts.URL+"/query/"+created.ID); status == http.StatusOK {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if status != http.StatusOK || body != data {
		t.Fatalf("query = %d %q, want 200 %q", status, body, data)
	}

	for i := 0; i < 100; i++ {
		if _, body = get(t, ts.URL+"/query/"+created.ID+"/log"); strings.Contains(body, "Completed!") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !strings.HasPrefix(body, "Scoring...\n") || !strings.Contains(body, "scored\n") || !strings.Contains(body, "Completed!") {
		t.Errorf("unexpected log %q", body)
	}
}

func executeID(t *testing.T, url string, filename string, content string) string {
	t.Helper()
	resp := upload(t, url, filename, content)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("POST /executions = %d", resp.StatusCode)
	}
	created := StatusResponse{}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	return created.ID
}

func waitResult(t *testing.T, url string, id string) string {
	t.Helper()
	for i := 0; i < 100; i++ {
		if status, body := get(t, url+"/query/"+id); status == http.StatusOK {
			return body
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no result for %s", id)
	return ""
}

func TestServer_ExecuteKeepsUploadsApart(t *testing.T) {
	const script = "print('score')"
	server, runner, ts := newTestServer(t, map[string]string{"m_score.py": script})

	first := executeID(t, ts.URL, "data.csv", "A\n1\n")
	second := executeID(t, ts.URL, "data.csv", "B\n2\n")
	third := executeID(t, ts.URL, "m_score.py", "import os\n")
	if first == second || second == third {
		t.Fatalf("ids not unique: %s %s %s", first, second, third)
	}
	close(runner.release)

	tests := []struct {
		id   string
		want string
	}{
		{id: first, want: "A\n1\n"},
		{id: second, want: "B\n2\n"},
		{id: third, want: "import os\n"},
	}
	for _, tt := range tests {
		if got := waitResult(t, ts.URL, tt.id); got != tt.want {
			t.Errorf("result of %s = %q, want %q", tt.id, got, tt.want)
		}
	}
	content, err := os.ReadFile(filepath.Join(server.Dir, "m_score.py"))
	if err != nil || string(content) != script {
		t.Errorf("score script = %q, %v, want %q", content, err, script)
	}
	if server.Script != "m_score.py" {
		t.Errorf("Script = %s", server.Script)
	}
}

func TestServer_ExecuteWithoutFile(t *testing.T) {
	t.Run("no sample", func(t *testing.T) {
		_, _, ts := newTestServer(t, nil)
		resp := upload(t, ts.URL, "", "")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", resp.StatusCode)
		}
		got := StatusResponse{}
		json.NewDecoder(resp.Body).Decode(&got)
		if got.Status != http.StatusBadRequest || !strings.Contains(got.Message, "sample.csv") {
			t.Errorf("unexpected response %+v", got)
		}
	})
	t.Run("sample", func(t *testing.T) {
		_, runner, ts := newTestServer(t, map[string]string{"sample.csv": "x\n1\n"})
		resp := upload(t, ts.URL, "", "")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status = %d, want 201", resp.StatusCode)
		}
		if job := <-runner.jobs; job.Input != "sample.csv" {
			t.Errorf("input = %s, want sample.csv", job.Input)
		}
		close(runner.release)
	})
}

func TestServer_SystemLog(t *testing.T) {
	server, _, ts := newTestServer(t, nil)
	if status, _ := get(t, ts.URL+"/system/log"); status != http.StatusNotFound {
		t.Errorf("missing system log = %d, want 404", status)
	}
	if err := os.WriteFile(server.SystemLog, []byte("started\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if status, body := get(t, ts.URL+"/system/log"); status != http.StatusOK || body != "started\n" {
		t.Errorf("system log = %d %q", status, body)
	}
}

func TestServer_newID(t *testing.T) {
	at := time.Unix(1589212345, 123456000)
	s := &Server{now: func() time.Time { return at }}
	first, second := s.newID(), s.newID()
	if first != "1589212345.123456" {
		t.Errorf("first id = %s", first)
	}
	if second != "1589212345.123457" {
		t.Errorf("second id = %s", second)
	}
}

func TestNewServer(t *testing.T) {
	t.Run("missing dir", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ModelRepository = filepath.Join(t.TempDir(), "missing")
		if _, err := NewServer(context.Background(), opts); err == nil {
			t.Error("NewServer() expected error for missing directory")
		}
	})
	t.Run("missing zip", func(t *testing.T) {
		opts := DefaultOptions()
		opts.ModelRepository = t.TempDir()
		if _, err := NewServer(context.Background(), opts); err == nil {
			t.Error("NewServer() expected error for directory without zip")
		}
	})
	t.Run("extracts zip", func(t *testing.T) {
		dir := t.TempDir()
		writeModelZip(t, filepath.Join(dir, "gbm.zip"), map[string]string{
			"fileMetadata.json": `[{"role":"score","name":"gbm_score.py"},{"role":"model","name":"gbm.pickle"}]`,
			"gbm_score.py":      "print('ok')",
		})
		opts := DefaultOptions()
		opts.ModelRepository = dir
		server, err := NewServer(context.Background(), opts)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := os.Stat(filepath.Join(dir, "gbm_score.py")); err != nil {
			t.Errorf("score script not extracted: %v", err)
		}
		if server.Script != "gbm_score.py" || server.Model != "gbm.pickle" {
			t.Errorf("Script = %s, Model = %s", server.Script, server.Model)
		}
	})
}

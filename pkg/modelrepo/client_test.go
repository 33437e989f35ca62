package modelrepo

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"kubegems.io/modelimage/pkg/config"
	"kubegems.io/modelimage/pkg/errors"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cli, err := NewClient(context.Background(), config.ModelRepo{Host: srv.URL + "/", Token: "token"})
	if err != nil {
		t.Fatal(err)
	}
	return cli
}

func TestListModels(t *testing.T) {
	cli := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ModelsPath || r.URL.Query().Get("limit") != "999" || r.URL.Query().Get("start") != "0" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(ModelList{Items: []Model{
			{ID: "1", Name: "Gradient Boosting", ScoreCodeType: "ds2MultiType"},
			{ID: "2", Name: "python_iris", ScoreCodeType: "python"},
		}})
	})
	models, err := cli.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	want := []Model{{ID: "2", Name: "python_iris", ScoreCodeType: "python"}}
	if diff := cmp.Diff(want, Filter(models, "IRIS")); diff != "" {
		t.Errorf("Filter() mismatch (-want +got):\n%s", diff)
	}
	if got := Filter(models, "all"); len(got) != 2 || got[0].ID != "1" {
		t.Errorf("Filter(all) = %v", got)
	}
}

func TestGetModelNotFound(t *testing.T) {
	cli := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such model", http.StatusNotFound)
	})
	_, err := cli.GetModel(context.Background(), "missing")
	if !errors.IsErrCode(err, errors.ErrCodeRemoteAPI) {
		t.Fatalf("GetModel() error = %v, want REMOTE_API", err)
	}
}

func TestDownloadModel(t *testing.T) {
	cli := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "zip" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte("PK-zip"))
	})
	rc, _, err := cli.DownloadModel(context.Background(), "1234")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	content, _ := io.ReadAll(rc)
	if string(content) != "PK-zip" {
		t.Errorf("DownloadModel() = %q", content)
	}
}

func TestFetchAstore(t *testing.T) {
	astoreDir, dest := t.TempDir(), t.TempDir()
	cli := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.Header.Get("Accept") != MediaTypeAnalyticStore ||
			r.URL.Path != ModelsPath+"/1234/analyticStore/_ABC" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		go func() {
			time.Sleep(20 * time.Millisecond)
			os.WriteFile(filepath.Join(astoreDir, "_ABC"+AstoreExt), []byte("astore"), 0o644)
		}()
		w.WriteHeader(http.StatusAccepted)
	})
	into, err := cli.FetchAstore(context.Background(), "1234", "_ABC", astoreDir, dest, WaitOptions{Interval: 10 * time.Millisecond, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("FetchAstore() error = %v", err)
	}
	info, err := os.Stat(into)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o777 {
		t.Errorf("mode = %v, want 0777", info.Mode().Perm())
	}
}

func TestGenerateAstoreUnexpectedStatus(t *testing.T) {
	cli := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if err := cli.GenerateAstore(context.Background(), "1", "_A"); !errors.IsErrCode(err, errors.ErrCodeRemoteAPI) {
		t.Errorf("GenerateAstore() error = %v", err)
	}
}

func TestPasswordGrant(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(TokenPath, func(w http.ResponseWriter, r *http.Request) {
		r.ParseForm()
		if r.Form.Get("grant_type") != "password" || r.Form.Get("username") != "sasdemo" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"granted","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc(ModelsPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer granted" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"items":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cli, err := NewClient(context.Background(), config.ModelRepo{Host: srv.URL, Username: "sasdemo", Password: "pw", ClientID: "sas.ec"})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := cli.ListModels(context.Background()); err != nil {
		t.Errorf("ListModels() error = %v", err)
	}

	if _, err := NewClient(context.Background(), config.ModelRepo{Host: srv.URL, Username: "nobody"}); !errors.IsErrCode(err, errors.ErrCodeAuthFailed) {
		t.Errorf("NewClient() error = %v, want AUTH_FAILED", err)
	}
}

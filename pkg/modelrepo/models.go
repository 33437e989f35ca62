package modelrepo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/exp/slices"
	"kubegems.io/modelimage/pkg/errors"
)

const (
	ModelsPath = "/modelRepository/models"

	MediaTypeAnalyticStore = "application/vnd.sas.model.analytic.store+json"
)

type Model struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ModelVersionName string `json:"modelVersionName"`
	ProjectName      string `json:"projectName"`
	ScoreCodeType    string `json:"scoreCodeType"`
}

type ModelList struct {
	Start int     `json:"start"`
	Limit int     `json:"limit"`
	Count int     `json:"count"`
	Items []Model `json:"items"`
}

// Match reports whether the model name contains key, ignoring case.
// The key "all" matches every model.
func (m Model) Match(key string) bool {
	if key == "" || strings.EqualFold(key, "all") {
		return true
	}
	return strings.Contains(strings.ToLower(m.Name), strings.ToLower(key))
}

func Filter(models []Model, key string) []Model {
	ret := []Model{}
	for _, m := range models {
		if m.Match(key) {
			ret = append(ret, m)
		}
	}
	slices.SortStableFunc(ret, func(a, b Model) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
	return ret
}

func (t *Client) ListModels(ctx context.Context) ([]Model, error) {
	list := &ModelList{}
	query := url.Values{"limit": {"999"}, "start": {"0"}}
	if _, err := t.request(ctx, http.MethodGet, ModelsPath+"?"+query.Encode(), acceptJSON, nil, list); err != nil {
		return nil, err
	}
	return list.Items, nil
}

func (t *Client) GetModel(ctx context.Context, id string) (*Model, error) {
	model := &Model{}
	if _, err := t.request(ctx, http.MethodGet, ModelsPath+"/"+url.PathEscape(id), acceptJSON, nil, model); err != nil {
		return nil, err
	}
	if model.Name == "" {
		return nil, fmt.Errorf("model %s has no name", id)
	}
	return model, nil
}

// DownloadModel returns the zip package of the model and its size, -1 when unknown.
func (t *Client) DownloadModel(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	resp, err := t.request(ctx, http.MethodGet, ModelsPath+"/"+url.PathEscape(id)+"?format=zip", nil, nil, nil)
	if err != nil {
		return nil, -1, err
	}
	return resp.Body, resp.ContentLength, nil
}

// GenerateAstore asks the server to write the analytic store of a model
// into its astore directory. The server answers 202 and works asynchronously.
func (t *Client) GenerateAstore(ctx context.Context, id string, astoreName string) error {
	path := ModelsPath + "/" + url.PathEscape(id) + "/analyticStore/" + url.PathEscape(astoreName)
	header := map[string]string{"Accept": MediaTypeAnalyticStore}
	resp, err := t.request(ctx, http.MethodPut, path, header, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return errors.NewRemoteAPIError(resp.StatusCode, http.MethodPut, t.Addr+path, "expected 202 Accepted")
	}
	return nil
}

var acceptJSON = map[string]string{"Accept": "application/json"}

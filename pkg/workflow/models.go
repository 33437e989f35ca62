package workflow

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/jedib0t/go-pretty/v6/table"
	"kubegems.io/modelimage/pkg/modelpkg"
	"kubegems.io/modelimage/pkg/modelrepo"
)

// ListModels prints the models whose name contains key, or all of them for "all",
// together with the image each one would be published as.
func (w *Workflow) ListModels(ctx context.Context, key string) ([]modelrepo.Model, error) {
	logr.FromContextOrDiscard(ctx).V(1).Info("getting model list", "key", key)
	repo, err := w.repo(ctx)
	if err != nil {
		return nil, err
	}
	models, err := repo.ListModels(ctx)
	if err != nil {
		return nil, err
	}
	models = modelrepo.Filter(models, key)

	t := table.NewWriter()
	t.SetOutputMirror(w.out())
	t.AppendHeader(table.Row{"Name", "UUID", "Version", "Project", "Score Code Type", "Image URL (not verified)"})
	for _, m := range models {
		codeType := m.ScoreCodeType
		if codeType == "" {
			codeType = "(none)"
		}
		t.AppendRow(table.Row{m.Name, m.ID, m.ModelVersionName, m.ProjectName, codeType, modelpkg.ImageURL(w.Registry, m.Name, m.ID)})
	}
	t.Render()

	w.guide(
		"> modelimage publish id <uuid>",
		"> modelimage launch <image url>",
		"> modelimage score <image url> <input file>",
	)
	return models, nil
}

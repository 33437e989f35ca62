package workflow

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"kubegems.io/modelimage/pkg/errors"
	"kubegems.io/modelimage/pkg/modelpkg"
	"kubegems.io/modelimage/pkg/progress"
)

const (
	PublishByID   = "id"
	PublishByFile = "file"

	// VersionUnknown tags images of local packages, ModelProperties.json has no version.
	VersionUnknown = "na"

	BuildArgBaseRepo = "base_repo"
)

// Package is a model zip staged in its own build directory.
type Package struct {
	Zip           string
	Dir           string
	ID            string
	Name          string
	Version       string
	ScoreCodeType string
}

// Publish builds the image of a model, from the model repository when kind
// is "id" or from a local zip when kind is "file", pushes it and returns
// the latest image reference.
func (w *Workflow) Publish(ctx context.Context, kind string, idOrFile string) (string, error) {
	log := logr.FromContextOrDiscard(ctx)

	var pkg *Package
	var err error
	switch kind {
	case PublishByID:
		pkg, err = w.fetchPackage(ctx, idOrFile)
	case PublishByFile:
		pkg, err = w.stagePackage(ctx, idOrFile)
	default:
		return "", errors.NewParameterInvalidError(fmt.Sprintf("unknown publish type %q, expected id or file", kind))
	}
	if err != nil {
		return "", err
	}
	if pkg.ID == "" {
		return "", errors.NewParameterInvalidError("unable to retrieve model uuid")
	}
	if pkg.Name == "" {
		return "", errors.NewParameterInvalidError("unable to retrieve model name")
	}
	sum, err := modelpkg.Digest(pkg.Zip)
	if err != nil {
		return "", err
	}
	log.V(1).Info("model package", "id", pkg.ID, "name", pkg.Name, "version", pkg.Version, "scoreCodeType", pkg.ScoreCodeType, "digest", sum)

	template := filepath.Join(w.templatesDir(), modelpkg.TemplateFolder(pkg.ScoreCodeType))
	log.V(1).Info("merging template", "folder", template)
	if err := modelpkg.CopyTemplate(template, pkg.Dir); err != nil {
		return "", errors.NewConfigInvalidError(err.Error())
	}
	if err := w.insertDependencies(ctx, pkg); err != nil {
		return "", err
	}

	tagname := modelpkg.TagName(pkg.Name, pkg.ID)
	tags := []string{tagname + ":" + pkg.Version, tagname + ":latest"}
	w.printf("Building image...\n")
	imageID, err := w.Builder.Build(ctx, pkg.Dir, tags, map[string]string{BuildArgBaseRepo: w.Registry})
	if err != nil {
		return "", err
	}
	log.V(1).Info("image built", "id", imageID, "tags", tags)

	w.printf("Creating repo...\n")
	if err := w.Provider.EnsureRepository(ctx, tagname); err != nil {
		return "", err
	}
	w.printf("Pushing to repo...\n")
	imageURL, err := w.Builder.TagAndPush(ctx, imageID, w.Registry+tagname, pkg.Version, w.authConfig())
	if err != nil {
		return "", err
	}
	w.printf("Model image URL: %s\n", imageURL)
	w.guide(
		"> modelimage launch "+imageURL,
		"> modelimage score "+imageURL+" <input file>",
	)
	w.record("publish", pkg.ID, pkg.Version, imageURL, sum.String())
	return imageURL, nil
}

// fetchPackage downloads model id into images/model-<id>/, together with
// its analytic store when the model is an astore model.
func (w *Workflow) fetchPackage(ctx context.Context, id string) (*Package, error) {
	repo, err := w.repo(ctx)
	if err != nil {
		return nil, err
	}
	w.printf("Downloading model %s from model repository...\n", id)
	filename := "model-" + id + ".zip"
	dir, err := w.packageDir(filename)
	if err != nil {
		return nil, err
	}
	zipfile := filepath.Join(dir, filename)

	barctx, stopbar := context.WithCancel(ctx)
	mb := progress.NewMultiBar(w.out(), 40, 1)
	redrawn := make(chan struct{})
	go func() {
		mb.Run(barctx)
		close(redrawn)
	}()
	mb.Go(filename, "downloading", func(b *progress.Bar) error {
		rc, size, err := repo.DownloadModel(ctx, id)
		if err != nil {
			return err
		}
		defer rc.Close()
		f, err := os.Create(zipfile)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(b.WrapWriter(f, size, "downloading"), rc)
		return err
	})
	err = mb.Wait()
	stopbar()
	<-redrawn
	if err != nil {
		return nil, err
	}

	astore, err := modelpkg.AstoreName(ctx, zipfile)
	if err != nil {
		return nil, err
	}
	if astore != "" {
		w.printf("Copying astore file from directory %s\n", w.Config.AstoreDir)
		if _, err := repo.FetchAstore(ctx, id, astore, w.Config.AstoreDir, dir, w.Options.Astore); err != nil {
			return nil, err
		}
	}

	model, err := repo.GetModel(ctx, id)
	if err != nil {
		return nil, err
	}
	version := model.ModelVersionName
	if version == "" {
		version = VersionUnknown
	}
	return &Package{
		Zip:           zipfile,
		Dir:           dir,
		ID:            id,
		Name:          model.Name,
		Version:       version,
		ScoreCodeType: model.ScoreCodeType,
	}, nil
}

// stagePackage copies a local model zip into images/<zip name>/ and reads
// its identity from ModelProperties.json.
func (w *Workflow) stagePackage(ctx context.Context, file string) (*Package, error) {
	if _, err := os.Stat(file); err != nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf("file not exists: %s", file))
	}
	props, err := modelpkg.ReadProperties(ctx, file)
	if err != nil {
		return nil, errors.NewParameterInvalidError(fmt.Sprintf("unable to read model information from %s: %v", file, err))
	}
	dir, err := w.packageDir(filepath.Base(file))
	if err != nil {
		return nil, err
	}
	zipfile := filepath.Join(dir, filepath.Base(file))
	if err := modelpkg.CopyFile(file, zipfile); err != nil {
		return nil, err
	}
	return &Package{
		Zip:           zipfile,
		Dir:           dir,
		ID:            props.ID,
		Name:          props.Name,
		Version:       VersionUnknown,
		ScoreCodeType: props.ScoreCodeType,
	}, nil
}

// packageDir creates images/<lowercased zip name without extension>.
func (w *Workflow) packageDir(zipname string) (string, error) {
	stem := strings.ToLower(strings.TrimSuffix(zipname, filepath.Ext(zipname)))
	dir := filepath.Join(w.workDir(), ImagesDir, stem)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

func (w *Workflow) insertDependencies(ctx context.Context, pkg *Package) error {
	found, err := modelpkg.ExtractFile(ctx, pkg.Zip, modelpkg.RequirementsFile, pkg.Dir)
	if err != nil || !found {
		return err
	}
	w.printf("Installing dependencies defined from %s...\n", modelpkg.RequirementsFile)
	lines, err := modelpkg.InsertDependencies(pkg.Dir)
	if err != nil {
		return err
	}
	logr.FromContextOrDiscard(ctx).V(1).Info("inserted dependency lines in Dockerfile", "lines", lines)
	return nil
}

func (w *Workflow) templatesDir() string {
	if w.Config == nil || w.Config.TemplatesDir == "" {
		return "."
	}
	return w.Config.TemplatesDir
}

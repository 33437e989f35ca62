package modelpkg

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver/v4"
	"github.com/opencontainers/go-digest"
)

const (
	PropertiesFile     = "ModelProperties.json"
	AstoreMetadataFile = "AstoreMetadata.json"
	RequirementsFile   = "requirements.json"
)

// Properties is the subset of ModelProperties.json needed to build an image.
type Properties struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	ScoreCodeType    string `json:"scoreCodeType"`
	ModelVersionName string `json:"modelVersionName,omitempty"`
}

// Entries returns the names of all entries of the zip file, in archive order.
func Entries(ctx context.Context, zipfile string) ([]string, error) {
	f, err := os.Open(zipfile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names := []string{}
	err = archiver.Zip{}.Extract(ctx, f, nil, func(ctx context.Context, af archiver.File) error {
		names = append(names, af.NameInArchive)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read zip %s: %w", zipfile, err)
	}
	return names, nil
}

// ReadFile returns the content of the root entry name, or os.ErrNotExist.
func ReadFile(ctx context.Context, zipfile string, name string) ([]byte, error) {
	f, err := os.Open(zipfile)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var content []byte
	err = archiver.Zip{}.Extract(ctx, f, []string{name}, func(ctx context.Context, af archiver.File) error {
		if af.NameInArchive != name || af.IsDir() {
			return nil
		}
		rc, err := af.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		content, err = io.ReadAll(rc)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %s from %s: %w", name, zipfile, err)
	}
	if content == nil {
		return nil, fmt.Errorf("%s in %s: %w", name, zipfile, os.ErrNotExist)
	}
	return content, nil
}

func ReadProperties(ctx context.Context, zipfile string) (*Properties, error) {
	content, err := ReadFile(ctx, zipfile, PropertiesFile)
	if err != nil {
		return nil, err
	}
	props := &Properties{}
	if err := json.Unmarshal(content, props); err != nil {
		return nil, fmt.Errorf("parse %s: %w", PropertiesFile, err)
	}
	return props, nil
}

// AstoreName returns the analytic store name of an astore model,
// the first root entry starting with "_", or "" for other models.
func AstoreName(ctx context.Context, zipfile string) (string, error) {
	names, err := Entries(ctx, zipfile)
	if err != nil {
		return "", err
	}
	if !contains(names, AstoreMetadataFile) {
		return "", nil
	}
	for _, name := range names {
		if strings.HasPrefix(name, "_") {
			return name, nil
		}
	}
	return "", nil
}

// ExtractFile writes the root entry name into dir. It reports false when the zip has no such entry.
func ExtractFile(ctx context.Context, zipfile string, name string, dir string) (bool, error) {
	content, err := ReadFile(ctx, zipfile, name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
		return false, err
	}
	return true, nil
}

// Extract unpacks every entry of the zip file into dir.
func Extract(ctx context.Context, zipfile string, dir string) error {
	f, err := os.Open(zipfile)
	if err != nil {
		return err
	}
	defer f.Close()

	return archiver.Zip{}.Extract(ctx, f, nil, func(ctx context.Context, af archiver.File) error {
		if clean := filepath.Clean(af.NameInArchive); clean == "." || clean == "/" {
			return nil
		}
		nameinlocal := filepath.Join(dir, af.NameInArchive)
		if !strings.HasPrefix(nameinlocal, filepath.Clean(dir)+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in zip: %s", af.NameInArchive)
		}
		if af.IsDir() {
			return os.MkdirAll(nameinlocal, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(nameinlocal), 0o755); err != nil {
			return err
		}
		srcfile, err := af.Open()
		if err != nil {
			return err
		}
		defer srcfile.Close()

		intofile, err := os.OpenFile(nameinlocal, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return err
		}
		defer intofile.Close()

		_, err = io.Copy(intofile, srcfile)
		return err
	})
}

// Digest returns the sha256 digest of the file.
func Digest(file string) (digest.Digest, error) {
	f, err := os.Open(file)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return digest.FromReader(f)
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

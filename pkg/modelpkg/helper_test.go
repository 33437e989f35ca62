package modelpkg

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/mholt/archiver/v4"
)

// writeZip creates a zip at dir/name holding files at its root.
func writeZip(t *testing.T, dir string, name string, files map[string]string) string {
	t.Helper()
	src := t.TempDir()
	for fname, content := range files {
		if err := os.WriteFile(filepath.Join(src, fname), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	diskfiles, err := archiver.FilesFromDisk(&archiver.FromDiskOptions{ClearAttributes: true}, map[string]string{src + string(os.PathSeparator): ""})
	if err != nil {
		t.Fatal(err)
	}
	zipfile := filepath.Join(dir, name)
	out, err := os.Create(zipfile)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	if err := (archiver.Zip{}).Archive(context.Background(), out, diskfiles); err != nil {
		t.Fatal(err)
	}
	return zipfile
}

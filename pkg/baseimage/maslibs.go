package baseimage

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"
	"kubegems.io/modelimage/pkg/errors"
	"kubegems.io/modelimage/pkg/modelpkg"
)

const (
	TKLibsList = "tklibs.list"

	masPyBinary = "maspy"
)

// Locations of the MAS runtime inside a Viya installation.
var (
	viyaBinDir    = filepath.Join("home", "SASFoundation", "utilities", "bin")
	viyaLibDir    = filepath.Join("home", "SASFoundation", "sasexe")
	viyaScriptDir = filepath.Join("home", "SASFoundation", "misc", "embscoreeng")
)

// PrepareMasLibs copies the files named in <baseDir>/tklibs.list from the
// Viya installation at installDir into the maspy build context: the maspy
// binary and tk libraries into files/libs, python scripts into files/model/maspy.
// Missing tk libraries are only reported, a missing binary or script fails.
func PrepareMasLibs(ctx context.Context, installDir, baseDir string) ([]string, error) {
	log := logr.FromContextOrDiscard(ctx)
	binPath := filepath.Join(installDir, viyaBinDir)
	libPath := filepath.Join(installDir, viyaLibDir)
	scriptPaths := []string{
		filepath.Join(installDir, viyaScriptDir),
		filepath.Join(installDir, viyaScriptDir, "maspy"),
	}
	libsDest := filepath.Join(baseDir, FilesDir, "libs")
	scriptsDest := filepath.Join(baseDir, FilesDir, "model", "maspy")

	if !isDir(libPath) || !isDir(scriptPaths[0]) {
		return nil, errors.NewConfigInvalidError(fmt.Sprintf("wrong Viya installation directory %s", installDir))
	}
	list, err := os.Open(filepath.Join(baseDir, TKLibsList))
	if err != nil {
		return nil, errors.NewNotFoundError(fmt.Sprintf("could not find file %s", filepath.Join(baseDir, TKLibsList)))
	}
	defer list.Close()
	for _, dir := range []string{libsDest, scriptsDest} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	missing := []string{}
	scanner := bufio.NewScanner(list)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		switch {
		case name == masPyBinary:
			found, err := copyFirst(name, libsDest, binPath)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, errors.NewNotFoundError(fmt.Sprintf("%s not found in %s", name, binPath))
			}
		case strings.HasSuffix(name, ".py"):
			found, err := copyFirst(name, scriptsDest, scriptPaths...)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, errors.NewNotFoundError(fmt.Sprintf("%s not found in %s", name, scriptPaths[0]))
			}
		default:
			found, err := copyFirst(name, libsDest, libPath)
			if err != nil {
				return nil, err
			}
			foundso, err := copyFirst(name+".so", libsDest, libPath)
			if err != nil {
				return nil, err
			}
			if !found && !foundso {
				log.Info("tk library not found", "name", name)
				missing = append(missing, name)
			}
		}
	}
	return missing, scanner.Err()
}

// copyFirst copies name from the first of dirs holding it into dest.
func copyFirst(name string, dest string, dirs ...string) (bool, error) {
	for _, dir := range dirs {
		src := filepath.Join(dir, name)
		if info, err := os.Stat(src); err != nil || !info.Mode().IsRegular() {
			continue
		}
		return true, modelpkg.CopyFile(src, filepath.Join(dest, name))
	}
	return false, nil
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

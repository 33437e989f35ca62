package scoring

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	containerWrapper = "ContainerWrapper.py"
	fileMetadata     = "fileMetadata.json"
	defaultScore     = "_score.py"

	roleScore = "score"
	roleModel = "model"
)

type fileRole struct {
	Role string `json:"role"`
	Name string `json:"name"`
}

// FindScoreScript picks the script that scores the model in dir:
// ContainerWrapper.py, the "score" entry of fileMetadata.json, the first
// other file ending in score.py, and finally _score.py.
func FindScoreScript(dir string) string {
	if _, err := os.Stat(filepath.Join(dir, containerWrapper)); err == nil {
		return containerWrapper
	}
	if names := namesByRole(dir, roleScore); len(names) > 0 {
		return names[0]
	}
	for _, name := range listFiles(dir) {
		if strings.HasSuffix(name, "score.py") && name != defaultScore {
			return name
		}
	}
	return defaultScore
}

// FindModel returns the "model" entry of fileMetadata.json, or "".
func FindModel(dir string) string {
	if names := namesByRole(dir, roleModel); len(names) > 0 {
		return names[0]
	}
	return ""
}

func namesByRole(dir string, role string) []string {
	var metadata string
	for _, name := range listFiles(dir) {
		if strings.HasSuffix(name, fileMetadata) {
			metadata = name
			break
		}
	}
	if metadata == "" {
		return nil
	}
	content, err := os.ReadFile(filepath.Join(dir, metadata))
	if err != nil {
		return nil
	}
	roles := []fileRole{}
	if err := json.Unmarshal(content, &roles); err != nil {
		return nil
	}
	names := []string{}
	for _, r := range roles {
		if r.Role == role {
			names = append(names, r.Name)
		}
	}
	return names
}

func listFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	names := []string{}
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

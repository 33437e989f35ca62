package modelpkg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	TemplateDefault = "template"
	TemplatePython  = "template-py"
	TemplateR       = "template-r"
)

// Requirement is one entry of requirements.json.
type Requirement struct {
	Step    string `json:"step"`
	Command string `json:"command"`
}

// TemplateFolder maps a score code type to its template folder name.
// Unknown types use the default template.
func TemplateFolder(scoreCodeType string) string {
	switch scoreCodeType {
	case "python", "Python":
		return TemplatePython
	case "R", "r":
		return TemplateR
	default:
		return TemplateDefault
	}
}

// DependencyLines renders requirements as Dockerfile instructions.
func DependencyLines(reqs []Requirement) string {
	buf := strings.Builder{}
	for _, req := range reqs {
		buf.WriteString("#" + req.Step + "\n")
		buf.WriteString("RUN " + req.Command + "\n")
	}
	return buf.String()
}

// InsertDependencies reads requirements.json in dir and inserts its commands
// before every ENTRYPOINT line of dir/Dockerfile. It returns the inserted lines,
// or "" when dir has no requirements.json.
func InsertDependencies(dir string) (string, error) {
	content, err := os.ReadFile(filepath.Join(dir, RequirementsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	reqs := []Requirement{}
	if err := json.Unmarshal(content, &reqs); err != nil {
		return "", fmt.Errorf("parse %s: %w", RequirementsFile, err)
	}
	lines := DependencyLines(reqs)

	dockerfile := filepath.Join(dir, "Dockerfile")
	raw, err := os.ReadFile(dockerfile)
	if err != nil {
		return "", err
	}
	buf := &bytes.Buffer{}
	for _, line := range strings.SplitAfter(string(raw), "\n") {
		if strings.HasPrefix(line, "ENTRYPOINT") {
			buf.WriteString(lines)
		}
		buf.WriteString(line)
	}
	if err := os.WriteFile(dockerfile, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	return lines, nil
}

// CopyTemplate copies the regular files of src, not recursing, into dest.
// src must contain a Dockerfile.
func CopyTemplate(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("template folder %s does not exist", src)
	}
	if _, err := os.Stat(filepath.Join(src, "Dockerfile")); err != nil {
		return fmt.Errorf("there is no Dockerfile under template folder %s", src)
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := CopyFile(filepath.Join(src, entry.Name()), filepath.Join(dest, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func CopyFile(src, dest string) error {
	content, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dest, content, info.Mode().Perm())
}

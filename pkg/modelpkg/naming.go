package modelpkg

import (
	"strings"

	"github.com/gosimple/slug"
)

const (
	tagNameLength    = 8
	// leaves room for the 7 character deployment suffix within 63
	launchNameLength = 56
)

// TagName is the image repository name of a model: the first eight
// characters of its slugified name, an underscore and the model id.
func TagName(modelName, modelID string) string {
	return truncate(slug.Make(modelName), tagNameLength) + "_" + modelID
}

// LaunchName derives the application name from an image reference
// such as "registry/repo/my-model_1234:latest". The name is a DNS label
// starting with a letter.
func LaunchName(imageURL string) string {
	name := imageURL
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.LastIndex(name, "_"); i >= 0 {
		name = name[:i]
	}
	name = strings.ReplaceAll(slug.Make(name), "_", "-")
	if name == "" || name[0] < 'a' || name[0] > 'z' {
		name = "model-" + name
	}
	return truncate(name, launchNameLength)
}

// ImageURL is the latest image reference of a model under registry prefix baseRepo.
func ImageURL(baseRepo, modelName, modelID string) string {
	return baseRepo + TagName(modelName, modelID) + ":latest"
}

func truncate(s string, n int) string {
	if len(s) > n {
		s = s[:n]
	}
	return strings.TrimRight(s, "-_")
}

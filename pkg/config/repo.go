package config

import "strings"

// ConvertBaseRepo normalizes a registry address into an image name prefix:
// lowercased, without scheme and with a trailing slash.
func ConvertBaseRepo(registry string) string {
	repo := strings.ToLower(registry)
	switch {
	case strings.HasPrefix(repo, "http://"):
		repo = repo[len("http://"):]
	case strings.HasPrefix(repo, "https://"):
		repo = repo[len("https://"):]
	}
	if !strings.HasSuffix(repo, "/") {
		repo += "/"
	}
	return repo
}

package forge

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DetectRepository finds the Git checkout containing path and returns its
// "owner/name" identifier from the origin remote. Used by CLI commands to
// default --repo to the current checkout.
func DetectRepository(path string) (string, error) {
	gitDir, err := findGitDir(path)
	if err != nil {
		return "", err
	}

	cmd := exec.Command("git", "-C", gitDir, "remote", "get-url", "origin")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get remote URL: %w", err)
	}

	owner, name, err := parseRemoteURL(strings.TrimSpace(string(output)))
	if err != nil {
		return "", err
	}
	return owner + "/" + name, nil
}

// DetectCurrentRepository detects the repository for the working directory
func DetectCurrentRepository() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return DetectRepository(cwd)
}

// findGitDir finds the .git directory starting from the given path
func findGitDir(startPath string) (string, error) {
	path := startPath
	for {
		gitPath := filepath.Join(path, ".git")
		if info, err := os.Stat(gitPath); err == nil && info.IsDir() {
			return path, nil
		}

		parent := filepath.Dir(path)
		if parent == path {
			return "", fmt.Errorf("not a git repository")
		}
		path = parent
	}
}

// parseRemoteURL parses a Git remote URL to extract owner and repo name
// Supports both HTTPS and SSH formats:
// - https://github.com/owner/repo.git
// - git@github.com:owner/repo.git
func parseRemoteURL(url string) (owner, repo string, err error) {
	url = strings.TrimSpace(url)
	url = strings.TrimSuffix(url, ".git")

	// SSH format: git@github.com:owner/repo
	if strings.HasPrefix(url, "git@") {
		parts := strings.Split(url, ":")
		if len(parts) != 2 {
			return "", "", fmt.Errorf("invalid SSH URL format: %s", url)
		}
		pathParts := strings.Split(parts[1], "/")
		if len(pathParts) != 2 {
			return "", "", fmt.Errorf("invalid repository path: %s", parts[1])
		}
		return pathParts[0], pathParts[1], nil
	}

	// HTTPS format: https://github.com/owner/repo
	if strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "http://") {
		url = strings.TrimPrefix(url, "https://")
		url = strings.TrimPrefix(url, "http://")

		parts := strings.Split(url, "/")
		if len(parts) < 3 {
			return "", "", fmt.Errorf("invalid HTTPS URL format: %s", url)
		}
		return parts[1], parts[2], nil
	}

	return "", "", fmt.Errorf("unsupported URL format: %s", url)
}

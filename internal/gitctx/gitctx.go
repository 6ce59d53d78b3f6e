package gitctx

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
)

// RepoMeta contains git repository metadata.
type RepoMeta struct {
	Root   string
	Head   string
	Branch string
	// Slug is the origin remote's path, e.g. "owner/repo" or "group/sub/repo".
	Slug string
}

// GetRepoMeta collects repository metadata for the repository containing dir.
// An empty dir means the process working directory. Only a missing
// repository is an error; HEAD, branch and remote are best effort.
func GetRepoMeta(ctx context.Context, dir string) (RepoMeta, error) {
	root, err := gitOutput(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return RepoMeta{}, fmt.Errorf("not a git repository: %w", err)
	}
	head, err := gitOutput(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		head = "" // new repo with no commits
	}
	branch, err := gitOutput(ctx, dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		branch = ""
	}
	meta := RepoMeta{
		Root:   strings.TrimSpace(root),
		Head:   strings.TrimSpace(head),
		Branch: strings.TrimSpace(branch),
	}
	if url, err := gitOutput(ctx, dir, "remote", "get-url", "origin"); err == nil {
		if slug, err := ParseRemoteURL(strings.TrimSpace(url)); err == nil {
			meta.Slug = slug
		}
	}
	return meta, nil
}

var (
	httpsRemoteRe = regexp.MustCompile(`^(?:https?|ssh)://(?:[^@/]+@)?[^/]+/(.+)$`)
	scpRemoteRe   = regexp.MustCompile(`^[^@\s]+@[^:\s]+:(.+)$`)
)

// ParseRemoteURL extracts the repository path from a git remote URL. GitLab
// subgroups are kept, so the result may have more than two segments.
func ParseRemoteURL(url string) (string, error) {
	url = strings.TrimSuffix(strings.TrimSpace(url), "/")
	url = strings.TrimSuffix(url, ".git")

	var path string
	if m := httpsRemoteRe.FindStringSubmatch(url); len(m) == 2 {
		path = m[1]
	} else if m := scpRemoteRe.FindStringSubmatch(url); len(m) == 2 {
		path = m[1]
	}
	path = strings.Trim(path, "/")
	if strings.Count(path, "/") < 1 {
		return "", fmt.Errorf("cannot parse owner/repo from remote URL: %s", url)
	}
	return path, nil
}

// SplitSlug splits "owner/repo" into its parts. Anything other than exactly
// two non-empty segments is an error.
func SplitSlug(slug string) (owner, repo string, err error) {
	parts := strings.Split(slug, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository %q is not of the form owner/repo", slug)
	}
	return parts[0], parts[1], nil
}

func gitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return string(out), fmt.Errorf("%s: %s", err, string(exitErr.Stderr))
		}
		return "", err
	}
	return string(out), nil
}

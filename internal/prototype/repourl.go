package prototype

import (
	"fmt"
	"regexp"
	"strings"
)

var ownerRepoPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]{0,38})$`)
var repoNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,100}$`)

// RepoURLError reports a repository URL that is not a GitHub repository.
type RepoURLError struct {
	URL    string
	Reason string
}

func (e *RepoURLError) Error() string {
	return fmt.Sprintf("invalid GitHub repository URL %q: %s", e.URL, e.Reason)
}

// ParseGitHubURL extracts owner and repository name from
// https://github.com/owner/repo(.git) and git@github.com:owner/repo.git forms.
func ParseGitHubURL(raw string) (owner, repo string, err error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "/")
	s = strings.TrimSuffix(s, ".git")

	var rest string
	switch {
	case strings.HasPrefix(s, "git@github.com:"):
		rest = strings.TrimPrefix(s, "git@github.com:")
	case strings.HasPrefix(s, "https://github.com/"):
		rest = strings.TrimPrefix(s, "https://github.com/")
	case strings.HasPrefix(s, "http://github.com/"):
		rest = strings.TrimPrefix(s, "http://github.com/")
	default:
		return "", "", &RepoURLError{URL: raw, Reason: "unsupported host or scheme"}
	}

	parts := strings.Split(rest, "/")
	if len(parts) < 2 {
		return "", "", &RepoURLError{URL: raw, Reason: "expected owner/repo"}
	}
	owner, repo = parts[0], parts[1]
	if !ownerRepoPattern.MatchString(owner) {
		return "", "", &RepoURLError{URL: raw, Reason: "invalid owner"}
	}
	if !repoNamePattern.MatchString(repo) || repo == "." || repo == ".." {
		return "", "", &RepoURLError{URL: raw, Reason: "invalid repository name"}
	}
	return owner, repo, nil
}

// CloneURL returns the canonical HTTPS clone URL for owner/repo.
func CloneURL(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
}

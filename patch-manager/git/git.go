package git

import (
	"context"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const (
	Binary        = "git"
	DefaultRemote = "origin"
)

// Repo wraps the git commands run against one working tree.
type Repo struct {
	Path   string
	runner Runner
}

func Open(path string, runner Runner) *Repo {
	return &Repo{Path: path, runner: runner}
}

func Clone(ctx context.Context, runner Runner, remote string, path string) (*Repo, error) {
	if _, err := runner.Run(ctx, filepath.Dir(path), Binary, "clone", remote, path); err != nil {
		return nil, errors.Wrapf(err, "failed to clone into %s", path)
	}
	return Open(path, runner), nil
}

func (r *Repo) git(ctx context.Context, args ...string) (string, error) {
	return r.runner.Run(ctx, r.Path, Binary, args...)
}

// UpdateFromRemote fetches tags from origin and resets branch to tag.
func (r *Repo) UpdateFromRemote(ctx context.Context, branch string, tag string) error {
	if _, err := r.git(ctx, "fetch", "--tags", DefaultRemote); err != nil {
		return errors.Wrap(err, "failed to fetch remote")
	}
	if _, err := r.git(ctx, "checkout", branch); err != nil {
		return errors.Wrapf(err, "failed to check out %s", branch)
	}
	if _, err := r.git(ctx, "reset", "--hard", tag); err != nil {
		return errors.Wrapf(err, "failed to reset %s to %s", branch, tag)
	}
	return nil
}

// CommitList returns the ids of commits touching paths, oldest first.
// Empty since or author values do not filter.
func (r *Repo) CommitList(ctx context.Context, paths []string, since string, author string) ([]string, error) {
	args := []string{"log", "--reverse", "--format=%H"}
	if since != "" {
		args = append(args, "--since="+since)
	}
	if author != "" {
		args = append(args, "--author="+author)
	}
	args = append(args, "--")
	args = append(args, paths...)
	out, err := r.git(ctx, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list commits")
	}
	return strings.Fields(out), nil
}

// FormatPatches writes one numbered patch file per commit into dir and
// returns the created paths in commit order.
func (r *Repo) FormatPatches(ctx context.Context, commits []string, dir string) ([]string, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(commits))
	for i, commit := range commits {
		out, err := r.git(ctx, "format-patch", "-1", commit,
			"--start-number", strconv.Itoa(i+1), "--output-directory", dir)
		if err != nil {
			return paths, errors.Wrapf(err, "failed to create patch for %s", commit)
		}
		if out != "" {
			paths = append(paths, out)
		}
	}
	return paths, nil
}

func (r *Repo) SetIdentity(ctx context.Context, name string, email string) error {
	if _, err := r.git(ctx, "config", "user.name", name); err != nil {
		return errors.Wrap(err, "failed to set user.name")
	}
	if _, err := r.git(ctx, "config", "user.email", email); err != nil {
		return errors.Wrap(err, "failed to set user.email")
	}
	return nil
}

func (r *Repo) Add(ctx context.Context, pathspecs ...string) error {
	args := append([]string{"add", "--"}, pathspecs...)
	if _, err := r.git(ctx, args...); err != nil {
		return errors.Wrap(err, "failed to add files")
	}
	return nil
}

func (r *Repo) Commit(ctx context.Context, message string) error {
	if _, err := r.git(ctx, "commit", "-m", message); err != nil {
		return errors.Wrap(err, "failed to commit")
	}
	return nil
}

// Push pushes HEAD to branch on the given remote URL.
func (r *Repo) Push(ctx context.Context, remoteURL string, branch string) error {
	if _, err := r.git(ctx, "push", remoteURL, "HEAD:"+branch); err != nil {
		return errors.Wrapf(err, "failed to push %s", branch)
	}
	return nil
}

// WithCredentials returns rawURL with username and password set as its
// userinfo.
func WithCredentials(rawURL string, username string, password string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", errors.Wrap(err, "invalid remote url")
	}
	if u.Host == "" {
		return "", errors.Errorf("remote url %q has no host", u.Redacted())
	}
	u.User = url.UserPassword(username, password)
	return u.String(), nil
}

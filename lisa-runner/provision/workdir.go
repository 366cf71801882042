package provision

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// WorkDirPrefix names the per-worker copies of the LISA tree: lisa1, lisa2, ...
const WorkDirPrefix = "lisa"

// PrepareWorkFolder wipes work and fills it with count copies of the LISA
// tree at root. Paths under root listed in exclude (the work folder itself
// when it lives inside root, the results folder) are not copied.
func (p *Provisioner) PrepareWorkFolder(ctx context.Context, root, work string, count int, exclude ...string) ([]string, error) {
	if err := p.fs.RemoveAll(work); err != nil {
		return nil, fmt.Errorf("failed to remove work folder %s: %w", work, err)
	}
	if err := p.fs.MkdirAll(work, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work folder %s: %w", work, err)
	}

	skip := map[string]bool{filepath.Clean(work): true}
	for _, e := range exclude {
		skip[filepath.Clean(e)] = true
	}

	dirs := make([]string, count)
	for i := range dirs {
		dst := filepath.Join(work, WorkDirPrefix+strconv.Itoa(i+1))
		if err := copyTree(ctx, p.fs, root, dst, skip); err != nil {
			return nil, fmt.Errorf("failed to copy LISA tree to %s: %w", dst, err)
		}
		dirs[i] = dst
		p.log.Debug("Copied LISA tree", "dst", dst)
	}
	return dirs, nil
}

// ListWorkDirs returns the directories directly under work, in name order.
func ListWorkDirs(fs afero.Fs, work string) ([]string, error) {
	entries, err := afero.ReadDir(fs, work)
	if err != nil {
		return nil, fmt.Errorf("failed to list work folder %s: %w", work, err)
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(work, e.Name()))
		}
	}
	sort.Slice(dirs, func(i, j int) bool { return workDirLess(dirs[i], dirs[j]) })
	return dirs, nil
}

// workDirLess orders lisa2 before lisa10.
func workDirLess(a, b string) bool {
	na, okA := workDirIndex(a)
	nb, okB := workDirIndex(b)
	if okA && okB && na != nb {
		return na < nb
	}
	return a < b
}

func workDirIndex(path string) (int, bool) {
	name := filepath.Base(path)
	if !strings.HasPrefix(name, WorkDirPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(name, WorkDirPrefix))
	return n, err == nil
}

func copyTree(ctx context.Context, fs afero.Fs, src, dst string, skip map[string]bool) error {
	return afero.Walk(fs, src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if skip[filepath.Clean(path)] {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return fs.MkdirAll(target, info.Mode().Perm()|0o700)
		}
		return copyFile(ctx, fs, path, target)
	})
}

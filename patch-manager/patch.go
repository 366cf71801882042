package patchmgr

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var ErrMalformedPatch = errors.New("malformed patch")

// NormalizePatch converts CRLF line endings to LF and rewrites upstream
// source paths to their project paths so the patch applies in the project
// tree.
func NormalizePatch(fs afero.Fs, path string, filesMap map[string]string) error {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return errors.Wrap(err, "failed to read patch")
	}
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	data = []byte(rewritePaths(string(data), filesMap))
	return errors.Wrap(afero.WriteFile(fs, path, data, 0o644), "failed to write patch")
}

// rewritePaths replaces the a/ and b/ prefixed diff paths. Longer upstream
// paths go first so a path is never clobbered by one of its prefixes.
func rewritePaths(patch string, filesMap map[string]string) string {
	upstream := make([]string, 0, len(filesMap))
	for src := range filesMap {
		upstream = append(upstream, src)
	}
	sort.Slice(upstream, func(i, j int) bool {
		if len(upstream[i]) != len(upstream[j]) {
			return len(upstream[i]) > len(upstream[j])
		}
		return upstream[i] < upstream[j]
	})

	pairs := make([]string, 0, len(upstream)*4)
	for _, src := range upstream {
		dst := filesMap[src]
		pairs = append(pairs, "a/"+src, "a/"+dst, "b/"+src, "b/"+dst)
	}
	return strings.NewReplacer(pairs...).Replace(patch)
}

// CommitInfo reads the upstream commit id and the subject of a patch
// produced by git format-patch.
func CommitInfo(fs afero.Fs, path string) (id string, desc string, err error) {
	f, err := fs.Open(path)
	if err != nil {
		return "", "", errors.Wrap(err, "failed to open patch")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	inSubject := false
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		switch {
		case line == "":
			// end of the mail headers
			if id == "" || desc == "" {
				return "", "", errors.Wrap(ErrMalformedPatch, path)
			}
			return id, desc, nil
		case id == "" && strings.HasPrefix(line, "From "):
			fields := strings.Fields(line)
			if len(fields) > 1 {
				id = fields[1]
			}
			inSubject = false
		case strings.HasPrefix(line, "Subject:"):
			desc = stripSubjectPrefix(strings.TrimSpace(strings.TrimPrefix(line, "Subject:")))
			inSubject = true
		case inSubject && (strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")):
			desc += " " + strings.TrimSpace(line)
		default:
			inSubject = false
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", errors.Wrap(err, "failed to read patch")
	}
	if id == "" || desc == "" {
		return "", "", errors.Wrap(ErrMalformedPatch, path)
	}
	return id, desc, nil
}

func stripSubjectPrefix(subject string) string {
	if strings.HasPrefix(subject, "[") {
		if end := strings.Index(subject, "]"); end >= 0 {
			return strings.TrimSpace(subject[end+1:])
		}
	}
	return subject
}

// MoveTo moves src into dir, replacing an entry of the same name.
func MoveTo(fs afero.Fs, src string, dir string) (string, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := fs.RemoveAll(dst); err != nil && !os.IsNotExist(err) {
		return "", err
	}
	if err := fs.Rename(src, dst); err != nil {
		return "", err
	}
	return dst, nil
}

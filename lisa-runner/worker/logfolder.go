package worker

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

var ErrNoLogFolder = errors.New("no log folder found")

// LatestLogFolder returns the most recently modified directory directly under
// root whose name contains the suite base name (the file name without its
// extension). Folders named after the suite itself (<base>, <base>-… or
// <base>_<digit>…) win over folders that merely contain the base name, so
// NET_Tests does not pick up a newer NET_Tests_IPv6 folder.
func LatestLogFolder(fs afero.Fs, root, suite string) (string, error) {
	base := strings.TrimSuffix(filepath.Base(suite), filepath.Ext(suite))
	entries, err := afero.ReadDir(fs, root)
	if err != nil {
		return "", fmt.Errorf("%w for %s: %w", ErrNoLogFolder, suite, err)
	}

	var latest, latestOwn string
	var latestMod, latestOwnMod int64
	for _, e := range entries {
		if !e.IsDir() || !strings.Contains(e.Name(), base) {
			continue
		}
		mod := e.ModTime().UnixNano()
		if latest == "" || mod > latestMod {
			latest, latestMod = e.Name(), mod
		}
		if ownFolder(e.Name(), base) && (latestOwn == "" || mod > latestOwnMod) {
			latestOwn, latestOwnMod = e.Name(), mod
		}
	}
	if latestOwn != "" {
		latest = latestOwn
	}
	if latest == "" {
		return "", fmt.Errorf("%w for %s under %s", ErrNoLogFolder, suite, root)
	}
	return filepath.Join(root, latest), nil
}

func ownFolder(name, base string) bool {
	rest, ok := strings.CutPrefix(name, base)
	switch {
	case !ok:
		return false
	case rest == "", strings.HasPrefix(rest, "-"):
		return true
	case strings.HasPrefix(rest, "_") && len(rest) > 1:
		return rest[1] >= '0' && rest[1] <= '9'
	}
	return false
}

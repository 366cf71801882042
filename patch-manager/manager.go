package patchmgr

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/lis-test/infra/patch-manager/git"
)

// PatchBinary applies normalised patches inside a project clone.
const PatchBinary = "patch"

var addPathspecs = []string{"*.h", "*.c"}

type Manager struct {
	cfg    *Config
	fs     afero.Fs
	runner git.Runner
	log    log.Logger
}

func NewManager(cfg *Config, runner git.Runner, fs afero.Fs, logger log.Logger) *Manager {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if runner == nil {
		runner = git.NewExecRunner()
	}
	if logger == nil {
		logger = log.Root()
	}
	return &Manager{cfg: cfg, fs: fs, runner: runner, log: logger}
}

// Run validates the configuration for command and executes it. Serving is
// handled by the server package.
func (m *Manager) Run(ctx context.Context, command string) error {
	if err := m.cfg.Validate(command); err != nil {
		return err
	}
	switch command {
	case CommandCreate:
		return m.Create(ctx)
	case CommandApply:
		return m.Apply(ctx)
	case CommandCompile:
		return m.Compile(ctx)
	case CommandCommit:
		return m.Commit(ctx)
	default:
		return errors.Errorf("invalid command - %s", command)
	}
}

// Create writes one patch per upstream commit touching the mapped files.
func (m *Manager) Create(ctx context.Context) error {
	repo := git.Open(m.cfg.Repo.Path, m.runner)
	if err := repo.UpdateFromRemote(ctx, m.cfg.Repo.Branch, m.cfg.Repo.RemoteTag); err != nil {
		return err
	}

	filesMap, err := LoadFilesMap(m.cfg.Repo.FilesMap)
	if err != nil {
		return err
	}
	sources := make([]string, 0, len(filesMap))
	for src := range filesMap {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	commits, err := repo.CommitList(ctx, sources, m.cfg.Repo.Date, m.cfg.Repo.Author)
	if err != nil {
		return err
	}
	if err := m.fs.MkdirAll(m.cfg.Paths.Patches, 0o755); err != nil {
		return errors.Wrap(err, "failed to create patches folder")
	}
	patches, err := repo.FormatPatches(ctx, commits, m.cfg.Paths.Patches)
	if err != nil {
		return err
	}

	if len(patches) == 0 {
		m.log.Info("No patches created.")
		return nil
	}
	m.log.Info("Created patch files", "count", len(patches))
	for _, p := range patches {
		m.log.Info("Created patch", "path", p)
	}
	return nil
}

// Apply clones the project once per patch and applies the patch in the
// clone. Patches that fail to apply are moved to the failures folder.
func (m *Manager) Apply(ctx context.Context) error {
	builds := m.cfg.Paths.Builds
	if err := m.fs.RemoveAll(builds); err != nil {
		return errors.Wrap(err, "failed to wipe builds folder")
	}
	if err := m.fs.MkdirAll(builds, 0o755); err != nil {
		return errors.Wrap(err, "failed to create builds folder")
	}

	var filesMap map[string]string
	if m.cfg.Repo.FilesMap != "" {
		fm, err := LoadFilesMap(m.cfg.Repo.FilesMap)
		if err != nil {
			return err
		}
		filesMap = fm
	}

	patches, err := m.listNames(m.cfg.Paths.Patches, false)
	if err != nil {
		return errors.Wrap(err, "failed to list patches")
	}
	for _, name := range patches {
		if err := ctx.Err(); err != nil {
			return err
		}
		patchPath := filepath.Join(m.cfg.Paths.Patches, name)
		if err := m.applyOne(ctx, name, patchPath, filesMap); err != nil {
			m.log.Error("Unable to apply patch", "patch", name, "err", err)
			if rmErr := m.fs.RemoveAll(filepath.Join(builds, name)); rmErr != nil {
				m.log.Warn("Failed to remove clone", "patch", name, "err", rmErr)
			}
			if _, mvErr := MoveTo(m.fs, patchPath, m.cfg.Paths.Failures); mvErr != nil {
				m.log.Error("Failed to move patch to failures", "patch", name, "err", mvErr)
			}
		}
	}
	return nil
}

func (m *Manager) applyOne(ctx context.Context, name string, patchPath string, filesMap map[string]string) error {
	if err := NormalizePatch(m.fs, patchPath, filesMap); err != nil {
		return err
	}
	absPatch, err := filepath.Abs(patchPath)
	if err != nil {
		return err
	}

	repoPath, err := filepath.Abs(filepath.Join(m.cfg.Paths.Builds, name))
	if err != nil {
		return err
	}
	m.log.Info("Cloning project", "path", repoPath)
	if _, err := git.Clone(ctx, m.runner, m.cfg.Repo.ProjectURL, repoPath); err != nil {
		return err
	}

	workPath := filepath.Join(repoPath, m.cfg.Paths.WorkSubdir)
	m.log.Info("Applying patch", "patch", name, "path", workPath)
	if _, err := m.runner.Run(ctx, workPath, PatchBinary, "-p1", "--forward", "--batch", "-i", absPatch); err != nil {
		return errors.Wrap(err, "patch did not apply")
	}
	return nil
}

// Compile builds and cleans every build folder. Folders that fail either
// step are moved to the failures folder.
func (m *Manager) Compile(ctx context.Context) error {
	buildCmd := strings.Fields(m.cfg.Build.Command)
	cleanCmd := strings.Fields(m.cfg.Build.Clean)
	if len(buildCmd) == 0 || len(cleanCmd) == 0 {
		return errors.New("build and clean commands cannot be empty")
	}

	builds, err := m.listNames(m.cfg.Paths.Builds, true)
	if err != nil {
		return errors.Wrap(err, "failed to list builds")
	}
	for _, name := range builds {
		if err := ctx.Err(); err != nil {
			return err
		}
		buildPath := filepath.Join(m.cfg.Paths.Builds, name)
		workPath := filepath.Join(buildPath, m.cfg.Paths.WorkSubdir)

		if _, err := m.runner.Run(ctx, workPath, buildCmd[0], buildCmd[1:]...); err != nil {
			m.log.Error("Unable to build", "build", buildPath, "err", err)
			m.moveBuild(buildPath)
			continue
		}
		m.log.Info("Successfully compiled", "build", buildPath)

		if _, err := m.runner.Run(ctx, workPath, cleanCmd[0], cleanCmd[1:]...); err != nil {
			m.log.Error("Error while running cleanup", "build", buildPath, "err", err)
			m.moveBuild(buildPath)
		}
	}
	return nil
}

func (m *Manager) moveBuild(buildPath string) {
	if _, err := MoveTo(m.fs, buildPath, m.cfg.Paths.Failures); err != nil {
		m.log.Error("Failed to move build to failures", "build", buildPath, "err", err)
	}
}

// Commit commits the patched sources of every build and pushes them to the
// remote branch.
func (m *Manager) Commit(ctx context.Context) error {
	password, err := ReadFromEnvOrConfig(m.cfg.Commit.Password)
	if err != nil {
		return err
	}
	remote, err := git.WithCredentials(m.cfg.Repo.RemoteURL, m.cfg.Commit.Username, password)
	if err != nil {
		return err
	}

	builds, err := m.listNames(m.cfg.Paths.Builds, true)
	if err != nil {
		return errors.Wrap(err, "failed to list builds")
	}
	for _, name := range builds {
		id, desc, err := CommitInfo(m.fs, filepath.Join(m.cfg.Paths.Patches, name))
		if err != nil {
			return err
		}
		repo := git.Open(filepath.Join(m.cfg.Paths.Builds, name), m.runner)
		if err := repo.SetIdentity(ctx, m.cfg.Commit.Name, m.cfg.Commit.Email); err != nil {
			return err
		}
		if err := repo.Add(ctx, addPathspecs...); err != nil {
			return err
		}
		if err := repo.Commit(ctx, CommitMessage(m.cfg.Commit.MessageFormat, desc, id)); err != nil {
			return err
		}
		if err := repo.Push(ctx, remote, m.cfg.Repo.Branch); err != nil {
			return err
		}
		m.log.Info("Pushed build", "build", name, "upstream", id, "branch", m.cfg.Repo.Branch)
	}
	return nil
}

func CommitMessage(format string, desc string, id string) string {
	if format == "" {
		format = DefaultCommitMessageFormat
	}
	return fmt.Sprintf(format, desc, id)
}

// listNames returns the sorted entries of dir, either only directories or
// only regular files.
func (m *Manager) listNames(dir string, dirs bool) ([]string, error) {
	entries, err := afero.ReadDir(m.fs, dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() == dirs {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

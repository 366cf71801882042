package server

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/spf13/afero"

	patchmgr "github.com/lis-test/infra/patch-manager"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"

	InstallPrefix = "install_"
)

var (
	ErrUnknownBuild  = errors.New("unexpected build")
	ErrInvalidStatus = errors.New("invalid status")
)

// Tracker records build and install callbacks. It is shared by all request
// handlers.
type Tracker struct {
	mu       sync.Mutex
	expected map[string]struct{}
	results  map[string]string
	moved    map[string]bool
	received int
	target   int

	buildsPath   string
	failuresPath string
	fs           afero.Fs
	log          log.Logger

	done     chan struct{}
	doneOnce sync.Once
}

// NewTracker expects a callback for every build folder and for its install
// step. A non-positive expectedRequests waits for all of them.
func NewTracker(fs afero.Fs, buildsPath string, failuresPath string, expectedRequests int, logger log.Logger) (*Tracker, error) {
	entries, err := afero.ReadDir(fs, buildsPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list builds")
	}
	expected := make(map[string]struct{}, len(entries)*2)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		expected[e.Name()] = struct{}{}
		expected[InstallPrefix+e.Name()] = struct{}{}
	}
	if expectedRequests <= 0 {
		expectedRequests = len(expected)
	}

	t := &Tracker{
		expected:     expected,
		results:      make(map[string]string),
		moved:        make(map[string]bool),
		target:       expectedRequests,
		buildsPath:   buildsPath,
		failuresPath: failuresPath,
		fs:           fs,
		log:          logger,
		done:         make(chan struct{}),
	}
	if t.target == 0 {
		t.finish()
	}
	return t, nil
}

// Record stores the status reported for name. Failures move the build
// folder to the failures folder once.
func (t *Tracker) Record(name string, status string) error {
	if status != StatusSuccess && status != StatusFailure {
		return errors.Wrapf(ErrInvalidStatus, "%q", status)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.expected[name]; !ok {
		return errors.Wrap(ErrUnknownBuild, name)
	}
	t.results[name] = status
	t.received++
	t.log.Info("Received build result", "build", name, "status", status, "received", t.received, "expected", t.target)

	var moveErr error
	if status == StatusFailure {
		moveErr = t.moveBuild(strings.TrimPrefix(name, InstallPrefix))
	}
	if t.received >= t.target {
		t.finish()
	}
	return moveErr
}

func (t *Tracker) moveBuild(build string) error {
	if t.moved[build] {
		return nil
	}
	src := filepath.Join(t.buildsPath, build)
	if _, err := t.fs.Stat(src); os.IsNotExist(err) {
		t.moved[build] = true
		return nil
	}
	dst, err := patchmgr.MoveTo(t.fs, src, t.failuresPath)
	if err != nil {
		return errors.Wrapf(err, "failed to move %s to failures", build)
	}
	t.moved[build] = true
	t.log.Warn("Moved failed build", "build", build, "to", dst)
	return nil
}

func (t *Tracker) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}

// Done is closed once the expected number of callbacks has been received.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.received >= t.target {
		return 0
	}
	return t.target - t.received
}

func (t *Tracker) Results() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.results))
	for k, v := range t.results {
		out[k] = v
	}
	return out
}

func (t *Tracker) Expected() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.expected))
	for name := range t.expected {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package provision

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/lis-test/infra/lisa-runner/runconfig"
)

// ClonePaths returns the destination of each VHD copy:
// <vhdFolder or dir(vhdPath)>/<base>-<i><ext>, i starting at 1.
func ClonePaths(spec runconfig.VMSpec, count int) []string {
	folder := spec.VHDFolder
	if folder == "" {
		folder = filepath.Dir(spec.VHDPath)
	}
	ext := filepath.Ext(spec.VHDPath)
	base := strings.TrimSuffix(filepath.Base(spec.VHDPath), ext)

	paths := make([]string, count)
	for i := range paths {
		paths[i] = filepath.Join(folder, fmt.Sprintf("%s-%d%s", base, i+1, ext))
	}
	return paths
}

// CloneVHDs copies the template VHD once per worker, at most count copies at
// a time. The first failure cancels the copies still running.
func (p *Provisioner) CloneVHDs(ctx context.Context, spec runconfig.VMSpec, count int) ([]string, error) {
	if spec.VHDPath == "" {
		return nil, fmt.Errorf("template VHD path is empty")
	}
	if count < 1 {
		return nil, fmt.Errorf("invalid VHD copy count %d", count)
	}
	dests := ClonePaths(spec, count)
	if dir := filepath.Dir(dests[0]); dir != "" {
		if err := p.fs.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create VHD folder %s: %w", dir, err)
		}
	}

	start := time.Now()
	copyPool := pool.New().
		WithErrors().
		WithFirstError().
		WithMaxGoroutines(count).
		WithContext(ctx).
		WithCancelOnError()
	for _, dest := range dests {
		copyPool.Go(func(ctx context.Context) error {
			p.log.Debug("Copying VHD", "src", spec.VHDPath, "dst", dest)
			if err := copyFile(ctx, p.fs, spec.VHDPath, dest); err != nil {
				p.metrics.RecordErrorDetails("vhd_copy", err)
				return fmt.Errorf("failed to copy VHD to %s: %w", dest, err)
			}
			return nil
		})
	}
	if err := copyPool.Wait(); err != nil {
		return nil, err
	}
	p.log.Info("Copied VHDs", "count", count, "duration", time.Since(start))
	return dests, nil
}

func copyFile(ctx context.Context, fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := fs.OpenFile(dst, osCreateFlags, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, &ctxReader{ctx: ctx, r: in}); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// ctxReader stops a copy once its context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

package pool

import (
	"context"
	"fmt"
	"sync"
)

// Lease holds one VM handle and one working-directory handle checked out
// together by a worker.
type Lease struct {
	VM  string
	Dir string

	vms  *Pool[string]
	dirs *Pool[string]
	once sync.Once
}

// Acquire checks out one VM and then one directory. If the directory checkout
// fails the VM is returned before the error is reported, so a failed Acquire
// never holds anything.
func Acquire(ctx context.Context, vms, dirs *Pool[string]) (*Lease, error) {
	vm, err := vms.Checkout(ctx)
	if err != nil {
		return nil, fmt.Errorf("checkout from %s: %w", vms.Name(), err)
	}
	dir, err := dirs.Checkout(ctx)
	if err != nil {
		vms.Release(vm)
		return nil, fmt.Errorf("checkout from %s: %w", dirs.Name(), err)
	}
	return &Lease{VM: vm, Dir: dir, vms: vms, dirs: dirs}, nil
}

// Release returns both handles to their pools. Only the first call has an effect.
func (l *Lease) Release() {
	l.once.Do(func() {
		l.dirs.Release(l.Dir)
		l.vms.Release(l.VM)
	})
}

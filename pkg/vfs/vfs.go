package vfs

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	vlog "webvfs/pkg/log"
)

// VFS is a filesystem instance: a mount table, the default credentials used
// by unbound calls, and the dispatcher shared by every API surface created
// from it. Mount management lives here and is never reachable through a
// BoundContext.
type VFS struct {
	mounts *Registry
	queues *pathQueues
	logger *zap.Logger

	credsMu sync.RWMutex
	creds   Credentials
}

// Option configures a VFS.
type Option func(*VFS)

// WithLogger sets the logger used by the VFS and its mount registry.
func WithLogger(l *zap.Logger) Option {
	return func(v *VFS) {
		if l != nil {
			v.logger = l
		}
	}
}

// WithCredentials sets the initial default credentials.
func WithCredentials(c Credentials) Option {
	return func(v *VFS) {
		v.creds = c.Clone()
	}
}

// New creates a VFS with an empty mount table. Initialize or Mount at "/"
// must be called before any filesystem operation.
func New(opts ...Option) *VFS {
	v := &VFS{
		queues: newPathQueues(),
		logger: vlog.Logger(),
		creds:  RootCredentials(),
	}
	for _, opt := range opts {
		opt(v)
	}
	v.mounts = NewRegistry(v.logger)
	return v
}

var (
	std     *VFS
	stdOnce sync.Once
)

// Default returns the process-wide VFS.
func Default() *VFS {
	stdOnce.Do(func() {
		std = New()
	})
	return std
}

// Logger returns the VFS logger.
func (v *VFS) Logger() *zap.Logger {
	return v.logger
}

// Credentials returns a copy of the default credentials.
func (v *VFS) Credentials() Credentials {
	v.credsMu.RLock()
	defer v.credsMu.RUnlock()
	return v.creds.Clone()
}

// SetCredentials replaces the default credentials. Contexts bound earlier
// keep the credentials they copied at bind time.
func (v *VFS) SetCredentials(c Credentials) {
	v.credsMu.Lock()
	v.creds = c.Clone()
	v.credsMu.Unlock()
}

// Initialize mounts backend at "/", replacing any existing root mount.
func (v *VFS) Initialize(backend Backend) error {
	return v.mounts.Initialize(backend)
}

// Mount registers backend at prefix.
func (v *VFS) Mount(prefix string, backend Backend) error {
	return v.mounts.Mount(prefix, backend)
}

// Umount removes the mount at prefix.
func (v *VFS) Umount(prefix string) error {
	return v.mounts.Umount(prefix)
}

// Mounts returns the current mount table ordered by prefix.
func (v *VFS) Mounts() []Mount {
	return v.mounts.Mounts()
}

// Resolve returns the backend owning the absolute path p and the path
// relative to its mount point.
func (v *VFS) Resolve(p string) (Backend, string, error) {
	if err := ValidatePath(p); err != nil {
		return nil, "", err
	}
	return v.mounts.Resolve(Clean(p))
}

// Sync flushes every mounted backend that buffers state, concurrently.
func (v *VFS) Sync(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range v.mounts.Mounts() {
		syncer, ok := m.Backend.(Syncer)
		if !ok {
			continue
		}
		prefix := m.Prefix
		g.Go(func() error {
			if err := syncer.Sync(ctx); err != nil {
				v.logger.Error("sync failed", zap.String("prefix", prefix), zap.Error(err))
				return wrapBackend("sync", prefix, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// FS returns the blocking API bound to the default context: root "/" and the
// default credentials as they are at call time.
func (v *VFS) FS() *FS {
	return &FS{vfs: v}
}

// Promises returns the deferred API bound to the default context.
func (v *VFS) Promises() *Promises {
	return &Promises{fs: v.FS()}
}

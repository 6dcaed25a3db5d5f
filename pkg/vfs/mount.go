package vfs

import (
	"sync"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"
	"go.uber.org/zap"
)

// Mount is one entry of the mount table.
type Mount struct {
	Prefix  string
	Backend Backend
}

// mountEntry is the registry's record for a mount. Open files keep a
// reference so they can detect that their mount went away.
type mountEntry struct {
	prefix    string
	backend   Backend
	unmounted atomic.Bool
}

// Registry maps path prefixes to backends. Lookups read an immutable radix
// tree and never block; Mount and Umount swap in a new tree. The registry is
// meant to be changed during setup, not while operations against the affected
// prefix are in flight.
type Registry struct {
	mu     sync.Mutex
	tree   atomic.Pointer[iradix.Tree]
	logger *zap.Logger
}

// NewRegistry creates an empty mount registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{logger: logger}
	r.tree.Store(iradix.New())
	return r
}

// mountKey terminates prefixes with a slash so that a radix longest-prefix
// match only ever stops on a segment boundary.
func mountKey(p string) []byte {
	if p == "/" {
		return []byte("/")
	}
	return []byte(p + "/")
}

func checkPrefix(op, prefix string) error {
	if err := ValidatePath(prefix); err != nil {
		return NewError(KindMount, op, prefix).withDetail("invalid prefix")
	}
	if !IsClean(prefix) {
		return NewError(KindMount, op, prefix).withDetail("prefix is not a normalized absolute path")
	}
	return nil
}

// Mount registers backend at prefix.
func (r *Registry) Mount(prefix string, backend Backend) error {
	if err := checkPrefix("mount", prefix); err != nil {
		return err
	}
	if backend == nil {
		return NewError(KindMount, "mount", prefix).withDetail("nil backend")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tree := r.tree.Load()
	key := mountKey(prefix)
	if _, exists := tree.Get(key); exists {
		return NewError(KindMount, "mount", prefix).withDetail("already mounted")
	}

	tree, _, _ = tree.Insert(key, &mountEntry{prefix: prefix, backend: backend})
	r.tree.Store(tree)

	r.logger.Info("mounted", zap.String("prefix", prefix), zap.String("backend", backend.Name()))
	return nil
}

// Umount removes the mount at exactly prefix. Files opened through it fail
// with KindNotFound afterwards. The root mount cannot be removed, only
// replaced with Initialize.
func (r *Registry) Umount(prefix string) error {
	if err := checkPrefix("umount", prefix); err != nil {
		return err
	}
	if prefix == "/" {
		return NewError(KindMount, "umount", prefix).withDetail("cannot unmount the root; use Initialize to replace it")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tree, old, ok := r.tree.Load().Delete(mountKey(prefix))
	if !ok {
		return NewError(KindMount, "umount", prefix).withDetail("not mounted")
	}
	r.tree.Store(tree)

	entry := old.(*mountEntry)
	entry.unmounted.Store(true)

	r.logger.Info("unmounted", zap.String("prefix", prefix), zap.String("backend", entry.backend.Name()))
	return nil
}

// Initialize mounts backend at "/", replacing any existing root mount.
// Files opened through the previous root fail with KindNotFound afterwards.
func (r *Registry) Initialize(backend Backend) error {
	if backend == nil {
		return NewError(KindMount, "initialize", "/").withDetail("nil backend")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tree, old, replaced := r.tree.Load().Insert(mountKey("/"), &mountEntry{prefix: "/", backend: backend})
	r.tree.Store(tree)

	if replaced {
		prev := old.(*mountEntry)
		prev.unmounted.Store(true)
		r.logger.Info("root replaced", zap.String("old", prev.backend.Name()), zap.String("backend", backend.Name()))
		return nil
	}
	r.logger.Info("mounted", zap.String("prefix", "/"), zap.String("backend", backend.Name()))
	return nil
}

// Resolve returns the backend owning the clean absolute path p and the path
// relative to that backend's mount point.
func (r *Registry) Resolve(p string) (Backend, string, error) {
	entry, rel, err := r.resolve(p)
	if err != nil {
		return nil, "", err
	}
	return entry.backend, rel, nil
}

func (r *Registry) resolve(p string) (*mountEntry, string, error) {
	tree := r.tree.Load()
	if tree.Len() == 0 {
		return nil, "", NewError(KindNotInitialized, "resolve", p).withDetail("no backend is mounted")
	}

	_, v, ok := tree.Root().LongestPrefix(mountKey(p))
	if !ok {
		return nil, "", NewError(KindNotInitialized, "resolve", p).withDetail("no mount covers path")
	}

	entry := v.(*mountEntry)
	if entry.prefix == "/" {
		return entry, p, nil
	}

	rel := p[len(entry.prefix):]
	if rel == "" {
		rel = "/"
	}
	return entry, rel, nil
}

// Mounts returns the mount table ordered by prefix.
func (r *Registry) Mounts() []Mount {
	tree := r.tree.Load()
	mounts := make([]Mount, 0, tree.Len())
	tree.Root().Walk(func(_ []byte, v interface{}) bool {
		entry := v.(*mountEntry)
		mounts = append(mounts, Mount{Prefix: entry.prefix, Backend: entry.backend})
		return false
	})
	return mounts
}

// ChildMounts returns the names of mounts directly below dir.
func (r *Registry) ChildMounts(dir string) []string {
	var names []string
	r.tree.Load().Root().WalkPrefix(mountKey(dir), func(_ []byte, v interface{}) bool {
		entry := v.(*mountEntry)
		if entry.prefix != "/" && entry.prefix != dir && Dir(entry.prefix) == dir {
			names = append(names, Base(entry.prefix))
		}
		return false
	})
	return names
}

// mountedAt reports whether a mount exists exactly at p.
func (r *Registry) mountedAt(p string) bool {
	_, ok := r.tree.Load().Get(mountKey(p))
	return ok
}

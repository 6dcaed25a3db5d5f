package vfs

import (
	"context"
	"io/fs"
	"time"
)

// Future is the pending result of a deferred operation.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Done is closed once the operation has completed.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the operation completes or ctx is done. Cancelling ctx
// abandons the wait, not the operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Promises is the deferred operation set. Each call returns immediately and
// runs on its own goroutine through the same dispatcher as FS. Calls
// touching the same path complete in the order they were issued.
type Promises struct {
	fs *FS
}

// run queues fn behind earlier calls on the same paths and starts it on its
// own goroutine. Queueing happens before run returns, which is what orders
// calls on one path.
func run[T any](p *Promises, fn func() (T, error), paths ...string) *Future[T] {
	root, _ := p.fs.identity()
	keys := make([]string, len(paths))
	for i, path := range paths {
		keys[i] = Contain(root, path)
	}

	fut := &Future[T]{done: make(chan struct{})}
	wait, done := p.fs.vfs.queues.enqueue(keys...)

	go func() {
		defer done()
		defer close(fut.done)
		wait()
		fut.val, fut.err = fn()
	}()
	return fut
}

func runErr(p *Promises, fn func() error, paths ...string) *Future[struct{}] {
	return run(p, func() (struct{}, error) { return struct{}{}, fn() }, paths...)
}

// FS returns the blocking operation set sharing this one's context.
func (p *Promises) FS() *FS { return p.fs }

// Stat is the deferred form of FS.Stat.
func (p *Promises) Stat(path string) *Future[*Stats] {
	return run(p, func() (*Stats, error) { return p.fs.Stat(path) }, path)
}

// Lstat is the deferred form of FS.Lstat.
func (p *Promises) Lstat(path string) *Future[*Stats] {
	return run(p, func() (*Stats, error) { return p.fs.Lstat(path) }, path)
}

// Exists resolves to whether path exists. It never fails.
func (p *Promises) Exists(path string) *Future[bool] {
	return run(p, func() (bool, error) { return p.fs.Exists(path), nil }, path)
}

// Access is the deferred form of FS.Access.
func (p *Promises) Access(path string, mode uint32) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.Access(path, mode) }, path)
}

// ReadFile is the deferred form of FS.ReadFile.
func (p *Promises) ReadFile(path string) *Future[[]byte] {
	return run(p, func() ([]byte, error) { return p.fs.ReadFile(path) }, path)
}

// WriteFile is the deferred form of FS.WriteFile.
func (p *Promises) WriteFile(path string, data []byte, perm fs.FileMode) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.WriteFile(path, data, perm) }, path)
}

// AppendFile is the deferred form of FS.AppendFile.
func (p *Promises) AppendFile(path string, data []byte, perm fs.FileMode) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.AppendFile(path, data, perm) }, path)
}

// Truncate is the deferred form of FS.Truncate.
func (p *Promises) Truncate(path string, size int64) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.Truncate(path, size) }, path)
}

// Mkdir is the deferred form of FS.Mkdir.
func (p *Promises) Mkdir(path string, perm fs.FileMode) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.Mkdir(path, perm) }, path)
}

// MkdirAll is the deferred form of FS.MkdirAll.
func (p *Promises) MkdirAll(path string, perm fs.FileMode) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.MkdirAll(path, perm) }, path)
}

// ReadDir is the deferred form of FS.ReadDir.
func (p *Promises) ReadDir(path string) *Future[[]DirEntry] {
	return run(p, func() ([]DirEntry, error) { return p.fs.ReadDir(path) }, path)
}

// Remove is the deferred form of FS.Remove.
func (p *Promises) Remove(path string) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.Remove(path) }, path)
}

// RemoveAll is the deferred form of FS.RemoveAll.
func (p *Promises) RemoveAll(path string) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.RemoveAll(path) }, path)
}

// Rename is the deferred form of FS.Rename. It is ordered against calls
// on either path.
func (p *Promises) Rename(oldpath, newpath string) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.Rename(oldpath, newpath) }, oldpath, newpath)
}

// Chmod is the deferred form of FS.Chmod.
func (p *Promises) Chmod(path string, mode fs.FileMode) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.Chmod(path, mode) }, path)
}

// Chown is the deferred form of FS.Chown.
func (p *Promises) Chown(path string, uid, gid uint32) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.Chown(path, uid, gid) }, path)
}

// Chtimes is the deferred form of FS.Chtimes.
func (p *Promises) Chtimes(path string, atime, mtime time.Time) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.Chtimes(path, atime, mtime) }, path)
}

// Symlink is the deferred form of FS.Symlink. It is ordered against calls
// on newpath.
func (p *Promises) Symlink(target, newpath string) *Future[struct{}] {
	return runErr(p, func() error { return p.fs.Symlink(target, newpath) }, newpath)
}

// Readlink is the deferred form of FS.Readlink.
func (p *Promises) Readlink(path string) *Future[string] {
	return run(p, func() (string, error) { return p.fs.Readlink(path) }, path)
}

// Realpath is the deferred form of FS.Realpath.
func (p *Promises) Realpath(path string) *Future[string] {
	return run(p, func() (string, error) { return p.fs.Realpath(path) }, path)
}

// OpenFile is the deferred form of FS.OpenFile. The returned File is used
// directly; its methods block.
func (p *Promises) OpenFile(path string, flags int, perm fs.FileMode) *Future[*File] {
	return run(p, func() (*File, error) { return p.fs.OpenFile(path, flags, perm) }, path)
}

// Open opens path for reading.
func (p *Promises) Open(path string) *Future[*File] {
	return p.OpenFile(path, O_RDONLY, 0)
}

// Create creates or truncates path and opens it read-write.
func (p *Promises) Create(path string) *Future[*File] {
	return p.OpenFile(path, O_RDWR|O_CREATE|O_TRUNC, 0o666)
}

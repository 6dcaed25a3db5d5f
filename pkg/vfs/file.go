package vfs

import (
	"io"
	"io/fs"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// File is an open file handle. It keeps a local copy of the file's Stats
// that is written back through Inode.Update on Sync and Close, so a burst of
// writes costs one inode write. Handles opened with O_SYNC write the inode
// back after every write.
//
// A File is safe for concurrent use. Once the mount it was opened through is
// unmounted every method fails with KindNotFound.
type File struct {
	mu     sync.Mutex
	id     uuid.UUID
	fs     *FS
	node   *node
	stats  *Stats
	offset int64
	flags  int
	dirty  bool
	closed bool
}

// Open opens the file at path for reading.
func (f *FS) Open(path string) (*File, error) {
	return f.OpenFile(path, O_RDONLY, 0)
}

// Create creates or truncates the file at path and opens it read-write.
func (f *FS) Create(path string) (*File, error) {
	return f.OpenFile(path, O_RDWR|O_CREATE|O_TRUNC, 0o666)
}

// OpenFile opens the file at path with the given O_* flags. perm is used
// when O_CREATE creates the file.
func (f *FS) OpenFile(path string, flags int, perm fs.FileMode) (*File, error) {
	c, view, err := f.begin("open", path)
	if err != nil {
		return nil, err
	}

	created := false
	n, err := c.realpath(view)
	switch {
	case err == nil:
		if flags&O_CREATE != 0 && flags&O_EXCL != 0 {
			return nil, c.fail(KindExist)
		}
	case KindOf(err) == KindNotFound && flags&O_CREATE != 0:
		target := view
		if flags&O_EXCL == 0 {
			if target, err = c.createPath(view); err != nil {
				return nil, err
			}
		}
		if n, err = c.create(target, S_IFREG|permBits(perm), nil); err != nil {
			return nil, err
		}
		created = true
	default:
		return nil, err
	}

	writable := flags&O_ACCMODE != O_RDONLY
	if n.ino.IsDir() && writable {
		return nil, c.fail(KindIsDir)
	}

	if !created {
		var want uint32
		if flags&O_ACCMODE != O_WRONLY {
			want |= R_OK
		}
		if writable {
			want |= W_OK
		}
		if err := c.check(n, want); err != nil {
			return nil, err
		}
	}

	if writable && flags&O_TRUNC != 0 && n.ino.Size != 0 {
		if err := n.backend().Truncate(n.rel, 0); err != nil {
			return nil, c.wrap(err)
		}
		now := nowMs()
		if err := c.commit(n, func(st *Stats) {
			st.Size = 0
			st.MtimeMs, st.CtimeMs = now, now
		}); err != nil {
			return nil, err
		}
	}

	file := &File{
		id:    uuid.New(),
		fs:    f,
		node:  n,
		stats: n.ino.ToStats(),
		flags: flags,
	}

	f.vfs.logger.Debug("file opened",
		zap.String("path", n.view),
		zap.Stringer("handle", file.id),
		zap.Int("flags", flags),
	)
	return file, nil
}

// ID returns the unique handle id of the file.
func (f *File) ID() uuid.UUID { return f.id }

// Name returns the path the file was opened at, as seen from its context.
func (f *File) Name() string { return f.node.view }

func (f *File) fail(op string, kind Kind) *Error {
	return NewError(kind, op, f.node.view)
}

// usable reports why the handle cannot be used, if it cannot. The caller
// holds f.mu.
func (f *File) usable(op string) error {
	if f.node.entry.unmounted.Load() {
		return f.fail(op, KindNotFound).withDetail("mount %s was removed", f.node.entry.prefix)
	}
	if f.closed {
		return f.fail(op, KindClosed)
	}
	return nil
}

func (f *File) writable(op string) error {
	if f.flags&O_ACCMODE == O_RDONLY {
		return f.fail(op, KindPermission).withDetail("file not opened for writing")
	}
	return nil
}

func (f *File) readable(op string) error {
	if f.flags&O_ACCMODE == O_WRONLY {
		return f.fail(op, KindPermission).withDetail("file not opened for reading")
	}
	if f.stats.IsDirectory() {
		return f.fail(op, KindIsDir)
	}
	return nil
}

// Read implements io.Reader.
func (f *File) Read(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n, err := f.readAt("read", b, f.offset)
	f.offset += int64(n)
	return n, err
}

// ReadAt implements io.ReaderAt. It does not move the file offset.
func (f *File) ReadAt(b []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if off < 0 {
		return 0, f.fail("read", KindInvalid).withDetail("negative offset")
	}
	n, err := f.readAt("read", b, off)
	if err == nil && n < len(b) {
		err = io.EOF
	}
	return n, err
}

func (f *File) readAt(op string, b []byte, off int64) (int, error) {
	if err := f.usable(op); err != nil {
		return 0, err
	}
	if err := f.readable(op); err != nil {
		return 0, err
	}
	if len(b) == 0 {
		return 0, nil
	}
	if off >= f.stats.Size {
		return 0, io.EOF
	}

	if remaining := f.stats.Size - off; int64(len(b)) > remaining {
		b = b[:remaining]
	}

	n, err := f.node.backend().ReadAt(f.node.rel, b, off)
	if err != nil && err != io.EOF {
		return n, wrapBackend(op, f.node.view, err)
	}
	return n, nil
}

// Write implements io.Writer. With O_APPEND every write goes to the end of
// the file.
func (f *File) Write(b []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.flags&O_APPEND != 0 {
		f.offset = f.stats.Size
	}
	n, err := f.writeAt("write", b, f.offset)
	f.offset += int64(n)
	return n, err
}

// WriteAt implements io.WriterAt. It does not move the file offset and is
// rejected for files opened with O_APPEND.
func (f *File) WriteAt(b []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.flags&O_APPEND != 0 {
		return 0, f.fail("write", KindInvalid).withDetail("WriteAt on a file opened with O_APPEND")
	}
	if off < 0 {
		return 0, f.fail("write", KindInvalid).withDetail("negative offset")
	}
	return f.writeAt("write", b, off)
}

func (f *File) writeAt(op string, b []byte, off int64) (int, error) {
	if err := f.usable(op); err != nil {
		return 0, err
	}
	if err := f.writable(op); err != nil {
		return 0, err
	}

	end := off + int64(len(b))
	if end > maxFileSize {
		return 0, f.fail(op, KindTooLarge)
	}

	n, err := f.node.backend().WriteAt(f.node.rel, b, off)
	if err != nil {
		return n, wrapBackend(op, f.node.view, err)
	}

	if end := off + int64(n); end > f.stats.Size {
		f.stats.Size = end
	}
	now := nowMs()
	f.stats.MtimeMs, f.stats.CtimeMs = now, now
	f.dirty = true

	if f.flags&O_SYNC != 0 {
		if err := f.sync(op); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Seek implements io.Seeker.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.usable("seek"); err != nil {
		return 0, err
	}

	var next int64
	switch whence {
	case SEEK_SET:
		next = offset
	case SEEK_CUR:
		next = f.offset + offset
	case SEEK_END:
		next = f.stats.Size + offset
	default:
		return 0, f.fail("seek", KindInvalid).withDetail("invalid whence %d", whence)
	}

	if next < 0 {
		return 0, f.fail("seek", KindInvalid).withDetail("negative position")
	}

	f.offset = next
	return next, nil
}

// Stat returns the handle's current view of the file's Stats, including
// writes not yet synced.
func (f *File) Stat() (*Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.usable("stat"); err != nil {
		return nil, err
	}
	st := *f.stats
	return &st, nil
}

// Truncate changes the size of the file. The offset is left unchanged.
func (f *File) Truncate(size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.usable("truncate"); err != nil {
		return err
	}
	if err := f.writable("truncate"); err != nil {
		return err
	}
	if size < 0 {
		return f.fail("truncate", KindInvalid).withDetail("negative size")
	}
	if size > maxFileSize {
		return f.fail("truncate", KindTooLarge)
	}

	if err := f.node.backend().Truncate(f.node.rel, size); err != nil {
		return wrapBackend("truncate", f.node.view, err)
	}

	now := nowMs()
	f.stats.Size = size
	f.stats.MtimeMs, f.stats.CtimeMs = now, now
	f.dirty = true

	if f.flags&O_SYNC != 0 {
		return f.sync("truncate")
	}
	return nil
}

// Sync writes the handle's Stats back to the inode when they changed.
func (f *File) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.usable("sync"); err != nil {
		return err
	}
	return f.sync("sync")
}

// sync merges the fields a handle owns (size and modification times) into
// the stored inode, so metadata changed through the FS while the file is
// open survives. The caller holds f.mu.
func (f *File) sync(op string) error {
	if !f.dirty {
		return nil
	}

	ino, err := f.node.backend().ReadInode(f.node.rel)
	if err != nil {
		return wrapBackend(op, f.node.view, err)
	}
	st := ino.ToStats()
	st.Size = f.stats.Size
	st.MtimeMs = f.stats.MtimeMs
	st.CtimeMs = max(st.CtimeMs, f.stats.CtimeMs)

	if ino.Update(st) {
		if err := f.node.backend().WriteInode(f.node.rel, ino); err != nil {
			return wrapBackend(op, f.node.view, err)
		}
	}
	f.node.ino = ino
	f.stats = ino.ToStats()
	f.dirty = false
	return nil
}

// Close syncs pending changes and releases the handle. Closing twice
// returns KindClosed.
func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.usable("close"); err != nil {
		return err
	}

	err := f.sync("close")
	f.closed = true

	f.fs.vfs.logger.Debug("file closed", zap.String("path", f.node.view), zap.Stringer("handle", f.id))
	return err
}

// ReadDir returns the entries of the directory the handle refers to.
func (f *File) ReadDir() ([]DirEntry, error) {
	f.mu.Lock()
	if err := f.usable("readdir"); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	dir := f.stats.IsDirectory()
	f.mu.Unlock()

	if !dir {
		return nil, f.fail("readdir", KindNotDir)
	}
	return f.fs.ReadDir(f.node.view)
}

var (
	_ io.ReadWriteSeeker = (*File)(nil)
	_ io.ReaderAt        = (*File)(nil)
	_ io.WriterAt        = (*File)(nil)
	_ io.Closer          = (*File)(nil)
)

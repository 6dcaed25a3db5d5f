// Package diskfs provides a persistent backend on top of an afero.Fs.
//
// Content lives under data/ as a mirror of the backend's tree: directories
// are directories, files and symlinks are plain files. Inodes are stored as
// binary records under inodes/, named by a name-based UUID of the entry's
// path, and go through an LRU write-back cache flushed by Sync.
package diskfs

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	vfs "webvfs/pkg/vfs"
)

const (
	dataDir  = "/data"
	inodeDir = "/inodes"
)

// inodeNamespace scopes the UUIDs naming inode records.
var inodeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("webvfs:diskfs:inode"))

// DefaultCacheSize is the number of inodes cached when Options.CacheSize is
// zero.
const DefaultCacheSize = 1024

// Options configures a backend.
type Options struct {
	CacheSize int  // inodes kept in the write-back cache; negative disables it
	ReadOnly  bool // reject every mutation with vfs.ErrReadOnly
}

// FS is a disk-based backend.
type FS struct {
	mu       sync.RWMutex
	afs      afero.Fs
	cache    *inodeCache
	readOnly bool
}

var (
	_ vfs.Backend = (*FS)(nil)
	_ vfs.Syncer  = (*FS)(nil)
)

// New creates a backend storing its state in the host directory root,
// creating it when missing.
func New(root string, opts Options) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return NewFs(afero.NewBasePathFs(afero.NewOsFs(), filepath.Clean(root)), opts)
}

// NewFs creates a backend on afs. An empty afs is initialized with a root
// directory owned by root with mode 0777.
func NewFs(afs afero.Fs, opts Options) (*FS, error) {
	size := opts.CacheSize
	switch {
	case size == 0:
		size = DefaultCacheSize
	case size < 0:
		size = 0
	}

	fs := &FS{afs: afs, readOnly: opts.ReadOnly}
	fs.cache = newInodeCache(size, fs.storeInode)

	if err := fs.format(); err != nil {
		return nil, err
	}
	return fs, nil
}

// format creates the on-disk layout if it does not exist yet.
func (fs *FS) format() error {
	if err := fs.afs.MkdirAll(inodeDir, 0o755); err != nil {
		return err
	}
	if err := fs.afs.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	exists, err := afero.Exists(fs.afs, recordPath("/"))
	if err != nil || exists {
		return err
	}

	ino := vfs.NewInode()
	ino.Mode = uint16(vfs.S_IFDIR | vfs.AllPerm)
	ino.Data = vfs.RootIno
	return fs.storeInode("/", ino)
}

// Name implements vfs.Backend.
func (fs *FS) Name() string { return "diskfs" }

// CacheStats returns inode cache statistics.
func (fs *FS) CacheStats() CacheStats { return fs.cache.Stats() }

func dataPath(path string) string {
	if path == "/" {
		return dataDir
	}
	return dataDir + path
}

func recordPath(path string) string {
	return inodeDir + "/" + uuid.NewSHA1(inodeNamespace, []byte(path)).String()
}

func (fs *FS) storeInode(path string, ino *vfs.Inode) error {
	return afero.WriteFile(fs.afs, recordPath(path), ino.Bytes(), 0o644)
}

func (fs *FS) writable(op, path string) error {
	if fs.readOnly {
		return vfs.ReadOnly(op, path)
	}
	return nil
}

// translate maps host errors onto vfs errors.
func translate(op, path string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return vfs.NotFound(op, path)
	case errors.Is(err, fs.ErrExist):
		return vfs.Exist(op, path)
	}
	return err
}

// ReadInode implements vfs.Backend.
func (fs *FS) ReadInode(path string) (*vfs.Inode, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if ino, ok := fs.cache.get(path); ok {
		return ino, nil
	}

	b, err := afero.ReadFile(fs.afs, recordPath(path))
	if err != nil {
		return nil, translate("readInode", path, err)
	}
	ino, err := vfs.InodeFromBuffer(b)
	if err != nil {
		return nil, err
	}

	if err := fs.cache.put(path, ino, false); err != nil {
		return nil, err
	}
	return ino, nil
}

// WriteInode implements vfs.Backend. The record reaches disk on Sync or
// when it is evicted from the cache.
func (fs *FS) WriteInode(path string, ino *vfs.Inode) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if err := fs.writable("writeInode", path); err != nil {
		return err
	}
	if _, err := fs.afs.Stat(dataPath(path)); err != nil {
		return translate("writeInode", path, err)
	}
	return fs.cache.put(path, ino, true)
}

// Create implements vfs.Backend.
func (fs *FS) Create(path string, ino *vfs.Inode, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable("create", path); err != nil {
		return err
	}
	if path == "/" {
		return vfs.Exist("create", path)
	}

	parent, err := fs.afs.Stat(dataPath(vfs.Dir(path)))
	if err != nil {
		return translate("create", path, err)
	}
	if !parent.IsDir() {
		return vfs.NotDir("create", path)
	}
	if _, err := fs.afs.Stat(dataPath(path)); err == nil {
		return vfs.Exist("create", path)
	}

	if ino.IsDir() {
		err = fs.afs.Mkdir(dataPath(path), 0o755)
	} else {
		err = afero.WriteFile(fs.afs, dataPath(path), data, 0o644)
	}
	if err != nil {
		return translate("create", path, err)
	}

	if err := fs.storeInode(path, ino); err != nil {
		return err
	}
	return fs.cache.put(path, ino, false)
}

// Remove implements vfs.Backend.
func (fs *FS) Remove(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable("remove", path); err != nil {
		return err
	}
	if path == "/" {
		return vfs.Invalid("remove", path, "cannot remove the root")
	}

	info, err := fs.afs.Stat(dataPath(path))
	if err != nil {
		return translate("remove", path, err)
	}
	if info.IsDir() {
		names, err := afero.ReadDir(fs.afs, dataPath(path))
		if err != nil {
			return translate("remove", path, err)
		}
		if len(names) > 0 {
			return vfs.NotEmpty("remove", path)
		}
	}

	if err := fs.afs.Remove(dataPath(path)); err != nil {
		return translate("remove", path, err)
	}
	fs.cache.drop(path)
	if err := fs.afs.Remove(recordPath(path)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ReadDir implements vfs.Backend.
func (fs *FS) ReadDir(path string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	infos, err := afero.ReadDir(fs.afs, dataPath(path))
	if err != nil {
		if info, serr := fs.afs.Stat(dataPath(path)); serr == nil && !info.IsDir() {
			return nil, vfs.NotDir("readdir", path)
		}
		return nil, translate("readdir", path, err)
	}

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names, nil
}

// ReadAt implements vfs.Backend.
func (fs *FS) ReadAt(path string, p []byte, off int64) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	f, err := fs.afs.Open(dataPath(path))
	if err != nil {
		return 0, translate("read", path, err)
	}
	defer f.Close()

	n, err := f.ReadAt(p, off)
	if err != nil && err != io.EOF {
		return n, translate("read", path, err)
	}
	return n, err
}

// WriteAt implements vfs.Backend.
func (fs *FS) WriteAt(path string, p []byte, off int64) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if err := fs.writable("write", path); err != nil {
		return 0, err
	}

	f, err := fs.afs.OpenFile(dataPath(path), os.O_WRONLY, 0)
	if err != nil {
		return 0, translate("write", path, err)
	}

	n, err := f.WriteAt(p, off)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, translate("write", path, err)
}

// Truncate implements vfs.Backend.
func (fs *FS) Truncate(path string, size int64) error {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if err := fs.writable("truncate", path); err != nil {
		return err
	}

	f, err := fs.afs.OpenFile(dataPath(path), os.O_WRONLY, 0)
	if err != nil {
		return translate("truncate", path, err)
	}

	err = f.Truncate(size)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return translate("truncate", path, err)
}

// Rename implements vfs.Backend. The target must not exist. Inode records
// of every entry below a renamed directory are moved along with it.
func (fs *FS) Rename(oldpath, newpath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable("rename", oldpath); err != nil {
		return err
	}
	if vfs.HasPrefix(newpath, oldpath) {
		return vfs.Invalid("rename", newpath, "cannot move an entry below itself")
	}
	if _, err := fs.afs.Stat(dataPath(newpath)); err == nil {
		return vfs.Exist("rename", newpath)
	}

	var moved []string
	err := afero.Walk(fs.afs, dataPath(oldpath), func(p string, _ os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		moved = append(moved, p[len(dataPath(oldpath)):])
		return nil
	})
	if err != nil {
		return translate("rename", oldpath, err)
	}

	if err := fs.cache.Flush(); err != nil {
		return err
	}
	if err := fs.afs.Rename(dataPath(oldpath), dataPath(newpath)); err != nil {
		return translate("rename", oldpath, err)
	}
	fs.cache.drop(oldpath)

	for _, suffix := range moved {
		if err := fs.afs.Rename(recordPath(oldpath+suffix), recordPath(newpath+suffix)); err != nil {
			return err
		}
	}
	return nil
}

// Sync implements vfs.Syncer by writing back every dirty cached inode.
func (fs *FS) Sync(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.cache.Flush()
}

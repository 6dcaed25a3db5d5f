package vfs

import (
	"context"
	"io"
	"io/fs"
	"os"
	"time"
)

// Backend is a storage provider mounted at a path prefix. Paths passed to a
// backend are clean and absolute relative to the mount point. Backends own
// inode persistence and must be safe for concurrent use.
//
// Implementations include memfs (in-memory), diskfs (afero-backed) and
// overlayfs (copy-on-write layering).
type Backend interface {
	// Name identifies the backend in logs and mount listings.
	Name() string

	// ReadInode loads the inode stored for path. A missing entry is reported
	// as KindNotFound.
	ReadInode(path string) (*Inode, error)

	// WriteInode persists ino for an existing entry at path.
	WriteInode(path string, ino *Inode) error

	// Create makes a new entry at path described by ino, with initial content
	// data for files and symlinks. The parent must exist and be a directory.
	Create(path string, ino *Inode, data []byte) error

	// Remove deletes a file, symlink or empty directory.
	Remove(path string) error

	// ReadDir returns the names of the entries in the directory at path.
	ReadDir(path string) ([]string, error)

	// ReadAt reads content at offset off. Reading at or past the end returns
	// io.EOF.
	ReadAt(path string, p []byte, off int64) (int, error)

	// WriteAt writes content at offset off, extending the entry as needed.
	WriteAt(path string, p []byte, off int64) (int, error)

	// Truncate changes the content length of the entry at path.
	Truncate(path string, size int64) error

	// Rename moves the entry at oldpath, and everything below it, to newpath.
	Rename(oldpath, newpath string) error
}

// Syncer is implemented by backends that buffer state and can flush it.
type Syncer interface {
	Sync(ctx context.Context) error
}

// FileSystem is the blocking operation set. It is implemented by *FS, both
// unbound and bound to a context.
type FileSystem interface {
	Stat(path string) (*Stats, error)
	Lstat(path string) (*Stats, error)
	Exists(path string) bool
	Access(path string, mode uint32) error
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte, perm fs.FileMode) error
	AppendFile(path string, data []byte, perm fs.FileMode) error
	Truncate(path string, size int64) error
	Mkdir(path string, perm fs.FileMode) error
	MkdirAll(path string, perm fs.FileMode) error
	ReadDir(path string) ([]DirEntry, error)
	Remove(path string) error
	RemoveAll(path string) error
	Rename(oldpath, newpath string) error
	Chmod(path string, mode fs.FileMode) error
	Chown(path string, uid, gid uint32) error
	Chtimes(path string, atime, mtime time.Time) error
	Symlink(target, newpath string) error
	Readlink(path string) (string, error)
	Realpath(path string) (string, error)
	Open(path string) (*File, error)
	OpenFile(path string, flags int, perm fs.FileMode) (*File, error)
	Create(path string) (*File, error)
}

// Flags for OpenFile operations, matching os package constants.
const (
	O_RDONLY = os.O_RDONLY // Open file read-only.
	O_WRONLY = os.O_WRONLY // Open file write-only.
	O_RDWR   = os.O_RDWR   // Open file read-write.
	O_CREATE = os.O_CREATE // Create file if it does not exist.
	O_EXCL   = os.O_EXCL   // Used with O_CREATE: file must not exist.
	O_TRUNC  = os.O_TRUNC  // Truncate file to zero length if it exists.
	O_APPEND = os.O_APPEND // Append to the file on each write.
	O_SYNC   = os.O_SYNC   // Synchronous I/O on write.

	O_ACCMODE = O_RDONLY | O_WRONLY | O_RDWR
)

// SeekWhence constants for Seek operations.
const (
	SEEK_SET = io.SeekStart   // Relative to start of file.
	SEEK_CUR = io.SeekCurrent // Relative to current position.
	SEEK_END = io.SeekEnd     // Relative to end of file.
)

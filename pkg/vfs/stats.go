package vfs

import (
	"io/fs"
	"time"
)

// POSIX file type and permission bits as stored in Inode.Mode.
const (
	S_IFMT   = 0o170000 // Mask for file type bits
	S_IFSOCK = 0o140000 // Socket
	S_IFLNK  = 0o120000 // Symbolic link
	S_IFREG  = 0o100000 // Regular file
	S_IFBLK  = 0o060000 // Block device
	S_IFDIR  = 0o040000 // Directory
	S_IFCHR  = 0o020000 // Character device
	S_IFIFO  = 0o010000 // FIFO

	S_ISUID = 0o4000
	S_ISGID = 0o2000
	S_ISVTX = 0o1000

	PermMask = 0o7777 // Permission and special bits
	AllPerm  = 0o777  // Default permission for new files
)

// Access bits for Access and the permission check.
const (
	R_OK = 4
	W_OK = 2
	X_OK = 1
	F_OK = 0
)

// blockSize is the block size reported in Stats.
const blockSize = 4096

// Stats is the stat-shaped view of an Inode. Stats produced by a Stat call
// are snapshots; Inode.Update is the inverse mapping.
type Stats struct {
	Ino         uint64
	Data        uint64
	Size        int64
	Mode        uint32
	Nlink       uint32
	UID         uint32
	GID         uint32
	Blksize     int64
	Blocks      int64
	AtimeMs     float64
	BirthtimeMs float64
	MtimeMs     float64
	CtimeMs     float64
}

func newStats(ino *Inode) *Stats {
	return &Stats{
		Ino:         ino.ID,
		Data:        ino.Data,
		Size:        int64(ino.Size),
		Mode:        uint32(ino.Mode),
		Nlink:       ino.Nlink,
		UID:         ino.UID,
		GID:         ino.GID,
		Blksize:     blockSize,
		Blocks:      (int64(ino.Size) + 511) / 512,
		AtimeMs:     ino.AtimeMs,
		BirthtimeMs: ino.BirthtimeMs,
		MtimeMs:     ino.MtimeMs,
		CtimeMs:     ino.CtimeMs,
	}
}

// Type returns the file type bits.
func (s *Stats) Type() uint32 { return s.Mode & S_IFMT }

// Perm returns the permission and special bits.
func (s *Stats) Perm() uint32 { return s.Mode & PermMask }

// IsFile reports whether the entry is a regular file.
func (s *Stats) IsFile() bool { return s.Type() == S_IFREG }

// IsDirectory reports whether the entry is a directory.
func (s *Stats) IsDirectory() bool { return s.Type() == S_IFDIR }

// IsSymlink reports whether the entry is a symbolic link.
func (s *Stats) IsSymlink() bool { return s.Type() == S_IFLNK }

// Atime returns the access time.
func (s *Stats) Atime() time.Time { return msToTime(s.AtimeMs) }

// Mtime returns the modification time.
func (s *Stats) Mtime() time.Time { return msToTime(s.MtimeMs) }

// Ctime returns the status change time.
func (s *Stats) Ctime() time.Time { return msToTime(s.CtimeMs) }

// Birthtime returns the creation time.
func (s *Stats) Birthtime() time.Time { return msToTime(s.BirthtimeMs) }

// FileMode converts the POSIX mode to an io/fs.FileMode.
func (s *Stats) FileMode() fs.FileMode {
	mode := fs.FileMode(s.Mode & AllPerm)
	switch s.Type() {
	case S_IFDIR:
		mode |= fs.ModeDir
	case S_IFLNK:
		mode |= fs.ModeSymlink
	case S_IFIFO:
		mode |= fs.ModeNamedPipe
	case S_IFSOCK:
		mode |= fs.ModeSocket
	case S_IFCHR:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case S_IFBLK:
		mode |= fs.ModeDevice
	}
	if s.Mode&S_ISUID != 0 {
		mode |= fs.ModeSetuid
	}
	if s.Mode&S_ISGID != 0 {
		mode |= fs.ModeSetgid
	}
	if s.Mode&S_ISVTX != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

// FileInfo returns an io/fs.FileInfo for the entry called name.
func (s *Stats) FileInfo(name string) fs.FileInfo {
	return fileInfo{name: name, stats: *s}
}

type fileInfo struct {
	name  string
	stats Stats
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.stats.Size }
func (fi fileInfo) Mode() fs.FileMode  { return fi.stats.FileMode() }
func (fi fileInfo) ModTime() time.Time { return fi.stats.Mtime() }
func (fi fileInfo) IsDir() bool        { return fi.stats.IsDirectory() }
func (fi fileInfo) Sys() any           { return &fi.stats }

// DirEntry is an entry read from a directory.
type DirEntry struct {
	name  string
	stats *Stats
}

// Name returns the base name of the entry.
func (d DirEntry) Name() string { return d.name }

// IsDir reports whether the entry is a directory.
func (d DirEntry) IsDir() bool { return d.stats.IsDirectory() }

// Type returns the type bits of the entry as an io/fs.FileMode.
func (d DirEntry) Type() fs.FileMode { return d.stats.FileMode().Type() }

// Info returns the entry's FileInfo.
func (d DirEntry) Info() (fs.FileInfo, error) { return d.stats.FileInfo(d.name), nil }

// Stats returns the entry's Stats snapshot.
func (d DirEntry) Stats() *Stats { return d.stats }

// permBits converts the permission and special bits of an io/fs.FileMode to
// their POSIX form.
func permBits(m fs.FileMode) uint32 {
	bits := uint32(m.Perm())
	if m&fs.ModeSetuid != 0 {
		bits |= S_ISUID
	}
	if m&fs.ModeSetgid != 0 {
		bits |= S_ISGID
	}
	if m&fs.ModeSticky != 0 {
		bits |= S_ISVTX
	}
	return bits
}

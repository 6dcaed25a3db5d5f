package vfs_test

import (
	"errors"
	"io"
	"io/fs"
	"testing"

	"golang.org/x/sys/unix"

	vfs "webvfs/pkg/vfs"
	"webvfs/pkg/vfs/memfs"
)

func TestFileReadWriteSeek(t *testing.T) {
	fsys := newVFS(t).FS()

	f, err := fsys.Create("/f")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if f.ID().String() == "" || f.Name() != "/f" {
		t.Errorf("handle identity = %s %q", f.ID(), f.Name())
	}

	if _, err := f.Write([]byte("hello world")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if st, _ := f.Stat(); st.Size != 11 {
		t.Errorf("handle Stat().Size = %d, want 11", st.Size)
	}
	if st, _ := fsys.Stat("/f"); st.Size != 0 {
		t.Errorf("inode Size = %d before Sync, want 0", st.Size)
	}

	if pos, err := f.Seek(6, io.SeekStart); err != nil || pos != 6 {
		t.Fatalf("Seek() = %d, %v", pos, err)
	}
	buf := make([]byte, 5)
	if n, err := f.Read(buf); err != nil || string(buf[:n]) != "world" {
		t.Errorf("Read() = %q, %v", buf[:n], err)
	}
	if _, err := f.Read(buf); err != io.EOF {
		t.Errorf("Read() at the end = %v, want io.EOF", err)
	}

	if n, err := f.ReadAt(buf, 8); err != io.EOF || string(buf[:n]) != "rld" {
		t.Errorf("ReadAt() = %q, %v, want a short read with io.EOF", buf[:n], err)
	}
	if _, err := f.WriteAt([]byte("W"), 6); err != nil {
		t.Fatalf("WriteAt() failed: %v", err)
	}
	if pos, _ := f.Seek(0, io.SeekCurrent); pos != 11 {
		t.Errorf("offset moved to %d by ReadAt/WriteAt", pos)
	}
	if _, err := f.Seek(-1, io.SeekStart); !errors.Is(err, vfs.ErrInvalid) {
		t.Errorf("Seek() before the start = %v, want ErrInvalid", err)
	}

	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	data, err := fsys.ReadFile("/f")
	if err != nil || string(data) != "hello World" {
		t.Errorf("ReadFile() after Close() = %q, %v", data, err)
	}
}

func TestFileOpenFlags(t *testing.T) {
	fsys := newVFS(t).FS()
	if err := fsys.WriteFile("/f", []byte("abc"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	t.Run("Missing", func(t *testing.T) {
		if _, err := fsys.Open("/missing"); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("Open() = %v, want fs.ErrNotExist", err)
		}
	})

	t.Run("Exclusive", func(t *testing.T) {
		_, err := fsys.OpenFile("/f", vfs.O_RDWR|vfs.O_CREATE|vfs.O_EXCL, 0o644)
		if !errors.Is(err, vfs.ErrExist) {
			t.Errorf("OpenFile(O_EXCL) = %v, want ErrExist", err)
		}
	})

	t.Run("ReadOnlyHandle", func(t *testing.T) {
		f, err := fsys.Open("/f")
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		defer f.Close()

		if _, err := f.Write([]byte("x")); !errors.Is(err, vfs.ErrPermission) {
			t.Errorf("Write() on a read-only handle = %v, want ErrPermission", err)
		}
		data, err := io.ReadAll(f)
		if err != nil || string(data) != "abc" {
			t.Errorf("ReadAll() = %q, %v", data, err)
		}
	})

	t.Run("Append", func(t *testing.T) {
		f, err := fsys.OpenFile("/f", vfs.O_WRONLY|vfs.O_APPEND, 0)
		if err != nil {
			t.Fatalf("OpenFile() failed: %v", err)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			t.Fatalf("Seek() failed: %v", err)
		}
		if _, err := f.Write([]byte("def")); err != nil {
			t.Fatalf("Write() failed: %v", err)
		}
		if _, err := f.WriteAt([]byte("z"), 0); !errors.Is(err, vfs.ErrInvalid) {
			t.Errorf("WriteAt() with O_APPEND = %v, want ErrInvalid", err)
		}
		if _, err := f.Read(make([]byte, 1)); !errors.Is(err, vfs.ErrPermission) {
			t.Errorf("Read() on a write-only handle = %v, want ErrPermission", err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("Close() failed: %v", err)
		}
		if data, _ := fsys.ReadFile("/f"); string(data) != "abcdef" {
			t.Errorf("ReadFile() = %q, want abcdef", data)
		}
	})

	t.Run("Sync", func(t *testing.T) {
		f, err := fsys.OpenFile("/f", vfs.O_RDWR|vfs.O_SYNC, 0)
		if err != nil {
			t.Fatalf("OpenFile() failed: %v", err)
		}
		defer f.Close()

		if _, err := f.WriteAt([]byte("0123456789"), 0); err != nil {
			t.Fatalf("WriteAt() failed: %v", err)
		}
		if st, _ := fsys.Stat("/f"); st.Size != 10 {
			t.Errorf("inode Size = %d, want 10 right after an O_SYNC write", st.Size)
		}
	})

	t.Run("Truncate", func(t *testing.T) {
		f, err := fsys.OpenFile("/f", vfs.O_RDWR|vfs.O_TRUNC, 0)
		if err != nil {
			t.Fatalf("OpenFile() failed: %v", err)
		}
		defer f.Close()

		if st, _ := fsys.Stat("/f"); st.Size != 0 {
			t.Errorf("Size = %d after O_TRUNC, want 0", st.Size)
		}
		if err := f.Truncate(3); err != nil {
			t.Fatalf("Truncate() failed: %v", err)
		}
		if err := f.Sync(); err != nil {
			t.Fatalf("Sync() failed: %v", err)
		}
		if st, _ := fsys.Stat("/f"); st.Size != 3 {
			t.Errorf("Size = %d after Sync(), want 3", st.Size)
		}
	})
}

func TestFileDirectory(t *testing.T) {
	fsys := newVFS(t).FS()
	if err := fsys.MkdirAll("/d/sub", 0o755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}

	if _, err := fsys.OpenFile("/d", vfs.O_RDWR, 0); !errors.Is(err, vfs.ErrIsDir) {
		t.Errorf("OpenFile() of a directory for writing = %v, want ErrIsDir", err)
	}

	f, err := fsys.Open("/d")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer f.Close()

	entries, err := f.ReadDir()
	if err != nil || len(entries) != 1 || entries[0].Name() != "sub" {
		t.Errorf("ReadDir() = %v, %v", names(entries), err)
	}
	if _, err := f.Read(make([]byte, 1)); !errors.Is(err, vfs.ErrIsDir) {
		t.Errorf("Read() of a directory = %v, want ErrIsDir", err)
	}
}

func TestFileCreatePermissions(t *testing.T) {
	v := newVFS(t)
	fsys := v.FS()
	if err := fsys.WriteFile("/root-only", []byte("r"), 0o600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	v.SetCredentials(vfs.UserCredentials(1000, 1000))

	if _, err := fsys.Open("/root-only"); !errors.Is(err, vfs.ErrPermission) {
		t.Errorf("Open() = %v, want ErrPermission", err)
	}

	f, err := fsys.OpenFile("/ro-new", vfs.O_WRONLY|vfs.O_CREATE, 0o444)
	if err != nil {
		t.Fatalf("OpenFile(O_CREATE) failed: %v", err)
	}
	if _, err := f.Write([]byte("first")); err != nil {
		t.Errorf("Write() to a file created read-only by this open failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if _, err := fsys.OpenFile("/ro-new", vfs.O_WRONLY, 0); !errors.Is(err, vfs.ErrPermission) {
		t.Errorf("reopening a 0444 file for writing = %v, want ErrPermission", err)
	}
}

func TestFileKeepsMetadataChanges(t *testing.T) {
	fsys := newVFS(t).FS()

	f, err := fsys.OpenFile("/f", vfs.O_RDWR|vfs.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile() failed: %v", err)
	}
	if err := fsys.Chmod("/f", 0o600); err != nil {
		t.Fatalf("Chmod() failed: %v", err)
	}
	if err := fsys.Chown("/f", 1000, 1000); err != nil {
		t.Fatalf("Chown() failed: %v", err)
	}

	if _, err := f.Write([]byte("data")); err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	st, err := fsys.Stat("/f")
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if st.Perm() != 0o600 {
		t.Errorf("Perm() = %o after Close(), want the Chmod to survive (600)", st.Perm())
	}
	if st.UID != 1000 || st.GID != 1000 {
		t.Errorf("owner = %d:%d after Close(), want 1000:1000", st.UID, st.GID)
	}
	if st.Size != 4 {
		t.Errorf("Size = %d, want 4", st.Size)
	}
}

func TestFileClosed(t *testing.T) {
	fsys := newVFS(t).FS()
	f, err := fsys.Create("/f")
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	if err := f.Close(); !errors.Is(err, vfs.ErrClosed) {
		t.Errorf("second Close() = %v, want ErrClosed", err)
	}
	if _, err := f.Read(make([]byte, 1)); !errors.Is(err, fs.ErrClosed) {
		t.Errorf("Read() after Close() = %v, want fs.ErrClosed", err)
	}
	if _, err := f.Write([]byte("x")); !errors.Is(err, vfs.ErrClosed) {
		t.Errorf("Write() after Close() = %v, want ErrClosed", err)
	}
}

func TestFileUnmounted(t *testing.T) {
	v := newVFS(t)
	if err := v.Mount("/mnt", memfs.New()); err != nil {
		t.Fatalf("Mount() failed: %v", err)
	}
	if err := v.FS().WriteFile("/mnt/f", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	f, err := v.FS().Open("/mnt/f")
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	if err := v.Umount("/mnt"); err != nil {
		t.Fatalf("Umount() failed: %v", err)
	}

	_, err = f.Read(make([]byte, 1))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Read() after umount = %v, want fs.ErrNotExist", err)
	}
	if vfs.Errno(err) != unix.ENOENT {
		t.Errorf("Errno() = %v, want ENOENT", vfs.Errno(err))
	}
	if err := f.Close(); !errors.Is(err, vfs.ErrNotFound) {
		t.Errorf("Close() after umount = %v, want ErrNotFound", err)
	}
}

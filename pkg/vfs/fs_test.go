package vfs_test

import (
	"errors"
	"io/fs"
	"math"
	"slices"
	"strconv"
	"testing"
	"time"

	vfs "webvfs/pkg/vfs"
	"webvfs/pkg/vfs/memfs"
)

// newVFS returns a VFS with an in-memory root mount.
func newVFS(t *testing.T) *vfs.VFS {
	t.Helper()
	v := vfs.New()
	if err := v.Initialize(memfs.New()); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	return v
}

func names(entries []vfs.DirEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name()
	}
	return out
}

func TestNotInitialized(t *testing.T) {
	v := vfs.New()
	if _, err := v.FS().Stat("/"); !errors.Is(err, vfs.ErrNotInitialized) {
		t.Errorf("Stat() = %v, want ErrNotInitialized", err)
	}
	if _, err := newVFS(t).FS().Stat(""); !errors.Is(err, vfs.ErrInvalidPath) {
		t.Errorf("Stat(\"\") = %v, want ErrInvalidPath", err)
	}
}

func TestReadWriteFile(t *testing.T) {
	fsys := newVFS(t).FS()

	if err := fsys.WriteFile("/a.txt", []byte("hello"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	st, err := fsys.Stat("/a.txt")
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if !st.IsFile() || st.Size != 5 || st.Perm() != 0o644 || st.UID != 0 {
		t.Errorf("Stat() = %+v, want a 5-byte 0644 file owned by root", st)
	}

	if err := fsys.AppendFile("/a.txt", []byte(" world"), 0o644); err != nil {
		t.Fatalf("AppendFile() failed: %v", err)
	}
	data, err := fsys.ReadFile("/a.txt")
	if err != nil {
		t.Fatalf("ReadFile() failed: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("ReadFile() = %q, want %q", data, "hello world")
	}

	if err := fsys.WriteFile("/a.txt", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if data, _ := fsys.ReadFile("/a.txt"); string(data) != "x" {
		t.Errorf("ReadFile() after overwrite = %q, want %q", data, "x")
	}

	if err := fsys.Truncate("/a.txt", 4); err != nil {
		t.Fatalf("Truncate() failed: %v", err)
	}
	if data, _ := fsys.ReadFile("/a.txt"); string(data) != "x\x00\x00\x00" {
		t.Errorf("ReadFile() after growing = %q", data)
	}

	if err := fsys.Truncate("/a.txt", -1); !errors.Is(err, vfs.ErrInvalid) {
		t.Errorf("Truncate(-1) = %v, want ErrInvalid", err)
	}
	if _, err := fsys.ReadFile("/missing"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile() of a missing file = %v, want fs.ErrNotExist", err)
	}
	if _, err := fsys.ReadFile("/"); !errors.Is(err, vfs.ErrIsDir) {
		t.Errorf("ReadFile(/) = %v, want ErrIsDir", err)
	}
}

func TestWriteFileTooLarge(t *testing.T) {
	if testing.Short() || strconv.IntSize < 64 {
		t.Skip("needs a buffer larger than 4GiB")
	}
	fsys := newVFS(t).FS()
	if err := fsys.WriteFile("/big", []byte("keep"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	huge := make([]byte, int64(math.MaxUint32)+1)
	if err := fsys.WriteFile("/big", huge, 0o644); !errors.Is(err, vfs.ErrTooLarge) {
		t.Errorf("WriteFile() of %d bytes = %v, want ErrTooLarge", len(huge), err)
	}
	if data, err := fsys.ReadFile("/big"); err != nil || string(data) != "keep" {
		t.Errorf("ReadFile() after a rejected write = %q, %v, want the old content", data, err)
	}
}

func TestInodePersisted(t *testing.T) {
	v := newVFS(t)
	if err := v.FS().WriteFile("/f", []byte("abc"), 0o600); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	backend, rel, err := v.Resolve("/f")
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	ino, err := backend.ReadInode(rel)
	if err != nil {
		t.Fatalf("ReadInode() failed: %v", err)
	}
	if ino.Size != 3 || ino.Mode != uint16(vfs.S_IFREG|0o600) || ino.Nlink != 1 {
		t.Errorf("stored inode = %+v", ino)
	}
}

func TestDirectories(t *testing.T) {
	fsys := newVFS(t).FS()

	if err := fsys.Mkdir("/d", 0o755); err != nil {
		t.Fatalf("Mkdir() failed: %v", err)
	}
	if err := fsys.Mkdir("/d", 0o755); !errors.Is(err, vfs.ErrExist) {
		t.Errorf("second Mkdir() = %v, want ErrExist", err)
	}
	if err := fsys.Mkdir("/x/y", 0o755); !errors.Is(err, vfs.ErrNotFound) {
		t.Errorf("Mkdir() without parent = %v, want ErrNotFound", err)
	}

	if err := fsys.MkdirAll("/p/q/r", 0o755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	if err := fsys.MkdirAll("/p/q/r", 0o755); err != nil {
		t.Errorf("MkdirAll() of an existing tree failed: %v", err)
	}
	if st, err := fsys.Stat("/p/q/r"); err != nil || !st.IsDirectory() {
		t.Errorf("Stat() = %+v, %v, want a directory", st, err)
	}

	for _, name := range []string{"c", "a", "b"} {
		if err := fsys.WriteFile("/d/"+name, nil, 0o644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
	}
	if err := fsys.MkdirAll("/d/a/sub", 0o755); !errors.Is(err, vfs.ErrNotDir) {
		t.Errorf("MkdirAll() through a file = %v, want ErrNotDir", err)
	}

	entries, err := fsys.ReadDir("/d")
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	if got := names(entries); !slices.Equal(got, []string{"a", "b", "c"}) {
		t.Errorf("ReadDir() = %v, want [a b c]", got)
	}
	if _, err := fsys.ReadDir("/d/a"); !errors.Is(err, vfs.ErrNotDir) {
		t.Errorf("ReadDir() of a file = %v, want ErrNotDir", err)
	}

	if err := fsys.Remove("/d"); !errors.Is(err, vfs.ErrNotEmpty) {
		t.Errorf("Remove() of a non-empty directory = %v, want ErrNotEmpty", err)
	}
	if err := fsys.RemoveAll("/d"); err != nil {
		t.Fatalf("RemoveAll() failed: %v", err)
	}
	if fsys.Exists("/d") {
		t.Error("/d should be gone")
	}
	if err := fsys.RemoveAll("/d"); err != nil {
		t.Errorf("RemoveAll() of a missing path failed: %v", err)
	}
	if err := fsys.Remove("/d"); !errors.Is(err, vfs.ErrNotFound) {
		t.Errorf("Remove() of a missing path = %v, want ErrNotFound", err)
	}
}

func TestParentTimes(t *testing.T) {
	fsys := newVFS(t).FS()
	if err := fsys.Mkdir("/d", 0o755); err != nil {
		t.Fatalf("Mkdir() failed: %v", err)
	}

	old := time.UnixMilli(1_000_000)
	if err := fsys.Chtimes("/d", old, old); err != nil {
		t.Fatalf("Chtimes() failed: %v", err)
	}
	if err := fsys.WriteFile("/d/f", []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	st, err := fsys.Stat("/d")
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if !st.Mtime().After(old) {
		t.Errorf("parent mtime = %v, want it bumped by the create", st.Mtime())
	}
	if st.Atime().UnixMilli() != old.UnixMilli() {
		t.Errorf("parent atime = %v, want it untouched", st.Atime())
	}
}

func TestRename(t *testing.T) {
	v := newVFS(t)
	fsys := v.FS()

	if err := fsys.MkdirAll("/src/sub", 0o755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	if err := fsys.WriteFile("/src/sub/f", []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	t.Run("Directory", func(t *testing.T) {
		if err := fsys.Rename("/src", "/dst"); err != nil {
			t.Fatalf("Rename() failed: %v", err)
		}
		if data, err := fsys.ReadFile("/dst/sub/f"); err != nil || string(data) != "data" {
			t.Errorf("ReadFile() after rename = %q, %v", data, err)
		}
		if fsys.Exists("/src") {
			t.Error("/src should be gone")
		}
	})

	t.Run("ReplaceFile", func(t *testing.T) {
		if err := fsys.WriteFile("/other", []byte("other"), 0o644); err != nil {
			t.Fatalf("WriteFile() failed: %v", err)
		}
		if err := fsys.Rename("/dst/sub/f", "/other"); err != nil {
			t.Fatalf("Rename() failed: %v", err)
		}
		if data, _ := fsys.ReadFile("/other"); string(data) != "data" {
			t.Errorf("ReadFile() = %q, want the moved content", data)
		}
	})

	t.Run("Incompatible", func(t *testing.T) {
		if err := fsys.Rename("/dst", "/other"); !errors.Is(err, vfs.ErrNotDir) {
			t.Errorf("Rename(dir, file) = %v, want ErrNotDir", err)
		}
		if err := fsys.Rename("/other", "/dst"); !errors.Is(err, vfs.ErrIsDir) {
			t.Errorf("Rename(file, dir) = %v, want ErrIsDir", err)
		}
		if err := fsys.Rename("/dst", "/dst/sub/inner"); !errors.Is(err, vfs.ErrInvalid) {
			t.Errorf("Rename() below itself = %v, want ErrInvalid", err)
		}
	})

	t.Run("CrossDevice", func(t *testing.T) {
		if err := v.Mount("/mnt", memfs.New()); err != nil {
			t.Fatalf("Mount() failed: %v", err)
		}
		if err := fsys.Rename("/other", "/mnt/other"); !errors.Is(err, vfs.ErrCrossDevice) {
			t.Errorf("Rename() across mounts = %v, want ErrCrossDevice", err)
		}
		if err := fsys.Rename("/mnt", "/mnt2"); !errors.Is(err, vfs.ErrMount) {
			t.Errorf("Rename() of a mount point = %v, want ErrMount", err)
		}
	})
}

func TestMounts(t *testing.T) {
	v := newVFS(t)
	fsys := v.FS()
	tmp := memfs.New()

	if err := v.Mount("/tmp", tmp); err != nil {
		t.Fatalf("Mount() failed: %v", err)
	}
	if err := fsys.WriteFile("/tmp/scratch", []byte("s"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if _, err := tmp.ReadInode("/scratch"); err != nil {
		t.Errorf("file should live in the /tmp backend: %v", err)
	}

	entries, err := fsys.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir() failed: %v", err)
	}
	if got := names(entries); !slices.Contains(got, "tmp") {
		t.Errorf("ReadDir(/) = %v, want the /tmp mount listed", got)
	}

	if err := fsys.Remove("/tmp"); !errors.Is(err, vfs.ErrMount) {
		t.Errorf("Remove() of a mount point = %v, want ErrMount", err)
	}

	if err := v.Umount("/tmp"); err != nil {
		t.Fatalf("Umount() failed: %v", err)
	}
	if fsys.Exists("/tmp/scratch") {
		t.Error("the file should disappear with its mount")
	}

	ro := memfs.NewReadOnly()
	if err := v.Mount("/ro", ro); err != nil {
		t.Fatalf("Mount() failed: %v", err)
	}
	if err := fsys.WriteFile("/ro/x", []byte("x"), 0o644); !errors.Is(err, vfs.ErrReadOnly) {
		t.Errorf("WriteFile() on a read-only mount = %v, want ErrReadOnly", err)
	}

	if err := v.Sync(t.Context()); err != nil {
		t.Errorf("Sync() failed: %v", err)
	}
}

func TestSymlinks(t *testing.T) {
	fsys := newVFS(t).FS()

	if err := fsys.MkdirAll("/dir", 0o755); err != nil {
		t.Fatalf("MkdirAll() failed: %v", err)
	}
	if err := fsys.WriteFile("/dir/target", []byte("content"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	links := map[string]string{
		"/abs":      "/dir/target",
		"/dir/rel":  "target",
		"/dirlink":  "/dir",
		"/loop1":    "/loop2",
		"/loop2":    "/loop1",
		"/dangling": "/nowhere",
	}
	for link, target := range links {
		if err := fsys.Symlink(target, link); err != nil {
			t.Fatalf("Symlink(%q, %q) failed: %v", target, link, err)
		}
	}

	for _, p := range []string{"/abs", "/dir/rel", "/dirlink/target", "/dirlink/rel"} {
		data, err := fsys.ReadFile(p)
		if err != nil || string(data) != "content" {
			t.Errorf("ReadFile(%q) = %q, %v, want the target content", p, data, err)
		}
	}

	if target, err := fsys.Readlink("/abs"); err != nil || target != "/dir/target" {
		t.Errorf("Readlink() = %q, %v", target, err)
	}
	if _, err := fsys.Readlink("/dir/target"); !errors.Is(err, vfs.ErrInvalid) {
		t.Errorf("Readlink() of a file = %v, want ErrInvalid", err)
	}
	if rp, err := fsys.Realpath("/dirlink/rel"); err != nil || rp != "/dir/target" {
		t.Errorf("Realpath() = %q, %v, want /dir/target", rp, err)
	}

	if st, err := fsys.Lstat("/abs"); err != nil || !st.IsSymlink() {
		t.Errorf("Lstat() = %+v, %v, want a symlink", st, err)
	}
	if st, err := fsys.Stat("/abs"); err != nil || !st.IsFile() {
		t.Errorf("Stat() = %+v, %v, want the target file", st, err)
	}

	if _, err := fsys.Stat("/loop1"); !errors.Is(err, vfs.ErrLoop) {
		t.Errorf("Stat() of a loop = %v, want ErrLoop", err)
	}
	if _, err := fsys.Stat("/dangling"); !errors.Is(err, vfs.ErrNotFound) {
		t.Errorf("Stat() of a dangling link = %v, want ErrNotFound", err)
	}
	if err := fsys.WriteFile("/dangling", []byte("made"), 0o644); err != nil {
		t.Fatalf("WriteFile() through a dangling link failed: %v", err)
	}
	if data, err := fsys.ReadFile("/nowhere"); err != nil || string(data) != "made" {
		t.Errorf("ReadFile() of the link target = %q, %v", data, err)
	}
	if st, err := fsys.Lstat("/dangling"); err != nil || !st.IsSymlink() {
		t.Errorf("Lstat() = %+v, %v, want the link kept", st, err)
	}

	if err := fsys.Symlink("made-rel", "/dir/pending"); err != nil {
		t.Fatalf("Symlink() failed: %v", err)
	}
	if _, err := fsys.OpenFile("/dir/pending", vfs.O_RDWR|vfs.O_CREATE|vfs.O_EXCL, 0o644); !errors.Is(err, vfs.ErrExist) {
		t.Errorf("OpenFile(O_EXCL) through a link = %v, want ErrExist", err)
	}
	f, err := fsys.OpenFile("/dir/pending", vfs.O_RDWR|vfs.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("OpenFile(O_CREATE) through a relative dangling link failed: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if !fsys.Exists("/dir/made-rel") {
		t.Error("OpenFile(O_CREATE) should create the link target")
	}
	if err := fsys.Symlink("/x", "/abs"); !errors.Is(err, vfs.ErrExist) {
		t.Errorf("Symlink() over an entry = %v, want ErrExist", err)
	}

	if err := fsys.Remove("/abs"); err != nil {
		t.Fatalf("Remove() of a symlink failed: %v", err)
	}
	if !fsys.Exists("/dir/target") {
		t.Error("removing a link should keep its target")
	}
}

func TestPermissions(t *testing.T) {
	v := newVFS(t)
	fsys := v.FS()

	if err := fsys.Mkdir("/private", 0o700); err != nil {
		t.Fatalf("Mkdir() failed: %v", err)
	}
	if err := fsys.WriteFile("/private/secret", []byte("s"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	if err := fsys.WriteFile("/public", []byte("p"), 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	v.SetCredentials(vfs.UserCredentials(1000, 1000))

	if _, err := fsys.ReadFile("/public"); err != nil {
		t.Errorf("ReadFile() of a world-readable file failed: %v", err)
	}
	if err := fsys.WriteFile("/public", []byte("x"), 0o644); !errors.Is(err, vfs.ErrPermission) {
		t.Errorf("WriteFile() = %v, want ErrPermission", err)
	}
	if _, err := fsys.ReadFile("/private/secret"); !errors.Is(err, fs.ErrPermission) {
		t.Errorf("ReadFile() through a 0700 directory = %v, want fs.ErrPermission", err)
	}
	if err := fsys.Access("/public", vfs.R_OK); err != nil {
		t.Errorf("Access(R_OK) failed: %v", err)
	}
	if err := fsys.Access("/public", vfs.W_OK); !errors.Is(err, vfs.ErrPermission) {
		t.Errorf("Access(W_OK) = %v, want ErrPermission", err)
	}
	if err := fsys.Chmod("/public", 0o777); !errors.Is(err, vfs.ErrPermission) {
		t.Errorf("Chmod() by a non-owner = %v, want ErrPermission", err)
	}
	if err := fsys.Remove("/private/secret"); !errors.Is(err, vfs.ErrPermission) {
		t.Errorf("Remove() = %v, want ErrPermission", err)
	}

	if err := fsys.WriteFile("/mine", []byte("m"), 0o644); err != nil {
		t.Fatalf("WriteFile() in a 0777 directory failed: %v", err)
	}
	st, err := fsys.Stat("/mine")
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if st.UID != 1000 || st.GID != 1000 {
		t.Errorf("new file owned by %d:%d, want 1000:1000", st.UID, st.GID)
	}
	if err := fsys.Chmod("/mine", 0o600); err != nil {
		t.Errorf("Chmod() by the owner failed: %v", err)
	}
	if st, _ := fsys.Stat("/mine"); st.Perm() != 0o600 || !st.IsFile() {
		t.Errorf("mode after Chmod() = %o", st.Mode)
	}
	if err := fsys.Chown("/mine", 1000, 1000); err != nil {
		t.Errorf("Chown() to an own group failed: %v", err)
	}
	if err := fsys.Chown("/mine", 0, 0); !errors.Is(err, vfs.ErrPermission) {
		t.Errorf("Chown() giving the file away = %v, want ErrPermission", err)
	}

	v.SetCredentials(vfs.RootCredentials())
	if err := fsys.Chown("/mine", 42, 42); err != nil {
		t.Errorf("Chown() by the superuser failed: %v", err)
	}
}

func TestChtimes(t *testing.T) {
	fsys := newVFS(t).FS()
	if err := fsys.WriteFile("/f", nil, 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}
	before, err := fsys.Stat("/f")
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}

	atime := time.UnixMilli(1_600_000_000_000)
	mtime := time.UnixMilli(1_700_000_000_000)
	if err := fsys.Chtimes("/f", atime, mtime); err != nil {
		t.Fatalf("Chtimes() failed: %v", err)
	}

	st, err := fsys.Stat("/f")
	if err != nil {
		t.Fatalf("Stat() failed: %v", err)
	}
	if st.Atime().UnixMilli() != atime.UnixMilli() || st.Mtime().UnixMilli() != mtime.UnixMilli() {
		t.Errorf("times = %v, %v, want %v, %v", st.Atime(), st.Mtime(), atime, mtime)
	}
	if st.BirthtimeMs != before.BirthtimeMs {
		t.Error("Chtimes() should not touch the birth time")
	}
}

func TestWalk(t *testing.T) {
	fsys := newVFS(t).FS()
	for _, p := range []string{"/w/a/x", "/w/b"} {
		if err := fsys.MkdirAll(p, 0o755); err != nil {
			t.Fatalf("MkdirAll() failed: %v", err)
		}
	}
	if err := fsys.WriteFile("/w/a/f", nil, 0o644); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	var visited []string
	err := vfs.Walk(fsys, "/w", func(p string, st *vfs.Stats, err error) error {
		if err != nil {
			return err
		}
		visited = append(visited, p)
		if p == "/w/b" {
			return vfs.SkipDir
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() failed: %v", err)
	}

	want := []string{"/w", "/w/a", "/w/a/f", "/w/a/x", "/w/b"}
	if !slices.Equal(visited, want) {
		t.Errorf("Walk() visited %v, want %v", visited, want)
	}
}

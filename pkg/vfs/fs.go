package vfs

import (
	"errors"
	"io"
	"io/fs"
	"math"
	"slices"
	"time"

	"go.uber.org/zap"
)

// maxSymlinkHops bounds symlink resolution before failing with KindLoop.
const maxSymlinkHops = 40

// maxFileSize is the largest size the 32-bit inode size field can hold.
const maxFileSize = math.MaxUint32

// FS is the blocking operation set. An FS obtained from VFS.FS uses root "/"
// and the default credentials; one embedded in a BoundContext uses the bound
// root and credentials. Every operation resolves the path against the mount
// table, checks permissions against the target inode, runs the backend
// operation and then persists inode changes only when something changed.
type FS struct {
	vfs *VFS
	ctx *Context
}

var _ FileSystem = (*FS)(nil)

// identity returns the root and credentials in effect for one call.
func (f *FS) identity() (string, Credentials) {
	if f.ctx != nil {
		return f.ctx.root, f.ctx.creds
	}
	return "/", f.vfs.Credentials()
}

// node is a resolved entry: where it lives and its inode at lookup time.
type node struct {
	view  string // path as seen from the context root
	entry *mountEntry
	rel   string // path relative to the owning mount
	ino   *Inode
}

func (n *node) backend() Backend { return n.entry.backend }

// call carries the state of a single operation.
type call struct {
	fs    *FS
	op    string
	path  string
	root  string
	creds Credentials
}

// begin validates p and returns the call state and p as seen from the
// context root.
func (f *FS) begin(op, p string) (*call, string, error) {
	root, creds := f.identity()
	c := &call{fs: f, op: op, path: p, root: root, creds: creds}
	if err := ValidatePath(p); err != nil {
		var e *Error
		if errors.As(err, &e) {
			e.Op = op
		}
		return nil, "", err
	}
	return c, Clean(p), nil
}

func (c *call) logger() *zap.Logger { return c.fs.vfs.logger }

func (c *call) fail(kind Kind) *Error {
	return NewError(kind, c.op, c.path)
}

func (c *call) wrap(err error) error {
	err = wrapBackend(c.op, c.path, err)
	if KindOf(err) == KindBackend {
		c.logger().Error("backend failure", zap.String("op", c.op), zap.String("path", c.path), zap.Error(err))
	}
	return err
}

// check fails with KindPermission unless the call credentials grant want on
// n.
func (c *call) check(n *node, want uint32) error {
	if MayAccess(c.creds, n.ino, want) {
		return nil
	}
	c.logger().Debug("permission denied",
		zap.String("op", c.op),
		zap.String("path", n.view),
		zap.Uint32("euid", c.creds.EUID),
		zap.Uint32("want", want),
	)
	return c.fail(KindPermission)
}

// lookup loads the entry at view without following a final symlink and
// without checking directory search permission.
func (c *call) lookup(view string) (*node, error) {
	global := Contain(c.root, view)
	entry, rel, err := c.fs.vfs.mounts.resolve(global)
	if err != nil {
		return nil, c.wrap(err)
	}

	ino, err := entry.backend.ReadInode(rel)
	if err != nil {
		return nil, c.wrap(err)
	}

	return &node{view: view, entry: entry, rel: rel, ino: ino}, nil
}

// readlink returns the target stored in a symlink node.
func (c *call) readlink(n *node) (string, error) {
	buf := make([]byte, n.ino.Size)
	k, err := n.backend().ReadAt(n.rel, buf, 0)
	if err != nil && err != io.EOF {
		return "", c.wrap(err)
	}
	return string(buf[:k]), nil
}

// realpath walks view component by component, checking search permission on
// every directory and following every symlink. Absolute link targets are
// interpreted against the context root, so resolution never leaves it.
func (c *call) realpath(view string) (*node, error) {
	n, err := c.lookup("/")
	if err != nil {
		return nil, err
	}

	segs := Segments(view)
	cur := "/"
	hops := 0

	for i := 0; i < len(segs); i++ {
		if !n.ino.IsDir() {
			return nil, c.fail(KindNotDir)
		}
		if err := c.check(n, X_OK); err != nil {
			return nil, err
		}

		next := Join(cur, segs[i])
		child, err := c.lookup(next)
		if err != nil {
			return nil, err
		}

		if child.ino.IsSymlink() {
			hops++
			if hops > maxSymlinkHops {
				return nil, c.fail(KindLoop)
			}
			target, err := c.readlink(child)
			if err != nil {
				return nil, err
			}

			base := Clean(target)
			if !IsAbs(target) {
				base = Join(cur, target)
			}
			segs = append(Segments(base), segs[i+1:]...)
			cur = "/"
			if n, err = c.lookup("/"); err != nil {
				return nil, err
			}
			i = -1
			continue
		}

		cur, n = next, child
	}

	return n, nil
}

// parent resolves the directory that holds view and returns it with the
// path of the final component below the resolved directory.
func (c *call) parent(view string) (*node, string, error) {
	if view == "/" {
		return nil, "", c.fail(KindInvalid).withDetail("the root has no parent")
	}

	dir, err := c.realpath(Dir(view))
	if err != nil {
		return nil, "", err
	}
	if !dir.ino.IsDir() {
		return nil, "", c.fail(KindNotDir)
	}
	if err := c.check(dir, X_OK); err != nil {
		return nil, "", err
	}

	return dir, Join(dir.view, Base(view)), nil
}

// lstat resolves view without following a final symlink.
func (c *call) lstat(view string) (*node, error) {
	if view == "/" {
		return c.lookup("/")
	}
	_, child, err := c.parent(view)
	if err != nil {
		return nil, err
	}
	return c.lookup(child)
}

// commit projects n's inode to Stats, applies edit, and persists the inode
// only when Inode.Update reports a change.
func (c *call) commit(n *node, edit func(*Stats)) error {
	st := n.ino.ToStats()
	edit(st)
	if !n.ino.Update(st) {
		return nil
	}
	if err := n.backend().WriteInode(n.rel, n.ino); err != nil {
		return c.wrap(err)
	}
	return nil
}

// newEntry returns a fresh inode of the given mode owned by the caller. The
// size is left at the NewInode default; create sets it for non-directories.
func (c *call) newEntry(mode uint32) *Inode {
	ino := NewInode()
	ino.Mode = uint16(mode)
	ino.UID = c.creds.EUID
	ino.GID = c.creds.EGID
	return ino
}

// create makes a new entry at view, which must not exist yet.
func (c *call) create(view string, mode uint32, data []byte) (*node, error) {
	dir, child, err := c.parent(view)
	if err != nil {
		return nil, err
	}
	if err := c.check(dir, W_OK|X_OK); err != nil {
		return nil, err
	}
	if len(data) > maxFileSize {
		return nil, c.fail(KindTooLarge)
	}

	global := Contain(c.root, child)
	entry, rel, err := c.fs.vfs.mounts.resolve(global)
	if err != nil {
		return nil, c.wrap(err)
	}

	ino := c.newEntry(mode)
	if mode&S_IFMT != S_IFDIR {
		ino.Size = uint32(len(data))
	}
	if err := entry.backend.Create(rel, ino, data); err != nil {
		return nil, c.wrap(err)
	}

	now := nowMs()
	if err := c.commit(dir, func(st *Stats) { st.MtimeMs, st.CtimeMs = now, now }); err != nil {
		return nil, err
	}

	return &node{view: child, entry: entry, rel: rel, ino: ino}, nil
}

// createPath returns where a create at view should happen. A final symlink
// is followed so that creating through a dangling link makes its target.
func (c *call) createPath(view string) (string, error) {
	for hops := 0; ; hops++ {
		n, err := c.lstat(view)
		if KindOf(err) == KindNotFound {
			return view, nil
		}
		if err != nil {
			return "", err
		}
		if !n.ino.IsSymlink() {
			return n.view, nil
		}
		if hops >= maxSymlinkHops {
			return "", c.fail(KindLoop)
		}

		target, err := c.readlink(n)
		if err != nil {
			return "", err
		}
		if IsAbs(target) {
			view = Clean(target)
		} else {
			view = Join(Dir(n.view), target)
		}
	}
}

// isEmptyDir reports whether the directory n holds no entries and no mounts.
func (c *call) isEmptyDir(n *node) (bool, error) {
	names, err := n.backend().ReadDir(n.rel)
	if err != nil {
		return false, c.wrap(err)
	}
	return len(names) == 0 && len(c.fs.vfs.mounts.ChildMounts(Contain(c.root, n.view))) == 0, nil
}

// Stat returns the Stats of the entry at path, following symlinks.
func (f *FS) Stat(path string) (*Stats, error) {
	c, view, err := f.begin("stat", path)
	if err != nil {
		return nil, err
	}
	n, err := c.realpath(view)
	if err != nil {
		return nil, err
	}
	return n.ino.ToStats(), nil
}

// Lstat returns the Stats of the entry at path without following a final
// symlink.
func (f *FS) Lstat(path string) (*Stats, error) {
	c, view, err := f.begin("lstat", path)
	if err != nil {
		return nil, err
	}
	n, err := c.lstat(view)
	if err != nil {
		return nil, err
	}
	return n.ino.ToStats(), nil
}

// Exists reports whether path resolves to an entry.
func (f *FS) Exists(path string) bool {
	_, err := f.Stat(path)
	return err == nil
}

// Access checks whether the credentials grant mode (R_OK, W_OK, X_OK or
// F_OK) on path.
func (f *FS) Access(path string, mode uint32) error {
	c, view, err := f.begin("access", path)
	if err != nil {
		return err
	}
	n, err := c.realpath(view)
	if err != nil {
		return err
	}
	if mode == F_OK {
		return nil
	}
	return c.check(n, mode)
}

// ReadFile reads the whole content of the file at path.
func (f *FS) ReadFile(path string) ([]byte, error) {
	c, view, err := f.begin("readFile", path)
	if err != nil {
		return nil, err
	}
	n, err := c.realpath(view)
	if err != nil {
		return nil, err
	}
	if n.ino.IsDir() {
		return nil, c.fail(KindIsDir)
	}
	if err := c.check(n, R_OK); err != nil {
		return nil, err
	}

	buf := make([]byte, n.ino.Size)
	k, err := n.backend().ReadAt(n.rel, buf, 0)
	if err != nil && err != io.EOF {
		return nil, c.wrap(err)
	}
	return buf[:k], nil
}

// WriteFile writes data to the file at path, creating it with perm if
// necessary. An existing file is truncated first.
func (f *FS) WriteFile(path string, data []byte, perm fs.FileMode) error {
	return f.writeFile("writeFile", path, data, perm, false)
}

// AppendFile appends data to the file at path, creating it with perm if
// necessary.
func (f *FS) AppendFile(path string, data []byte, perm fs.FileMode) error {
	return f.writeFile("appendFile", path, data, perm, true)
}

func (f *FS) writeFile(op, path string, data []byte, perm fs.FileMode, appending bool) error {
	c, view, err := f.begin(op, path)
	if err != nil {
		return err
	}

	n, err := c.realpath(view)
	if KindOf(err) == KindNotFound {
		target, err := c.createPath(view)
		if err != nil {
			return err
		}
		_, err = c.create(target, S_IFREG|permBits(perm), data)
		return err
	}
	if err != nil {
		return err
	}

	if n.ino.IsDir() {
		return c.fail(KindIsDir)
	}
	if err := c.check(n, W_OK); err != nil {
		return err
	}

	var off int64
	if appending {
		off = int64(n.ino.Size)
	}
	size := off + int64(len(data))
	if size > maxFileSize {
		return c.fail(KindTooLarge)
	}
	if !appending {
		if err := n.backend().Truncate(n.rel, 0); err != nil {
			return c.wrap(err)
		}
	}

	if _, err := n.backend().WriteAt(n.rel, data, off); err != nil {
		return c.wrap(err)
	}

	now := nowMs()
	return c.commit(n, func(st *Stats) {
		st.Size = size
		st.MtimeMs, st.CtimeMs = now, now
	})
}

// Truncate changes the size of the file at path.
func (f *FS) Truncate(path string, size int64) error {
	c, view, err := f.begin("truncate", path)
	if err != nil {
		return err
	}
	if size < 0 {
		return c.fail(KindInvalid).withDetail("negative size")
	}
	if size > maxFileSize {
		return c.fail(KindTooLarge)
	}

	n, err := c.realpath(view)
	if err != nil {
		return err
	}
	if n.ino.IsDir() {
		return c.fail(KindIsDir)
	}
	if err := c.check(n, W_OK); err != nil {
		return err
	}

	if err := n.backend().Truncate(n.rel, size); err != nil {
		return c.wrap(err)
	}

	now := nowMs()
	return c.commit(n, func(st *Stats) {
		st.Size = size
		st.MtimeMs, st.CtimeMs = now, now
	})
}

// Mkdir creates a directory at path. The parent must exist.
func (f *FS) Mkdir(path string, perm fs.FileMode) error {
	c, view, err := f.begin("mkdir", path)
	if err != nil {
		return err
	}
	return c.mkdir(view, perm)
}

func (c *call) mkdir(view string, perm fs.FileMode) error {
	if view == "/" {
		return c.fail(KindExist)
	}
	if _, err := c.lstat(view); err == nil {
		return c.fail(KindExist)
	} else if KindOf(err) != KindNotFound {
		return err
	}
	_, err := c.create(view, S_IFDIR|permBits(perm), nil)
	return err
}

// MkdirAll creates the directory at path along with any missing parents.
// Existing directories are left untouched.
func (f *FS) MkdirAll(path string, perm fs.FileMode) error {
	c, view, err := f.begin("mkdir", path)
	if err != nil {
		return err
	}

	cur := "/"
	for _, seg := range Segments(view) {
		cur = Join(cur, seg)
		n, err := c.realpath(cur)
		switch {
		case err == nil:
			if !n.ino.IsDir() {
				return c.fail(KindNotDir)
			}
		case KindOf(err) == KindNotFound:
			if err := c.mkdir(cur, perm); err != nil && KindOf(err) != KindExist {
				return err
			}
		default:
			return err
		}
	}
	return nil
}

// ReadDir returns the entries of the directory at path sorted by name,
// including mounts directly below it.
func (f *FS) ReadDir(path string) ([]DirEntry, error) {
	c, view, err := f.begin("readdir", path)
	if err != nil {
		return nil, err
	}

	n, err := c.realpath(view)
	if err != nil {
		return nil, err
	}
	if !n.ino.IsDir() {
		return nil, c.fail(KindNotDir)
	}
	if err := c.check(n, R_OK); err != nil {
		return nil, err
	}

	names, err := n.backend().ReadDir(n.rel)
	if err != nil {
		return nil, c.wrap(err)
	}
	for _, name := range f.vfs.mounts.ChildMounts(Contain(c.root, n.view)) {
		if !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	entries := make([]DirEntry, 0, len(names))
	for _, name := range names {
		child, err := c.lookup(Join(n.view, name))
		if KindOf(err) == KindNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, DirEntry{name: name, stats: child.ino.ToStats()})
	}
	return entries, nil
}

// Remove removes the file, symlink or empty directory at path.
func (f *FS) Remove(path string) error {
	c, view, err := f.begin("remove", path)
	if err != nil {
		return err
	}
	return c.remove(view)
}

func (c *call) remove(view string) error {
	dir, child, err := c.parent(view)
	if err != nil {
		return err
	}
	if c.fs.vfs.mounts.mountedAt(Contain(c.root, child)) {
		return c.fail(KindMount).withDetail("entry is a mount point")
	}

	n, err := c.lookup(child)
	if err != nil {
		return err
	}
	if err := c.check(dir, W_OK|X_OK); err != nil {
		return err
	}

	if n.ino.IsDir() {
		empty, err := c.isEmptyDir(n)
		if err != nil {
			return err
		}
		if !empty {
			return c.fail(KindNotEmpty)
		}
	}

	if err := n.backend().Remove(n.rel); err != nil {
		return c.wrap(err)
	}

	now := nowMs()
	return c.commit(dir, func(st *Stats) { st.MtimeMs, st.CtimeMs = now, now })
}

// RemoveAll removes path and everything below it. A missing path is not an
// error.
func (f *FS) RemoveAll(path string) error {
	c, view, err := f.begin("removeAll", path)
	if err != nil {
		return err
	}
	return c.removeAll(view)
}

func (c *call) removeAll(view string) error {
	n, err := c.lstat(view)
	if KindOf(err) == KindNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	if n.ino.IsDir() {
		if err := c.check(n, R_OK|W_OK|X_OK); err != nil {
			return err
		}
		names, err := n.backend().ReadDir(n.rel)
		if err != nil {
			return c.wrap(err)
		}
		for _, name := range names {
			if err := c.removeAll(Join(n.view, name)); err != nil {
				return err
			}
		}
	}

	if view == "/" {
		return nil
	}
	return c.remove(n.view)
}

// Rename moves oldpath to newpath within one mount. An existing newpath is
// replaced when the entry types are compatible.
func (f *FS) Rename(oldpath, newpath string) error {
	c, oldView, err := f.begin("rename", oldpath)
	if err != nil {
		return err
	}
	if err := ValidatePath(newpath); err != nil {
		return err
	}
	newView := Clean(newpath)

	oldDir, oldChild, err := c.parent(oldView)
	if err != nil {
		return err
	}
	newDir, newChild, err := c.parent(newView)
	if err != nil {
		return err
	}

	src, err := c.lookup(oldChild)
	if err != nil {
		return err
	}
	if oldChild == newChild {
		return nil
	}
	if c.fs.vfs.mounts.mountedAt(Contain(c.root, oldChild)) {
		return c.fail(KindMount).withDetail("entry is a mount point")
	}
	if src.ino.IsDir() && HasPrefix(newChild, oldChild) {
		return c.fail(KindInvalid).withDetail("cannot move a directory below itself")
	}

	entry, newRel, err := f.vfs.mounts.resolve(Contain(c.root, newChild))
	if err != nil {
		return c.wrap(err)
	}
	if entry != src.entry {
		return c.fail(KindCrossDevice)
	}

	if err := c.check(oldDir, W_OK|X_OK); err != nil {
		return err
	}
	if err := c.check(newDir, W_OK|X_OK); err != nil {
		return err
	}

	dst, err := c.lookup(newChild)
	switch {
	case err == nil:
		if err := c.replaceable(src, dst); err != nil {
			return err
		}
		if err := dst.backend().Remove(dst.rel); err != nil {
			return c.wrap(err)
		}
	case KindOf(err) != KindNotFound:
		return err
	}

	if err := src.backend().Rename(src.rel, newRel); err != nil {
		return c.wrap(err)
	}

	now := nowMs()
	moved := &node{view: newChild, entry: entry, rel: newRel, ino: src.ino}
	if err := c.commit(moved, func(st *Stats) { st.CtimeMs = now }); err != nil {
		return err
	}
	if err := c.commit(oldDir, func(st *Stats) { st.MtimeMs, st.CtimeMs = now, now }); err != nil {
		return err
	}
	if newDir.rel != oldDir.rel || newDir.entry != oldDir.entry {
		return c.commit(newDir, func(st *Stats) { st.MtimeMs, st.CtimeMs = now, now })
	}
	return nil
}

// replaceable reports whether dst may be overwritten by src.
func (c *call) replaceable(src, dst *node) error {
	switch {
	case src.ino.IsDir() && !dst.ino.IsDir():
		return c.fail(KindNotDir)
	case !src.ino.IsDir() && dst.ino.IsDir():
		return c.fail(KindIsDir)
	case dst.ino.IsDir():
		empty, err := c.isEmptyDir(dst)
		if err != nil {
			return err
		}
		if !empty {
			return c.fail(KindNotEmpty)
		}
	}
	return nil
}

// Chmod changes the permission bits of the entry at path. Only the owner or
// the superuser may do so.
func (f *FS) Chmod(path string, mode fs.FileMode) error {
	c, view, err := f.begin("chmod", path)
	if err != nil {
		return err
	}
	n, err := c.realpath(view)
	if err != nil {
		return err
	}
	if !c.creds.owns(n.ino) {
		return c.fail(KindPermission)
	}

	now := nowMs()
	return c.commit(n, func(st *Stats) {
		st.Mode = st.Type() | permBits(mode)
		st.CtimeMs = now
	})
}

// Chown changes the owner and group of the entry at path. The superuser may
// set any ids; an owner may only change the group to one of its own groups.
func (f *FS) Chown(path string, uid, gid uint32) error {
	c, view, err := f.begin("chown", path)
	if err != nil {
		return err
	}
	n, err := c.realpath(view)
	if err != nil {
		return err
	}
	if !c.creds.IsSuperuser() {
		if c.creds.EUID != n.ino.UID || uid != n.ino.UID || !c.creds.InGroup(gid) {
			return c.fail(KindPermission)
		}
	}

	now := nowMs()
	return c.commit(n, func(st *Stats) {
		st.UID, st.GID = uid, gid
		st.CtimeMs = now
	})
}

// Chtimes changes the access and modification times of the entry at path.
func (f *FS) Chtimes(path string, atime, mtime time.Time) error {
	c, view, err := f.begin("utimes", path)
	if err != nil {
		return err
	}
	n, err := c.realpath(view)
	if err != nil {
		return err
	}
	if !c.creds.owns(n.ino) {
		return c.fail(KindPermission)
	}

	now := nowMs()
	return c.commit(n, func(st *Stats) {
		st.AtimeMs = timeToMs(atime)
		st.MtimeMs = timeToMs(mtime)
		st.CtimeMs = now
	})
}

// Symlink creates a symbolic link at newpath pointing to target. Absolute
// targets are interpreted against the context root when followed.
func (f *FS) Symlink(target, newpath string) error {
	c, view, err := f.begin("symlink", newpath)
	if err != nil {
		return err
	}
	if err := ValidatePath(target); err != nil {
		return err
	}
	if _, err := c.lstat(view); err == nil {
		return c.fail(KindExist)
	} else if KindOf(err) != KindNotFound {
		return err
	}
	_, err = c.create(view, S_IFLNK|AllPerm, []byte(target))
	return err
}

// Readlink returns the target of the symbolic link at path.
func (f *FS) Readlink(path string) (string, error) {
	c, view, err := f.begin("readlink", path)
	if err != nil {
		return "", err
	}
	n, err := c.lstat(view)
	if err != nil {
		return "", err
	}
	if !n.ino.IsSymlink() {
		return "", c.fail(KindInvalid).withDetail("not a symbolic link")
	}
	return c.readlink(n)
}

// Realpath returns path with every symlink resolved, as seen from the
// context root.
func (f *FS) Realpath(path string) (string, error) {
	c, view, err := f.begin("realpath", path)
	if err != nil {
		return "", err
	}
	n, err := c.realpath(view)
	if err != nil {
		return "", err
	}
	return n.view, nil
}

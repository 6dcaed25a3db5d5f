// Package memfs provides an in-memory backend.
// It is useful for ephemeral storage, testing, or as the upper layer of an
// overlay.
package memfs

import (
	"io"
	"slices"
	"sync"

	vfs "webvfs/pkg/vfs"
)

// memNode represents a node in the filesystem (file, directory or symlink).
// The inode is kept in its serialized form, exactly as a persistent backend
// would store it.
type memNode struct {
	inode    []byte
	data     []byte
	children map[string]*memNode
}

func (n *memNode) isDir() bool { return n.children != nil }

// FS is an in-memory backend.
type FS struct {
	mu       sync.RWMutex
	root     *memNode
	readOnly bool
}

var _ vfs.Backend = (*FS)(nil)

// New creates an empty in-memory backend whose root directory is owned by
// root and open to everyone (mode 0777).
func New() *FS {
	ino := vfs.NewInode()
	ino.Mode = uint16(vfs.S_IFDIR | vfs.AllPerm)
	ino.Data = vfs.RootIno

	return &FS{
		root: &memNode{
			inode:    ino.Bytes(),
			children: make(map[string]*memNode),
		},
	}
}

// NewReadOnly creates an empty read-only in-memory backend.
func NewReadOnly() *FS {
	fs := New()
	fs.readOnly = true
	return fs
}

// SetReadOnly switches the backend between read-write and read-only. A
// populated tree can be frozen this way.
func (fs *FS) SetReadOnly(readOnly bool) {
	fs.mu.Lock()
	fs.readOnly = readOnly
	fs.mu.Unlock()
}

// Name implements vfs.Backend.
func (fs *FS) Name() string { return "memfs" }

// nodeFromPath walks the tree and returns the node at path. The caller holds
// fs.mu.
func (fs *FS) nodeFromPath(op, path string) (*memNode, error) {
	node := fs.root
	for _, part := range vfs.Segments(path) {
		if !node.isDir() {
			return nil, vfs.NotDir(op, path)
		}
		child, ok := node.children[part]
		if !ok {
			return nil, vfs.NotFound(op, path)
		}
		node = child
	}
	return node, nil
}

// parentOf returns the directory holding path. The caller holds fs.mu.
func (fs *FS) parentOf(op, path string) (*memNode, string, error) {
	if path == "/" {
		return nil, "", vfs.Invalid(op, path, "the root has no parent")
	}
	parent, err := fs.nodeFromPath(op, vfs.Dir(path))
	if err != nil {
		return nil, "", err
	}
	if !parent.isDir() {
		return nil, "", vfs.NotDir(op, path)
	}
	return parent, vfs.Base(path), nil
}

func (fs *FS) writable(op, path string) error {
	if fs.readOnly {
		return vfs.ReadOnly(op, path)
	}
	return nil
}

// ReadInode implements vfs.Backend.
func (fs *FS) ReadInode(path string) (*vfs.Inode, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	node, err := fs.nodeFromPath("readInode", path)
	if err != nil {
		return nil, err
	}
	return vfs.InodeFromBuffer(node.inode)
}

// WriteInode implements vfs.Backend.
func (fs *FS) WriteInode(path string, ino *vfs.Inode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable("writeInode", path); err != nil {
		return err
	}
	node, err := fs.nodeFromPath("writeInode", path)
	if err != nil {
		return err
	}
	node.inode = ino.Bytes()
	return nil
}

// Create implements vfs.Backend.
func (fs *FS) Create(path string, ino *vfs.Inode, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable("create", path); err != nil {
		return err
	}
	parent, name, err := fs.parentOf("create", path)
	if err != nil {
		return err
	}
	if _, exists := parent.children[name]; exists {
		return vfs.Exist("create", path)
	}

	node := &memNode{inode: ino.Bytes()}
	if ino.IsDir() {
		node.children = make(map[string]*memNode)
	} else {
		node.data = slices.Clone(data)
	}
	parent.children[name] = node
	return nil
}

// Remove implements vfs.Backend.
func (fs *FS) Remove(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable("remove", path); err != nil {
		return err
	}
	parent, name, err := fs.parentOf("remove", path)
	if err != nil {
		return err
	}
	node, ok := parent.children[name]
	if !ok {
		return vfs.NotFound("remove", path)
	}
	if node.isDir() && len(node.children) > 0 {
		return vfs.NotEmpty("remove", path)
	}

	delete(parent.children, name)
	return nil
}

// ReadDir implements vfs.Backend.
func (fs *FS) ReadDir(path string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	node, err := fs.nodeFromPath("readdir", path)
	if err != nil {
		return nil, err
	}
	if !node.isDir() {
		return nil, vfs.NotDir("readdir", path)
	}

	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// ReadAt implements vfs.Backend.
func (fs *FS) ReadAt(path string, p []byte, off int64) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	node, err := fs.nodeFromPath("read", path)
	if err != nil {
		return 0, err
	}
	if node.isDir() {
		return 0, vfs.IsDir("read", path)
	}
	if off < 0 {
		return 0, vfs.Invalid("read", path, "negative offset")
	}
	if off >= int64(len(node.data)) {
		return 0, io.EOF
	}

	n := copy(p, node.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements vfs.Backend.
func (fs *FS) WriteAt(path string, p []byte, off int64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable("write", path); err != nil {
		return 0, err
	}
	node, err := fs.nodeFromPath("write", path)
	if err != nil {
		return 0, err
	}
	if node.isDir() {
		return 0, vfs.IsDir("write", path)
	}
	if off < 0 {
		return 0, vfs.Invalid("write", path, "negative offset")
	}

	if end := off + int64(len(p)); end > int64(len(node.data)) {
		node.data = resize(node.data, end)
	}
	return copy(node.data[off:], p), nil
}

// Truncate implements vfs.Backend.
func (fs *FS) Truncate(path string, size int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable("truncate", path); err != nil {
		return err
	}
	node, err := fs.nodeFromPath("truncate", path)
	if err != nil {
		return err
	}
	if node.isDir() {
		return vfs.IsDir("truncate", path)
	}

	node.data = resize(node.data, size)
	return nil
}

// Rename implements vfs.Backend. The target must not exist.
func (fs *FS) Rename(oldpath, newpath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.writable("rename", oldpath); err != nil {
		return err
	}
	oldParent, oldName, err := fs.parentOf("rename", oldpath)
	if err != nil {
		return err
	}
	node, ok := oldParent.children[oldName]
	if !ok {
		return vfs.NotFound("rename", oldpath)
	}
	if node.isDir() && vfs.HasPrefix(newpath, oldpath) {
		return vfs.Invalid("rename", newpath, "cannot move a directory below itself")
	}

	newParent, newName, err := fs.parentOf("rename", newpath)
	if err != nil {
		return err
	}
	if _, exists := newParent.children[newName]; exists {
		return vfs.Exist("rename", newpath)
	}

	delete(oldParent.children, oldName)
	newParent.children[newName] = node
	return nil
}

// resize returns data grown with zeros or cut to size.
func resize(data []byte, size int64) []byte {
	if size <= int64(len(data)) {
		return data[:size]
	}
	grown := make([]byte, size)
	copy(grown, data)
	return grown
}

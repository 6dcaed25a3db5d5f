// Package overlayfs provides a layered backend.
// It combines a read-only lower backend with a read-write upper backend,
// using copy-on-write semantics for modifications.
//
// Deleting an entry that exists in the lower layer leaves a whiteout, an
// empty ".wh.<name>" entry next to it in the upper layer. A directory created
// over a whiteout is marked opaque with a ".wh..wh..opq" entry so the lower
// directory's children stay hidden.
package overlayfs

import (
	"context"
	"io"
	"slices"
	"strings"
	"sync"

	vfs "webvfs/pkg/vfs"
)

const (
	whiteoutPrefix = ".wh."
	opaqueMarker   = ".wh..wh..opq"
)

// FS represents a layered backend with lower (read-only) and upper
// (read-write) layers.
type FS struct {
	mu    sync.RWMutex
	upper vfs.Backend
	lower vfs.Backend
}

var (
	_ vfs.Backend = (*FS)(nil)
	_ vfs.Syncer  = (*FS)(nil)
)

// New creates a new overlay backend. The lower layer is never written to.
func New(upper, lower vfs.Backend) *FS {
	return &FS{
		upper: upper,
		lower: lower,
	}
}

// Name implements vfs.Backend.
func (fs *FS) Name() string { return "overlayfs" }

func whiteoutPath(path string) string {
	return vfs.Join(vfs.Dir(path), whiteoutPrefix+vfs.Base(path))
}

func isMarker(name string) bool {
	return strings.HasPrefix(name, whiteoutPrefix)
}

func (fs *FS) existsInUpper(path string) bool {
	_, err := fs.upper.ReadInode(path)
	return err == nil
}

// lowerVisible reports whether the lower layer's entry at path, if any, shows
// through: neither path nor an ancestor is whited out, and no ancestor is an
// opaque upper directory.
func (fs *FS) lowerVisible(path string) bool {
	cur := "/"
	for _, seg := range vfs.Segments(path) {
		if fs.existsInUpper(vfs.Join(cur, opaqueMarker)) {
			return false
		}
		cur = vfs.Join(cur, seg)
		if fs.existsInUpper(whiteoutPath(cur)) {
			return false
		}
	}
	return true
}

// layerFor returns the layer holding path.
func (fs *FS) layerFor(op, path string) (vfs.Backend, error) {
	if isMarker(vfs.Base(path)) {
		return nil, vfs.NotFound(op, path)
	}
	if fs.existsInUpper(path) {
		return fs.upper, nil
	}
	if fs.lowerVisible(path) {
		if _, err := fs.lower.ReadInode(path); err == nil {
			return fs.lower, nil
		}
	}
	return nil, vfs.NotFound(op, path)
}

// ReadInode implements vfs.Backend.
func (fs *FS) ReadInode(path string) (*vfs.Inode, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	layer, err := fs.layerFor("readInode", path)
	if err != nil {
		return nil, err
	}
	return layer.ReadInode(path)
}

// WriteInode implements vfs.Backend.
func (fs *FS) WriteInode(path string, ino *vfs.Inode) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.copyUp("writeInode", path); err != nil {
		return err
	}
	return fs.upper.WriteInode(path, ino)
}

// Create implements vfs.Backend.
func (fs *FS) Create(path string, ino *vfs.Inode, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if isMarker(vfs.Base(path)) {
		return vfs.Invalid("create", path, "reserved name")
	}
	if _, err := fs.layerFor("create", path); err == nil {
		return vfs.Exist("create", path)
	}
	if err := fs.copyUp("create", vfs.Dir(path)); err != nil {
		return err
	}

	whited := fs.existsInUpper(whiteoutPath(path))
	if whited {
		if err := fs.upper.Remove(whiteoutPath(path)); err != nil {
			return err
		}
	}

	if err := fs.upper.Create(path, ino, data); err != nil {
		return err
	}

	if whited && ino.IsDir() {
		return fs.upper.Create(vfs.Join(path, opaqueMarker), markerInode(), nil)
	}
	return nil
}

// Remove implements vfs.Backend.
func (fs *FS) Remove(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	layer, err := fs.layerFor("remove", path)
	if err != nil {
		return err
	}
	ino, err := layer.ReadInode(path)
	if err != nil {
		return err
	}

	if ino.IsDir() {
		names, err := fs.readDir(path)
		if err != nil {
			return err
		}
		if len(names) > 0 {
			return vfs.NotEmpty("remove", path)
		}
	}

	inLower := false
	if fs.lowerVisible(path) {
		_, err := fs.lower.ReadInode(path)
		inLower = err == nil
	}

	if layer == fs.upper {
		if ino.IsDir() {
			if err := fs.clearMarkers(path); err != nil {
				return err
			}
		}
		if err := fs.upper.Remove(path); err != nil {
			return err
		}
	}

	if inLower {
		return fs.createWhiteout(path)
	}
	return nil
}

// clearMarkers removes whiteouts and the opaque marker inside the upper
// directory at path.
func (fs *FS) clearMarkers(path string) error {
	names, err := fs.upper.ReadDir(path)
	if err != nil {
		return err
	}
	for _, name := range names {
		if !isMarker(name) {
			continue
		}
		if err := fs.upper.Remove(vfs.Join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

// ReadDir implements vfs.Backend.
func (fs *FS) ReadDir(path string) ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	return fs.readDir(path)
}

// readDir merges both layers. The caller holds fs.mu.
func (fs *FS) readDir(path string) ([]string, error) {
	layer, err := fs.layerFor("readdir", path)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var names []string

	opaque := false
	if layer == fs.upper {
		upperNames, err := fs.upper.ReadDir(path)
		if err != nil {
			return nil, err
		}
		for _, name := range upperNames {
			switch {
			case name == opaqueMarker:
				opaque = true
			case isMarker(name):
				seen[strings.TrimPrefix(name, whiteoutPrefix)] = true
			default:
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	if !opaque && fs.lowerVisible(path) {
		lowerNames, err := fs.lower.ReadDir(path)
		if err != nil && vfs.KindOf(err) != vfs.KindNotFound {
			return nil, err
		}
		for _, name := range lowerNames {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}

	slices.Sort(names)
	return names, nil
}

// ReadAt implements vfs.Backend.
func (fs *FS) ReadAt(path string, p []byte, off int64) (int, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	layer, err := fs.layerFor("read", path)
	if err != nil {
		return 0, err
	}
	return layer.ReadAt(path, p, off)
}

// WriteAt implements vfs.Backend.
func (fs *FS) WriteAt(path string, p []byte, off int64) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.copyUp("write", path); err != nil {
		return 0, err
	}
	return fs.upper.WriteAt(path, p, off)
}

// Truncate implements vfs.Backend.
func (fs *FS) Truncate(path string, size int64) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fs.copyUp("truncate", path); err != nil {
		return err
	}
	return fs.upper.Truncate(path, size)
}

// Rename implements vfs.Backend. The entry and everything below it is copied
// up before being moved inside the upper layer.
func (fs *FS) Rename(oldpath, newpath string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.layerFor("rename", newpath); err == nil {
		return vfs.Exist("rename", newpath)
	}

	inLower := false
	if fs.lowerVisible(oldpath) {
		_, err := fs.lower.ReadInode(oldpath)
		inLower = err == nil
	}

	if err := fs.copyUpTree("rename", oldpath); err != nil {
		return err
	}
	if err := fs.copyUp("rename", vfs.Dir(newpath)); err != nil {
		return err
	}

	whited := fs.existsInUpper(whiteoutPath(newpath))
	if whited {
		if err := fs.upper.Remove(whiteoutPath(newpath)); err != nil {
			return err
		}
	}

	if err := fs.upper.Rename(oldpath, newpath); err != nil {
		return err
	}

	if whited {
		if ino, err := fs.upper.ReadInode(newpath); err == nil && ino.IsDir() && !fs.existsInUpper(vfs.Join(newpath, opaqueMarker)) {
			if err := fs.upper.Create(vfs.Join(newpath, opaqueMarker), markerInode(), nil); err != nil {
				return err
			}
		}
	}

	if inLower {
		return fs.createWhiteout(oldpath)
	}
	return nil
}

// Sync implements vfs.Syncer for whichever layers buffer state.
func (fs *FS) Sync(ctx context.Context) error {
	for _, layer := range []vfs.Backend{fs.upper, fs.lower} {
		if s, ok := layer.(vfs.Syncer); ok {
			if err := s.Sync(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyUp copies path, and its missing ancestors, from the lower layer to the
// upper layer. Directories are copied without their children. The caller
// holds fs.mu.
func (fs *FS) copyUp(op, path string) error {
	if fs.existsInUpper(path) {
		return nil
	}
	if !fs.lowerVisible(path) {
		return vfs.NotFound(op, path)
	}

	ino, err := fs.lower.ReadInode(path)
	if err != nil {
		return err
	}

	if path != "/" {
		if err := fs.copyUp(op, vfs.Dir(path)); err != nil {
			return err
		}
	}

	var data []byte
	if !ino.IsDir() {
		data = make([]byte, ino.Size)
		n, err := fs.lower.ReadAt(path, data, 0)
		if err != nil && err != io.EOF {
			return err
		}
		data = data[:n]
	}

	return fs.upper.Create(path, ino, data)
}

// copyUpTree copies path and every lower entry below it to the upper layer.
func (fs *FS) copyUpTree(op, path string) error {
	if err := fs.copyUp(op, path); err != nil {
		return err
	}

	ino, err := fs.upper.ReadInode(path)
	if err != nil || !ino.IsDir() {
		return err
	}

	names, err := fs.readDir(path)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := fs.copyUpTree(op, vfs.Join(path, name)); err != nil {
			return err
		}
	}
	return nil
}

// createWhiteout hides the lower entry at path.
func (fs *FS) createWhiteout(path string) error {
	if err := fs.copyUp("whiteout", vfs.Dir(path)); err != nil {
		return err
	}
	return fs.upper.Create(whiteoutPath(path), markerInode(), nil)
}

func markerInode() *vfs.Inode {
	ino := vfs.NewInode()
	ino.Mode = uint16(vfs.S_IFREG)
	ino.Size = 0
	return ino
}

package vfs

import (
	"errors"
	"path"
	"strings"
)

// MaxPathLength is the maximum allowed path length.
const MaxPathLength = 4096

// Clean normalizes p to an absolute path. Empty and "." elements are
// dropped and ".." never climbs above the root, so the result is always
// contained in "/".
func Clean(p string) string {
	if p == "" {
		return "/"
	}

	p = strings.ReplaceAll(p, "\\", "/")

	components := strings.Split(p, "/")
	result := make([]string, 0, len(components))

	for _, comp := range components {
		switch comp {
		case "", ".":
			continue
		case "..":
			if len(result) > 0 {
				result = result[:len(result)-1]
			}
		default:
			result = append(result, comp)
		}
	}

	if len(result) == 0 {
		return "/"
	}

	return "/" + strings.Join(result, "/")
}

// IsAbs returns true if the path is absolute.
func IsAbs(p string) bool {
	return strings.HasPrefix(p, "/")
}

// IsClean reports whether p is already an absolute, normalized path.
func IsClean(p string) bool {
	return IsAbs(p) && Clean(p) == p
}

// Contain resolves p inside root. Relative and absolute paths are both
// interpreted below root, and ".." segments are clamped at root.
func Contain(root, p string) string {
	rel := Clean(p)
	root = Clean(root)
	if root == "/" {
		return rel
	}
	if rel == "/" {
		return root
	}
	return root + rel
}

// Dir returns all but the last element of the path.
func Dir(p string) string {
	p = Clean(p)

	lastSlash := strings.LastIndex(p, "/")
	if lastSlash == 0 {
		return "/"
	}

	return p[:lastSlash]
}

// Base returns the last element of the path, or "" for the root.
func Base(p string) string {
	p = Clean(p)

	lastSlash := strings.LastIndex(p, "/")
	if lastSlash == len(p)-1 {
		return ""
	}

	return p[lastSlash+1:]
}

// Join joins any number of path elements into a single path.
func Join(elem ...string) string {
	return Clean(path.Join(elem...))
}

// Segments splits a clean absolute path into its components.
func Segments(p string) []string {
	p = Clean(p)
	if p == "/" {
		return nil
	}
	return strings.Split(p[1:], "/")
}

// HasPrefix reports whether prefix names p or one of its ancestors, comparing
// whole path segments: "/a/b" is a prefix of "/a/b/c" but not of "/a/bc".
func HasPrefix(p, prefix string) bool {
	if prefix == "/" || p == prefix {
		return true
	}
	return strings.HasPrefix(p, prefix) && p[len(prefix)] == '/'
}

// ValidatePath checks if the path is valid for use in the VFS.
func ValidatePath(p string) error {
	if p == "" {
		return NewError(KindInvalidPath, "validate", p).withDetail("empty path")
	}

	if len(p) > MaxPathLength {
		return NewError(KindInvalidPath, "validate", p[:32]+"...").withDetail("path too long")
	}

	if strings.Contains(p, "\x00") {
		return NewError(KindInvalidPath, "validate", strings.ReplaceAll(p, "\x00", "\\0")).
			withDetail("path contains a NUL byte")
	}

	return nil
}

// WalkFunc is called by Walk for every entry. Returning SkipDir from a call
// on a directory skips its contents.
type WalkFunc func(path string, stats *Stats, err error) error

// SkipDir is used as a return value from a WalkFunc.
var SkipDir = errors.New("vfs: skip this directory")

// Walk walks the tree rooted at root in lexical order, calling walkFn for each
// entry including root. Symlinks are not followed.
func Walk(fsys *FS, root string, walkFn WalkFunc) error {
	root = Clean(root)

	stats, err := fsys.Lstat(root)
	if err != nil {
		return walkFn(root, nil, err)
	}

	err = walk(fsys, root, stats, walkFn)
	if err == SkipDir {
		return nil
	}
	return err
}

func walk(fsys *FS, p string, stats *Stats, walkFn WalkFunc) error {
	err := walkFn(p, stats, nil)
	if err != nil || !stats.IsDirectory() {
		return err
	}

	entries, err := fsys.ReadDir(p)
	if err != nil {
		return walkFn(p, stats, err)
	}

	for _, entry := range entries {
		child := Join(p, entry.Name())
		if err := walk(fsys, child, entry.Stats(), walkFn); err != nil {
			if err == SkipDir && entry.IsDir() {
				continue
			}
			return err
		}
	}

	return nil
}

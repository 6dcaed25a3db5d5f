package vfs

import (
	"go.uber.org/zap"
)

// Context scopes filesystem operations to a root directory and a set of
// credentials. It never changes after creation.
type Context struct {
	root  string
	creds Credentials
}

// Root returns the context root as an absolute global path.
func (c *Context) Root() string { return c.root }

// Credentials returns a copy of the context credentials.
func (c *Context) Credentials() Credentials { return c.creds.Clone() }

// BoundContext is a chroot- and setuid-like view of a VFS: every operation
// of the embedded FS resolves paths below Root and checks permissions with
// Credentials. Mount management is not part of the view.
//
// A BoundContext is immutable and safe for concurrent use.
type BoundContext struct {
	*FS
	promises *Promises
}

// Root returns the context root as an absolute global path.
func (b *BoundContext) Root() string { return b.FS.ctx.root }

// Credentials returns a copy of the bound credentials.
func (b *BoundContext) Credentials() Credentials { return b.FS.ctx.Credentials() }

// Promises returns the deferred operation set of the context.
func (b *BoundContext) Promises() *Promises { return b.promises }

// BindContext returns a view of v rooted at root and acting as creds. root is
// normalized and created as a directory, with the default credentials, when
// it does not exist. A nil creds copies the default credentials at call time,
// so later SetCredentials calls do not affect the bound context.
//
// Paths given to the bound operations are always resolved below root:
// absolute paths are re-rooted and ".." is clamped at root.
func (v *VFS) BindContext(root string, creds *Credentials) (*BoundContext, error) {
	if err := ValidatePath(root); err != nil {
		return nil, err
	}
	root = Clean(root)

	if err := v.FS().MkdirAll(root, AllPerm); err != nil {
		return nil, err
	}

	var snapshot Credentials
	if creds != nil {
		snapshot = creds.Clone()
	} else {
		snapshot = v.Credentials()
	}

	fsys := &FS{vfs: v, ctx: &Context{root: root, creds: snapshot}}

	v.logger.Debug("context bound",
		zap.String("root", root),
		zap.Uint32("euid", snapshot.EUID),
		zap.Uint32("egid", snapshot.EGID),
	)

	return &BoundContext{FS: fsys, promises: &Promises{fs: fsys}}, nil
}

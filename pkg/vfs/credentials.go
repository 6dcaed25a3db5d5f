package vfs

import "slices"

// Credentials is the identity used for permission checks. Values are copied
// on bind and never mutated in place afterwards.
type Credentials struct {
	UID    uint32   `yaml:"uid"`
	GID    uint32   `yaml:"gid"`
	EUID   uint32   `yaml:"euid"`
	EGID   uint32   `yaml:"egid"`
	Groups []uint32 `yaml:"groups"`
}

// RootCredentials returns superuser credentials, the process-wide default.
func RootCredentials() Credentials {
	return Credentials{Groups: []uint32{0}}
}

// UserCredentials returns credentials with real and effective ids set to
// uid/gid and the given supplementary groups.
func UserCredentials(uid, gid uint32, groups ...uint32) Credentials {
	return Credentials{
		UID:    uid,
		GID:    gid,
		EUID:   uid,
		EGID:   gid,
		Groups: slices.Clone(groups),
	}
}

// Clone returns a deep copy of c.
func (c Credentials) Clone() Credentials {
	c.Groups = slices.Clone(c.Groups)
	return c
}

// IsSuperuser reports whether the effective uid is 0.
func (c Credentials) IsSuperuser() bool {
	return c.EUID == 0
}

// InGroup reports whether gid is the effective gid or a supplementary group.
func (c Credentials) InGroup(gid uint32) bool {
	return c.EGID == gid || slices.Contains(c.Groups, gid)
}

// MayAccess reports whether c may perform the access in want (a combination
// of R_OK, W_OK and X_OK) on ino. The superuser bypasses every check; owner
// bits apply when the euid owns the inode, group bits when the inode's group
// is one of the caller's groups, and other bits otherwise.
func MayAccess(c Credentials, ino *Inode, want uint32) bool {
	if c.IsSuperuser() {
		return true
	}

	mode := uint32(ino.Mode)
	var perm uint32
	switch {
	case c.EUID == ino.UID:
		perm = (mode >> 6) & 7
	case c.InGroup(ino.GID):
		perm = (mode >> 3) & 7
	default:
		perm = mode & 7
	}

	return perm&want == want
}

// owns reports whether c may change the metadata of ino.
func (c Credentials) owns(ino *Inode) bool {
	return c.IsSuperuser() || c.EUID == ino.UID
}

// Package vfs provides a userspace Virtual File System: a mount table that
// maps path prefixes to pluggable storage backends, a fixed-layout inode
// record persisted by every backend, and a dispatcher that resolves paths,
// checks POSIX-style permissions and keeps inode metadata current.
//
// # Features
//
//   - Segment-aware longest-prefix mount resolution (memfs, diskfs, overlayfs)
//   - Binary inode record with an upgrade path from the legacy layout
//   - Bound contexts: chroot-like root plus setuid-like credentials
//   - Blocking (FS) and deferred (Promises) operation sets over one core
//   - Symlinks, file handles and owner/group/other permission checks
//
// # Usage
//
//	v := vfs.New()
//	if err := v.Initialize(memfs.New()); err != nil {
//		log.Fatal(err)
//	}
//
//	ctx, err := v.BindContext("/sandbox", &vfs.Credentials{UID: 1000, EUID: 1000})
//	if err != nil {
//		log.Fatal(err)
//	}
//	// Written to /sandbox/hello.txt in the global namespace.
//	err = ctx.WriteFile("/hello.txt", []byte("hi"), 0o644)
package vfs

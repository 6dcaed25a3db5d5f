package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"webvfs/pkg/config"
	vlog "webvfs/pkg/log"
	vfs "webvfs/pkg/vfs"
)

// env is what every command runs against.
type env struct {
	vfs      *vfs.VFS
	fs       vfs.FileSystem
	promises *vfs.Promises
	root     string
	out      io.Writer
}

type action func(ctx context.Context, c *cli.Command, e *env) error

// withVFS builds the configured VFS, binds a context when asked to, runs fn
// and flushes every backend afterwards.
func withVFS(fn action) cli.ActionFunc {
	return func(ctx context.Context, c *cli.Command) error {
		cfg := config.Default()
		if path := c.String("config"); path != "" {
			var err error
			if cfg, err = config.Load(path); err != nil {
				return err
			}
		}

		v, err := cfg.Build()
		if err != nil {
			return err
		}
		if c.Bool("verbose") {
			vlog.Configure(vlog.Config{Enabled: true, Level: vlog.LevelPtr(vlog.DEBUG), Output: c.Root().ErrWriter})
		}

		e := &env{vfs: v, fs: v.FS(), promises: v.Promises(), root: "/", out: c.Root().Writer}

		if c.String("root") != "/" || c.IsSet("uid") || c.IsSet("gid") {
			var creds *vfs.Credentials
			if c.IsSet("uid") || c.IsSet("gid") {
				uid, gid := uint32(c.Uint("uid")), uint32(c.Uint("gid"))
				cr := vfs.UserCredentials(uid, gid, gid)
				creds = &cr
			}

			bound, err := v.BindContext(c.String("root"), creds)
			if err != nil {
				return err
			}
			e.fs, e.promises, e.root = bound, bound.Promises(), bound.Root()
		}

		runErr := fn(ctx, c, e)
		if err := v.Sync(ctx); err != nil && runErr == nil {
			runErr = err
		}
		return runErr
	}
}

func requireArgs(c *cli.Command, n int) error {
	if c.NArg() < n {
		return fmt.Errorf("%s: expected %s", c.Name, c.ArgsUsage)
	}
	return nil
}

func runMounts(_ context.Context, _ *cli.Command, e *env) error {
	tw := tabwriter.NewWriter(e.out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "PREFIX\tBACKEND")
	for _, m := range e.vfs.Mounts() {
		fmt.Fprintf(tw, "%s\t%s\n", m.Prefix, m.Backend.Name())
	}
	return tw.Flush()
}

func runLs(_ context.Context, c *cli.Command, e *env) error {
	dir := "/"
	if c.NArg() > 0 {
		dir = c.Args().First()
	}

	entries, err := e.fs.ReadDir(dir)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(e.out, 0, 8, 1, ' ', tabwriter.AlignRight)
	for _, entry := range entries {
		st := entry.Stats()
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t %s\t %s\t\n",
			st.FileMode(), st.UID, st.GID, st.Size,
			st.Mtime().Format("Jan _2 15:04"), entry.Name())
	}
	return tw.Flush()
}

// runCat reads every file through the deferred API at once and prints them
// in argument order.
func runCat(ctx context.Context, c *cli.Command, e *env) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	paths := c.Args().Slice()
	contents := make([][]byte, len(paths))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range paths {
		fut := e.promises.ReadFile(p)
		g.Go(func() error {
			data, err := fut.Await(ctx)
			contents[i] = data
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, data := range contents {
		if _, err := e.out.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func runPut(_ context.Context, c *cli.Command, e *env) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	var data []byte
	if c.NArg() > 1 {
		data = []byte(c.Args().Get(1))
	} else {
		var err error
		if data, err = io.ReadAll(os.Stdin); err != nil {
			return err
		}
	}
	return e.fs.WriteFile(c.Args().First(), data, 0o644)
}

func runStat(_ context.Context, c *cli.Command, e *env) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	st, err := e.fs.Lstat(c.Args().First())
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "  Path: %s\n", c.Args().First())
	fmt.Fprintf(e.out, "  Size: %-12d Blocks: %-8d Links: %d\n", st.Size, st.Blocks, st.Nlink)
	fmt.Fprintf(e.out, "Access: (%04o/%s)  Uid: %d  Gid: %d\n", st.Perm(), st.FileMode(), st.UID, st.GID)
	fmt.Fprintf(e.out, "Access: %s\n", st.Atime())
	fmt.Fprintf(e.out, "Modify: %s\n", st.Mtime())
	fmt.Fprintf(e.out, "Change: %s\n", st.Ctime())
	fmt.Fprintf(e.out, " Birth: %s\n", st.Birthtime())
	return nil
}

func runMkdir(_ context.Context, c *cli.Command, e *env) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	if c.Bool("parents") {
		return e.fs.MkdirAll(c.Args().First(), 0o755)
	}
	return e.fs.Mkdir(c.Args().First(), 0o755)
}

func runRm(_ context.Context, c *cli.Command, e *env) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	if c.Bool("recursive") {
		return e.fs.RemoveAll(c.Args().First())
	}
	return e.fs.Remove(c.Args().First())
}

// runInode reads the inode straight from the owning backend and prints its
// binary record.
func runInode(_ context.Context, c *cli.Command, e *env) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}

	// Resolve through the context first so permissions are checked.
	if _, err := e.fs.Lstat(c.Args().First()); err != nil {
		return err
	}

	global := vfs.Contain(e.root, c.Args().First())
	backend, rel, err := e.vfs.Resolve(global)
	if err != nil {
		return err
	}
	ino, err := backend.ReadInode(rel)
	if err != nil {
		return err
	}

	fmt.Fprintf(e.out, "%s on %s (%s), id %#x\n", global, backend.Name(), rel, ino.ID)
	_, err = io.WriteString(e.out, hex.Dump(ino.Bytes()))
	return err
}

// vfsctl inspects and edits a VFS described by a YAML configuration.
//
// Without a configuration it works on a single diskfs mount stored in
// ./vfsdata. Commands run against the unbound filesystem, or against a bound
// context when --root, --uid or --gid is given:
//
//	vfsctl put /hello.txt "Hello from vfsctl"
//	vfsctl --root /home/alice --uid 1000 --gid 1000 ls /
//	vfsctl -c vfs.yaml mounts
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

const version = "0.3.0"

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "vfsctl:", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	app := new(cli.Command)

	app.Name = "vfsctl"
	app.Usage = "inspect and edit a virtual file system"
	app.HideHelpCommand = true
	app.EnableShellCompletion = true

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Sources: cli.EnvVars("VFSCTL_CONFIG"),
			Usage:   "path to the YAML configuration",
		},
		&cli.StringFlag{Name: "root", Value: "/", Usage: "bind a context rooted at this directory"},
		&cli.UintFlag{Name: "uid", Usage: "act as this user id"},
		&cli.UintFlag{Name: "gid", Usage: "act as this group id"},
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "log every filesystem event to stderr",
		},
	}

	app.Commands = []*cli.Command{
		{
			Name:   "mounts",
			Usage:  "list the mount table",
			Action: withVFS(runMounts),
		},
		{
			Name:      "ls",
			Usage:     "list a directory",
			ArgsUsage: "[PATH]",
			Action:    withVFS(runLs),
		},
		{
			Name:      "cat",
			Usage:     "print files",
			ArgsUsage: "PATH...",
			Action:    withVFS(runCat),
		},
		{
			Name:      "put",
			Usage:     "write TEXT, or standard input, to a file",
			ArgsUsage: "PATH [TEXT]",
			Action:    withVFS(runPut),
		},
		{
			Name:      "stat",
			Usage:     "show the metadata of an entry",
			ArgsUsage: "PATH",
			Action:    withVFS(runStat),
		},
		{
			Name:      "mkdir",
			Usage:     "create a directory",
			ArgsUsage: "PATH",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "parents", Aliases: []string{"p"}, Usage: "create missing parents"},
			},
			Action: withVFS(runMkdir),
		},
		{
			Name:      "rm",
			Usage:     "remove an entry",
			ArgsUsage: "PATH",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "remove directories and their contents"},
			},
			Action: withVFS(runRm),
		},
		{
			Name:      "inode",
			Usage:     "dump the encoded inode of an entry",
			ArgsUsage: "PATH",
			Action:    withVFS(runInode),
		},
		{
			Name:  "version",
			Usage: "print the version information",
			Action: func(ctx context.Context, c *cli.Command) error {
				fmt.Fprintf(c.Root().Writer, "vfsctl v%s\n", version)
				return nil
			},
		},
	}

	return app
}

// Command kutuctl is the kutu container engine's operator CLI: bootstrap
// images, run and kill containers, and list both. Argument parsing, help
// text and colorized output are explicitly out of scope for the engine
// itself (see spec) and live entirely in this file via urfave/cli/v2, the
// same library family the teacher's nsinit command used.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/mofm/kutu/daemon"
	"github.com/mofm/kutu/libcontainer/configs"
	"github.com/mofm/kutu/store/container"
)

var version = "dev"

func main() {
	// Dispatch the hidden re-exec subcommand before cli.App ever sees
	// argv — it is not part of the operator-facing surface and must not
	// appear in --help.
	if len(os.Args) > 1 && os.Args[1] == container.InitSubcommandName {
		if err := container.RunInitSubcommand(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	app := &cli.App{
		Name:    "kutuctl",
		Usage:   "a minimalist Linux container engine",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "image-root", Usage: "override the image store root directory", EnvVars: []string{"KUTU_ROOT"}},
			&cli.StringFlag{Name: "container-root", Usage: "override the container root directory"},
			&cli.StringFlag{Name: "run-root", Usage: "override the pidfile directory"},
			&cli.BoolFlag{Name: "debug", Usage: "enable debug logging"},
		},
		Before: func(c *cli.Context) error {
			if c.Bool("debug") {
				logrus.SetLevel(logrus.DebugLevel)
			}
			logrus.SetOutput(os.Stderr)
			logrus.AddHook(daemon.NewJournalHook())
			return nil
		},
		Commands: []*cli.Command{
			bootstrapCommand,
			imageCommand,
			runCommand,
			killCommand,
			containerCommand,
			usageCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// managerFromContext resolves Paths from global flags/env, falling back to
// DefaultPaths, and returns the Manager driving every subcommand.
func managerFromContext(c *cli.Context) *container.Manager {
	paths := container.DefaultPaths()
	if v := c.String("image-root"); v != "" {
		paths.ImageRoot = v
	}
	if v := c.String("container-root"); v != "" {
		paths.ContainerRoot = v
	}
	if v := c.String("run-root"); v != "" {
		paths.RunRoot = v
	}
	return container.New(paths)
}

var bootstrapCommand = &cli.Command{
	Name:      "bootstrap",
	Usage:     "bootstrap a container image from an upstream distribution",
	ArgsUsage: "<name> <dist> [version]",
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return cli.Exit("usage: bootstrap <name> <dist> [version]", 1)
		}
		name, dist := c.Args().Get(0), c.Args().Get(1)
		version := c.Args().Get(2)
		return managerFromContext(c).Bootstrap(c.Context, name, dist, version)
	},
}

var imageCommand = &cli.Command{
	Name:  "image",
	Usage: "manage kutu images",
	Subcommands: []*cli.Command{
		{
			Name:    "list",
			Aliases: []string{"ls"},
			Usage:   "list bootstrapped images",
			Action: func(c *cli.Context) error {
				names, err := managerFromContext(c).ImageList()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			},
		},
		{
			Name:      "remove",
			Aliases:   []string{"rm"},
			Usage:     "remove one or more images",
			ArgsUsage: "<name>...",
			Action: func(c *cli.Context) error {
				if c.Args().Len() == 0 {
					return cli.Exit("usage: image remove <name>...", 1)
				}
				return managerFromContext(c).ImageRemove(c.Args().Slice())
			},
		},
	},
}

var runCommand = &cli.Command{
	Name:      "run",
	Usage:     "run a container from an image",
	ArgsUsage: "<name> <image>",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "cmd", Aliases: []string{"c"}, Usage: "entrypoint command", Required: true},
		&cli.StringSliceFlag{Name: "bind", Usage: "bind mount host:container[:ro], repeatable"},
		&cli.StringFlag{Name: "hostname", Usage: "container hostname (default: generated)"},
		&cli.StringFlag{Name: "net", Value: "isolated", Usage: `"isolated" (default) or "host"`},
		&cli.BoolFlag{Name: "share-resolv-conf", Usage: "bind-mount the host's /etc/resolv.conf (only meaningful with --net=host)"},
		&cli.Float64Flag{Name: "cpu-limit", Usage: "cpu limit as a percentage of the default cpu.shares weight (1024), (0,100]"},
		&cli.Int64Flag{Name: "memory-limit", Usage: "memory limit in MiB"},
	},
	Action: func(c *cli.Context) error {
		if c.Args().Len() < 2 {
			return cli.Exit("usage: run <name> <image> -c <cmd>", 1)
		}
		name, image := c.Args().Get(0), c.Args().Get(1)

		opts := container.RunOptions{
			Hostname:          c.String("hostname"),
			IsolateNetworking: c.String("net") != "host",
			ShareResolvConf:   c.Bool("share-resolv-conf"),
		}
		for _, b := range c.StringSlice("bind") {
			bm, err := parseBindMount(b)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			opts.BindMounts = append(opts.BindMounts, bm)
		}
		if c.IsSet("cpu-limit") {
			v := c.Float64("cpu-limit")
			opts.CPULimitPercent = &v
		}
		if c.IsSet("memory-limit") {
			v := c.Int64("memory-limit")
			opts.MemoryLimitMiB = &v
		}

		return managerFromContext(c).Run(name, image, c.String("cmd"), opts)
	},
}

// parseBindMount parses "host:container[:ro]" per SPEC_FULL.md's --bind
// flag, the CLI-facing shape of configs.BindMount.
func parseBindMount(spec string) (configs.BindMount, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return configs.BindMount{}, fmt.Errorf("invalid --bind %q: want host:container[:ro]", spec)
	}
	bm := configs.BindMount{Source: parts[0], Destination: parts[1]}
	if len(parts) == 3 {
		if parts[2] != "ro" {
			return configs.BindMount{}, fmt.Errorf("invalid --bind %q: third field must be \"ro\"", spec)
		}
		bm.ReadOnly = true
	}
	return bm, nil
}

var killCommand = &cli.Command{
	Name:      "kill",
	Usage:     "stop one or more running containers",
	ArgsUsage: "<name>...",
	Action: func(c *cli.Context) error {
		if c.Args().Len() == 0 {
			return cli.Exit("usage: kill <name>...", 1)
		}
		return managerFromContext(c).Kill(c.Args().Slice())
	},
}

var containerCommand = &cli.Command{
	Name:  "container",
	Usage: "manage kutu containers",
	Subcommands: []*cli.Command{
		{
			Name:    "list",
			Aliases: []string{"ls"},
			Usage:   "list running containers",
			Action: func(c *cli.Context) error {
				names, err := managerFromContext(c).ContainerListRunning()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			},
		},
		{
			Name:    "list-all",
			Aliases: []string{"lsa"},
			Usage:   "list all containers, running or not",
			Action: func(c *cli.Context) error {
				names, err := managerFromContext(c).ContainerListAll()
				if err != nil {
					return err
				}
				for _, n := range names {
					fmt.Println(n)
				}
				return nil
			},
		},
		{
			Name:      "remove",
			Aliases:   []string{"rm"},
			Usage:     "remove one or more stopped containers",
			ArgsUsage: "<name>...",
			Action: func(c *cli.Context) error {
				if c.Args().Len() == 0 {
					return cli.Exit("usage: container remove <name>...", 1)
				}
				return managerFromContext(c).ContainerRemove(c.Args().Slice())
			},
		},
	},
}

var usageCommand = &cli.Command{
	Name:  "usage",
	Usage: "print usage and exit",
	Action: func(c *cli.Context) error {
		return cli.ShowAppHelp(c)
	},
}

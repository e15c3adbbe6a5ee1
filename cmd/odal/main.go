// Command odal is a small operations utility over configured stores: list,
// read, write, stat, copy, move, and delete files on any backend declared in
// the config file.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/odal"
	"github.com/starford/odal/config"
	"github.com/starford/odal/registry"
)

func main() {
	cmd := &cli.Command{
		Name:  "odal",
		Usage: "Uniform file operations across local, S3, SFTP, and Azure storage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   "config/config.yaml",
				Sources: cli.EnvVars("ODAL_CONFIG_FILE"),
			},
			&cli.StringFlag{
				Name:    "store",
				Aliases: []string{"s"},
				Usage:   "Configured store name",
				Sources: cli.EnvVars("ODAL_STORE"),
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List files under a folder",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}},
				},
				Action: withStore(runList),
			},
			{
				Name:      "folders",
				Usage:     "List immediate child folders",
				ArgsUsage: "[path]",
				Action:    withStore(runFolders),
			},
			{
				Name:      "cat",
				Usage:     "Print file content to stdout",
				ArgsUsage: "<path>",
				Action:    withStore(runCat),
			},
			{
				Name:      "put",
				Usage:     "Write stdin to a file",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "no-overwrite", Usage: "Fail when the target exists"},
					&cli.BoolFlag{Name: "atomic", Usage: "Use the backend's atomic write"},
				},
				Action: withStore(runPut),
			},
			{
				Name:      "rm",
				Usage:     "Delete a file",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "missing-ok", Usage: "Succeed when the target is absent"},
				},
				Action: withStore(runRemove),
			},
			{
				Name:      "rmdir",
				Usage:     "Delete a folder",
				ArgsUsage: "<path>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}},
					&cli.BoolFlag{Name: "missing-ok"},
				},
				Action: withStore(runRemoveFolder),
			},
			{
				Name:      "stat",
				Usage:     "Show file or folder metadata",
				ArgsUsage: "<path>",
				Action:    withStore(runStat),
			},
			{
				Name:      "cp",
				Usage:     "Copy a file within the store",
				ArgsUsage: "<src> <dst>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "overwrite", Aliases: []string{"f"}},
				},
				Action: withStore(runCopy),
			},
			{
				Name:      "mv",
				Usage:     "Move a file within the store",
				ArgsUsage: "<src> <dst>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "overwrite", Aliases: []string{"f"}},
				},
				Action: withStore(runMove),
			},
			{
				Name:   "caps",
				Usage:  "Show the store's declared capabilities",
				Action: withStore(runCaps),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("command failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type storeAction func(ctx context.Context, cmd *cli.Command, store *odal.Store) error

// withStore loads the config, builds the registry, resolves the requested
// store, and tears everything down after the action.
func withStore(action storeAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		level := slog.LevelInfo
		if cmd.Bool("verbose") {
			level = slog.LevelDebug
		}
		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		var cfg config.Config
		if err := config.Load(cmd.String("config"), &cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}
		storeName := cmd.String("store")
		if storeName == "" {
			return fmt.Errorf("no store selected: pass --store or set ODAL_STORE")
		}
		reg := registry.New(cfg, logger)
		defer func() {
			if err := reg.Close(); err != nil {
				logger.Warn("close backends", "error", err)
			}
		}()
		store, err := reg.Store(ctx, storeName)
		if err != nil {
			return err
		}
		return action(ctx, cmd, store)
	}
}

func runList(ctx context.Context, cmd *cli.Command, store *odal.Store) error {
	for fi, err := range store.ListFiles(ctx, cmd.Args().Get(0), cmd.Bool("recursive")) {
		if err != nil {
			return err
		}
		fmt.Printf("%10d  %s  %s\n", fi.Size, fi.ModTime.Format("2006-01-02 15:04:05"), fi.Path)
	}
	return nil
}

func runFolders(ctx context.Context, cmd *cli.Command, store *odal.Store) error {
	names, err := store.ListFolders(ctx, cmd.Args().Get(0))
	if err != nil {
		return err
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}

func runCat(ctx context.Context, cmd *cli.Command, store *odal.Store) error {
	r, err := store.Read(ctx, cmd.Args().Get(0))
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = io.Copy(os.Stdout, r)
	return err
}

func runPut(ctx context.Context, cmd *cli.Command, store *odal.Store) error {
	path := cmd.Args().Get(0)
	overwrite := !cmd.Bool("no-overwrite")
	if cmd.Bool("atomic") {
		return store.WriteAtomic(ctx, path, os.Stdin, overwrite)
	}
	return store.Write(ctx, path, os.Stdin, overwrite)
}

func runRemove(ctx context.Context, cmd *cli.Command, store *odal.Store) error {
	return store.Delete(ctx, cmd.Args().Get(0), cmd.Bool("missing-ok"))
}

func runRemoveFolder(ctx context.Context, cmd *cli.Command, store *odal.Store) error {
	return store.DeleteFolder(ctx, cmd.Args().Get(0), cmd.Bool("recursive"), cmd.Bool("missing-ok"))
}

func runStat(ctx context.Context, cmd *cli.Command, store *odal.Store) error {
	path := cmd.Args().Get(0)
	if isFile, err := store.IsFile(ctx, path); err != nil {
		return err
	} else if isFile {
		fi, err := store.StatFile(ctx, path)
		if err != nil {
			return err
		}
		fmt.Printf("file:     %s\nsize:     %d\nmodified: %s\n", fi.Path, fi.Size, fi.ModTime)
		if fi.Checksum != "" {
			fmt.Printf("checksum: %s\n", fi.Checksum)
		}
		if fi.ContentType != "" {
			fmt.Printf("type:     %s\n", fi.ContentType)
		}
		return nil
	}
	info, err := store.StatFolder(ctx, path)
	if err != nil {
		return err
	}
	fmt.Printf("folder:   %s\nfiles:    %d\nsize:     %d\nmodified: %s\n",
		info.Path, info.FileCount, info.TotalSize, info.ModTime)
	return nil
}

func runCopy(ctx context.Context, cmd *cli.Command, store *odal.Store) error {
	return store.Copy(ctx, cmd.Args().Get(0), cmd.Args().Get(1), cmd.Bool("overwrite"))
}

func runMove(ctx context.Context, cmd *cli.Command, store *odal.Store) error {
	return store.Move(ctx, cmd.Args().Get(0), cmd.Args().Get(1), cmd.Bool("overwrite"))
}

func runCaps(_ context.Context, _ *cli.Command, store *odal.Store) error {
	fmt.Printf("backend: %s\nroot:    %s\n", store.Name(), store.RootPath())
	for _, c := range store.Capabilities().List() {
		fmt.Println(c)
	}
	return nil
}

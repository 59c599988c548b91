package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/git-pkgs/publisher/internal/filename"
)

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file>...",
		Short: "Show the package name and version encoded in archive filenames",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			var errs []error
			for _, arg := range args {
				p, err := filename.Parse(filepath.Base(arg))
				if err != nil {
					errs = append(errs, err)
					fmt.Fprintf(out, "%s\tinvalid\n", arg)
					continue
				}
				fmt.Fprintf(out, "%s\t%s\t%s\n", arg, p.Name, p.Version)
			}
			return errors.Join(errs...)
		},
	}
}

func newCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check <file>...",
		Short: "Check archives against Verdaccio storage, repairing it as a cycle would",
		Long: `check runs the same storage check a publish cycle does for each archive.
Missing archives of listed versions are restored and orphaned ones removed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.load()
			if err != nil {
				return err
			}
			if cfg.StorageDir == "" && cfg.VerdaccioConfig == "" {
				return errors.New("set --storage or --verdaccio-config")
			}
			logger, err := newLogger(cfg.LogLevel)
			if err != nil {
				return err
			}
			store, err := openStorage(cfg, logger)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var errs []error
			for _, arg := range args {
				a, err := filename.ToArchive(arg)
				if err != nil {
					errs = append(errs, err)
					fmt.Fprintf(out, "%s\tinvalid\n", arg)
					continue
				}
				exists, err := store.Exists(cmd.Context(), a.Name, a.Version, a)
				if err != nil {
					errs = append(errs, err)
					fmt.Fprintf(out, "%s@%s\terror\n", a.Name, a.Version)
					continue
				}
				state := "missing"
				if exists {
					state = "exists"
				}
				versions, err := store.Versions(a.Name)
				if err != nil {
					errs = append(errs, err)
				}
				fmt.Fprintf(out, "%s@%s\t%s\t%s\n", a.Name, a.Version, state, strings.Join(versions, ","))
			}
			return errors.Join(errs...)
		},
	}
}

package main

import (
	"github.com/spf13/cobra"
)

func installCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Download the Dart Sass compiler",
		Long: `Download the configured Dart Sass release into the local cache.

The release is unpacked under ~/.sassdev/bin/<version> (or sass.bin_dir)
and reused by later runs. A release that is already cached is not
downloaded again.

Examples:
  sassdev install
  SASSDEV_SASS_VERSION=1.80.0 sassdev install`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstall(cmd)
		},
	}

	return cmd
}

func runInstall(cmd *cobra.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	out := cmd.OutOrStdout()
	bin := a.binary(out)
	already := bin.IsInstalled()

	path, err := bin.EnsureInstalled(cmd.Context())
	if err != nil {
		return err
	}
	if already {
		success(out, "Dart Sass %s already installed at %s", bin.Version, path)
		return nil
	}
	success(out, "Dart Sass %s installed at %s", bin.Version, path)
	return nil
}

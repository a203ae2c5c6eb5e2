package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vango-dev/sassdev/internal/dev"
)

func devCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Start the development server",
		Long: `Start the development server with live reload.

The dev server compiles every pass, serves the documentation root and
watches the project. A stylesheet change recompiles every pass and swaps
the new CSS into connected browsers; an HTML change reloads them.

Features:
  • Stylesheet swap without a page reload
  • Error overlay in browser
  • Prometheus metrics at /_sassdev/metrics

Examples:
  sassdev dev
  sassdev dev --port=8080
  sassdev dev --host=0.0.0.0 --open=false`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(cmd)
		},
	}

	addDevFlags(cmd)
	return cmd
}

// addDevFlags registers the dev server flags. Only flags set on the command
// line override the configuration.
func addDevFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", 0, "Port to run on (default from sassdev.yaml, else 3000)")
	cmd.Flags().StringP("host", "H", "", "Host to bind to (default from sassdev.yaml, else localhost)")
	cmd.Flags().StringP("root", "r", "", "Directory to serve (default from sassdev.yaml, else docs)")
	cmd.Flags().BoolP("open", "o", false, "Open browser on start")
}

func runDev(cmd *cobra.Command) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	out := cmd.OutOrStdout()
	printBanner(out, "dev")

	ctx := cmd.Context()
	bin := a.binary(out)
	sassPath, err := bin.Path(ctx)
	if err != nil {
		return err
	}
	a.logger.Debug("using dart sass", zap.String("path", sassPath))

	compiler, passes, err := a.compiler(bin)
	if err != nil {
		return err
	}

	server := dev.NewServer(dev.ServerOptions{
		Config:   a.cfg,
		Compiler: compiler,
		Passes:   passes,
		Logger:   a.logger,
		Metrics:  a.metrics,
	})

	go func() {
		select {
		case <-server.Ready():
			success(out, "Serving %s at %s", a.cfg.Dev.Root, server.URL())
			info(out, "Watching %s and %s", a.cfg.Watch.Styles, a.cfg.PagesPattern())
			info(out, "%s", styleDim.Render("Press Ctrl+C to stop"))
		case <-ctx.Done():
		}
	}()

	if err := server.Start(ctx); err != nil {
		return err
	}
	info(out, "Shutting down...")
	return nil
}

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-dev/sassdev/internal/errors"
)

func buildCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Compile every pass once",
		Long: `Compile every configured pass once and exit.

Stylesheets that fail to compile are reported and their previous output
is left in place. By default the command still succeeds; with --strict
any failure makes it exit with status 2.

Examples:
  sassdev build
  sassdev build --strict
  sassdev build --log-level=debug`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "Exit non-zero when any stylesheet fails to compile")

	return cmd
}

func runBuild(cmd *cobra.Command, strict bool) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.logger.Sync()

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	ctx := cmd.Context()

	bin := a.binary(out)
	if _, err := bin.Path(ctx); err != nil {
		return err
	}

	compiler, passes, err := a.compiler(bin)
	if err != nil {
		return err
	}

	start := time.Now()
	results, err := compiler.RunAll(ctx, passes)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		written := len(res.Written())
		line := fmt.Sprintf("%-6s %d compiled, %d written", res.Pass, len(res.Outputs), written)
		if len(res.Skipped) > 0 {
			line += fmt.Sprintf(", %d partials", len(res.Skipped))
		}
		if res.OK() {
			success(out, "%s", line)
		} else {
			errorMsg(out, "%s, %d failed", line, len(res.Failures))
		}
		for _, o := range res.Written() {
			info(out, "%s → %s", o.Source, o.Path)
		}
		for _, f := range res.Failures {
			errors.Fprint(errOut, f.Err)
		}
		failed += len(res.Failures)
	}

	fmt.Fprintln(out)
	if failed > 0 {
		if strict {
			return errors.New("E201").
				WithDetail(fmt.Sprintf("%d stylesheet(s) failed to compile", failed))
		}
		warn(out, "Build finished with %d failure(s) in %s", failed, time.Since(start).Round(time.Millisecond))
		return nil
	}
	success(out, "Build complete in %s", time.Since(start).Round(time.Millisecond))
	return nil
}

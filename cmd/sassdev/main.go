package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/vango-dev/sassdev/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	styleBanner  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#CF649A"))
	styleSuccess = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	styleWarn    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	styleFail    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	styleDim     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		errors.Fprint(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 when stylesheets failed to compile and 1 for any other error.
func exitCode(err error) int {
	if errors.HasCode(err, "E201") {
		return 2
	}
	return 1
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sassdev",
		Short: "Compile Sass and serve the docs with live reload",
		Long: `sassdev compiles the project's Sass stylesheets with Dart Sass and
serves the documentation site with live reload.

Running sassdev without a command starts the dev server:

  • Compiles docs/**/*.scss into docs and eq-sass.scss into the project root
  • Serves docs on http://localhost:3000
  • Recompiles when any .scss file changes and swaps the stylesheet in place
  • Reloads the browser when docs/*.html changes`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDev(cmd)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Path to sassdev.yaml (default: ./sassdev.yaml if present)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-format", "", "Log format: console, json")
	addDevFlags(rootCmd)

	rootCmd.AddCommand(
		devCmd(),
		buildCmd(),
		installCmd(),
		versionCmd(),
	)

	return rootCmd
}

// printBanner prints the sassdev banner.
func printBanner(w io.Writer, subtitle string) {
	fmt.Fprintf(w, "\n  %s %s\n\n", styleBanner.Render("sassdev"), styleDim.Render(subtitle))
}

// success prints a success message.
func success(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", styleSuccess.Render("✓"), fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", styleWarn.Render("⚠"), fmt.Sprintf(format, args...))
}

// errorMsg prints an error message.
func errorMsg(w io.Writer, format string, args ...any) {
	fmt.Fprintf(w, "%s %s\n", styleFail.Render("✗"), fmt.Sprintf(format, args...))
}

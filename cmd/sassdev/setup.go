package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vango-dev/sassdev/internal/config"
	"github.com/vango-dev/sassdev/internal/logging"
	"github.com/vango-dev/sassdev/internal/metrics"
	"github.com/vango-dev/sassdev/internal/pipeline"
	"github.com/vango-dev/sassdev/internal/sass"
)

// app holds what every command needs.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// setup loads and validates configuration and builds the logger.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	_, m := metrics.NewRegistry()
	logger.Debug("configuration loaded",
		zap.String("dir", cfg.Dir()),
		zap.String("file", cfg.Path()),
		zap.Int("passes", len(cfg.Passes)),
	)
	return &app{cfg: cfg, logger: logger, metrics: m}, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	var (
		cfg *config.Config
		err error
	)
	if path, _ := flags.GetString("config"); path != "" {
		cfg, err = config.LoadFile(path, flags)
	} else {
		var wd string
		if wd, err = os.Getwd(); err != nil {
			return nil, err
		}
		cfg, err = config.Load(wd, flags)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// binary returns the Dart Sass binary described by the configuration.
// Install progress goes to w.
func (a *app) binary(w io.Writer) *sass.Binary {
	b := sass.NewBinary()
	b.Version = a.cfg.Sass.Version
	b.BinDir = a.cfg.BinDir()
	b.DownloadBaseURL = a.cfg.Sass.DownloadURL
	b.UsePath = a.cfg.Sass.UsePath
	b.AutoInstall = a.cfg.Sass.AutoInstall
	if a.cfg.Sass.Binary != "" {
		b.Explicit = a.cfg.Resolve(a.cfg.Sass.Binary)
	}
	b.Progress = func(msg string) {
		info(w, "%s", msg)
	}
	return b
}

// compiler wires the pipeline to Dart Sass.
func (a *app) compiler(b *sass.Binary) (*pipeline.Compiler, []pipeline.Pass, error) {
	passes, err := pipeline.PassesFromConfig(a.cfg)
	if err != nil {
		return nil, nil, err
	}
	c := pipeline.New(a.cfg.Dir(), sass.NewCompiler(b, a.cfg.Dir()),
		pipeline.WithLogger(a.logger.Named("sass")),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithSkipDirs(a.cfg.Dev.Ignore),
	)
	return c, passes, nil
}

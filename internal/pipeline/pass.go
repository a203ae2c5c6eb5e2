package pipeline

import (
	"path"
	"strings"

	"github.com/vango-dev/sassdev/internal/config"
	"github.com/vango-dev/sassdev/internal/css"
	"github.com/vango-dev/sassdev/internal/glob"
)

// Pass is one source glob compiled into one destination directory.
type Pass struct {
	// Name identifies the pass in logs and metrics.
	Name string

	// Source selects the stylesheets to compile.
	Source *glob.Pattern

	// Dest is the output directory, relative to the project directory.
	Dest string

	// Reload marks outputs that live reload should push to browsers.
	Reload bool

	// Style is the Dart Sass output style.
	Style string

	// CSS configures post-processing of the compiled output.
	CSS css.Options

	// LoadPaths are extra import search directories.
	LoadPaths []string
}

// NewPass builds a Pass from its configuration.
func NewPass(pc config.PassConfig) (Pass, error) {
	src, err := glob.Compile(pc.Source)
	if err != nil {
		return Pass{}, err
	}
	if len(pc.Targets) > 0 {
		if _, err := css.ParseTargets(pc.Targets); err != nil {
			return Pass{}, err
		}
	}
	return Pass{
		Name:      pc.Name,
		Source:    src,
		Dest:      pc.Dest,
		Reload:    pc.Reload,
		Style:     pc.Style,
		CSS:       css.Options{Minify: pc.Minify, Targets: pc.Targets},
		LoadPaths: pc.LoadPaths,
	}, nil
}

// PassesFromConfig builds every configured pass, in order.
func PassesFromConfig(cfg *config.Config) ([]Pass, error) {
	passes := make([]Pass, 0, len(cfg.Passes))
	for _, pc := range cfg.Passes {
		p, err := NewPass(pc)
		if err != nil {
			return nil, err
		}
		passes = append(passes, p)
	}
	return passes, nil
}

// OutputPath maps a source (slash-separated, relative to the project) to
// its CSS output: the part below the glob base is kept under Dest and the
// extension becomes .css.
func (p Pass) OutputPath(src string) string {
	rel := src
	if base := p.Source.Base(); base != "." {
		rel = strings.TrimPrefix(src, base+"/")
	}
	rel = strings.TrimSuffix(rel, path.Ext(rel)) + ".css"
	return path.Join(p.Dest, rel)
}

// IsPartial reports whether a stylesheet is only meant to be imported.
func IsPartial(src string) bool {
	return strings.HasPrefix(path.Base(src), "_")
}

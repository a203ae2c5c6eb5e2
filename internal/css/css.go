// Package css post-processes compiled stylesheets with esbuild: minification
// and lowering of modern syntax for older browser targets.
package css

import (
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/vango-dev/sassdev/internal/errors"
)

// Options configures a transform.
type Options struct {
	// Minify removes whitespace and shortens syntax.
	Minify bool

	// Targets are browser targets such as "chrome90" or "safari14.1".
	Targets []string
}

// Enabled reports whether the options change anything.
func (o Options) Enabled() bool {
	return o.Minify || len(o.Targets) > 0
}

var engines = map[string]api.EngineName{
	"chrome":  api.EngineChrome,
	"edge":    api.EngineEdge,
	"firefox": api.EngineFirefox,
	"ie":      api.EngineIE,
	"ios":     api.EngineIOS,
	"opera":   api.EngineOpera,
	"safari":  api.EngineSafari,
}

// ParseTargets converts "chrome90"-style targets into esbuild engines.
func ParseTargets(targets []string) ([]api.Engine, error) {
	out := make([]api.Engine, 0, len(targets))
	for _, t := range targets {
		t = strings.ToLower(strings.TrimSpace(t))
		i := strings.IndexAny(t, "0123456789")
		if i <= 0 {
			return nil, errors.New("E102").
				WithDetail(fmt.Sprintf("target %q must be a browser name followed by a version, e.g. chrome90", t))
		}
		name, ok := engines[t[:i]]
		if !ok {
			return nil, errors.New("E102").
				WithDetail(fmt.Sprintf("unknown browser %q in target %q", t[:i], t))
		}
		out = append(out, api.Engine{Name: name, Version: t[i:]})
	}
	return out, nil
}

// Transform rewrites CSS according to opts. file names the stylesheet in
// error messages.
func Transform(src []byte, file string, opts Options) ([]byte, error) {
	eng, err := ParseTargets(opts.Targets)
	if err != nil {
		return nil, err
	}

	result := api.Transform(string(src), api.TransformOptions{
		Loader:           api.LoaderCSS,
		Sourcefile:       file,
		Engines:          eng,
		MinifyWhitespace: opts.Minify,
		MinifySyntax:     opts.Minify,
		LegalComments:    api.LegalCommentsInline,
		LogLevel:         api.LogLevelSilent,
	})

	if len(result.Errors) > 0 {
		var b strings.Builder
		for _, msg := range result.Errors {
			if msg.Location != nil {
				fmt.Fprintf(&b, "%s:%d:%d: ", msg.Location.File, msg.Location.Line, msg.Location.Column)
			}
			b.WriteString(msg.Text)
			b.WriteString("\n")
		}
		e := errors.New("E201").WithDetail(b.String())
		if loc := result.Errors[0].Location; loc != nil {
			e.Location = &errors.Location{File: loc.File, Line: loc.Line, Column: loc.Column + 1}
		}
		return nil, e
	}

	return result.Code, nil
}

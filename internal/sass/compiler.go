package sass

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/vango-dev/sassdev/internal/errors"
)

// Output styles.
const (
	StyleExpanded   = "expanded"
	StyleCompressed = "compressed"
)

// Request is one stylesheet to compile.
type Request struct {
	// Path is the stylesheet's path. It names the source in errors and its
	// directory is searched for @use and @import.
	Path string

	// Source is the stylesheet text.
	Source []byte

	// Indented selects the indented (.sass) syntax.
	Indented bool

	// LoadPaths are extra import search directories.
	LoadPaths []string

	// Style is expanded (default) or compressed.
	Style string
}

// Compiler runs Dart Sass as a child process, one invocation per stylesheet.
type Compiler struct {
	binary *Binary
	dir    string
}

// NewCompiler returns a Compiler that resolves the executable through b and
// runs it in dir.
func NewCompiler(b *Binary, dir string) *Compiler {
	return &Compiler{binary: b, dir: dir}
}

// Args returns the command-line arguments for req. The source is read from
// stdin and the CSS written to stdout.
func Args(req Request) []string {
	style := req.Style
	if style == "" {
		style = StyleExpanded
	}

	args := []string{
		"--stdin",
		"--style=" + style,
		"--no-source-map",
		"--no-color",
		"--no-unicode",
	}
	if req.Indented {
		args = append(args, "--indented")
	}
	if req.Path != "" {
		args = append(args, "--load-path="+filepath.Dir(req.Path))
	}
	for _, p := range req.LoadPaths {
		args = append(args, "--load-path="+p)
	}
	return args
}

// Compile turns req.Source into CSS. A stylesheet error returns an E201
// error carrying the compiler's message and the reported location.
func (c *Compiler) Compile(ctx context.Context, req Request) ([]byte, error) {
	path, err := c.binary.Path(ctx)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, path, Args(req)...)
	cmd.Dir = c.dir
	cmd.Stdin = bytes.NewReader(req.Source)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if !stderrors.As(err, &exitErr) {
			return nil, errors.New("E202").
				WithDetail("failed to run " + path).
				Wrap(err)
		}
		return nil, compileError(req.Path, stderr.String(), err)
	}

	return stdout.Bytes(), nil
}

// traceLine matches a stack frame such as "  - 1:19  root stylesheet" or
// "  docs/_vars.scss 3:5  @use".
var traceLine = regexp.MustCompile(`^\s+(\S+)\s+(\d+):(\d+)\s+`)

func compileError(file, stderr string, cause error) *errors.Error {
	detail := strings.TrimRight(stderr, "\n")
	e := errors.New("E201").WithDetail(detail).Wrap(cause)

	loc, line, col, ok := parseLocation(stderr)
	if !ok {
		if file != "" {
			e.Location = &errors.Location{File: file}
		}
		return e
	}

	if loc == "-" {
		loc = file
	}
	if loc == "" {
		return e
	}
	// Dart Sass already prints a source excerpt in Detail, so no Context.
	e.Location = &errors.Location{File: loc, Line: line, Column: col}
	return e
}

// parseLocation returns the first stack frame in Dart Sass error output.
func parseLocation(stderr string) (file string, line, col int, ok bool) {
	sc := bufio.NewScanner(strings.NewReader(stderr))
	for sc.Scan() {
		m := traceLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		line, _ = strconv.Atoi(m[2])
		col, _ = strconv.Atoi(m[3])
		return m[1], line, col, true
	}
	return "", 0, 0, false
}

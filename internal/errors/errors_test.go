package errors

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantMsg string
		wantCat Category
	}{
		{"config error", "E101", "Failed to read configuration", CategoryConfig},
		{"compile error", "E201", "Stylesheet failed to compile", CategoryCompile},
		{"toolchain error", "E202", "Sass compiler not found", CategoryToolchain},
		{"server error", "E301", "Dev server failed to listen", CategoryServer},
		{"unknown error code", "E999", "Unknown error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code)
			assert.Equal(t, tt.code, err.Code)
			assert.Equal(t, tt.wantMsg, err.Message)
			assert.Equal(t, tt.wantCat, err.Category)
		})
	}
}

func TestNew_CarriesSuggestion(t *testing.T) {
	err := New("E202")
	assert.Contains(t, err.Suggestion, "sassdev install")
}

func TestError_Error(t *testing.T) {
	cause := fmt.Errorf("exit status 65")
	err := New("E201").Wrap(cause)
	err.Location = &Location{File: "docs/a.scss", Line: 3, Column: 7}

	assert.Equal(t, "docs/a.scss:3:7: E201: Stylesheet failed to compile: exit status 65", err.Error())
	assert.True(t, stderrors.Is(err, cause))
}

func TestNewf(t *testing.T) {
	err := Newf(CategoryCLI, "file %q not found", "a.scss")
	assert.Equal(t, `file "a.scss" not found`, err.Error())
	assert.Empty(t, err.Code)
	assert.Equal(t, CategoryCLI, err.Category)
}

func TestFromError(t *testing.T) {
	assert.Nil(t, FromError(nil, "E101"))

	plain := fmt.Errorf("boom")
	wrapped := FromError(plain, "E204")
	assert.Equal(t, "E204", wrapped.Code)
	assert.Same(t, plain, wrapped.Wrapped)

	existing := New("E301")
	assert.Same(t, existing, FromError(fmt.Errorf("listen: %w", existing), "E101"))
}

func TestHasCode(t *testing.T) {
	inner := New("E203").Wrap(fmt.Errorf("status 404"))
	outer := New("E202").Wrap(inner)

	assert.True(t, HasCode(outer, "E202"))
	assert.True(t, HasCode(outer, "E203"))
	assert.False(t, HasCode(outer, "E201"))
	assert.False(t, HasCode(fmt.Errorf("plain"), "E201"))
}

func TestWithLocation_ReadsContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.scss")
	src := "a { color: red; }\nb {\n  color: blue\n}\nc { margin: 0; }\n"
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))

	err := New("E201").WithLocation(path, 3, 14)

	require.NotNil(t, err.Location)
	assert.Equal(t, 3, err.Location.Line)
	assert.Equal(t, []string{"b {", "  color: blue", "}", "c { margin: 0; }"}, err.Context[1:])
}

func TestFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.scss")
	require.NoError(t, os.WriteFile(path, []byte("body { color: red;\n"), 0o644))

	err := New("E201").
		WithLocation(path, 1, 19).
		WithDetail("Error: expected \"}\".").
		WithSuggestion("Close the block")

	out := err.Format()
	assert.Contains(t, out, "E201")
	assert.Contains(t, out, "Stylesheet failed to compile")
	assert.Contains(t, out, path+":1:19")
	assert.Contains(t, out, "body { color: red;")
	assert.Contains(t, out, `Error: expected "}".`)
	assert.Contains(t, out, "Close the block")
}

func TestFormatCompact(t *testing.T) {
	err := New("E201")
	err.Location = &Location{File: "docs/a.scss", Line: 2}
	assert.Equal(t, "docs/a.scss:2: E201: Stylesheet failed to compile", err.FormatCompact())
}

func TestPlain(t *testing.T) {
	err := New("E201").WithDetail("Error: expected \"}\".\n")
	assert.Equal(t, "E201: Stylesheet failed to compile\n\nError: expected \"}\".", err.Plain())
}

func TestFprint(t *testing.T) {
	var b strings.Builder
	Fprint(&b, fmt.Errorf("plain failure"))
	assert.Contains(t, b.String(), "plain failure")

	b.Reset()
	Fprint(&b, fmt.Errorf("wrapped: %w", New("E302")))
	assert.Contains(t, b.String(), "File watcher failed")
}

func TestLookup(t *testing.T) {
	tmpl, ok := Lookup("E103")
	require.True(t, ok)
	assert.Equal(t, CategoryConfig, tmpl.Category)

	_, ok = Lookup("E000")
	assert.False(t, ok)
}

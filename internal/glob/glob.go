// Package glob matches slash-separated paths against shell-style patterns.
//
// Patterns follow the conventions of node-glob as used by gulp: '*' matches
// within one path segment and '**' matches any number of directories,
// including none, so "docs/**/*.scss" matches both "docs/a.scss" and
// "docs/x/y/a.scss".
package glob

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	gobwas "github.com/gobwas/glob"

	"github.com/vango-dev/sassdev/internal/errors"
)

// Pattern is a compiled glob pattern.
type Pattern struct {
	raw      string
	clean    string
	base     string
	literal  bool
	matchers []gobwas.Glob
}

// Compile parses a pattern. Leading "./" is ignored.
func Compile(pattern string) (*Pattern, error) {
	clean := normalize(pattern)
	if clean == "" {
		return nil, errors.New("E103").WithDetail("empty pattern")
	}

	variants := expandDoubleStar(clean)
	matchers := make([]gobwas.Glob, 0, len(variants))
	for _, v := range variants {
		g, err := gobwas.Compile(v, '/')
		if err != nil {
			return nil, errors.New("E103").
				WithDetail("pattern " + pattern + ": " + err.Error()).
				Wrap(err)
		}
		matchers = append(matchers, g)
	}

	base, literal := staticBase(clean)
	return &Pattern{
		raw:      pattern,
		clean:    clean,
		base:     base,
		literal:  literal,
		matchers: matchers,
	}, nil
}

// String returns the pattern as written.
func (p *Pattern) String() string {
	return p.raw
}

// Base returns the leading directory of the pattern that contains no glob
// metacharacters ("docs" for "docs/**/*.scss", "." for "*.scss"). For a
// pattern without metacharacters it is the directory of the named file.
func (p *Pattern) Base() string {
	return p.base
}

// Match reports whether the slash-separated relative path matches.
func (p *Pattern) Match(name string) bool {
	name = normalize(name)
	for _, m := range p.matchers {
		if m.Match(name) {
			return true
		}
	}
	return false
}

// Files walks root from the pattern base and returns the matching regular
// files as slash-separated paths relative to root, in lexical order. A
// missing base directory yields no files. skipDir, when set, prunes
// directories by name.
func (p *Pattern) Files(root string, skipDir func(name string) bool) ([]string, error) {
	if p.literal {
		info, err := os.Stat(filepath.Join(root, filepath.FromSlash(p.clean)))
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, err
		}
		if !info.Mode().IsRegular() {
			return nil, nil
		}
		return []string{p.clean}, nil
	}

	start := filepath.Join(root, filepath.FromSlash(p.base))
	info, err := os.Stat(start)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var files []string
	err = filepath.WalkDir(start, func(full string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if full != start && skipDir != nil && skipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, relErr := filepath.Rel(root, full)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if p.Match(rel) {
			files = append(files, rel)
		}
		return nil
	})
	return files, err
}

// normalize converts a path or pattern to a clean slash form without "./".
func normalize(s string) string {
	s = filepath.ToSlash(strings.TrimSpace(s))
	for strings.HasPrefix(s, "./") {
		s = s[2:]
	}
	return s
}

// expandDoubleStar returns the pattern plus variants where each "**/"
// segment matches zero directories. gobwas treats "**" as "any characters",
// which alone would require at least one directory between the slashes.
func expandDoubleStar(pattern string) []string {
	variants := []string{pattern}
	seen := map[string]bool{pattern: true}

	for i := 0; i < len(variants); i++ {
		v := variants[i]
		for idx := strings.Index(v, "**/"); idx != -1; {
			if idx == 0 || v[idx-1] == '/' {
				reduced := v[:idx] + v[idx+3:]
				if !seen[reduced] {
					seen[reduced] = true
					variants = append(variants, reduced)
				}
			}
			next := strings.Index(v[idx+3:], "**/")
			if next == -1 {
				break
			}
			idx += 3 + next
		}
	}

	return variants
}

// staticBase returns the directory prefix before the first segment that
// contains a glob metacharacter, and whether the pattern has none at all.
func staticBase(pattern string) (string, bool) {
	segments := strings.Split(pattern, "/")
	var static []string
	for _, seg := range segments {
		if strings.ContainsAny(seg, "*?[{") {
			if len(static) == 0 {
				return ".", false
			}
			return path.Join(static...), false
		}
		static = append(static, seg)
	}
	return path.Dir(pattern), true
}

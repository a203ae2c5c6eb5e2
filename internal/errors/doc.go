// Package errors provides structured, actionable error messages for sassdev.
//
// Every error carries a registered code that maps to a category, a short
// message and, where one exists, a hint:
//
//   - E1xx: configuration (unreadable sassdev.yaml, bad values, bad globs)
//   - E2xx: compilation and the Sass toolchain
//   - E3xx: the dev server and file watcher
//
// Compile errors additionally carry the stylesheet location reported by the
// compiler and a few lines of surrounding source.
//
// # Usage
//
//	err := errors.New("E201").
//	    WithLocation("docs/a.scss", 1, 19).
//	    WithDetail(stderr)
//
//	fmt.Fprint(os.Stderr, err.Format())
//	// ERROR E201: Stylesheet failed to compile
//	//
//	//   docs/a.scss:1:19
//	//
//	//   →    1 │ body { color: red;
//	//          │                   ^
//	//
//	//   Error: expected "}".
package errors

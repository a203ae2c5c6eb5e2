// Package config loads sassdev configuration.
//
// Values are layered, later sources winning: built-in defaults, then
// sassdev.yaml in the project directory, then SASSDEV_* environment
// variables, then command-line flags that were explicitly set.
//
// # Configuration File Structure
//
//	passes:
//	  - name: docs
//	    source: docs/**/*.scss
//	    dest: docs
//	    reload: true
//	  - name: root
//	    source: eq-sass.scss
//	    dest: .
//	    style: compressed
//	    minify: true
//	    targets: [chrome90, safari14]
//	watch:
//	  styles: "**/*.scss"
//	  pages: docs/*.html
//	sass:
//	  version: 1.83.4
//	  auto_install: true
//	dev:
//	  port: 3000
//	  root: docs
//	  debounce: 50ms
//	log:
//	  level: debug
//
// # Usage
//
//	cfg, err := config.Load(".", cmd.Flags())
//	if err != nil {
//	    return err
//	}
//	if err := cfg.Validate(); err != nil {
//	    return err
//	}
//
//	fmt.Println("Serving", cfg.RootPath(), "on", cfg.DevURL())
package config

package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category   Category
	Message    string
	Suggestion string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (E100-E199)
	// ============================================

	"E101": {
		Category:   CategoryConfig,
		Message:    "Failed to read configuration",
		Suggestion: "Check that sassdev.yaml is valid YAML",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
	},
	"E103": {
		Category:   CategoryConfig,
		Message:    "Invalid glob pattern",
		Suggestion: "Patterns use '/' separators, '*' for a path segment and '**' for any number of directories",
	},

	// ============================================
	// Compile Errors (E200-E299)
	// ============================================

	"E201": {
		Category: CategoryCompile,
		Message:  "Stylesheet failed to compile",
	},
	"E202": {
		Category:   CategoryToolchain,
		Message:    "Sass compiler not found",
		Suggestion: "Run 'sassdev install', put 'sass' on your PATH, or set sass.binary in sassdev.yaml",
	},
	"E203": {
		Category:   CategoryToolchain,
		Message:    "Failed to download the Sass compiler",
		Suggestion: "Check your network connection or set sass.download_url to a reachable mirror",
	},
	"E204": {
		Category: CategoryCompile,
		Message:  "Failed to write compiled stylesheet",
	},
	"E205": {
		Category:   CategoryCompile,
		Message:    "Failed to list stylesheets",
		Suggestion: "Check that the pass source glob names readable files and directories",
	},

	// ============================================
	// Server Errors (E300-E399)
	// ============================================

	"E301": {
		Category:   CategoryServer,
		Message:    "Dev server failed to listen",
		Suggestion: "Another process may be using the port; pass --port to pick a different one",
	},
	"E302": {
		Category: CategoryServer,
		Message:  "File watcher failed",
	},
}

// Lookup returns the template registered for a code.
func Lookup(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

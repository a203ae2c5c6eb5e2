package config

import (
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/vango-dev/sassdev/internal/errors"
	"github.com/vango-dev/sassdev/internal/glob"
	"github.com/vango-dev/sassdev/internal/sass"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "sassdev.yaml"

	// ConfigFileNameAlt is the alternate name of the configuration file.
	ConfigFileNameAlt = "sassdev.yml"

	// EnvPrefix prefixes environment overrides (SASSDEV_DEV_PORT -> dev.port).
	EnvPrefix = "SASSDEV_"

	// DefaultPort is the default development server port.
	DefaultPort = 3000

	// DefaultHost is the default development server host.
	DefaultHost = "localhost"

	// DefaultRoot is the directory served by the development server.
	DefaultRoot = "docs"
)

// Config is the complete sassdev configuration.
type Config struct {
	// Passes are the compilation passes, run in order.
	Passes []PassConfig `koanf:"passes"`

	// Watch holds the glob patterns that drive the dev server.
	Watch WatchConfig `koanf:"watch"`

	// Sass configures the Dart Sass toolchain.
	Sass SassConfig `koanf:"sass"`

	// Dev configures the development server.
	Dev DevConfig `koanf:"dev"`

	// Log configures logging.
	Log LogConfig `koanf:"log"`

	configPath string
	dir        string
}

// PassConfig is one source glob compiled into one destination directory.
type PassConfig struct {
	// Name identifies the pass in logs and metrics.
	Name string `koanf:"name"`

	// Source is the glob of stylesheets to compile.
	Source string `koanf:"source"`

	// Dest is the output directory. Paths below the glob base are kept.
	Dest string `koanf:"dest"`

	// Reload pushes freshly compiled CSS to connected browsers.
	Reload bool `koanf:"reload"`

	// Style is the Dart Sass output style (expanded or compressed).
	Style string `koanf:"style"`

	// Minify runs the output through the CSS minifier.
	Minify bool `koanf:"minify"`

	// Targets are browser targets for CSS lowering (e.g. chrome90).
	Targets []string `koanf:"targets"`

	// LoadPaths are extra @use/@import search directories.
	LoadPaths []string `koanf:"load_paths"`
}

// WatchConfig holds the dev server watch globs.
type WatchConfig struct {
	// Styles matches files whose change recompiles every pass.
	Styles string `koanf:"styles"`

	// Pages matches files whose change reloads the browser. Empty means
	// the HTML files directly inside dev.root.
	Pages string `koanf:"pages"`
}

// SassConfig configures the Dart Sass binary.
type SassConfig struct {
	// Binary is an explicit path to the sass executable.
	Binary string `koanf:"binary"`

	// Version is the Dart Sass release to install.
	Version string `koanf:"version"`

	// BinDir is the install cache directory. Defaults to ~/.sassdev/bin.
	BinDir string `koanf:"bin_dir"`

	// DownloadURL is the base URL for release archives.
	DownloadURL string `koanf:"download_url"`

	// UsePath allows a sass executable found on PATH.
	UsePath bool `koanf:"use_path"`

	// AutoInstall downloads the release when it is not cached.
	AutoInstall bool `koanf:"auto_install"`
}

// DevConfig contains development server settings.
type DevConfig struct {
	// Host is the host to bind to.
	Host string `koanf:"host"`

	// Port is the port to run the dev server on. 0 picks a free port.
	Port int `koanf:"port"`

	// Root is the directory served over HTTP.
	Root string `koanf:"root"`

	// Open opens the browser once the server is listening.
	Open bool `koanf:"open"`

	// HotReload injects the live reload client into pages.
	HotReload bool `koanf:"hot_reload"`

	// Overlay shows compile errors in the browser.
	Overlay bool `koanf:"overlay"`

	// BuildOnStart runs every pass before serving.
	BuildOnStart bool `koanf:"build_on_start"`

	// Debounce is how long changes must settle before they are handled.
	Debounce time.Duration `koanf:"debounce"`

	// Ignore lists directory names the watcher skips.
	Ignore []string `koanf:"ignore"`

	// Metrics exposes Prometheus metrics on the dev server.
	Metrics bool `koanf:"metrics"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is console or json.
	Format string `koanf:"format"`
}

// DefaultIgnore lists directories that are never watched or walked.
var DefaultIgnore = []string{".git", "node_modules", "vendor", ".sassdev", ".idea", ".vscode"}

// flagKeys maps CLI flag names to configuration keys.
var flagKeys = map[string]string{
	"port":       "dev.port",
	"host":       "dev.host",
	"root":       "dev.root",
	"open":       "dev.open",
	"log-level":  "log.level",
	"log-format": "log.format",
}

func defaults() map[string]any {
	return map[string]any{
		"passes": []any{
			map[string]any{
				"name":   "docs",
				"source": "docs/**/*.scss",
				"dest":   "docs",
				"reload": true,
				"style":  sass.StyleExpanded,
			},
			map[string]any{
				"name":   "root",
				"source": "eq-sass.scss",
				"dest":   ".",
				"reload": false,
				"style":  sass.StyleExpanded,
			},
		},
		"watch.styles":       "**/*.scss",
		"sass.version":       sass.Version,
		"sass.download_url":  sass.GitHubReleaseURL,
		"sass.use_path":      true,
		"sass.auto_install":  true,
		"dev.host":           DefaultHost,
		"dev.port":           DefaultPort,
		"dev.root":           DefaultRoot,
		"dev.open":           true,
		"dev.hot_reload":     true,
		"dev.overlay":        true,
		"dev.build_on_start": true,
		"dev.debounce":       "0s",
		"dev.ignore":         DefaultIgnore,
		"dev.metrics":        true,
		"log.level":          "info",
		"log.format":         "console",
	}
}

// New returns a Config holding only the defaults, rooted at the working
// directory.
func New() *Config {
	cfg, err := load("", "", nil, false)
	if err != nil {
		// Defaults are static and always decode.
		panic(err)
	}
	return cfg
}

// Load reads configuration for the project in dir. sassdev.yaml (or
// sassdev.yml) is optional. Environment variables and explicitly set flags
// override file values.
func Load(dir string, flags *pflag.FlagSet) (*Config, error) {
	return load(dir, findConfigFile(dir), flags, true)
}

// LoadFile reads configuration from an explicit file. The project directory
// is the file's directory.
func LoadFile(path string, flags *pflag.FlagSet) (*Config, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, errors.New("E101").
			WithDetail("No config file at " + path).
			Wrap(err)
	}
	return load(filepath.Dir(path), path, flags, true)
}

func load(dir, cfgFile string, flags *pflag.FlagSet, withEnv bool) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, errors.New("E101").Wrap(err)
	}

	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, errors.New("E101").
				WithDetail("Failed to parse " + cfgFile + ": " + err.Error()).
				Wrap(err)
		}
	}

	if withEnv {
		if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
			return nil, errors.New("E101").Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, errors.New("E101").Wrap(err)
		}
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, errors.New("E102").
			WithDetail("Failed to decode configuration: " + err.Error()).
			Wrap(err)
	}

	if dir == "" {
		dir, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	cfg.dir = dir
	cfg.configPath = cfgFile
	cfg.applyDefaults()

	return cfg, nil
}

// envKey maps SASSDEV_DEV_BUILD_ON_START to dev.build_on_start: the first
// underscore separates the section, the rest belong to the key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// findConfigFile returns the config file in dir, or "" when there is none.
func findConfigFile(dir string) string {
	for _, name := range []string{ConfigFileName, ConfigFileNameAlt} {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// applyDefaults fills fields a config file may leave blank inside a pass.
func (c *Config) applyDefaults() {
	for i := range c.Passes {
		p := &c.Passes[i]
		if p.Name == "" {
			p.Name = "pass" + strconv.Itoa(i+1)
		}
		if p.Style == "" {
			p.Style = sass.StyleExpanded
		}
		if p.Dest == "" {
			p.Dest = "."
		}
	}
	if c.Sass.Version == "" {
		c.Sass.Version = sass.Version
	}
	if c.Sass.DownloadURL == "" {
		c.Sass.DownloadURL = sass.GitHubReleaseURL
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Dev.Port < 0 || c.Dev.Port > 65535 {
		return errors.New("E102").
			WithDetail("dev.port must be between 0 and 65535, got " + strconv.Itoa(c.Dev.Port))
	}
	if c.Dev.Root == "" {
		return errors.New("E102").WithDetail("dev.root must not be empty")
	}
	if c.Dev.Debounce < 0 {
		return errors.New("E102").WithDetail("dev.debounce must not be negative")
	}

	if len(c.Passes) == 0 {
		return errors.New("E102").
			WithDetail("at least one pass is required").
			WithSuggestion("Add a pass with a source glob and a dest directory to sassdev.yaml")
	}
	seen := make(map[string]bool, len(c.Passes))
	for _, p := range c.Passes {
		if seen[p.Name] {
			return errors.New("E102").WithDetail("duplicate pass name " + strconv.Quote(p.Name))
		}
		seen[p.Name] = true

		if p.Source == "" {
			return errors.New("E102").WithDetail("pass " + strconv.Quote(p.Name) + " has no source")
		}
		if _, err := glob.Compile(p.Source); err != nil {
			return err
		}
		if p.Style != sass.StyleExpanded && p.Style != sass.StyleCompressed {
			return errors.New("E102").
				WithDetail("pass " + strconv.Quote(p.Name) + ": style must be expanded or compressed, got " + strconv.Quote(p.Style))
		}
	}

	for _, pattern := range []string{c.Watch.Styles, c.PagesPattern()} {
		if pattern == "" {
			continue
		}
		if _, err := glob.Compile(pattern); err != nil {
			return err
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("E102").
			WithDetail("log.level must be debug, info, warn or error, got " + strconv.Quote(c.Log.Level))
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return errors.New("E102").
			WithDetail("log.format must be console or json, got " + strconv.Quote(c.Log.Format))
	}

	return nil
}

// Path returns the config file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.configPath
}

// Dir returns the project directory. Relative paths resolve against it.
func (c *Config) Dir() string {
	return c.dir
}

// Resolve returns p as an absolute path within the project.
func (c *Config) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.dir, filepath.FromSlash(p))
}

// RootPath returns the absolute path of the served directory.
func (c *Config) RootPath() string {
	return c.Resolve(c.Dev.Root)
}

// RootRel returns the served directory relative to the project directory,
// slash-separated. It starts with ".." when the root lies outside the project.
func (c *Config) RootRel() string {
	rel, err := filepath.Rel(c.dir, c.RootPath())
	if err != nil {
		return path.Clean(filepath.ToSlash(c.Dev.Root))
	}
	return filepath.ToSlash(rel)
}

// PagesPattern returns watch.pages, or the HTML files directly inside the
// served directory when it is unset.
func (c *Config) PagesPattern() string {
	if c.Watch.Pages != "" {
		return c.Watch.Pages
	}
	return path.Join(c.RootRel(), "*.html")
}

// BinDir returns the Dart Sass install cache directory.
func (c *Config) BinDir() string {
	if c.Sass.BinDir != "" {
		return c.Resolve(c.Sass.BinDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(c.dir, ".sassdev", "bin")
	}
	return filepath.Join(home, ".sassdev", "bin")
}

// DevAddress returns the address string for the dev server.
func (c *Config) DevAddress() string {
	return c.Dev.Host + ":" + strconv.Itoa(c.Dev.Port)
}

// DevURL returns the full URL for the dev server.
func (c *Config) DevURL() string {
	return "http://" + c.DevAddress()
}

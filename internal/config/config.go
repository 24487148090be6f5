// Package config loads apexlens settings from three layers, later layers
// overriding earlier ones:
//
//  1. built-in defaults
//  2. the project file .apexlens/config.json
//  3. APEXLENS_* environment variables, with "__" separating nested keys
//     (APEXLENS_SCAN__CONCURRENCY=4 sets scan.concurrency)
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jmylchreest/apexlens/pkg/antipattern"
	"github.com/jmylchreest/apexlens/pkg/detectors"
	"github.com/jmylchreest/apexlens/pkg/grammar"
	"github.com/jmylchreest/apexlens/pkg/rules"
	"github.com/jmylchreest/apexlens/pkg/soql"
	"github.com/jmylchreest/apexlens/pkg/watcher"
)

// EnvPrefix is the prefix of environment variables read by Load.
const EnvPrefix = "APEXLENS_"

// Dir is the per-project directory holding the config file, grammar cache
// and findings store.
const Dir = ".apexlens"

// FileName is the config file inside Dir.
const FileName = "config.json"

// listKeys are split on commas when set from the environment.
var listKeys = map[string]bool{
	"scan.include":   true,
	"rules.disabled": true,
}

// Config is the effective configuration.
type Config struct {
	Grammar GrammarConfig `koanf:"grammar" json:"grammar"`
	Parser  ParserConfig  `koanf:"parser" json:"parser"`
	Scan    ScanConfig    `koanf:"scan" json:"scan"`
	Rules   RulesConfig   `koanf:"rules" json:"rules"`
	Report  ReportConfig  `koanf:"report" json:"report"`
	Store   StoreConfig   `koanf:"store" json:"store"`
	Watch   WatchConfig   `koanf:"watch" json:"watch"`
	Log     LogConfig     `koanf:"log" json:"log"`

	// Root is the project root relative paths were resolved against.
	Root string `koanf:"-" json:"root"`
	// Source lists the layers that contributed, for "config show".
	Source []string `koanf:"-" json:"source"`
}

// GrammarConfig selects the grammar and where downloaded grammars live.
type GrammarConfig struct {
	Language     string `koanf:"language" json:"language"`
	Dir          string `koanf:"dir" json:"dir"`
	AutoDownload bool   `koanf:"auto_download" json:"auto_download"`
	BaseURL      string `koanf:"base_url" json:"base_url"`
	Version      string `koanf:"version" json:"version,omitempty"`
	FallbackJava bool   `koanf:"fallback_java" json:"fallback_java"`
}

// ParserConfig controls how syntax errors are treated.
type ParserConfig struct {
	Strict bool `koanf:"strict" json:"strict"`
}

// ScanConfig selects the files to scan and bounds the work per run.
type ScanConfig struct {
	Include     []string `koanf:"include" json:"include"`
	Concurrency int      `koanf:"concurrency" json:"concurrency"`
	MaxFileSize int64    `koanf:"max_file_size" json:"max_file_size"`
}

// RulesConfig disables rules and sizes structural snippets.
type RulesConfig struct {
	Disabled      []string `koanf:"disabled" json:"disabled"`
	SnippetBefore int      `koanf:"snippet_before" json:"snippet_before"`
	SnippetAfter  int      `koanf:"snippet_after" json:"snippet_after"`
}

// ReportConfig holds report defaults for the scan command.
type ReportConfig struct {
	Format         string `koanf:"format" json:"format"`
	MinSeverity    string `koanf:"min_severity" json:"min_severity"`
	MaxQueryLength int    `koanf:"max_query_length" json:"max_query_length"`
}

// StoreConfig locates the findings store.
type StoreConfig struct {
	Dir string `koanf:"dir" json:"dir"`
}

// WatchConfig tunes the file watcher.
type WatchConfig struct {
	Debounce time.Duration `koanf:"debounce" json:"debounce"`
}

// LogConfig controls logging.
type LogConfig struct {
	Debug bool `koanf:"debug" json:"debug"`
}

// Defaults returns the built-in layer.
func Defaults() map[string]any {
	return map[string]any{
		"grammar.language":        grammar.Apex,
		"grammar.dir":             filepath.Join(Dir, "grammars"),
		"grammar.auto_download":   true,
		"grammar.base_url":        grammar.DefaultGrammarURL,
		"grammar.version":         "",
		"grammar.fallback_java":   true,
		"parser.strict":           false,
		"scan.include":            []string{},
		"scan.concurrency":        0,
		"scan.max_file_size":      int64(2 << 20),
		"rules.disabled":          []string{},
		"rules.snippet_before":    detectors.DefaultSnippetBefore,
		"rules.snippet_after":     detectors.DefaultSnippetAfter,
		"report.format":           "markdown",
		"report.min_severity":     antipattern.SevMinor.String(),
		"report.max_query_length": soql.DefaultDisplayLength,
		"store.dir":               filepath.Join(Dir, "findings"),
		"watch.debounce":          watcher.DefaultDebounce.String(),
		"log.debug":               false,
	}
}

// Path returns the config file location for a project root.
func Path(root string) string {
	return filepath.Join(root, Dir, FileName)
}

// Load builds the configuration for the project at root. path overrides
// the config file location; a missing file at the default location is not
// an error.
func Load(root, path string) (*Config, error) {
	k := koanf.New(".")
	var sources []string

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}
	sources = append(sources, "defaults")

	explicit := path != ""
	if !explicit {
		path = Path(root)
	}
	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), json.Parser()); err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		sources = append(sources, path)
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix:        EnvPrefix,
		TransformFunc: transformEnv,
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}
	if envSet(os.Environ()) {
		sources = append(sources, "env")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Root = root
	cfg.Source = sources
	cfg.resolve()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// transformEnv maps APEXLENS_RULES__SNIPPET_BEFORE to rules.snippet_before.
func transformEnv(k, v string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(k, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if listKeys[key] {
		var items []string
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, s)
			}
		}
		return key, items
	}
	return key, v
}

func envSet(environ []string) bool {
	for _, kv := range environ {
		if strings.HasPrefix(kv, EnvPrefix) {
			return true
		}
	}
	return false
}

// resolve makes relative directories absolute under Root.
func (c *Config) resolve() {
	if c.Root == "" {
		return
	}
	for _, p := range []*string{&c.Grammar.Dir, &c.Store.Dir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(c.Root, *p)
		}
	}
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	var errs []error
	if c.Scan.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("scan.concurrency must not be negative, got %d", c.Scan.Concurrency))
	}
	if c.Scan.MaxFileSize < 0 {
		errs = append(errs, fmt.Errorf("scan.max_file_size must not be negative, got %d", c.Scan.MaxFileSize))
	}
	if c.Rules.SnippetBefore < 0 || c.Rules.SnippetAfter < 0 {
		errs = append(errs, fmt.Errorf("rules.snippet_before and rules.snippet_after must not be negative"))
	}
	if c.Report.MaxQueryLength != 0 && c.Report.MaxQueryLength < 4 {
		errs = append(errs, fmt.Errorf("report.max_query_length must be at least 4, got %d", c.Report.MaxQueryLength))
	}
	if _, err := c.MinSeverity(); err != nil {
		errs = append(errs, fmt.Errorf("report.min_severity: %w", err))
	}
	if _, err := rules.ParseKinds(c.Rules.Disabled); err != nil {
		errs = append(errs, fmt.Errorf("rules.disabled: %w", err))
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce must not be negative, got %s", c.Watch.Debounce))
	}
	return errors.Join(errs...)
}

// MinSeverity parses report.min_severity.
func (c *Config) MinSeverity() (antipattern.Severity, error) {
	if c.Report.MinSeverity == "" {
		return antipattern.SevMinor, nil
	}
	return antipattern.ParseSeverity(c.Report.MinSeverity)
}

// RuleOptions converts the rules and report sections for rules.Default.
func (c *Config) RuleOptions() (rules.Options, error) {
	disabled, err := rules.ParseKinds(c.Rules.Disabled)
	if err != nil {
		return rules.Options{}, err
	}
	return rules.Options{
		Disabled: disabled,
		Detector: detectors.Options{
			SnippetBefore:  c.Rules.SnippetBefore,
			SnippetAfter:   c.Rules.SnippetAfter,
			MaxQueryLength: c.Report.MaxQueryLength,
		},
	}, nil
}

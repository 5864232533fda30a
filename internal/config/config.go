// Package config loads xrefdb settings from a TOML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/gobwas/glob"

	"github.com/jward/xrefdb/internal/errors"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/symbols"
)

type Config struct {
	Database   Database    `toml:"database"`
	Resolver   Resolver    `toml:"resolver"`
	Log        Log         `toml:"log"`
	Links      Links       `toml:"links"`
	Languages  []Language  `toml:"languages"`
	TopicTypes []TopicType `toml:"topic_types"`
	Ingest     Ingest      `toml:"ingest"`
	Watch      Watch       `toml:"watch"`
}

type Database struct {
	Path        string        `toml:"path"`
	BusyTimeout time.Duration `toml:"busy_timeout"`
}

type Resolver struct {
	Workers int `toml:"workers"`
	// ReparseEverything skips new-topic tracking until the first resolve,
	// since every link is already queued after a full rebuild.
	ReparseEverything bool `toml:"reparse_everything"`
}

type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Links configures free-text link interpretation. Conversions are written
// "ending=replacement", with an empty replacement allowed.
type Links struct {
	PluralConversions     []string `toml:"plural_conversions"`
	PossessiveConversions []string `toml:"possessive_conversions"`
	AtKeywords            []string `toml:"at_keywords"`
	URLProtocols          []string `toml:"url_protocols"`
}

type Language struct {
	ID             int    `toml:"id"`
	Name           string `toml:"name"`
	CaseSensitive  bool   `toml:"case_sensitive"`
	ParameterStyle string `toml:"parameter_style"`
}

type TopicType struct {
	ID    int      `toml:"id"`
	Name  string   `toml:"name"`
	Flags []string `toml:"flags"`
}

type Ingest struct {
	Workers int `toml:"workers"`
	// ScriptsDir loads ingestion scripts from disk instead of the built-in
	// set when non-empty.
	ScriptsDir string `toml:"scripts_dir"`
	Rules      []Rule `toml:"rules"`
}

// Rule selects the ingestion script for files matching Pattern.
type Rule struct {
	Pattern  string `toml:"pattern"`
	Script   string `toml:"script"`
	Language string `toml:"language"`
}

type Watch struct {
	Debounce     time.Duration `toml:"debounce"`
	ExcludeDirs  []string      `toml:"exclude_dirs"`
	ExcludeFiles []string      `toml:"exclude_files"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// Load reads, defaults and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.AddContext(errors.Wrap(err, errors.CodeNotFound, "read config"), errors.CtxPath, path)
	}
	return Parse(string(data))
}

// Parse is Load for configuration text already in memory.
func Parse(text string) (*Config, error) {
	var cfg Config
	if _, err := toml.Decode(text, &cfg); err != nil {
		return nil, errors.Wrap(err, errors.CodeValidationError, "decode config")
	}

	applyDefaults(&cfg)

	if err := validateDatabase(&cfg); err != nil {
		return nil, err
	}
	if err := validateResolver(&cfg); err != nil {
		return nil, err
	}
	if err := validateLog(&cfg); err != nil {
		return nil, err
	}
	if err := validateLinks(&cfg); err != nil {
		return nil, err
	}
	if err := validateIngest(&cfg); err != nil {
		return nil, err
	}
	if err := validateWatch(&cfg); err != nil {
		return nil, err
	}
	if _, err := cfg.Registry(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Database.Path) == "" {
		cfg.Database.Path = "xrefdb.db"
	}
	if cfg.Database.BusyTimeout <= 0 {
		cfg.Database.BusyTimeout = 30 * time.Second
	}
	if cfg.Resolver.Workers <= 0 {
		cfg.Resolver.Workers = 1
	}
	if strings.TrimSpace(cfg.Log.Level) == "" {
		cfg.Log.Level = "info"
	}
	if strings.TrimSpace(cfg.Log.Format) == "" {
		cfg.Log.Format = "text"
	}
	if cfg.Links.PluralConversions == nil {
		cfg.Links.PluralConversions = conversionStrings(symbols.DefaultInterpreter().Plurals)
	}
	if cfg.Links.PossessiveConversions == nil {
		cfg.Links.PossessiveConversions = conversionStrings(symbols.DefaultInterpreter().Possessives)
	}
	if cfg.Links.AtKeywords == nil {
		cfg.Links.AtKeywords = []string{"at", "on"}
	}
	if cfg.Links.URLProtocols == nil {
		cfg.Links.URLProtocols = []string{"http", "https", "ftp", "news", "file"}
	}
	if len(cfg.Languages) == 0 {
		for _, l := range model.DefaultLanguages() {
			style := "c"
			if l.ParameterStyle == symbols.ParameterStylePascal {
				style = "pascal"
			}
			cfg.Languages = append(cfg.Languages, Language{ID: l.ID, Name: l.Name, CaseSensitive: l.CaseSensitive, ParameterStyle: style})
		}
	}
	if len(cfg.TopicTypes) == 0 {
		for _, t := range model.DefaultTopicTypes() {
			cfg.TopicTypes = append(cfg.TopicTypes, TopicType{ID: t.ID, Name: t.Name, Flags: flagNames(t.Flags)})
		}
	}
	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 500 * time.Millisecond
	}
	if cfg.Watch.ExcludeDirs == nil {
		cfg.Watch.ExcludeDirs = []string{".git", "node_modules", "vendor"}
	}
}

func validateDatabase(cfg *Config) error {
	if strings.TrimSpace(cfg.Database.Path) == "" {
		return errors.New(errors.CodeValidationError, "database.path must not be empty")
	}
	return nil
}

func validateResolver(cfg *Config) error {
	if cfg.Resolver.Workers > 64 {
		return errors.Newf(errors.CodeValidationError, "resolver.workers must be <= 64, got %d", cfg.Resolver.Workers)
	}
	return nil
}

func validateLog(cfg *Config) error {
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Newf(errors.CodeValidationError, "log.level must be one of debug, info, warn, error; got %q", cfg.Log.Level)
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return errors.Newf(errors.CodeValidationError, "log.format must be text or json; got %q", cfg.Log.Format)
	}
	return nil
}

func validateLinks(cfg *Config) error {
	for _, list := range [][]string{cfg.Links.PluralConversions, cfg.Links.PossessiveConversions} {
		for _, c := range list {
			if _, err := parseConversion(c); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateIngest(cfg *Config) error {
	for i, r := range cfg.Ingest.Rules {
		ref := fmt.Sprintf("ingest.rules[%d]", i)
		if strings.TrimSpace(r.Pattern) == "" {
			return errors.Newf(errors.CodeValidationError, "%s.pattern must not be empty", ref)
		}
		if _, err := glob.Compile(r.Pattern, '/'); err != nil {
			return errors.Wrap(err, errors.CodeValidationError, ref+".pattern is invalid")
		}
		if strings.TrimSpace(r.Script) == "" {
			return errors.Newf(errors.CodeValidationError, "%s.script must not be empty", ref)
		}
	}
	return nil
}

func validateWatch(cfg *Config) error {
	if cfg.Watch.Debounce < 0 {
		return errors.Newf(errors.CodeValidationError, "watch.debounce must not be negative, got %s", cfg.Watch.Debounce)
	}
	for _, pattern := range cfg.Watch.ExcludeFiles {
		if _, err := glob.Compile(pattern); err != nil {
			return errors.Wrap(err, errors.CodeValidationError, "watch.exclude_files contains an invalid pattern")
		}
	}
	return nil
}

// Registry builds the language and topic type registry.
func (c *Config) Registry() (*model.Registry, error) {
	langs := make([]model.Language, 0, len(c.Languages))
	for _, l := range c.Languages {
		var style symbols.ParameterStyle
		switch strings.ToLower(l.ParameterStyle) {
		case "", "c":
			style = symbols.ParameterStyleC
		case "pascal":
			style = symbols.ParameterStylePascal
		default:
			return nil, errors.Newf(errors.CodeValidationError, "languages %q: parameter_style must be c or pascal", l.Name)
		}
		langs = append(langs, model.Language{ID: l.ID, Name: l.Name, CaseSensitive: l.CaseSensitive, ParameterStyle: style})
	}
	types := make([]model.TopicType, 0, len(c.TopicTypes))
	for _, t := range c.TopicTypes {
		flags, err := parseFlags(t.Flags)
		if err != nil {
			return nil, errors.AddContext(err, "topic_type", t.Name)
		}
		types = append(types, model.TopicType{ID: t.ID, Name: t.Name, Flags: flags})
	}
	return model.NewRegistry(langs, types)
}

// Interpreter builds the link interpreter from the [links] section.
func (c *Config) Interpreter() *symbols.Interpreter {
	in := &symbols.Interpreter{
		AtKeywords:   make(map[string]bool, len(c.Links.AtKeywords)),
		URLProtocols: make(map[string]bool, len(c.Links.URLProtocols)),
	}
	for _, s := range c.Links.PluralConversions {
		if conv, err := parseConversion(s); err == nil {
			in.Plurals = append(in.Plurals, conv)
		}
	}
	for _, s := range c.Links.PossessiveConversions {
		if conv, err := parseConversion(s); err == nil {
			in.Possessives = append(in.Possessives, conv)
		}
	}
	for _, k := range c.Links.AtKeywords {
		in.AtKeywords[strings.ToLower(k)] = true
	}
	for _, p := range c.Links.URLProtocols {
		in.URLProtocols[strings.ToLower(p)] = true
	}
	return in
}

var flagByName = map[string]model.TopicTypeFlags{
	"code":            model.FlagCode,
	"file":            model.FlagFile,
	"documentation":   model.FlagDocumentation,
	"class_hierarchy": model.FlagClassHierarchy,
	"variable_type":   model.FlagVariableType,
}

func parseFlags(names []string) (model.TopicTypeFlags, error) {
	var flags model.TopicTypeFlags
	for _, n := range names {
		f, ok := flagByName[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return 0, errors.Newf(errors.CodeValidationError, "unknown topic type flag %q", n)
		}
		flags |= f
	}
	return flags, nil
}

func flagNames(flags model.TopicTypeFlags) []string {
	var out []string
	for _, name := range []string{"code", "file", "documentation", "class_hierarchy", "variable_type"} {
		if flags&flagByName[name] != 0 {
			out = append(out, name)
		}
	}
	return out
}

func parseConversion(s string) (symbols.Conversion, error) {
	ending, replacement, ok := strings.Cut(s, "=")
	if !ok || ending == "" {
		return symbols.Conversion{}, errors.Newf(errors.CodeValidationError, "conversion %q must be written ending=replacement", s)
	}
	return symbols.Conversion{Ending: strings.ToLower(ending), Replacement: replacement}, nil
}

func conversionStrings(convs []symbols.Conversion) []string {
	out := make([]string, len(convs))
	for i, c := range convs {
		out[i] = c.Ending + "=" + c.Replacement
	}
	return out
}

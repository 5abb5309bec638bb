// Package config — .sheetloc.yaml configuration file support.
//
// The .sheetloc.yaml file in the project root is the sole source of
// truth for a translation run: which workbook, which sheets, which
// columns hold keys and texts, and how to pace the provider. API keys
// never live in the YAML — they come from the environment, with an
// optional .env file loaded on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// YAML schema
// ---------------------------------------------------------------------------

// Config is the top-level .sheetloc.yaml structure.
type Config struct {
	// Workbook is the xlsx file path relative to the config file.
	Workbook string `yaml:"workbook"`
	// Sheets is the ordered list of sheet names to translate.
	Sheets []string `yaml:"sheets"`

	// Columns maps row fields to spreadsheet column headers.
	Columns Columns `yaml:"columns"`

	// SourceLang is the source language code (default "en").
	SourceLang string `yaml:"source_lang,omitempty"`
	// TargetLang is the target language code.
	TargetLang string `yaml:"target_lang"`

	// Provider: "openai" or "gemini" (default "gemini").
	Provider string `yaml:"provider,omitempty"`
	// Model overrides the provider's default model.
	Model string `yaml:"model,omitempty"`

	// BatchSize is the number of segments per request (default 50).
	BatchSize int `yaml:"batch_size,omitempty"`
	// CooldownSeconds is the pause between batches (default 22).
	CooldownSeconds int `yaml:"cooldown_seconds,omitempty"`
	// MaxRetries is the per-batch retry budget (default 5).
	MaxRetries int `yaml:"max_retries,omitempty"`

	// InstructionsFile holds project-specific guidance appended to the
	// system prompt, relative to the config file.
	InstructionsFile string `yaml:"instructions_file,omitempty"`

	// RetranslateChanged re-queues rows whose source text changed since
	// the checksum recorded in the lock file.
	RetranslateChanged bool `yaml:"retranslate_changed,omitempty"`

	// root is the directory containing the config file.
	root string
}

// Columns maps segment fields to column headers on every sheet.
type Columns struct {
	// Key is the header of the unique-key column (default "Key").
	Key string `yaml:"key,omitempty"`
	// Source is the header of the source-text column (default "Source").
	Source string `yaml:"source,omitempty"`
	// Target is the header of the target-text column. When empty, the
	// target language code is used as the header.
	Target string `yaml:"target,omitempty"`
	// Comment is the header of the translator-comment column (optional).
	Comment string `yaml:"comment,omitempty"`
	// DoNotTranslate is the header of the do-not-translate flag column
	// (optional).
	DoNotTranslate string `yaml:"do_not_translate,omitempty"`
}

// FileName is the default config file name.
const FileName = ".sheetloc.yaml"

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads and validates .sheetloc.yaml from the given directory.
// A .env file next to it, if present, is merged into the environment
// without overriding variables already set.
func Load(rootDir string) (*Config, error) {
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(absRoot, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.root = absRoot
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// .env is optional; real environment variables win.
	envPath := filepath.Join(absRoot, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SourceLang == "" {
		c.SourceLang = "en"
	}
	if c.Provider == "" {
		c.Provider = "gemini"
	}
	if c.BatchSize == 0 {
		c.BatchSize = 50
	}
	if c.CooldownSeconds == 0 {
		c.CooldownSeconds = 22
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.Columns.Key == "" {
		c.Columns.Key = "Key"
	}
	if c.Columns.Source == "" {
		c.Columns.Source = "Source"
	}
	if c.Columns.Target == "" {
		c.Columns.Target = c.TargetLang
	}
}

// Validate checks the config for consistency.
func (c *Config) Validate() error {
	if c.Workbook == "" {
		return fmt.Errorf("workbook is required")
	}
	if c.TargetLang == "" {
		return fmt.Errorf("target_lang is required")
	}
	if len(c.Sheets) == 0 {
		return fmt.Errorf("at least one sheet is required")
	}
	switch c.Provider {
	case "openai", "gemini":
	default:
		return fmt.Errorf("unknown provider %q (valid: openai, gemini)", c.Provider)
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must be positive")
	}
	if c.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown_seconds must not be negative")
	}
	return nil
}

// ---------------------------------------------------------------------------
// Resolved values
// ---------------------------------------------------------------------------

// Root returns the directory containing the config file.
func (c *Config) Root() string {
	return c.root
}

// WorkbookPath returns the absolute workbook path.
func (c *Config) WorkbookPath() string {
	if filepath.IsAbs(c.Workbook) {
		return c.Workbook
	}
	return filepath.Join(c.root, c.Workbook)
}

// Cooldown returns the inter-batch pause as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// APIKey returns the provider's API key from the environment.
func (c *Config) APIKey() string {
	switch c.Provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "gemini":
		return os.Getenv("GEMINI_API_KEY")
	}
	return ""
}

// Instructions reads the project instructions file. Returns "" when no
// file is configured.
func (c *Config) Instructions() (string, error) {
	if c.InstructionsFile == "" {
		return "", nil
	}
	path := c.InstructionsFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading instructions %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// LanguageName resolves a language code to its English display name
// ("pt-BR" -> "Brazilian Portuguese"). Unparseable codes are returned
// verbatim so the prompt still carries something meaningful.
func LanguageName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

// ---------------------------------------------------------------------------
// Scaffolding
// ---------------------------------------------------------------------------

const defaultConfig = `# sheetloc configuration
workbook: game_text.xlsx
sheets:
  - UI
  - DIALOGUE

columns:
  key: Key
  source: Source
  comment: Comment
  do_not_translate: DNT

source_lang: en
target_lang: pt-BR

provider: gemini
batch_size: 50
cooldown_seconds: 22
max_retries: 5

instructions_file: instructions.txt
`

const defaultInstructions = `This is text for a video game. Keep translations short and natural.
Preserve the tone of the source: casual UI strings stay casual.
Character names and proper nouns are not translated.
`

// WriteDefault scaffolds .sheetloc.yaml and instructions.txt in dir.
// Existing files are never overwritten.
func WriteDefault(dir string) error {
	cfgPath := filepath.Join(dir, FileName)
	if _, err := os.Stat(cfgPath); err == nil {
		return fmt.Errorf("%s already exists", cfgPath)
	}
	if err := os.WriteFile(cfgPath, []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", cfgPath, err)
	}

	instrPath := filepath.Join(dir, "instructions.txt")
	if _, err := os.Stat(instrPath); os.IsNotExist(err) {
		if err := os.WriteFile(instrPath, []byte(defaultInstructions), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", instrPath, err)
		}
	}
	return nil
}

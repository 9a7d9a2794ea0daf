package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aluiziolira/go-bookfind/models"
	"github.com/aluiziolira/go-bookfind/query"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by Validate.
const (
	FormatCSV  = "csv"
	FormatTSV  = "tsv"
	FormatJSON = "json"
	FormatDual = "dual"
)

// Sort orders accepted by Validate.
const (
	SortSource = "source"
	SortPrice  = "price"
)

// Config holds finder configuration. It is built once at startup and only
// read afterwards.
type Config struct {
	BaseURL       string        `yaml:"base_url"`
	Currency      string        `yaml:"currency"`
	Destination   string        `yaml:"destination"`
	Condition     string        `yaml:"condition"`
	Limit         int           `yaml:"limit"`
	Sort          string        `yaml:"sort"`
	OutputFile    string        `yaml:"output"`
	OutputFormat  string        `yaml:"format"` // csv, tsv, json, or dual
	Timeout       time.Duration `yaml:"timeout"`
	UserAgent     string        `yaml:"user_agent"`
	DedupeMaxSize int           `yaml:"dedupe_max_size"`
	BatchSize     int           `yaml:"batch_size"`
	MetricsFile   string        `yaml:"metrics_file"`
	Verbose       bool          `yaml:"verbose"`
}

// DefaultConfig returns the defaults: euro prices shipped to France, new copies.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "https://www.bookfinder.com",
		Currency:      "EUR",
		Destination:   "FR",
		Condition:     string(models.ConditionNew),
		Limit:         0,
		Sort:          SortSource,
		OutputFile:    "",
		OutputFormat:  FormatCSV,
		Timeout:       20 * time.Second,
		UserAgent:     "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		DedupeMaxSize: 1024,
		BatchSize:     64,
		MetricsFile:   "",
		Verbose:       false,
	}
}

// Load reads a YAML file over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BOOKFIND_* environment variables.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString("BOOKFIND_BASE_URL"); ok {
		c.BaseURL = v
	}
	if v, ok := EnvString("BOOKFIND_CURRENCY"); ok {
		c.Currency = v
	}
	if v, ok := EnvString("BOOKFIND_DESTINATION"); ok {
		c.Destination = v
	}
	if v, ok := EnvString("BOOKFIND_CONDITION"); ok {
		c.Condition = v
	}
	if v, ok, err := EnvInt("BOOKFIND_LIMIT"); err != nil {
		return fmt.Errorf("invalid BOOKFIND_LIMIT: %w", err)
	} else if ok {
		c.Limit = v
	}
	if v, ok := EnvString("BOOKFIND_OUTPUT"); ok {
		c.OutputFile = v
	}
	if v, ok := EnvString("BOOKFIND_USER_AGENT"); ok {
		c.UserAgent = v
	}
	return nil
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// EnvInt parses key as an integer when it is set.
func EnvInt(key string) (int, bool, error) {
	v, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// Validate ensures all configuration values are coherent. Every failure is a
// *query.UnsupportedOptionError.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return unsupported("base URL", c.BaseURL, "cannot be empty")
	}
	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return &query.UnsupportedOptionError{Option: "base URL", Value: c.BaseURL, Err: err}
	}
	if parsedURL.Host == "" {
		return unsupported("base URL", c.BaseURL, "must include a host")
	}

	if _, err := query.CheckCurrency(c.Currency); err != nil {
		return err
	}
	if _, err := query.CheckDestination(c.Destination); err != nil {
		return err
	}
	if _, err := models.ParseCondition(c.Condition); err != nil {
		return &query.UnsupportedOptionError{Option: "condition", Value: c.Condition, Err: err}
	}

	if c.Limit < 0 {
		return unsupported("limit", strconv.Itoa(c.Limit), "cannot be negative")
	}
	if c.Sort != SortSource && c.Sort != SortPrice {
		return unsupported("sort", c.Sort, "must be source or price")
	}
	switch c.OutputFormat {
	case FormatCSV, FormatTSV, FormatJSON, FormatDual:
	default:
		return unsupported("format", c.OutputFormat, "must be csv, tsv, json, or dual")
	}
	if c.Timeout <= 0 {
		return unsupported("timeout", c.Timeout.String(), "must be positive")
	}
	if c.UserAgent == "" {
		return unsupported("user agent", c.UserAgent, "cannot be empty")
	}
	if c.DedupeMaxSize <= 0 {
		return unsupported("dedupe max size", strconv.Itoa(c.DedupeMaxSize), "must be positive")
	}
	if c.BatchSize <= 0 {
		return unsupported("batch size", strconv.Itoa(c.BatchSize), "must be positive")
	}

	return nil
}

// QuerySpec freezes the search options for id.
func (c *Config) QuerySpec(id models.BookIdentifier) (models.QuerySpec, error) {
	cur, err := query.CheckCurrency(c.Currency)
	if err != nil {
		return models.QuerySpec{}, err
	}
	dest, err := query.CheckDestination(c.Destination)
	if err != nil {
		return models.QuerySpec{}, err
	}
	cond, err := models.ParseCondition(c.Condition)
	if err != nil {
		return models.QuerySpec{}, &query.UnsupportedOptionError{Option: "condition", Value: c.Condition, Err: err}
	}
	return models.QuerySpec{
		Identifier:  id,
		Currency:    cur,
		Destination: dest,
		Condition:   cond,
	}, nil
}

func unsupported(option, value, reason string) error {
	return &query.UnsupportedOptionError{Option: option, Value: value, Err: errors.New(reason)}
}

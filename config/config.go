package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the import configuration
type Config struct {
	SiteURL      string
	ListName     string
	SourceFile   string
	ClientID     string
	ClientSecret string

	ColumnMapFile string
	Mappings      []string          // Raw "Header=Field" values from the command line
	ColumnMap     map[string]string // Source header -> destination field

	PreserveDates bool
	CreatedField  string
	ModifiedField string
	Timezone      string

	BatchSize    int
	SleepEvery   int
	SleepSeconds int
	Retries      int
	Backoff      time.Duration
	BackoffMax   time.Duration

	TestRun      bool
	TestRows     int
	ValidateOnly bool
	TrimChoices  bool

	TitleField  string
	TitlePrefix string

	Workers   int
	Encoding  string
	Delimiter string

	LogLevel string
	NoColor  bool
	Verbose  bool // Print SQL / HTTP requests sent to the destination
}

// Defaults used when a value is not set on the command line
const (
	DefaultBatchSize    = 100
	DefaultSleepEvery   = 10
	DefaultSleepSeconds = 1
	DefaultTestRows     = 100
	DefaultRetries      = 5
	DefaultWorkers      = 4
	DefaultTitleField   = "Title"
	DefaultTitlePrefix  = "Import_"
)

// SupportedEncodings lists the source file encodings the CSV reader can decode
var SupportedEncodings = []string{"utf-8", "windows-1251", "windows-1252", "iso-8859-1"}

// LoadColumnMap reads the column map file. Files ending in .yaml or .yml are
// read as a YAML mapping; anything else uses "Source Header: Field" lines.
func LoadColumnMap(cfg *Config, filename string) error {
	if cfg.ColumnMap == nil {
		cfg.ColumnMap = make(map[string]string)
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return loadYAMLColumnMap(cfg, filename)
	}

	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read column map file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Split on the last colon so headers may contain colons
		idx := strings.LastIndex(line, ":")
		if idx < 0 {
			return fmt.Errorf("invalid column map line format (expected 'header: field'): %s", line)
		}
		if err := addMapping(cfg, line[:idx], line[idx+1:]); err != nil {
			return fmt.Errorf("%w: %s", err, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading column map file: %w", err)
	}

	return nil
}

func loadYAMLColumnMap(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read column map file: %w", err)
	}

	var doc struct {
		Columns map[string]string `yaml:"columns"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse column map file: %w", err)
	}

	for header, field := range doc.Columns {
		if err := addMapping(cfg, header, field); err != nil {
			return fmt.Errorf("%w: %s", err, header)
		}
	}
	return nil
}

// ParseMappings adds "Header=Field" pairs given on the command line
func ParseMappings(cfg *Config, mappings []string) error {
	if cfg.ColumnMap == nil {
		cfg.ColumnMap = make(map[string]string)
	}
	for _, m := range mappings {
		parts := strings.SplitN(m, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid mapping (expected 'header=field'): %s", m)
		}
		if err := addMapping(cfg, parts[0], parts[1]); err != nil {
			return fmt.Errorf("%w: %s", err, m)
		}
	}
	return nil
}

func addMapping(cfg *Config, header, field string) error {
	header = strings.TrimSpace(header)
	field = strings.TrimSpace(field)
	if header == "" {
		return fmt.Errorf("empty source header in column map")
	}
	if field == "" {
		return fmt.Errorf("empty destination field in column map")
	}
	if _, ok := cfg.ColumnMap[header]; ok {
		return fmt.Errorf("duplicate source header %q in column map", header)
	}
	cfg.ColumnMap[header] = field
	return nil
}

// Location resolves the configured timezone for retained timestamps
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || strings.EqualFold(c.Timezone, "local") {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// Validate checks the configuration before any remote call is made.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	if c.SiteURL == "" {
		errs = append(errs, "site URL is required")
	}
	if c.ListName == "" {
		errs = append(errs, "list name is required")
	}
	if c.SourceFile == "" {
		errs = append(errs, "source file is required")
	}
	if len(c.ColumnMap) == 0 {
		errs = append(errs, "column map must contain at least one entry")
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Sprintf("batch size (%d) must be at least 1", c.BatchSize))
	}
	if c.SleepEvery < 0 {
		errs = append(errs, fmt.Sprintf("sleep-every (%d) must be non-negative", c.SleepEvery))
	}
	if c.SleepSeconds < 0 {
		errs = append(errs, fmt.Sprintf("sleep-seconds (%d) must be non-negative", c.SleepSeconds))
	}
	if c.Retries < 0 {
		errs = append(errs, fmt.Sprintf("retries (%d) must be non-negative", c.Retries))
	}
	if c.TestRun && c.TestRows < 1 {
		errs = append(errs, fmt.Sprintf("test rows (%d) must be at least 1", c.TestRows))
	}
	if c.Workers < 1 {
		errs = append(errs, fmt.Sprintf("workers (%d) must be at least 1", c.Workers))
	}
	if c.PreserveDates && (c.CreatedField == "" || c.ModifiedField == "") {
		errs = append(errs, "created and modified fields are required when preserving dates")
	}
	if !isSupportedEncoding(c.Encoding) {
		errs = append(errs, fmt.Sprintf("unsupported encoding %q (supported: %s)",
			c.Encoding, strings.Join(SupportedEncodings, ", ")))
	}
	if len([]rune(c.Delimiter)) != 1 {
		errs = append(errs, fmt.Sprintf("delimiter %q must be a single character", c.Delimiter))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid timezone %q", c.Timezone))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

func isSupportedEncoding(name string) bool {
	if name == "" {
		return true
	}
	for _, enc := range SupportedEncodings {
		if strings.EqualFold(enc, name) {
			return true
		}
	}
	return false
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"almanac/internal/atomicfile"
	appLog "almanac/internal/log"
	"almanac/internal/recurrence"
)

// ICSExportConfig enables the periodic ICS mirror of the agenda.
type ICSExportConfig struct {
	// Path is where the .ics file is written.
	Path string `yaml:"path" json:"path"`
	// RealOrigin is the real date (YYYY-MM-DD) on which the calendar's
	// current day is shown.
	RealOrigin string `yaml:"real_origin" json:"real_origin"`
}

// Origin parses RealOrigin.
func (c ICSExportConfig) Origin() (time.Time, error) {
	t, err := time.Parse(time.DateOnly, strings.TrimSpace(c.RealOrigin))
	if err != nil {
		return time.Time{}, fmt.Errorf("ics_export.real_origin: %w", err)
	}
	return t, nil
}

// CustomRuleConfig registers an RRULE (FREQ=DAILY only) as a custom rule.
type CustomRuleConfig struct {
	ID    string `yaml:"id" json:"id"`
	RRule string `yaml:"rrule" json:"rrule"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// DocumentPath is the campaign YAML document.
	DocumentPath string `yaml:"document" json:"document"`

	// DefaultCalendar is used when a request or command names none. Empty
	// means the first calendar of the document.
	DefaultCalendar string `yaml:"default_calendar" json:"default_calendar"`

	// HorizonDays is the number of campaign days shown after the current
	// time by the agenda and the ICS export.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// RefreshCron is a standard 5-field cron schedule for reloading the
	// document and rewriting the ICS export.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// MaxLookaheadYears bounds next-occurrence searches.
	MaxLookaheadYears int `yaml:"max_lookahead_years" json:"max_lookahead_years"`

	// MaxOccurrencesPerEvent caps a single event inside one expansion.
	MaxOccurrencesPerEvent int `yaml:"max_occurrences_per_event" json:"max_occurrences_per_event"`

	// CacheTTLSeconds is how long API responses are cached.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	ICSExport *ICSExportConfig `yaml:"ics_export,omitempty" json:"ics_export,omitempty"`

	CustomRules []CustomRuleConfig `yaml:"custom_rules,omitempty" json:"custom_rules,omitempty"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                 "127.0.0.1:8080",
		DocumentPath:           "campaign.yaml",
		HorizonDays:            30,
		RefreshCron:            "*/5 * * * *",
		MaxLookaheadYears:      recurrence.DefaultMaxLookaheadYears,
		MaxOccurrencesPerEvent: 5000,
		CacheTTLSeconds:        30,
		LogLevel:               "info",
	}
}

// Normalize fills in missing/zero values with defaults so that partially
// filled configs still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.DocumentPath == "" {
		c.DocumentPath = def.DocumentPath
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.MaxLookaheadYears <= 0 {
		c.MaxLookaheadYears = def.MaxLookaheadYears
	}
	if c.MaxOccurrencesPerEvent <= 0 {
		c.MaxOccurrencesPerEvent = def.MaxOccurrencesPerEvent
	}
	if c.CacheTTLSeconds < 0 {
		c.CacheTTLSeconds = 0
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	if c.ICSExport != nil {
		if c.ICSExport.Path == "" {
			errs = append(errs, errors.New("ics_export.path is empty"))
		}
		if _, err := c.ICSExport.Origin(); err != nil {
			errs = append(errs, err)
		}
	}
	seen := make(map[string]struct{}, len(c.CustomRules))
	for _, r := range c.CustomRules {
		if r.ID == "" {
			errs = append(errs, errors.New("custom_rules: empty id"))
			continue
		}
		if _, dup := seen[r.ID]; dup {
			errs = append(errs, fmt.Errorf("custom_rules: duplicate id %q", r.ID))
		}
		seen[r.ID] = struct{}{}
		if _, err := recurrence.NewRRuleStrategy(r.RRule); err != nil {
			errs = append(errs, fmt.Errorf("custom_rules %s: %w", r.ID, err))
		}
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		errs = append(errs, errors.New("basic_auth.username is empty"))
	}
	return errors.Join(errs...)
}

// RefreshSchedule parses RefreshCron.
func (c *Config) RefreshSchedule() (cron.Schedule, error) {
	return cron.ParseStandard(c.RefreshCron)
}

// RegisterCustomRules adds every configured RRULE to reg.
func (c *Config) RegisterCustomRules(reg *recurrence.Registry) error {
	for _, r := range c.CustomRules {
		st, err := recurrence.NewRRuleStrategy(r.RRule)
		if err != nil {
			return fmt.Errorf("custom rule %s: %w", r.ID, err)
		}
		if err := reg.Register(r.ID, st); err != nil {
			return err
		}
		appLog.Debug("config: registered custom rule", "id", r.ID, "rrule", st.String())
	}
	return nil
}

// ApplyEnv overrides settings from ALMANAC_* environment variables.
func (c *Config) ApplyEnv() {
	v := viper.New()
	v.SetEnvPrefix("ALMANAC")
	v.AutomaticEnv()

	_ = v.BindEnv("listen", "ALMANAC_LISTEN")
	_ = v.BindEnv("document", "ALMANAC_DOCUMENT")
	_ = v.BindEnv("default_calendar", "ALMANAC_DEFAULT_CALENDAR")
	_ = v.BindEnv("horizon_days", "ALMANAC_HORIZON_DAYS")
	_ = v.BindEnv("refresh", "ALMANAC_REFRESH")
	_ = v.BindEnv("max_lookahead_years", "ALMANAC_MAX_LOOKAHEAD_YEARS")
	_ = v.BindEnv("cache_ttl_seconds", "ALMANAC_CACHE_TTL_SECONDS")
	_ = v.BindEnv("log_level", "ALMANAC_LOG_LEVEL")
	_ = v.BindEnv("basic_auth_username", "ALMANAC_BASIC_AUTH_USERNAME")
	_ = v.BindEnv("basic_auth_password", "ALMANAC_BASIC_AUTH_PASSWORD")

	if v.IsSet("listen") {
		c.Listen = strings.TrimSpace(v.GetString("listen"))
	}
	if v.IsSet("document") {
		c.DocumentPath = strings.TrimSpace(v.GetString("document"))
	}
	if v.IsSet("default_calendar") {
		c.DefaultCalendar = strings.TrimSpace(v.GetString("default_calendar"))
	}
	if v.IsSet("horizon_days") {
		c.HorizonDays = v.GetInt("horizon_days")
	}
	if v.IsSet("refresh") {
		c.RefreshCron = strings.TrimSpace(v.GetString("refresh"))
	}
	if v.IsSet("max_lookahead_years") {
		c.MaxLookaheadYears = v.GetInt("max_lookahead_years")
	}
	if v.IsSet("cache_ttl_seconds") {
		c.CacheTTLSeconds = v.GetInt("cache_ttl_seconds")
	}
	if v.IsSet("log_level") {
		c.LogLevel = strings.TrimSpace(v.GetString("log_level"))
	}
	if v.IsSet("basic_auth_username") {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		c.BasicAuth.Username = v.GetString("basic_auth_username")
		c.BasicAuth.Password = v.GetString("basic_auth_password")
	}
	c.Normalize()
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded and defaults are filled in.
//
// Environment overrides are applied by the caller via ApplyEnv.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return atomicfile.Write(path, data, ".almanac-config-*.tmp")
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}

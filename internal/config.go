package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to environment overrides (NICOTSM_LOGIN_MAIL, ...)
const EnvPrefix = "NICOTSM"

// Config holds application configuration
type Config struct {
	Login  LoginConfig
	Search []SearchFilter
	Warn   WarningSet
	Misc   MiscConfig
	Log    LogConfig

	// Path is the file the configuration was read from
	Path string
}

// LoginConfig holds the credential and cookie jar location
type LoginConfig struct {
	Credential
	CookieJar string
}

// MiscConfig holds session and engine tuning
type MiscConfig struct {
	Overwrite bool
	Timeout   time.Duration
	UserAgent string
	Context   string
	Timezone  string
	Proxy     string
	RateLimit float64 // requests per second, 0 disables pacing
	Retries   int     // retries for idempotent requests

	Location *time.Location
}

// LogConfig controls the process logger
type LogConfig struct {
	Level string
	File  string
	Debug bool
}

// rawFilter mirrors one search[] entry as written in the file
type rawFilter struct {
	Q               string      `mapstructure:"q"`
	Targets         []string    `mapstructure:"targets"`
	Sort            string      `mapstructure:"sort"`
	JSONFilter      string      `mapstructure:"jsonFilter"`
	OpenTimeFrom    interface{} `mapstructure:"openTimeFrom"`
	OpenTimeTo      interface{} `mapstructure:"openTimeTo"`
	StartTimeFrom   interface{} `mapstructure:"startTimeFrom"`
	StartTimeTo     interface{} `mapstructure:"startTimeTo"`
	LiveEndTimeFrom interface{} `mapstructure:"liveEndTimeFrom"`
	LiveEndTimeTo   interface{} `mapstructure:"liveEndTimeTo"`
	PPV             *bool       `mapstructure:"ppv"`
}

var (
	knownTargets = map[string]bool{"title": true, "description": true, "tags": true}
	sortPattern  = regexp.MustCompile(`^[+-]?[A-Za-z]+$`)
)

// DefaultConfigPath returns $XDG_CONFIG_HOME/nicotsm/config.yaml or the
// platform equivalent.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate config directory: %w", err)
	}
	return filepath.Join(dir, "nicotsm", "config.yaml"), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("login.mail", "")
	v.SetDefault("login.password", "")
	v.SetDefault("login.cookieJar", "")
	v.SetDefault("warn.tsNotSupported", true)
	v.SetDefault("warn.tsRegistrationExpired", true)
	v.SetDefault("warn.tsMaxReservation", true)
	v.SetDefault("misc.overwrite", false)
	v.SetDefault("misc.timeout", "30s")
	v.SetDefault("misc.userAgent", "")
	v.SetDefault("misc.context", "nicotsm")
	v.SetDefault("misc.timezone", "Asia/Tokyo")
	v.SetDefault("misc.proxy", "")
	v.SetDefault("misc.rateLimit", 0)
	v.SetDefault("misc.retries", 0)
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.file", "")
}

// LoadConfig reads the configuration file at path (the default location
// when empty), applies environment overrides and validates the result.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg, err := decodeConfig(v, path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeConfig(v *viper.Viper, path string) (*Config, error) {
	baseDir := filepath.Dir(path)

	cfg := &Config{
		Path: path,
		Login: LoginConfig{
			Credential: Credential{
				Mail:     v.GetString("login.mail"),
				Password: v.GetString("login.password"),
			},
			CookieJar: resolvePath(baseDir, v.GetString("login.cookieJar")),
		},
		Warn: WarningSet{
			TSNotSupported:        v.GetBool("warn.tsNotSupported"),
			TSRegistrationExpired: v.GetBool("warn.tsRegistrationExpired"),
			TSMaxReservation:      v.GetBool("warn.tsMaxReservation"),
		},
		Misc: MiscConfig{
			Overwrite: v.GetBool("misc.overwrite"),
			UserAgent: v.GetString("misc.userAgent"),
			Context:   v.GetString("misc.context"),
			Timezone:  v.GetString("misc.timezone"),
			Proxy:     v.GetString("misc.proxy"),
			RateLimit: v.GetFloat64("misc.rateLimit"),
			Retries:   v.GetInt("misc.retries"),
		},
		Log: LogConfig{
			Level: v.GetString("log.level"),
			File:  resolvePath(baseDir, v.GetString("log.file")),
		},
	}

	timeout, err := parseTimeout(v.Get("misc.timeout"))
	if err != nil {
		return nil, err
	}
	cfg.Misc.Timeout = timeout

	var raws []rawFilter
	if err := v.UnmarshalKey("search", &raws); err != nil {
		return nil, NewValidationError("search", fmt.Sprintf("malformed search list: %v", err))
	}
	for i, raw := range raws {
		filter, err := raw.resolve(baseDir, i)
		if err != nil {
			return nil, err
		}
		cfg.Search = append(cfg.Search, filter)
	}

	return cfg, nil
}

func (r rawFilter) resolve(baseDir string, index int) (SearchFilter, error) {
	field := func(name string) string { return fmt.Sprintf("search[%d].%s", index, name) }

	f := SearchFilter{
		Q:       r.Q,
		Targets: r.Targets,
		Sort:    r.Sort,
		PPV:     r.PPV,
	}
	if f.Sort == "" {
		f.Sort = DefaultSort
	}

	windows := []struct {
		name string
		raw  interface{}
		dst  *string
	}{
		{"openTimeFrom", r.OpenTimeFrom, &f.OpenTimeFrom},
		{"openTimeTo", r.OpenTimeTo, &f.OpenTimeTo},
		{"startTimeFrom", r.StartTimeFrom, &f.StartTimeFrom},
		{"startTimeTo", r.StartTimeTo, &f.StartTimeTo},
		{"liveEndTimeFrom", r.LiveEndTimeFrom, &f.LiveEndTimeFrom},
		{"liveEndTimeTo", r.LiveEndTimeTo, &f.LiveEndTimeTo},
	}
	for _, w := range windows {
		switch val := w.raw.(type) {
		case nil:
		case string:
			*w.dst = val
		default:
			return f, NewValidationErrorWithValue(field(w.name), "duration must be a string such as \"-1d12h\"", val)
		}
	}

	if r.JSONFilter != "" {
		doc, err := readJSONFile(resolvePath(baseDir, r.JSONFilter))
		if err != nil {
			return f, NewValidationErrorWithValue(field("jsonFilter"), err.Error(), r.JSONFilter)
		}
		f.JSONFilter = doc
	}

	return f, nil
}

// readJSONFile parses a JSON document keeping numbers verbatim
func readJSONFile(path string) (interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return doc, nil
}

func resolvePath(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	if strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return filepath.Join(baseDir, p)
}

// parseTimeout accepts a number of seconds or a Go duration string
func parseTimeout(raw interface{}) (time.Duration, error) {
	switch v := raw.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, NewValidationErrorWithValue("misc.timeout", "invalid timeout", v).
				WithSuggestion("Use seconds (30) or a duration (30s, 1m)")
		}
		return d, nil
	default:
		return 0, NewValidationErrorWithValue("misc.timeout", "invalid timeout", raw)
	}
}

// Validate validates the configuration values
func (c *Config) Validate() error {
	if c.Misc.Timeout <= 0 {
		return NewValidationErrorWithValue("misc.timeout", "must be > 0", c.Misc.Timeout)
	}
	if c.Misc.RateLimit < 0 {
		return NewValidationErrorWithValue("misc.rateLimit", "must be >= 0", c.Misc.RateLimit)
	}
	if c.Misc.Retries < 0 {
		return NewValidationErrorWithValue("misc.retries", "must be >= 0", c.Misc.Retries)
	}

	loc, err := time.LoadLocation(c.Misc.Timezone)
	if err != nil {
		return NewValidationErrorWithValue("misc.timezone", "unknown time zone", c.Misc.Timezone)
	}
	c.Misc.Location = loc

	if (c.Login.Mail == "") != (c.Login.Password == "") {
		return NewValidationError("login", "mail and password must be set together")
	}

	for i, f := range c.Search {
		if err := ValidateFilter(f, i); err != nil {
			return err
		}
	}

	return nil
}

// ValidateFilter checks the structural parts of a filter. Duration strings
// are checked when the filter is compiled.
func ValidateFilter(f SearchFilter, index int) error {
	field := func(name string) string { return fmt.Sprintf("search[%d].%s", index, name) }

	if strings.TrimSpace(f.Q) == "" {
		return NewValidationError(field("q"), "query must not be empty")
	}
	if len(f.Targets) == 0 {
		return NewValidationError(field("targets"), "targets must not be empty").
			WithSuggestion("Use any of title, description, tags")
	}
	seen := make(map[string]bool, len(f.Targets))
	for _, t := range f.Targets {
		if !knownTargets[t] {
			return NewValidationErrorWithValue(field("targets"), "unknown target", t).
				WithSuggestion("Use any of title, description, tags")
		}
		if seen[t] {
			return NewValidationErrorWithValue(field("targets"), "duplicate target", t)
		}
		seen[t] = true
	}
	if f.Sort != "" && !sortPattern.MatchString(f.Sort) {
		return NewValidationErrorWithValue(field("sort"), "sort must look like +startTime", f.Sort)
	}
	return nil
}

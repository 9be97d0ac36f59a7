package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bnema/nextmeeting/internal/security"
)

const appName = "nextmeeting"

type Config struct {
	Calendars CalendarConfig `mapstructure:"calendars"`
	Status    StatusConfig   `mapstructure:"status"`
	Display   DisplayConfig  `mapstructure:"display"`
	Polling   PollingConfig  `mapstructure:"polling"`
	OAuth     OAuthConfig    `mapstructure:"oauth"`
	Store     StoreConfig    `mapstructure:"store"`
}

type CalendarConfig struct {
	IDs []string `mapstructure:"ids"`
}

type StatusConfig struct {
	ImminentMinutes int `mapstructure:"imminent_minutes"`
	UpcomingMinutes int `mapstructure:"upcoming_minutes"`
}

type DisplayConfig struct {
	TitleWidth  int    `mapstructure:"title_width"`
	ClockFormat string `mapstructure:"clock_format"`
	ErrorWidth  int    `mapstructure:"error_width"`
}

type PollingConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RefreshSkew    time.Duration `mapstructure:"refresh_skew"`
	Debounce       time.Duration `mapstructure:"debounce"`
}

type OAuthConfig struct {
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	Port         int      `mapstructure:"port"`
	RedirectURI  string   `mapstructure:"redirect_uri"`
	Scopes       []string `mapstructure:"scopes"`
}

type StoreConfig struct {
	Backend  string `mapstructure:"backend"`
	Path     string `mapstructure:"path"`
	Instance string `mapstructure:"instance"`
}

var defaultConfig = Config{
	Calendars: CalendarConfig{
		IDs: []string{"primary"},
	},
	Status: StatusConfig{
		ImminentMinutes: 1,
		UpcomingMinutes: 15,
	},
	Display: DisplayConfig{
		TitleWidth:  16,
		ClockFormat: "3:04 PM",
		ErrorWidth:  24,
	},
	Polling: PollingConfig{
		Interval:       10 * time.Second,
		RequestTimeout: 10 * time.Second,
		RefreshSkew:    60 * time.Second,
		Debounce:       2 * time.Second,
	},
	OAuth: OAuthConfig{
		Port: 43123,
		Scopes: []string{
			"https://www.googleapis.com/auth/calendar.readonly",
			"openid",
			"email",
			"profile",
		},
	},
	Store: StoreConfig{
		Backend:  "file",
		Instance: "default",
	},
}

// Default returns a copy of the built-in configuration.
func Default() *Config {
	cfg := defaultConfig
	cfg.Calendars.IDs = append([]string(nil), defaultConfig.Calendars.IDs...)
	cfg.OAuth.Scopes = append([]string(nil), defaultConfig.OAuth.Scopes...)
	cfg.OAuth.RedirectURI = defaultRedirectURI(cfg.OAuth.Port)
	return &cfg
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetConfigName("config")

	if configPath == "" {
		configDir, err := getDefaultConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		configPath = configDir
	}

	v.AddConfigPath(configPath)
	v.AddConfigPath(".")

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("failed to bind environment: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if err := createDefaultConfig(configPath); err != nil {
				return nil, fmt.Errorf("failed to create default config: %w", err)
			}
			if err := v.ReadInConfig(); err != nil {
				// Defaults and environment still apply without a file.
				if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
					return nil, fmt.Errorf("failed to read config file: %w", err)
				}
			}
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config.applyDerivedDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("calendars.ids", defaultConfig.Calendars.IDs)

	v.SetDefault("status.imminent_minutes", defaultConfig.Status.ImminentMinutes)
	v.SetDefault("status.upcoming_minutes", defaultConfig.Status.UpcomingMinutes)

	v.SetDefault("display.title_width", defaultConfig.Display.TitleWidth)
	v.SetDefault("display.clock_format", defaultConfig.Display.ClockFormat)
	v.SetDefault("display.error_width", defaultConfig.Display.ErrorWidth)

	v.SetDefault("polling.interval", defaultConfig.Polling.Interval)
	v.SetDefault("polling.request_timeout", defaultConfig.Polling.RequestTimeout)
	v.SetDefault("polling.refresh_skew", defaultConfig.Polling.RefreshSkew)
	v.SetDefault("polling.debounce", defaultConfig.Polling.Debounce)

	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.port", defaultConfig.OAuth.Port)
	v.SetDefault("oauth.redirect_uri", "")
	v.SetDefault("oauth.scopes", defaultConfig.OAuth.Scopes)

	v.SetDefault("store.backend", defaultConfig.Store.Backend)
	v.SetDefault("store.path", "")
	v.SetDefault("store.instance", defaultConfig.Store.Instance)
}

// bindEnv maps NEXTMEETING_SECTION_KEY variables onto every key and keeps
// the variable names the companion server has always accepted.
func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix("NEXTMEETING")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	legacy := map[string]string{
		"oauth.client_id":     "GOOGLE_CLIENT_ID",
		"oauth.client_secret": "GOOGLE_CLIENT_SECRET",
		"oauth.port":          "PORT",
		"oauth.redirect_uri":  "REDIRECT_URI",
	}
	for key, name := range legacy {
		prefixed := "NEXTMEETING_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) applyDerivedDefaults() {
	if len(c.Calendars.IDs) == 0 {
		c.Calendars.IDs = []string{"primary"}
	}
	if c.OAuth.RedirectURI == "" {
		c.OAuth.RedirectURI = defaultRedirectURI(c.OAuth.Port)
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
}

func defaultRedirectURI(port int) string {
	return fmt.Sprintf("http://localhost:%d/callback", port)
}

// Validate checks thresholds, timings, the store backend and the redirect URI.
func (c *Config) Validate() error {
	if c.Status.ImminentMinutes <= 0 {
		return security.NewConfigError("status.imminent_minutes", fmt.Sprint(c.Status.ImminentMinutes), "must be positive")
	}
	if c.Status.UpcomingMinutes < c.Status.ImminentMinutes {
		return security.NewConfigError("status.upcoming_minutes", fmt.Sprint(c.Status.UpcomingMinutes),
			"must not be lower than status.imminent_minutes")
	}

	if c.Display.TitleWidth < 2 {
		return security.NewConfigError("display.title_width", fmt.Sprint(c.Display.TitleWidth), "must be at least 2")
	}
	if c.Display.ErrorWidth < 2 {
		return security.NewConfigError("display.error_width", fmt.Sprint(c.Display.ErrorWidth), "must be at least 2")
	}

	if c.Polling.Interval < time.Second {
		return security.NewConfigError("polling.interval", c.Polling.Interval.String(), "must be at least 1 second")
	}
	if c.Polling.RequestTimeout < time.Second {
		return security.NewConfigError("polling.request_timeout", c.Polling.RequestTimeout.String(),
			"must be at least 1 second")
	}
	if c.Polling.RequestTimeout > 5*time.Minute {
		return security.NewConfigError("polling.request_timeout", c.Polling.RequestTimeout.String(),
			"must not exceed 5 minutes")
	}
	if c.Polling.RefreshSkew < 0 {
		return security.NewConfigError("polling.refresh_skew", c.Polling.RefreshSkew.String(), "must not be negative")
	}

	switch c.Store.Backend {
	case "file", "sqlite", "memory":
	default:
		return security.NewConfigError("store.backend", c.Store.Backend, "must be one of: file, sqlite, memory")
	}

	if c.OAuth.Port <= 0 || c.OAuth.Port > 65535 {
		return security.NewConfigError("oauth.port", fmt.Sprint(c.OAuth.Port), "must be a valid TCP port")
	}

	parsedURL, err := url.Parse(c.OAuth.RedirectURI)
	if err != nil {
		return security.NewConfigError("oauth.redirect_uri", c.OAuth.RedirectURI, "invalid URL format").WithCause(err)
	}
	if parsedURL.Scheme != "https" && parsedURL.Scheme != "http" {
		return security.NewConfigError("oauth.redirect_uri", c.OAuth.RedirectURI, "scheme must be http or https")
	}
	if parsedURL.Host == "" {
		return security.NewConfigError("oauth.redirect_uri", c.OAuth.RedirectURI, "host is required")
	}

	return nil
}

// HasClientCredentials reports whether an OAuth client is configured.
func (c *Config) HasClientCredentials() bool {
	return c.OAuth.ClientID != "" && c.OAuth.ClientSecret != ""
}

// Sanitize returns the config with secrets redacted for logging.
func (c *Config) Sanitize() map[string]any {
	secret := ""
	if c.OAuth.ClientSecret != "" {
		secret = "[REDACTED]"
	}
	return map[string]any{
		"calendars":        c.Calendars.IDs,
		"imminent_minutes": c.Status.ImminentMinutes,
		"upcoming_minutes": c.Status.UpcomingMinutes,
		"interval":         c.Polling.Interval.String(),
		"request_timeout":  c.Polling.RequestTimeout.String(),
		"client_id":        c.OAuth.ClientID,
		"client_secret":    secret,
		"redirect_uri":     security.RedactString(c.OAuth.RedirectURI),
		"store_backend":    c.Store.Backend,
	}
}

func createDefaultConfig(configPath string) error {
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configPath, "config.toml")
	if _, err := os.Stat(configFile); err == nil {
		return nil
	}

	configContent := `# nextmeeting configuration

[calendars]
ids = ["primary"]   # calendar IDs to watch

[status]
imminent_minutes = 1
upcoming_minutes = 15

[display]
title_width = 16
clock_format = "3:04 PM"
error_width = 24

[polling]
interval = "10s"
request_timeout = "10s"
refresh_skew = "60s"
debounce = "2s"

[oauth]
# client_id and client_secret may also come from GOOGLE_CLIENT_ID / GOOGLE_CLIENT_SECRET
port = 43123

[store]
backend = "file"    # file, sqlite or memory
instance = "default"
`

	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func getDefaultConfigDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", appName), nil
}

func GetDefaultConfigDir() (string, error) {
	return getDefaultConfigDir()
}

// GetDefaultDataDir returns the directory holding credentials, the salt and logs.
func GetDefaultDataDir() (string, error) {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appName), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", appName), nil
}

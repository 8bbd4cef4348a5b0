package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	log "github.com/sirupsen/logrus"
)

// Config represents the entire configuration structure
type Config struct {
	Settings  SettingsConfig            `toml:"settings"`
	Logging   LoggingConfig             `toml:"logging"`
	Platforms map[string]PlatformConfig `toml:"platforms"`
	Aliases   map[string]string         `toml:"aliases"`
}

// SettingsConfig contains detection and cache behavior settings
type SettingsConfig struct {
	// DefaultPlatform is the final detection fallback.
	DefaultPlatform string `toml:"default_platform"`
	// PlatformType, when set, names the platform explicitly and skips
	// the token heuristic. Aliases are accepted.
	PlatformType string `toml:"platform_type"`
	// DataDir holds the mapping store, cache files and logs.
	DataDir string `toml:"data_dir"`
	// FetchTimeout bounds a single provider API call, in seconds.
	FetchTimeout int `toml:"fetch_timeout"`
	// MinFetchInterval is the per-platform floor between network calls,
	// in seconds. Attempts inside the window are served from cache.
	MinFetchInterval int `toml:"min_fetch_interval"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Output string `toml:"output"`
}

// PlatformConfig contains the connection parameters for one backend
type PlatformConfig struct {
	Name       string `toml:"name"`
	APIBaseURL string `toml:"api_base_url"`
	APIKey     string `toml:"api_key"`
	LoginToken string `toml:"login_token"`
	Model      string `toml:"model"`
	SmallModel string `toml:"small_model"`
	Enabled    bool   `toml:"enabled"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	// If no config path provided, try default locations
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Infof("No configuration file at %s, using defaults", configPath)
			cfg := Default()
			writeDefault(configPath, cfg)
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set default values if not specified
	setDefaults(&cfg)

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	// First try current directory
	if _, err := os.Stat("config.toml"); err == nil {
		return "config.toml"
	}

	// Then try the user config directory
	if home, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(home, ".gaccode-statusline", "config.toml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}

	// Default to current directory
	return "config.toml"
}

// writeDefault materializes the built-in registry so the operator has a
// file to fill credentials into. Best effort: a read-only location just
// means the next run regenerates the in-memory defaults.
func writeDefault(configPath string, cfg *Config) {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return
	}
	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return
		}
	}
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		log.Debugf("Could not write default configuration to %s: %v", configPath, err)
		return
	}
	log.Infof("Wrote default configuration to %s", configPath)
}

// Default returns the built-in configuration: the full platform registry
// with everything disabled until keys are filled in.
func Default() *Config {
	cfg := &Config{
		Platforms: map[string]PlatformConfig{
			"gaccode": {
				Name:       "GAC Code",
				APIBaseURL: "https://gaccode.com/api",
				Model:      "claude-3-5-sonnet-20241022",
				SmallModel: "claude-3-5-haiku-20241022",
			},
			"kimi": {
				Name:       "Kimi",
				APIBaseURL: "https://api.moonshot.cn/v1",
				Model:      "moonshot-v1-8k",
				SmallModel: "moonshot-v1-8k",
			},
			"deepseek": {
				Name:       "DeepSeek",
				APIBaseURL: "https://api.deepseek.com",
				Model:      "deepseek-chat",
				SmallModel: "deepseek-chat",
			},
			"siliconflow": {
				Name:       "SiliconFlow",
				APIBaseURL: "https://api.siliconflow.cn/v1",
				Model:      "deepseek-ai/deepseek-v3.1",
				SmallModel: "deepseek-ai/deepseek-v3.1",
			},
			"local_proxy": {
				Name:       "Local Proxy",
				APIBaseURL: "http://localhost:7601",
				APIKey:     "local-key",
				Model:      "deepseek-v3.1",
				SmallModel: "deepseek-v3.1",
			},
		},
		Aliases: map[string]string{
			"gc":    "gaccode",
			"dp":    "deepseek",
			"ds":    "deepseek",
			"sf":    "siliconflow",
			"lp":    "local_proxy",
			"local": "local_proxy",
		},
	}
	setDefaults(cfg)
	return cfg
}

// setDefaults applies default values to configuration fields
func setDefaults(cfg *Config) {
	if cfg.Settings.DefaultPlatform == "" {
		cfg.Settings.DefaultPlatform = "gaccode"
	}
	if cfg.Settings.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.Settings.DataDir = filepath.Join(home, ".gaccode-statusline")
	}
	if cfg.Settings.FetchTimeout == 0 {
		cfg.Settings.FetchTimeout = 5
	}
	if cfg.Settings.MinFetchInterval == 0 {
		cfg.Settings.MinFetchInterval = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = filepath.Join(cfg.Settings.DataDir, "logs", "statusline.log")
	}
	if cfg.Platforms == nil {
		cfg.Platforms = map[string]PlatformConfig{}
	}
	if cfg.Aliases == nil {
		cfg.Aliases = map[string]string{}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if _, ok := c.Platforms[c.ResolveAlias(c.Settings.DefaultPlatform)]; !ok {
		return &ConfigError{Field: "settings.default_platform", Message: "unknown platform " + c.Settings.DefaultPlatform}
	}
	if pt := c.Settings.PlatformType; pt != "" {
		if _, ok := c.Platforms[c.ResolveAlias(pt)]; !ok {
			return &ConfigError{Field: "settings.platform_type", Message: "unknown platform " + pt}
		}
	}
	return nil
}

// ResolveAlias maps a platform alias to its canonical id. Unknown names
// pass through unchanged.
func (c *Config) ResolveAlias(name string) string {
	if canonical, ok := c.Aliases[name]; ok {
		return canonical
	}
	return name
}

// Platform returns the configuration for a platform id or alias.
func (c *Config) Platform(name string) (PlatformConfig, bool) {
	pc, ok := c.Platforms[c.ResolveAlias(name)]
	return pc, ok
}

// Token returns the credential a platform authenticates with. GAC Code
// uses a JWT login token; everyone else uses the plain API key.
func (pc PlatformConfig) Token(platformID string) string {
	if platformID == "gaccode" && pc.LoginToken != "" {
		return pc.LoginToken
	}
	return pc.APIKey
}

// Usable reports whether a platform is enabled and has a credential.
func (c *Config) Usable(platformID string) bool {
	pc, ok := c.Platforms[platformID]
	return ok && pc.Enabled && pc.Token(platformID) != ""
}

// CacheDir returns the directory for shared cache files.
func (c *Config) CacheDir() string {
	return filepath.Join(c.Settings.DataDir, "cache")
}

// MappingFile returns the path of the shared session mapping store.
func (c *Config) MappingFile() string {
	return filepath.Join(c.CacheDir(), "session-mappings.json")
}

// ConfigError represents a configuration validation error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

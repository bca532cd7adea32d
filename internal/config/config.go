package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the relay.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Backend  BackendConfig  `json:"backend" yaml:"backend"`
	Channels ChannelsConfig `json:"channels" yaml:"channels"`
	History  HistoryConfig  `json:"history" yaml:"history"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel              string         `json:"logLevel" yaml:"logLevel"`
	CommandPrefix         string         `json:"commandPrefix" yaml:"commandPrefix"`
	AllowedChats          FlexStringList `json:"allowedChats,omitempty" yaml:"allowedChats,omitempty"` // empty = respond everywhere
	MaxConcurrentMessages int            `json:"maxConcurrentMessages" yaml:"maxConcurrentMessages"`
	ChunkLimit            int            `json:"chunkLimit" yaml:"chunkLimit"` // transport message-size cap
}

// BackendConfig points the relay at the conversational HTTP endpoint.
type BackendConfig struct {
	URL            string `json:"url" yaml:"url"`
	APIKey         string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
}

type ChannelsConfig struct {
	Discord   DiscordConfig   `json:"discord" yaml:"discord"`
	Telegram  TelegramConfig  `json:"telegram,omitempty" yaml:"telegram,omitempty"`
	Slack     SlackConfig     `json:"slack,omitempty" yaml:"slack,omitempty"`
	Webhook   WebhookConfig   `json:"webhook,omitempty" yaml:"webhook,omitempty"`
	WebSocket WebSocketConfig `json:"websocket,omitempty" yaml:"websocket,omitempty"`
	CLI       CLIConfig       `json:"cli" yaml:"cli"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
	GuildID string `json:"guildId,omitempty" yaml:"guildId,omitempty"` // optional: restrict to one guild
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	BotToken string `json:"botToken" yaml:"botToken"`
	AppToken string `json:"appToken" yaml:"appToken"` // required for Socket Mode
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
	Secret  string `json:"secret,omitempty" yaml:"secret,omitempty"`
}

type WebSocketConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Port    int    `json:"port" yaml:"port"`
	Path    string `json:"path,omitempty" yaml:"path,omitempty"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// HistoryConfig controls the optional transcript log. It is an audit trail
// of relayed exchanges; conversation context is never restored from it.
type HistoryConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	DBPath  string `json:"dbPath" yaml:"dbPath"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Port     int    `json:"port" yaml:"port"`
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// FlexStringList is a []string that also unmarshals from JSON/YAML arrays
// containing numbers (chat IDs are numeric on most platforms) or from a
// single comma-separated string.
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*f = splitList(single)
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

func (f *FlexStringList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*f = splitList(value.Value)
		return nil
	}
	var ss []string
	if err := value.Decode(&ss); err != nil {
		return err
	}
	*f = ss
	return nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// DefaultConfigDir returns the default config directory (~/.bridgebot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".bridgebot"
	}
	return filepath.Join(home, ".bridgebot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON or YAML config file (by extension), expands ${VAR}
// references, applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	ApplyEnvOverrides(cfg)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// FromEnv builds a config purely from defaults plus environment overrides,
// for running without a config file the way the original bridge script did.
func FromEnv() (*Config, error) {
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	cfg.History.DBPath = ExpandPath(cfg.History.DBPath)
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides lets well-known environment variables override file
// values, so secrets stay out of config files.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DISCORD_BOT_TOKEN"); v != "" {
		cfg.Channels.Discord.Token = v
		cfg.Channels.Discord.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Channels.Telegram.Token = v
		cfg.Channels.Telegram.Enabled = true
	}
	if v := os.Getenv("BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("BACKEND_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	if v := os.Getenv("BACKEND_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backend.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("ALLOWED_CHANNELS"); v != "" {
		cfg.General.AllowedChats = splitList(v)
	}
	if v := os.Getenv("COMMAND_PREFIX"); v != "" {
		cfg.General.CommandPrefix = v
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var data []byte
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values. Missing credentials for
// an enabled channel or for the backend are fatal before serving.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Backend.URL == "" {
		errs = append(errs, "backend.url must be set")
	}
	if cfg.Backend.APIKey == "" {
		errs = append(errs, "backend.apiKey must be set (or BACKEND_API_KEY)")
	}
	if cfg.Backend.TimeoutSeconds < 1 {
		errs = append(errs, "backend.timeoutSeconds must be >= 1")
	}

	if cfg.General.CommandPrefix == "" {
		errs = append(errs, "general.commandPrefix must not be empty")
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, "general.maxConcurrentMessages must be between 1 and 100")
	}
	if cfg.General.ChunkLimit < 1 {
		errs = append(errs, "general.chunkLimit must be >= 1")
	}

	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, "channels.discord: token is required (or DISCORD_BOT_TOKEN)")
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, "channels.telegram: token is required (or TELEGRAM_BOT_TOKEN)")
	}
	if cfg.Channels.Slack.Enabled && (cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "") {
		errs = append(errs, "channels.slack: botToken and appToken are required")
	}
	if cfg.Channels.Webhook.Enabled && (cfg.Channels.Webhook.Port < 1 || cfg.Channels.Webhook.Port > 65535) {
		errs = append(errs, "channels.webhook.port must be between 1 and 65535")
	}
	if cfg.Channels.WebSocket.Enabled && (cfg.Channels.WebSocket.Port < 1 || cfg.Channels.WebSocket.Port > 65535) {
		errs = append(errs, "channels.websocket.port must be between 1 and 65535")
	}

	if cfg.History.Enabled && cfg.History.DBPath == "" {
		errs = append(errs, "history.dbPath must be set when history is enabled")
	}
	if cfg.Metrics.Enabled && (cfg.Metrics.Port < 1 || cfg.Metrics.Port > 65535) {
		errs = append(errs, "metrics.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MurHyun2/discord-study-bot/internal/ledger"
)

const (
	DefaultTimezone      = ledger.ReferenceZone
	DefaultPageSize      = ledger.DefaultPageSize
	DefaultHistoryCap    = ledger.DefaultMaxTotal
	DefaultPollInterval  = "60s"
	DefaultShutdownGrace = "5s"
	DefaultMarker        = ledger.DefaultMarker
	DefaultCommandToken  = ledger.DefaultCommandToken
	DefaultLedgerMode    = string(ledger.ModeEmbed)
	DefaultHost          = "0.0.0.0"
	DefaultPort          = 3000
	DefaultBufSize       = 100
)

// ErrMissing marks required settings that are absent. The process must not
// start without them.
var ErrMissing = errors.New("required configuration missing")

type Config struct {
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Ledger   LedgerConfig   `json:"ledger" yaml:"ledger"`
	History  HistoryConfig  `json:"history" yaml:"history"`
	Rollover RolloverConfig `json:"rollover" yaml:"rollover"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
}

type DiscordConfig struct {
	Token     string `json:"token" yaml:"token"`
	ChannelID string `json:"channelId" yaml:"channel_id"`
	// GuildID is resolved from the channel when empty.
	GuildID string `json:"guildId,omitempty" yaml:"guild_id,omitempty"`
}

// TelegramConfig mirrors absence notices into a Telegram chat.
type TelegramConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Token   string `json:"token" yaml:"token"`
	ChatID  string `json:"chatId" yaml:"chat_id"`
	Proxy   string `json:"proxy,omitempty" yaml:"proxy,omitempty"`
}

type LedgerConfig struct {
	Mode         string `json:"mode" yaml:"mode"` // "embed" (default) or "command"
	Marker       string `json:"marker" yaml:"marker"`
	CommandToken string `json:"commandToken" yaml:"command_token"`
	Timezone     string `json:"timezone" yaml:"timezone"`
}

type HistoryConfig struct {
	PageSize int `json:"pageSize" yaml:"page_size"`
	MaxTotal int `json:"maxTotal" yaml:"max_total"`
}

type RolloverConfig struct {
	Interval      string `json:"interval" yaml:"interval"`
	ShutdownGrace string `json:"shutdownGrace" yaml:"shutdown_grace"`
}

type GatewayConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Ledger: LedgerConfig{
			Mode:         DefaultLedgerMode,
			Marker:       DefaultMarker,
			CommandToken: DefaultCommandToken,
			Timezone:     DefaultTimezone,
		},
		History: HistoryConfig{
			PageSize: DefaultPageSize,
			MaxTotal: DefaultHistoryCap,
		},
		Rollover: RolloverConfig{
			Interval:      DefaultPollInterval,
			ShutdownGrace: DefaultShutdownGrace,
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".studybot")
}

// ConfigPath honours STUDYBOT_CONFIG, which may point at a .json or .yaml file.
func ConfigPath() string {
	if p := os.Getenv("STUDYBOT_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.json")
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := DefaultConfig()
	path := ConfigPath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if isYAML(path) {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	cfg.Normalize()
	return cfg, nil
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func applyEnv(cfg *Config) {
	if token := firstEnv("STUDYBOT_DISCORD_TOKEN", "DISCORD_BOT_TOKEN"); token != "" {
		cfg.Discord.Token = token
	}
	if id := firstEnv("STUDYBOT_CHANNEL_ID", "DISCORD_CHANNEL_ID"); id != "" {
		cfg.Discord.ChannelID = id
	}
	if id := os.Getenv("STUDYBOT_GUILD_ID"); id != "" {
		cfg.Discord.GuildID = id
	}
	if token := os.Getenv("STUDYBOT_TELEGRAM_TOKEN"); token != "" {
		cfg.Telegram.Token = token
		cfg.Telegram.Enabled = true
	}
	if chatID := os.Getenv("STUDYBOT_TELEGRAM_CHAT_ID"); chatID != "" {
		cfg.Telegram.ChatID = chatID
	}
	if mode := os.Getenv("STUDYBOT_LEDGER_MODE"); mode != "" {
		cfg.Ledger.Mode = mode
	}
	if port := os.Getenv("PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Gateway.Port = parsed
		}
	}
}

// Normalize fills zero values with defaults.
func (c *Config) Normalize() {
	d := DefaultConfig()
	c.Ledger.Mode = strings.ToLower(strings.TrimSpace(c.Ledger.Mode))
	if c.Ledger.Mode != string(ledger.ModeCommand) {
		c.Ledger.Mode = DefaultLedgerMode
	}
	if c.Ledger.Marker == "" {
		c.Ledger.Marker = d.Ledger.Marker
	}
	if c.Ledger.CommandToken == "" {
		c.Ledger.CommandToken = d.Ledger.CommandToken
	}
	if c.Ledger.Timezone == "" {
		c.Ledger.Timezone = d.Ledger.Timezone
	}
	if c.History.PageSize <= 0 || c.History.PageSize > DefaultPageSize {
		c.History.PageSize = d.History.PageSize
	}
	if c.History.MaxTotal <= 0 {
		c.History.MaxTotal = d.History.MaxTotal
	}
	if c.Rollover.Interval == "" {
		c.Rollover.Interval = d.Rollover.Interval
	}
	if c.Rollover.ShutdownGrace == "" {
		c.Rollover.ShutdownGrace = d.Rollover.ShutdownGrace
	}
	if c.Gateway.Host == "" {
		c.Gateway.Host = d.Gateway.Host
	}
	if c.Gateway.Port == 0 {
		c.Gateway.Port = d.Gateway.Port
	}
}

// Validate reports missing required settings wrapped in ErrMissing, and
// malformed durations or timezones.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Discord.Token) == "" {
		missing = append(missing, "discord token (STUDYBOT_DISCORD_TOKEN / DISCORD_BOT_TOKEN)")
	}
	if strings.TrimSpace(c.Discord.ChannelID) == "" {
		missing = append(missing, "discord channel id (STUDYBOT_CHANNEL_ID / DISCORD_CHANNEL_ID)")
	}
	if c.Telegram.Enabled {
		if c.Telegram.Token == "" {
			missing = append(missing, "telegram token")
		}
		if c.Telegram.ChatID == "" {
			missing = append(missing, "telegram chat id")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if _, err := c.ShutdownGrace(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

func (c *Config) PollInterval() (time.Duration, error) {
	d, err := time.ParseDuration(c.Rollover.Interval)
	if err != nil {
		return 0, fmt.Errorf("parse rollover interval %q: %w", c.Rollover.Interval, err)
	}
	if d < time.Second {
		return 0, fmt.Errorf("rollover interval %s is below one second", d)
	}
	return d, nil
}

func (c *Config) ShutdownGrace() (time.Duration, error) {
	d, err := time.ParseDuration(c.Rollover.ShutdownGrace)
	if err != nil {
		return 0, fmt.Errorf("parse shutdown grace %q: %w", c.Rollover.ShutdownGrace, err)
	}
	return d, nil
}

func (c *Config) Location() (*time.Location, error) {
	return ledger.LoadLocation(c.Ledger.Timezone)
}

func (c *Config) ReadOptions() ledger.ReadOptions {
	return ledger.ReadOptions{PageSize: c.History.PageSize, MaxTotal: c.History.MaxTotal}
}

func SaveConfig(cfg *Config) error {
	path := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

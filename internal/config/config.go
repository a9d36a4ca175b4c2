package config

import (
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Chat     ChatConfig     `toml:"chat"`
	Sheets   SheetsConfig   `toml:"sheets"`
	Database DatabaseConfig `toml:"database"`
	Galaxy   GalaxyConfig   `toml:"galaxy"`
	Feed     FeedConfig     `toml:"feed"`
	Bot      BotConfig      `toml:"bot"`
	Observer ObserverConfig `toml:"observer"`
}

type ChatConfig struct {
	Token            string   `toml:"token"`
	Prefix           string   `toml:"prefix"`
	MaintainerID     string   `toml:"maintainer_id"`
	BroadcastChannel string   `toml:"broadcast_channel"`
	Leaders          []string `toml:"leaders"`
}

type SheetsConfig struct {
	APIKey       string `toml:"api_key"`
	FortDoc      string `toml:"fort_doc"`
	UmDoc        string `toml:"um_doc"`
	SnipeDoc     string `toml:"snipe_doc"`
	KosDoc       string `toml:"kos_doc"`
	CarrierDoc   string `toml:"carrier_doc"`
	RecruitDoc   string `toml:"recruit_doc"`
	Tab          string `toml:"tab"`
	FlushDelayMS int    `toml:"flush_delay_ms"`
	ScanSecs     int    `toml:"scan_secs"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

type GalaxyConfig struct {
	Path       string `toml:"path"`
	HomeSystem string `toml:"home_system"`
}

type FeedConfig struct {
	Endpoint      string `toml:"endpoint"`
	RawDir        string `toml:"raw_dir"`
	AlertChannel  string `toml:"alert_channel"`
	ReconnectSecs int    `toml:"reconnect_secs"`
	SummarySecs   int    `toml:"summary_secs"`
}

type BotConfig struct {
	DeferThreshold int `toml:"defer_threshold"`
	MaxDrop        int `toml:"max_drop"`
	ReplyTTLSecs   int `toml:"reply_ttl_secs"`
}

type ObserverConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Chat:     ChatConfig{Prefix: "!"},
		Sheets:   SheetsConfig{Tab: "Current", FlushDelayMS: 2000, ScanSecs: 300},
		Database: DatabaseConfig{Path: "bastion.db"},
		Galaxy:   GalaxyConfig{Path: "galaxy.db", HomeSystem: "Sol"},
		Feed: FeedConfig{
			Endpoint:      "tcp://eddn.edcd.io:9500",
			ReconnectSecs: 5,
			SummarySecs:   60,
		},
		Bot: BotConfig{DeferThreshold: 1500, MaxDrop: 800, ReplyTTLSecs: 30},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins). A
// file that fails to parse is skipped with a warning; the defaults and
// env overrides still apply.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "bastion.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			slog.Warn("config: parse failed, keeping defaults", "path", path, "error", err)
			cfg = Default()
		}
	}

	// Env overrides
	if v := os.Getenv("BASTION_CHAT_TOKEN"); v != "" {
		cfg.Chat.Token = v
	}
	if v := os.Getenv("BASTION_SHEETS_API_KEY"); v != "" {
		cfg.Sheets.APIKey = v
	}
	if v := os.Getenv("BASTION_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BASTION_GALAXY_PATH"); v != "" {
		cfg.Galaxy.Path = v
	}
	if v := os.Getenv("BASTION_FEED_ENDPOINT"); v != "" {
		cfg.Feed.Endpoint = v
	}
	if v := os.Getenv("BASTION_OBSERVER_ENDPOINT"); v != "" {
		cfg.Observer.Endpoint = v
	}
	if os.Getenv("BASTION_OBSERVER_ENABLED") == "true" || os.Getenv("BASTION_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Feed.AlertChannel == "" {
		cfg.Feed.AlertChannel = cfg.Chat.BroadcastChannel
	}

	return cfg
}

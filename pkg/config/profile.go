package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is a YAML configuration file. Set fields override the
// environment-derived Config; zero values leave it untouched.
type Profile struct {
	ListenAddr    string  `yaml:"listen_addr,omitempty"`
	LogLevel      string  `yaml:"log_level,omitempty"`
	TimelockID    string  `yaml:"timelock_id,omitempty"`
	Admin         string  `yaml:"admin,omitempty"`
	DelaySeconds  int64   `yaml:"delay_seconds,omitempty"`
	JournalDriver string  `yaml:"journal_driver,omitempty"`
	DatabaseURL   string  `yaml:"database_url,omitempty"`
	RedisAddr     string  `yaml:"redis_addr,omitempty"`
	RedisChannel  string  `yaml:"redis_channel,omitempty"`
	RateRPS       float64 `yaml:"rate_rps,omitempty"`
	RateBurst     int     `yaml:"rate_burst,omitempty"`
}

// ApplyProfile overlays the YAML profile at path onto c.
func (c *Config) ApplyProfile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("config: parse profile %s: %w", path, err)
	}

	if p.ListenAddr != "" {
		c.ListenAddr = p.ListenAddr
	}
	if p.LogLevel != "" {
		c.LogLevel = p.LogLevel
	}
	if p.TimelockID != "" {
		c.TimelockID = p.TimelockID
	}
	if p.Admin != "" {
		c.Admin = p.Admin
	}
	if p.DelaySeconds > 0 {
		c.Delay = time.Duration(p.DelaySeconds) * time.Second
	}
	if p.JournalDriver != "" {
		c.JournalDriver = p.JournalDriver
	}
	if p.DatabaseURL != "" {
		c.DatabaseURL = p.DatabaseURL
	}
	if p.RedisAddr != "" {
		c.RedisAddr = p.RedisAddr
	}
	if p.RedisChannel != "" {
		c.RedisChannel = p.RedisChannel
	}
	if p.RateRPS > 0 {
		c.RateRPS = p.RateRPS
	}
	if p.RateBurst > 0 {
		c.RateBurst = p.RateBurst
	}
	return nil
}

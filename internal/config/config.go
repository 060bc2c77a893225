// Package config loads the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top level configuration of the daemon.
type Config struct {
	Gerrit GerritConfig `yaml:"gerrit"`
	Spark  SparkConfig  `yaml:"spark"`
	Bot    BotConfig    `yaml:"bot"`
	DB     DBConfig     `yaml:"db"`
}

// GerritConfig points the bot at a Gerrit SSH endpoint.
type GerritConfig struct {
	// Host is the host:port of the SSH API, e.g. "gerrit.example.com:29418".
	Host string `yaml:"host"`

	// Username is the account to authenticate as.
	Username string `yaml:"username"`

	// PrivKeyPath is the SSH private key of the account. A leading ~ is
	// expanded to the home directory.
	PrivKeyPath string `yaml:"priv_key_path"`
}

// SparkConfig configures the Webex side of the bot.
type SparkConfig struct {
	// BotToken authenticates against the Webex API.
	BotToken string `yaml:"bot_token"`

	// APIURI is the base URL of the Webex REST API.
	APIURI string `yaml:"api_uri"`

	// WebhookURL is the public URL Webex delivers message webhooks to.
	WebhookURL string `yaml:"webhook_url"`

	// ListenAddr is the local address the webhook receiver binds.
	ListenAddr string `yaml:"listen_addr"`
}

// BotConfig tunes bot behavior.
type BotConfig struct {
	// MsgExpiration is how long a sent notification suppresses identical
	// ones.
	MsgExpiration time.Duration `yaml:"msg_expiration"`

	// MsgCapacity bounds the duplicate suppression cache. Zero disables
	// suppression.
	MsgCapacity int `yaml:"msg_capacity"`
}

// DBConfig locates the state database.
type DBConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// Load reads and validates a config file, filling defaults for optional
// fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Spark: SparkConfig{
			APIURI:     "https://api.ciscospark.com/v1",
			ListenAddr: "0.0.0.0:8080",
		},
		Bot: BotConfig{
			MsgExpiration: 2 * time.Second,
			MsgCapacity:   100,
		},
		DB: DBConfig{
			Path: "gerritbot.db",
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.Gerrit.PrivKeyPath = expandTilde(cfg.Gerrit.PrivKeyPath)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.Gerrit.Host == "":
		return fmt.Errorf("gerrit.host is required")
	case c.Gerrit.Username == "":
		return fmt.Errorf("gerrit.username is required")
	case c.Gerrit.PrivKeyPath == "":
		return fmt.Errorf("gerrit.priv_key_path is required")
	case c.Spark.BotToken == "":
		return fmt.Errorf("spark.bot_token is required")
	}

	return nil
}

// expandTilde rewrites a leading ~ to the current user's home directory.
func expandTilde(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Package config provides configuration management for the CloudLift agent.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/cloudlift/cloudlift-agent/internal/constants"
)

// Config represents the agent configuration.
//
// Config file location:
//   - Windows: %APPDATA%\CloudLift\agent.conf
//   - Unix: ~/.config/cloudlift/agent.conf
//
// INI format:
//
//	[agent]
//	data_dir = /home/me/.local/share/cloudlift
//	archive_dir = /home/me/.local/share/cloudlift/archive
//	poll_interval_minutes = 5
//
//	[notifications]
//	enabled = true
//	show_upload_complete = true
//	show_upload_failed = true
//
//	[proxy]
//	url =
//
//	[account.personal]
//	backend = dav
//	endpoint = https://cloud.example.com
//	username = me
//	token = s3cret
type Config struct {
	Agent         AgentConfig
	Notifications NotificationConfig
	Proxy         ProxyConfig
	Accounts      []Account
}

// AgentConfig contains core agent settings.
type AgentConfig struct {
	// DataDir holds the upload queue database and agent state.
	DataDir string `ini:"data_dir"`

	// ArchiveDir is where uploaded files go when the record's local action is "move".
	ArchiveDir string `ini:"archive_dir"`

	// PollIntervalMinutes is the daemon queue drain interval.
	// Minimum: 1, Maximum: 1440, Default: 5
	PollIntervalMinutes int `ini:"poll_interval_minutes"`
}

// NotificationConfig contains desktop notification settings.
type NotificationConfig struct {
	Enabled            bool `ini:"enabled"`
	ShowUploadComplete bool `ini:"show_upload_complete"`
	ShowUploadFailed   bool `ini:"show_upload_failed"`
}

// ProxyConfig contains outbound proxy settings for the HTTP backend.
// Empty URL means environment proxy settings apply.
type ProxyConfig struct {
	URL string `ini:"url"`
}

// Account describes one remote server account the agent uploads for.
type Account struct {
	// ID is the section suffix ([account.personal] -> "personal").
	ID string `ini:"-"`

	// Backend selects the transfer backend: "dav", "s3" or "azure".
	Backend string `ini:"backend"`

	// Endpoint is the server base URL (dav), bucket URL (s3) or container URL (azure).
	Endpoint string `ini:"endpoint"`

	// Username identifies the account on the server (dav only).
	Username string `ini:"username"`

	// Token is the bearer token / access secret for the account.
	Token string `ini:"token"`

	// Region is the bucket region (s3 only).
	Region string `ini:"region"`
}

// Validation errors
var (
	ErrInvalidPollInterval = errors.New("poll_interval_minutes must be between 1 and 1440")
	ErrAccountNoEndpoint   = errors.New("account endpoint is required")
	ErrAccountBadBackend   = errors.New("account backend must be dav, s3 or azure")
)

// DefaultConfigPath returns the default path for the agent.conf file.
func DefaultConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "agent.conf"), nil
}

func configDir() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", errors.New("neither APPDATA nor USERPROFILE environment variable set")
			}
			appData = filepath.Join(userProfile, "AppData", "Roaming")
		}
		return filepath.Join(appData, "CloudLift"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", constants.AppVendor), nil
}

// DefaultDataDir returns the platform-specific default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), constants.AppVendor)
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "AppData", "Local", "CloudLift")
	}
	return filepath.Join(home, ".local", "share", constants.AppVendor)
}

// New creates a Config with default values and no accounts.
func New() *Config {
	dataDir := DefaultDataDir()
	return &Config{
		Agent: AgentConfig{
			DataDir:             dataDir,
			ArchiveDir:          filepath.Join(dataDir, "archive"),
			PollIntervalMinutes: 5,
		},
		Notifications: NotificationConfig{
			Enabled:            true,
			ShowUploadComplete: true,
			ShowUploadFailed:   true,
		},
	}
}

// Load loads configuration from the agent.conf file.
// If path is empty, uses the default path.
// If the file doesn't exist, returns a config with default values and no error.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	iniFile, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent.conf: %w", err)
	}

	agentSection := iniFile.Section("agent")
	cfg.Agent.DataDir = agentSection.Key("data_dir").MustString(cfg.Agent.DataDir)
	cfg.Agent.ArchiveDir = agentSection.Key("archive_dir").MustString(filepath.Join(cfg.Agent.DataDir, "archive"))
	cfg.Agent.PollIntervalMinutes = agentSection.Key("poll_interval_minutes").MustInt(5)

	notifySection := iniFile.Section("notifications")
	cfg.Notifications.Enabled = notifySection.Key("enabled").MustBool(true)
	cfg.Notifications.ShowUploadComplete = notifySection.Key("show_upload_complete").MustBool(true)
	cfg.Notifications.ShowUploadFailed = notifySection.Key("show_upload_failed").MustBool(true)

	proxySection := iniFile.Section("proxy")
	cfg.Proxy.URL = proxySection.Key("url").String()

	for _, section := range iniFile.ChildSections("account") {
		acct := Account{
			ID: strings.TrimPrefix(section.Name(), "account."),
		}
		if err := section.MapTo(&acct); err != nil {
			return nil, fmt.Errorf("failed to parse section %s: %w", section.Name(), err)
		}
		cfg.Accounts = append(cfg.Accounts, acct)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Agent.PollIntervalMinutes < 1 || c.Agent.PollIntervalMinutes > 1440 {
		return ErrInvalidPollInterval
	}
	for _, acct := range c.Accounts {
		if acct.Endpoint == "" {
			return fmt.Errorf("account %q: %w", acct.ID, ErrAccountNoEndpoint)
		}
		switch acct.Backend {
		case "", "dav", "s3", "azure":
		default:
			return fmt.Errorf("account %q: %w", acct.ID, ErrAccountBadBackend)
		}
	}
	return nil
}

// Save writes the configuration to the given path, creating parent
// directories as needed. Written atomically via temp file + rename.
func (c *Config) Save(path string) error {
	if path == "" {
		var err error
		path, err = DefaultConfigPath()
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	agentSection := iniFile.Section("agent")
	agentSection.Key("data_dir").SetValue(c.Agent.DataDir)
	agentSection.Key("archive_dir").SetValue(c.Agent.ArchiveDir)
	agentSection.Key("poll_interval_minutes").SetValue(fmt.Sprintf("%d", c.Agent.PollIntervalMinutes))

	notifySection := iniFile.Section("notifications")
	notifySection.Key("enabled").SetValue(fmt.Sprintf("%t", c.Notifications.Enabled))
	notifySection.Key("show_upload_complete").SetValue(fmt.Sprintf("%t", c.Notifications.ShowUploadComplete))
	notifySection.Key("show_upload_failed").SetValue(fmt.Sprintf("%t", c.Notifications.ShowUploadFailed))

	if c.Proxy.URL != "" {
		iniFile.Section("proxy").Key("url").SetValue(c.Proxy.URL)
	}

	for _, acct := range c.Accounts {
		section := iniFile.Section("account." + acct.ID)
		if err := section.ReflectFrom(&acct); err != nil {
			return fmt.Errorf("failed to serialize account %q: %w", acct.ID, err)
		}
	}

	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// QueueDBPath returns the path of the upload queue database.
func (c *Config) QueueDBPath() string {
	return filepath.Join(c.Agent.DataDir, "uploads.db")
}

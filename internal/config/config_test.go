package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "agent.conf"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Agent.PollIntervalMinutes != 5 {
		t.Errorf("poll interval = %d, want default 5", cfg.Agent.PollIntervalMinutes)
	}
	if !cfg.Notifications.Enabled {
		t.Error("notifications should default to enabled")
	}
	if len(cfg.Accounts) != 0 {
		t.Errorf("got %d accounts, want none", len(cfg.Accounts))
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.conf")

	cfg := New()
	cfg.Agent.DataDir = "/var/lib/cloudlift"
	cfg.Agent.ArchiveDir = "/var/lib/cloudlift/archive"
	cfg.Agent.PollIntervalMinutes = 15
	cfg.Notifications.ShowUploadComplete = false
	cfg.Proxy.URL = "http://proxy.example.com:8080"
	cfg.Accounts = []Account{
		{
			ID:       "personal",
			Backend:  "dav",
			Endpoint: "https://cloud.example.com",
			Username: "me",
			Token:    "s3cret",
		},
		{
			ID:       "backup",
			Backend:  "s3",
			Endpoint: "s3://my-bucket/backups",
			Token:    "AKID:secret",
			Region:   "eu-central-1",
		},
	}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if loaded.Agent.DataDir != "/var/lib/cloudlift" {
		t.Errorf("data dir = %q", loaded.Agent.DataDir)
	}
	if loaded.Agent.PollIntervalMinutes != 15 {
		t.Errorf("poll interval = %d, want 15", loaded.Agent.PollIntervalMinutes)
	}
	if loaded.Notifications.ShowUploadComplete {
		t.Error("show_upload_complete should round-trip as false")
	}
	if loaded.Proxy.URL != "http://proxy.example.com:8080" {
		t.Errorf("proxy url = %q", loaded.Proxy.URL)
	}

	if len(loaded.Accounts) != 2 {
		t.Fatalf("got %d accounts, want 2", len(loaded.Accounts))
	}
	personal := loaded.Accounts[0]
	if personal.ID != "personal" || personal.Backend != "dav" || personal.Username != "me" {
		t.Errorf("personal account mismatch: %+v", personal)
	}
	backup := loaded.Accounts[1]
	if backup.ID != "backup" || backup.Region != "eu-central-1" {
		t.Errorf("backup account mismatch: %+v", backup)
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.conf")

	cfg := New()
	cfg.Accounts = []Account{{ID: "a", Endpoint: "https://example.com", Token: "secret"}}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("config permissions = %o, want 0600 (contains tokens)", perm)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults valid", func(c *Config) {}, nil},
		{"poll interval too low", func(c *Config) { c.Agent.PollIntervalMinutes = 0 }, ErrInvalidPollInterval},
		{"poll interval too high", func(c *Config) { c.Agent.PollIntervalMinutes = 2000 }, ErrInvalidPollInterval},
		{"account without endpoint", func(c *Config) {
			c.Accounts = []Account{{ID: "a", Backend: "dav"}}
		}, ErrAccountNoEndpoint},
		{"account with bad backend", func(c *Config) {
			c.Accounts = []Account{{ID: "a", Backend: "ftp", Endpoint: "https://example.com"}}
		}, ErrAccountBadBackend},
		{"account with empty backend ok", func(c *Config) {
			c.Accounts = []Account{{ID: "a", Endpoint: "https://example.com"}}
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.conf")
	content := "[agent]\npoll_interval_minutes = 0\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); !errors.Is(err, ErrInvalidPollInterval) {
		t.Fatalf("load: err = %v, want ErrInvalidPollInterval", err)
	}
}

func TestQueueDBPath(t *testing.T) {
	cfg := New()
	cfg.Agent.DataDir = "/data"
	if got := cfg.QueueDBPath(); got != filepath.Join("/data", "uploads.db") {
		t.Errorf("QueueDBPath() = %q", got)
	}
}

package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				WriteKey:       "file-key",
				Store:          "sqlite",
				PollInterval:   "5s",
				CPUThreshold:   0.8,
				Concurrency:    8,
				ResourceGating: &trueVal,
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				WriteKey:       "file-key",
				Store:          "sqlite",
				PollInterval:   5 * time.Second,
				CPUThreshold:   0.8,
				Concurrency:    8,
				ResourceGating: true,
			},
			wantErr: false,
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				WriteKey: "file-key",
				Store:    "redis",
			},
			changed: map[string]bool{"write-key": true},
			initial: Config{
				WriteKey: "flag-key",
				Store:    "memory",
			},
			expected: Config{
				WriteKey: "flag-key", // unchanged because flag was set
				Store:    "redis",
			},
			wantErr: false,
		},
		{
			name: "returns error for invalid duration",
			fileConfig: FileConfig{
				BackoffBase: "soon",
			},
			changed: map[string]bool{},
			wantErr: true,
		},
		{
			name: "handles all field types correctly",
			fileConfig: FileConfig{
				WriteKey:      "k",
				CDN:           "http://cdn.test",
				APIHost:       "http://api.test",
				Page:          "/srv/index.html",
				StateDir:      "/state",
				SQLitePath:    "/state/q.db",
				RedisAddr:     "localhost:6379",
				MaxAttempts:   5,
				BackoffBase:   "1s",
				BackoffMax:    "1m",
				HTTPTimeout:   "30s",
				RateLimit:     2.5,
				SettingsFile:  "/state/settings.json",
				PurgeSchedule: "@daily",
				Retention:     "48h",
				LogLevel:      "debug",
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				WriteKey:      "k",
				CDN:           "http://cdn.test",
				APIHost:       "http://api.test",
				Page:          "/srv/index.html",
				StateDir:      "/state",
				SQLitePath:    "/state/q.db",
				RedisAddr:     "localhost:6379",
				MaxAttempts:   5,
				BackoffBase:   time.Second,
				BackoffMax:    time.Minute,
				HTTPTimeout:   30 * time.Second,
				RateLimit:     2.5,
				SettingsFile:  "/state/settings.json",
				PurgeSchedule: "@daily",
				Retention:     48 * time.Hour,
				LogLevel:      "debug",
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if tt.wantErr && err == nil {
				t.Error("ApplyFileConfig() expected error but got nil")
				return
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ApplyFileConfig() unexpected error: %v", err)
				return
			}

			if !tt.wantErr && cfg != tt.expected {
				t.Errorf("ApplyFileConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	// Create a temporary TOML file
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.toml")

	tomlContent := `
write_key = "toml-key"
store = "file"
poll_interval = "2s"
cpu_threshold = 0.8
concurrency = 6
resource_gating = true
`

	if err := os.WriteFile(configPath, []byte(tomlContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error = %v", err)
	}

	if fc.WriteKey != "toml-key" {
		t.Errorf("WriteKey = %v, want toml-key", fc.WriteKey)
	}
	if fc.Store != "file" {
		t.Errorf("Store = %v, want file", fc.Store)
	}
	if fc.PollInterval != "2s" {
		t.Errorf("PollInterval = %v, want 2s", fc.PollInterval)
	}
	if fc.CPUThreshold != 0.8 {
		t.Errorf("CPUThreshold = %v, want 0.8", fc.CPUThreshold)
	}
	if fc.Concurrency != 6 {
		t.Errorf("Concurrency = %v, want 6", fc.Concurrency)
	}
	if fc.ResourceGating == nil || !*fc.ResourceGating {
		t.Errorf("ResourceGating = %v, want true", fc.ResourceGating)
	}
}

func TestLoadFileConfig_InvalidFile(t *testing.T) {
	_, err := LoadFileConfig("/nonexistent/path/config.toml")
	if err == nil {
		t.Error("LoadFileConfig() expected error for nonexistent file")
	}
}

func TestLoadFileConfig_InvalidTOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.toml")

	invalidContent := `
write_key = "k"
this is not valid toml
`

	if err := os.WriteFile(configPath, []byte(invalidContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	_, err := LoadFileConfig(configPath)
	if err == nil {
		t.Error("LoadFileConfig() expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	path := DefaultConfigPath()

	if path != "" && !strings.Contains(path, ".eventship") {
		t.Errorf("DefaultConfigPath() = %v, should contain .eventship", path)
	}
}

func TestFileExists(t *testing.T) {
	tmpDir := t.TempDir()
	existingFile := filepath.Join(tmpDir, "exists.txt")

	if err := os.WriteFile(existingFile, []byte("test"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	if !FileExists(existingFile) {
		t.Error("FileExists() = false, want true for existing file")
	}

	if FileExists(filepath.Join(tmpDir, "nonexistent.txt")) {
		t.Error("FileExists() = true, want false for nonexistent file")
	}
}

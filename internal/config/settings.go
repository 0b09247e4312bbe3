package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// AccessTokenEnv names the environment variable holding the bearer token for
// archives that require authentication (e.g. NSIDC). The token is deliberately
// kept out of the settings file.
const AccessTokenEnv = "RADARGRAM_ACCESS_TOKEN"

// UserSettings represents persistent user preferences
type UserSettings struct {
	// Root directory that downloaded radargrams are stored under.
	// Segment paths from the geometry index are relative to this.
	RootDirectory string `json:"rootDirectory"`

	// Path to the geometry index database
	IndexPath string `json:"indexPath"`

	// Transfer settings
	MaxConcurrentTransfers int `json:"maxConcurrentTransfers"`

	// Render cache settings
	CacheMaxSizeMB int `json:"cacheMaxSizeMB"`

	// Viewer defaults
	DefaultColormap string  `json:"defaultColormap"` // "grayscale", "grayscale_inverted", "viridis"
	StepOverlap     float64 `json:"stepOverlap"`     // fraction of the window shared by consecutive views

	// UI preferences
	Theme               string `json:"theme"` // "light", "dark", "system"
	AutoOpenDownloadDir bool   `json:"autoOpenDownloadDir"`

	// Last map position for session persistence
	LastCenterLat float64 `json:"lastCenterLat"`
	LastCenterLon float64 `json:"lastCenterLon"`
	LastZoom      float64 `json:"lastZoom"`
}

// DefaultSettings returns default user settings
func DefaultSettings() *UserSettings {
	homeDir, _ := os.UserHomeDir()
	rootDir := filepath.Join(homeDir, "radargrams")

	return &UserSettings{
		RootDirectory:          rootDir,
		IndexPath:              "",
		MaxConcurrentTransfers: 3,
		CacheMaxSizeMB:         250,
		DefaultColormap:        "grayscale",
		StepOverlap:            0.2,
		Theme:                  "system",
		AutoOpenDownloadDir:    true,
	}
}

// GetSettingsPath returns the OS-specific settings file path
func GetSettingsPath() string {
	homeDir, _ := os.UserHomeDir()

	baseDir := filepath.Join(homeDir, ".radargram-desktop", "settings")

	// Ensure directory exists
	os.MkdirAll(baseDir, 0755)

	return filepath.Join(baseDir, "settings.json")
}

// LoadSettings loads user settings from disk
func LoadSettings() (*UserSettings, error) {
	settingsPath := GetSettingsPath()

	// If file doesn't exist, return defaults
	if _, err := os.Stat(settingsPath); os.IsNotExist(err) {
		return DefaultSettings(), nil
	}

	data, err := os.ReadFile(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var settings UserSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}

	applyDefaults(&settings)
	return &settings, nil
}

// applyDefaults back-fills missing fields and resets values a hand-edited
// file put outside their valid range, so a loaded struct always passes
// ValidateSettings
func applyDefaults(settings *UserSettings) {
	defaults := DefaultSettings()
	if settings.RootDirectory == "" {
		settings.RootDirectory = defaults.RootDirectory
	}
	if settings.MaxConcurrentTransfers < 1 || settings.MaxConcurrentTransfers > 5 {
		settings.MaxConcurrentTransfers = defaults.MaxConcurrentTransfers
	}
	if settings.CacheMaxSizeMB <= 0 {
		settings.CacheMaxSizeMB = defaults.CacheMaxSizeMB
	}
	if settings.DefaultColormap == "" {
		settings.DefaultColormap = defaults.DefaultColormap
	}
	if settings.StepOverlap <= 0 || settings.StepOverlap >= 1 {
		settings.StepOverlap = defaults.StepOverlap
	}
	if settings.Theme == "" {
		settings.Theme = defaults.Theme
	}
}

// SaveSettings saves user settings to disk
func SaveSettings(settings *UserSettings) error {
	settingsPath := GetSettingsPath()

	// Ensure directory exists
	dir := filepath.Dir(settingsPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	if err := os.WriteFile(settingsPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	return nil
}

// ValidateSettings checks a settings struct before it is applied
func ValidateSettings(settings *UserSettings) error {
	if settings.RootDirectory == "" {
		return fmt.Errorf("root directory cannot be empty")
	}
	if settings.MaxConcurrentTransfers < 1 || settings.MaxConcurrentTransfers > 5 {
		return fmt.Errorf("max concurrent transfers must be in [1, 5]")
	}
	if settings.CacheMaxSizeMB <= 0 {
		return fmt.Errorf("cache size must be positive")
	}
	if settings.StepOverlap <= 0 || settings.StepOverlap >= 1 {
		return fmt.Errorf("step overlap must be in (0, 1)")
	}
	return nil
}

// LoadAccessToken reads the archive access token from the environment.
// A .env file in the working directory is honored for development setups;
// a missing .env is not an error.
func LoadAccessToken() string {
	_ = godotenv.Load()
	return os.Getenv(AccessTokenEnv)
}

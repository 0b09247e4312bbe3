package main

import (
	"fmt"
	"log"
	"os/exec"
	goruntime "runtime"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"radargram-desktop/internal/config"
)

// ===================
// Settings Management
// ===================

// GetSettings returns current user settings
func (a *App) GetSettings() (*config.UserSettings, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Return a copy to prevent external modifications
	settingsCopy := *a.settings
	return &settingsCopy, nil
}

// SaveSettings validates and persists user settings, then updates app state.
// A changed root directory triggers a rescan so availability markers match
// what is actually on disk.
func (a *App) SaveSettings(settings *config.UserSettings) error {
	if err := config.ValidateSettings(settings); err != nil {
		return err
	}
	if err := config.SaveSettings(settings); err != nil {
		return err
	}

	a.mu.Lock()
	rootChanged := settings.RootDirectory != a.settings.RootDirectory
	concurrencyChanged := settings.MaxConcurrentTransfers != a.settings.MaxConcurrentTransfers
	a.settings = settings
	index := a.index
	manager := a.manager
	a.mu.Unlock()

	if manager != nil && concurrencyChanged {
		manager.SetConcurrency(settings.MaxConcurrentTransfers)
	}
	if index != nil && rootChanged {
		index.ScanLocal(settings.RootDirectory)
		log.Printf("Root directory changed to %s; availability rescanned", settings.RootDirectory)
	}

	// Note: Cache size changes apply on next restart
	log.Printf("Settings saved")
	return nil
}

// GetSettingsPath returns the OS-specific settings file path
func (a *App) GetSettingsPath() string {
	return config.GetSettingsPath()
}

// SaveMapPosition saves the current map position for session persistence
// Called on app close or periodically to remember the last viewed location
func (a *App) SaveMapPosition(lat, lon, zoom float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.settings.LastCenterLat = lat
	a.settings.LastCenterLon = lon
	a.settings.LastZoom = zoom

	return config.SaveSettings(a.settings)
}

// SelectRootDirectory opens a native directory picker for the radargram root
func (a *App) SelectRootDirectory() (string, error) {
	a.mu.Lock()
	current := a.settings.RootDirectory
	a.mu.Unlock()

	dir, err := wailsRuntime.OpenDirectoryDialog(a.ctx, wailsRuntime.OpenDialogOptions{
		Title:            "Select Radargram Directory",
		DefaultDirectory: current,
	})
	if err != nil {
		return "", err
	}
	return dir, nil
}

// SelectIndexFile opens a native file picker for the geometry index database
func (a *App) SelectIndexFile() (string, error) {
	path, err := wailsRuntime.OpenFileDialog(a.ctx, wailsRuntime.OpenDialogOptions{
		Title: "Select Geometry Index",
		Filters: []wailsRuntime.FileFilter{
			{DisplayName: "Geometry Index (*.gpkg, *.db, *.sqlite)", Pattern: "*.gpkg;*.db;*.sqlite"},
		},
	})
	if err != nil {
		return "", err
	}
	return path, nil
}

// OpenRootDirectory opens the radargram root in the system file manager
func (a *App) OpenRootDirectory() error {
	a.mu.Lock()
	dir := a.settings.RootDirectory
	a.mu.Unlock()

	var cmd *exec.Cmd
	switch goruntime.GOOS {
	case "darwin":
		cmd = exec.Command("open", dir)
	case "windows":
		cmd = exec.Command("explorer", dir)
	case "linux":
		cmd = exec.Command("xdg-open", dir)
	default:
		return fmt.Errorf("unsupported platform: %s", goruntime.GOOS)
	}
	return cmd.Start()
}

// CacheStats reports render cache entry count and sizes in bytes
func (a *App) CacheStats() (map[string]interface{}, error) {
	if a.renderCache == nil {
		return nil, fmt.Errorf("render cache is disabled")
	}
	entries, size, max := a.renderCache.Stats()
	return map[string]interface{}{
		"entries":   entries,
		"sizeBytes": size,
		"maxBytes":  max,
	}, nil
}

// ClearCache removes all cached renders
func (a *App) ClearCache() error {
	if a.renderCache == nil {
		return fmt.Errorf("render cache is disabled")
	}
	log.Printf("Clearing render cache")
	return a.renderCache.Clear()
}

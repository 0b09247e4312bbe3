package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	goruntime "runtime"
	"sync"
	"sync/atomic"

	"github.com/posthog/posthog-go"
	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"radargram-desktop/internal/cache"
	"radargram-desktop/internal/common"
	"radargram-desktop/internal/config"
	"radargram-desktop/internal/geoindex"
	"radargram-desktop/internal/locate"
	"radargram-desktop/internal/naming"
	"radargram-desktop/internal/radargram"
	"radargram-desktop/internal/transfer"
	"radargram-desktop/internal/viewer"
)

// Linker flags
var (
	PostHogKey  string
	PostHogHost string
	AppVersion  string = "0.0.0-dev"
)

// SegmentInfo is the frontend-facing view of a segment: catalog metadata
// plus its current availability
type SegmentInfo struct {
	ID           string                `json:"id"`
	Institution  string                `json:"institution"`
	Campaign     string                `json:"campaign"`
	Availability geoindex.Availability `json:"availability"`
	Groundtrack  []common.Point        `json:"groundtrack"`
	FilesizeMB   float64               `json:"filesizeMB"`
}

// LocateResult is one nearby-segment candidate for a map click
type LocateResult struct {
	Segment        SegmentInfo  `json:"segment"`
	DistanceMeters float64      `json:"distanceMeters"`
	NearestPoint   common.Point `json:"nearestPoint"`
}

// App struct
type App struct {
	ctx context.Context

	mu          sync.Mutex
	settings    *config.UserSettings
	index       *geoindex.Index
	locator     *locate.Locator
	manager     *transfer.Manager
	sessions    map[string]*viewer.Session
	renderCache *cache.RenderCache
	accessToken string

	renderServerURL string
	sessionSeq      atomic.Int64
	devMode         bool
	phClient        posthog.Client
}

// NewApp creates a new App application struct
func NewApp() *App {
	settings, err := config.LoadSettings()
	if err != nil {
		log.Printf("Failed to load settings, using defaults: %v", err)
		settings = config.DefaultSettings()
	}
	log.Printf("Settings loaded from: %s", config.GetSettingsPath())

	homeDir, _ := os.UserHomeDir()
	cacheDir := filepath.Join(homeDir, ".radargram-desktop", "cache", "renders")
	renderCache, err := cache.NewRenderCache(cacheDir, settings.CacheMaxSizeMB)
	if err != nil {
		log.Printf("Failed to initialize render cache: %v", err)
		renderCache = nil // Continue without cache
	} else {
		log.Printf("Render cache initialized at %s (max %d MB)", cacheDir, settings.CacheMaxSizeMB)
	}

	var phClient posthog.Client
	if PostHogKey != "" {
		client, err := posthog.NewWithConfig(PostHogKey, posthog.Config{Endpoint: PostHogHost})
		if err != nil {
			log.Printf("Failed to initialize PostHog: %v", err)
		} else {
			phClient = client
		}
	}

	return &App{
		settings:    settings,
		sessions:    make(map[string]*viewer.Session),
		renderCache: renderCache,
		accessToken: config.LoadAccessToken(),
		phClient:    phClient,
	}
}

// startup is called when the app starts
func (a *App) startup(ctx context.Context) {
	a.ctx = ctx

	os.MkdirAll(a.settings.RootDirectory, 0755)

	if a.settings.IndexPath != "" {
		if err := a.loadIndex(a.settings.IndexPath); err != nil {
			wailsRuntime.LogError(ctx, fmt.Sprintf("Failed to load geometry index: %v", err))
		}
	}

	go a.StartRenderServer()

	a.TrackEvent("app_started", map[string]interface{}{
		"version": a.GetAppVersion(),
		"os":      goruntime.GOOS,
		"arch":    goruntime.GOARCH,
	})
}

// loadIndex opens the geometry index, scans the root directory for files
// already on disk, and wires up the transfer manager against the new index
func (a *App) loadIndex(path string) error {
	index, err := geoindex.Open(path)
	if err != nil {
		return err
	}
	index.ScanLocal(a.settings.RootDirectory)

	manager := transfer.NewManager(
		a.settings.RootDirectory, a.accessToken,
		a.settings.MaxConcurrentTransfers, index)
	manager.SetCallbacks(transfer.Callbacks{
		OnProgress: func(p transfer.Progress) {
			wailsRuntime.EventsEmit(a.ctx, "transfer-progress", p)
		},
		OnComplete: func(p transfer.Progress) {
			if p.State == transfer.StateCompleted && a.renderCache != nil {
				// A fresh file invalidates any renders of its predecessor
				a.renderCache.InvalidateSegment(p.SegmentID)
			}
			wailsRuntime.EventsEmit(a.ctx, "transfer-complete", p)
			wailsRuntime.EventsEmit(a.ctx, "segment-availability", map[string]interface{}{
				"segmentId":    p.SegmentID,
				"availability": index.Availability(p.SegmentID),
			})
		},
	})
	manager.RateTracker().SetCallbacks(
		func(event transfer.RateLimitEvent) {
			wailsRuntime.EventsEmit(a.ctx, "rate-limited", event)
		},
		func(host string) {
			wailsRuntime.EventsEmit(a.ctx, "rate-limit-cleared", host)
		},
	)

	a.mu.Lock()
	a.index = index
	a.locator = locate.NewLocator(index)
	a.manager = manager
	a.mu.Unlock()
	return nil
}

// SetIndexPath loads a geometry index database and persists the path
func (a *App) SetIndexPath(path string) error {
	if err := a.loadIndex(path); err != nil {
		return err
	}

	a.mu.Lock()
	a.settings.IndexPath = path
	settings := *a.settings
	a.mu.Unlock()

	a.TrackEvent("index_loaded", map[string]interface{}{"path": path})
	return config.SaveSettings(&settings)
}

// GetSegments returns all segments in the index with availability,
// for the host map to draw
func (a *App) GetSegments() ([]SegmentInfo, error) {
	a.mu.Lock()
	index := a.index
	a.mu.Unlock()
	if index == nil {
		return nil, fmt.Errorf("no geometry index loaded")
	}

	ids := index.AllIDs()
	segments := index.SegmentsWithin(ids)
	out := make([]SegmentInfo, len(segments))
	for i, seg := range segments {
		out[i] = a.segmentInfo(index, seg)
	}
	return out, nil
}

func (a *App) segmentInfo(index *geoindex.Index, seg *geoindex.Segment) SegmentInfo {
	return SegmentInfo{
		ID:           seg.ID,
		Institution:  seg.Institution,
		Campaign:     seg.Campaign,
		Availability: index.Availability(seg.ID),
		Groundtrack:  seg.Groundtrack,
		FilesizeMB:   float64(seg.Remote.Filesize) / (1024 * 1024),
	}
}

// Locate returns the segments nearest to a map click, restricted to the ids
// currently visible on the host map, ordered by distance
func (a *App) Locate(lat, lon float64, visibleIDs []string) ([]LocateResult, error) {
	a.mu.Lock()
	index := a.index
	locator := a.locator
	a.mu.Unlock()
	if locator == nil {
		return nil, fmt.Errorf("no geometry index loaded")
	}

	candidates := locator.Locate(common.Point{Lat: lat, Lon: lon}, visibleIDs, locate.DefaultMaxCandidates)

	results := make([]LocateResult, len(candidates))
	for i, c := range candidates {
		results[i] = LocateResult{
			Segment:        a.segmentInfo(index, c.Segment),
			DistanceMeters: c.Distance,
			NearestPoint:   c.Nearest,
		}
	}
	return results, nil
}

// StartDownload begins downloading a segment's radargram and returns the
// transfer's initial progress snapshot
func (a *App) StartDownload(segmentID string) (transfer.Progress, error) {
	a.mu.Lock()
	index := a.index
	manager := a.manager
	a.mu.Unlock()
	if manager == nil {
		return transfer.Progress{}, fmt.Errorf("no geometry index loaded")
	}

	seg, err := index.Segment(segmentID)
	if err != nil {
		return transfer.Progress{}, err
	}
	if index.Availability(segmentID) == geoindex.AvailableLocal {
		return transfer.Progress{}, fmt.Errorf("segment %s is already downloaded", segmentID)
	}

	t, err := manager.Start(seg)
	if err != nil {
		return transfer.Progress{}, err
	}
	go manager.PumpProgress(t)

	a.TrackEvent("download_started", map[string]interface{}{
		"institution": seg.Institution,
		"campaign":    seg.Campaign,
	})
	return t.Progress(), nil
}

// CancelDownload aborts an in-flight transfer. The partial file is kept so a
// later download resumes from it.
func (a *App) CancelDownload(transferID string) error {
	a.mu.Lock()
	manager := a.manager
	a.mu.Unlock()
	if manager == nil {
		return fmt.Errorf("no geometry index loaded")
	}
	manager.Cancel(transferID)
	return nil
}

// GetTransferProgress returns the current progress of a transfer
func (a *App) GetTransferProgress(transferID string) (transfer.Progress, error) {
	a.mu.Lock()
	manager := a.manager
	a.mu.Unlock()
	if manager == nil {
		return transfer.Progress{}, fmt.Errorf("no geometry index loaded")
	}

	t, ok := manager.Get(transferID)
	if !ok {
		return transfer.Progress{}, fmt.Errorf("unknown transfer: %s", transferID)
	}
	return t.Progress(), nil
}

// ListTransfers returns progress for all known transfers
func (a *App) ListTransfers() []transfer.Progress {
	a.mu.Lock()
	manager := a.manager
	a.mu.Unlock()
	if manager == nil {
		return nil
	}
	return manager.List()
}

// RetryRateLimitedHost clears a host's rate limit state so downloads against
// it can be started again
func (a *App) RetryRateLimitedHost(host string) error {
	a.mu.Lock()
	manager := a.manager
	a.mu.Unlock()
	if manager == nil {
		return fmt.Errorf("no geometry index loaded")
	}
	manager.RateTracker().Clear(host)
	return nil
}

// OpenRadargram opens a viewer session over a locally available radargram
func (a *App) OpenRadargram(segmentID string) (*ViewerState, error) {
	a.mu.Lock()
	index := a.index
	settings := a.settings
	a.mu.Unlock()
	if index == nil {
		return nil, fmt.Errorf("no geometry index loaded")
	}

	seg, err := index.Segment(segmentID)
	if err != nil {
		return nil, err
	}
	if av := index.Availability(segmentID); av != geoindex.AvailableLocal {
		return nil, fmt.Errorf("segment %s is not downloaded (state: %s)", segmentID, av)
	}

	path, err := naming.RadargramPath(settings.RootDirectory, seg.RelativePath)
	if err != nil {
		return nil, err
	}
	store, err := radargram.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open radargram for %s: %w", segmentID, err)
	}

	sessionID := fmt.Sprintf("session_%d", a.sessionSeq.Add(1))
	session, err := viewer.NewSession(sessionID, segmentID, store, settings.DefaultColormap, settings.StepOverlap)
	if err != nil {
		store.Close()
		return nil, err
	}

	a.mu.Lock()
	a.sessions[sessionID] = session
	a.mu.Unlock()

	log.Printf("[Viewer] Opened session %s for segment %s (%d traces x %d samples)",
		sessionID, segmentID, store.TraceCount(), store.SampleCount())
	a.TrackEvent("radargram_opened", map[string]interface{}{
		"institution": seg.Institution,
		"campaign":    seg.Campaign,
		"traces":      store.TraceCount(),
	})

	return a.viewerState(session)
}

// CloseRadargram closes a viewer session and releases its file handle
func (a *App) CloseRadargram(sessionID string) error {
	a.mu.Lock()
	session, ok := a.sessions[sessionID]
	delete(a.sessions, sessionID)
	a.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown session: %s", sessionID)
	}
	log.Printf("[Viewer] Closed session %s", sessionID)
	return session.Close()
}

func (a *App) session(sessionID string) (*viewer.Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	session, ok := a.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("unknown session: %s", sessionID)
	}
	return session, nil
}

// TrackEvent sends an event to PostHog. Dev builds stay silent.
func (a *App) TrackEvent(event string, props map[string]interface{}) {
	if a.devMode {
		return
	}
	if a.phClient != nil {
		a.phClient.Enqueue(posthog.Capture{
			DistinctId: "backend_user",
			Event:      event,
			Properties: props,
		})
	}
}

// Shutdown cleans up resources
func (a *App) Shutdown(ctx context.Context) {
	a.mu.Lock()
	sessions := a.sessions
	a.sessions = make(map[string]*viewer.Session)
	a.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	if a.renderCache != nil {
		a.renderCache.Close()
	}
	if a.phClient != nil {
		a.phClient.Close()
	}
}

// GetAppVersion returns the current application version
func (a *App) GetAppVersion() string {
	return AppVersion
}

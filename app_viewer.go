package main

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"strings"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"radargram-desktop/internal/common"
	"radargram-desktop/internal/naming"
	"radargram-desktop/internal/viewer"
	"radargram-desktop/pkg/tiffgray"
)

// ===================
// Viewer Operations
// ===================

// ViewerState is the full frontend-facing state of one viewer session
type ViewerState struct {
	SessionID   string             `json:"sessionId"`
	SegmentID   string             `json:"segmentId"`
	TraceCount  int                `json:"traceCount"`
	SampleCount int                `json:"sampleCount"`
	Viewport    viewer.Viewport    `json:"viewport"`
	Appearance  viewer.Appearance  `json:"appearance"`
	Bounds      common.BoundingBox `json:"bounds"`
	FullBounds  common.BoundingBox `json:"fullBounds"`

	// Along-track distance spanned by the trace window, in meters
	AlongTrackStart float64 `json:"alongTrackStart"`
	AlongTrackEnd   float64 `json:"alongTrackEnd"`
}

// viewerState assembles the current state snapshot for a session
func (a *App) viewerState(s *viewer.Session) (*ViewerState, error) {
	vp, err := s.Viewport()
	if err != nil {
		return nil, err
	}
	app, err := s.Appearance()
	if err != nil {
		return nil, err
	}
	bounds, err := s.GeographicBounds()
	if err != nil {
		return nil, err
	}
	fullBounds, err := s.FullBounds()
	if err != nil {
		return nil, err
	}
	atStart, atEnd, err := s.AlongTrackRange()
	if err != nil {
		return nil, err
	}

	traceCount, sampleCount := s.Extent()
	return &ViewerState{
		SessionID:       s.ID,
		SegmentID:       s.SegmentID,
		TraceCount:      traceCount,
		SampleCount:     sampleCount,
		Viewport:        vp,
		Appearance:      app,
		Bounds:          bounds,
		FullBounds:      fullBounds,
		AlongTrackStart: atStart,
		AlongTrackEnd:   atEnd,
	}, nil
}

// afterViewportChange emits the new geographic extent so the host map keeps
// its highlighted sub-polyline in sync with the viewer
func (a *App) afterViewportChange(s *viewer.Session) (*ViewerState, error) {
	state, err := a.viewerState(s)
	if err != nil {
		return nil, err
	}
	wailsRuntime.EventsEmit(a.ctx, "viewport-extent", map[string]interface{}{
		"sessionId": state.SessionID,
		"segmentId": state.SegmentID,
		"viewport":  state.Viewport,
		"bounds":    state.Bounds,
	})
	return state, nil
}

// GetViewerState returns the current state of a session
func (a *App) GetViewerState(sessionID string) (*ViewerState, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return nil, err
	}
	return a.viewerState(s)
}

// ZoomIn narrows the viewport to a fractional rectangle of the current view
func (a *App) ZoomIn(sessionID string, rect viewer.FractRect) (*ViewerState, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ZoomIn(rect); err != nil {
		return nil, err
	}
	return a.afterViewportChange(s)
}

// ZoomOut expands the viewport around its center by the given factor
func (a *App) ZoomOut(sessionID string, factor float64) (*ViewerState, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ZoomOut(factor); err != nil {
		return nil, err
	}
	return a.afterViewportChange(s)
}

// FullExtent resets the viewport to the whole radargram
func (a *App) FullExtent(sessionID string) (*ViewerState, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.FullExtent(); err != nil {
		return nil, err
	}
	return a.afterViewportChange(s)
}

// StepViewport shifts the trace window one step prev or next along the
// transect, with the configured overlap between consecutive views
func (a *App) StepViewport(sessionID string, direction string) (*ViewerState, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Step(viewer.StepDirection(direction)); err != nil {
		return nil, err
	}
	return a.afterViewportChange(s)
}

// SetAppearance updates the colormap and intensity bounds of a session
func (a *App) SetAppearance(sessionID, colormap string, intensityMin, intensityMax float32) (*ViewerState, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.SetAppearance(colormap, intensityMin, intensityMax); err != nil {
		return nil, err
	}
	return a.viewerState(s)
}

// CursorGeolocation maps a fractional cursor position within the viewport to
// its trace, sample, and geolocation, and emits it for the host map crosshair
func (a *App) CursorGeolocation(sessionID string, fx, fy float64) (viewer.CursorInfo, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return viewer.CursorInfo{}, err
	}

	info, err := s.CursorGeolocation(fx, fy)
	if err != nil {
		return viewer.CursorInfo{}, err
	}

	wailsRuntime.EventsEmit(a.ctx, "cursor-position", map[string]interface{}{
		"sessionId": sessionID,
		"segmentId": s.SegmentID,
		"trace":     info.Trace,
		"sample":    info.Sample,
		"lat":       info.Fix.Lat,
		"lon":       info.Fix.Lon,
	})
	return info, nil
}

// ExportSnapshot saves the session's current view as a grayscale TIFF under
// {root}/snapshots, with a PNG copy alongside for quick sharing. Returns the
// TIFF path.
func (a *App) ExportSnapshot(sessionID string) (string, error) {
	s, err := a.session(sessionID)
	if err != nil {
		return "", err
	}

	img, vp, err := s.RenderGray()
	if err != nil {
		return "", err
	}

	a.mu.Lock()
	rootDir := a.settings.RootDirectory
	a.mu.Unlock()

	snapshotDir := filepath.Join(rootDir, "snapshots")
	if err := os.MkdirAll(snapshotDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	filename := naming.SnapshotFilename(s.SegmentID,
		vp.Trace.Start, vp.Trace.End, vp.Sample.Start, vp.Sample.End)
	tiffPath := filepath.Join(snapshotDir, filename)

	description := fmt.Sprintf("segment=%s traces=[%d,%d) samples=[%d,%d)",
		s.SegmentID, vp.Trace.Start, vp.Trace.End, vp.Sample.Start, vp.Sample.End)

	var buf bytes.Buffer
	if err := tiffgray.Encode(&buf, img, description); err != nil {
		return "", fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := os.WriteFile(tiffPath, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("failed to write snapshot: %w", err)
	}

	if err := a.savePNGCopy(tiffPath, img); err != nil {
		log.Printf("[Viewer] PNG copy failed for %s: %v", tiffPath, err)
	}

	log.Printf("[Viewer] Snapshot exported: %s (%dx%d)", tiffPath, img.Rect.Dx(), img.Rect.Dy())
	a.TrackEvent("snapshot_exported", map[string]interface{}{
		"traces":  vp.Trace.Width(),
		"samples": vp.Sample.Width(),
	})
	return tiffPath, nil
}

// savePNGCopy writes a .png sibling next to an exported TIFF
func (a *App) savePNGCopy(tiffPath string, img *image.Gray) error {
	pngPath := strings.TrimSuffix(tiffPath, filepath.Ext(tiffPath)) + ".png"

	f, err := os.Create(pngPath)
	if err != nil {
		return err
	}
	defer f.Close()

	return png.Encode(f, img)
}

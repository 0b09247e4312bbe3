package main

import (
	"bytes"
	"fmt"
	"image/png"
	"net"
	"net/http"
	"strconv"

	wailsRuntime "github.com/wailsapp/wails/v2/pkg/runtime"

	"radargram-desktop/internal/cache"
)

// ===================
// Local Render Server
// ===================

// corsMiddleware adds CORS headers to allow requests from Wails frontend
// On macOS/Linux, Wails uses wails://wails origin which requires CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// StartRenderServer starts a local HTTP server that serves rendered viewport
// images. The frontend points an <img> at it instead of shuttling pixel data
// through the JS bridge.
func (a *App) StartRenderServer() {
	mux := http.NewServeMux()
	mux.HandleFunc("/view/", a.handleRenderView)

	// Listen on a random available port
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		wailsRuntime.LogError(a.ctx, fmt.Sprintf("Failed to start render server: %v", err))
		return
	}

	port := listener.Addr().(*net.TCPAddr).Port
	a.mu.Lock()
	a.renderServerURL = fmt.Sprintf("http://127.0.0.1:%d", port)
	url := a.renderServerURL
	a.mu.Unlock()
	wailsRuntime.LogInfo(a.ctx, fmt.Sprintf("Render server started on %s", url))

	server := &http.Server{
		Handler: corsMiddleware(mux),
	}
	if err := server.Serve(listener); err != nil {
		wailsRuntime.LogError(a.ctx, fmt.Sprintf("Render server stopped: %v", err))
	}
}

// GetRenderURL returns the URL template the frontend uses for viewport images
func (a *App) GetRenderURL(sessionID string) (string, error) {
	a.mu.Lock()
	url := a.renderServerURL
	a.mu.Unlock()

	if url == "" {
		return "", fmt.Errorf("render server not started")
	}
	return fmt.Sprintf("%s/view/%s", url, sessionID), nil
}

// handleRenderView serves the current viewport of a session as PNG.
// URL format: /view/{sessionID}?w={width}&h={height}
// The viewport and appearance are read from the session at request time; the
// frontend re-requests after every viewport change it triggers.
func (a *App) handleRenderView(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Path[len("/view/"):]
	if sessionID == "" {
		http.Error(w, "Missing session id", http.StatusBadRequest)
		return
	}

	width, err := strconv.Atoi(r.URL.Query().Get("w"))
	if err != nil || width <= 0 || width > 8192 {
		http.Error(w, "Invalid width", http.StatusBadRequest)
		return
	}
	height, err := strconv.Atoi(r.URL.Query().Get("h"))
	if err != nil || height <= 0 || height > 8192 {
		http.Error(w, "Invalid height", http.StatusBadRequest)
		return
	}

	session, err := a.session(sessionID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	vp, err := session.Viewport()
	if err != nil {
		http.Error(w, err.Error(), http.StatusGone)
		return
	}
	app, err := session.Appearance()
	if err != nil {
		http.Error(w, err.Error(), http.StatusGone)
		return
	}

	var key string
	if a.renderCache != nil {
		key = cache.RenderKey(session.SegmentID,
			vp.Trace.Start, vp.Trace.End, vp.Sample.Start, vp.Sample.End,
			app.Colormap, app.IntensityMin, app.IntensityMax, width, height)
		if data, ok := a.renderCache.Get(key); ok {
			w.Header().Set("Content-Type", "image/png")
			w.Write(data)
			return
		}
	}

	img, err := session.Render(width, height)
	if err != nil {
		http.Error(w, fmt.Sprintf("Render failed: %v", err), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		http.Error(w, fmt.Sprintf("Encoding failed: %v", err), http.StatusInternalServerError)
		return
	}

	if a.renderCache != nil {
		a.renderCache.Set(key, session.SegmentID, buf.Bytes())
	}

	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

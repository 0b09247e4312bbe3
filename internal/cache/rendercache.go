// Package cache provides a persistent disk cache for rendered radargram
// views. Re-rendering a viewport is pure CPU work over data already on disk,
// but large windows take hundreds of milliseconds; caching the encoded PNG
// keyed by exactly what went into it (segment, viewport, appearance, output
// size) makes revisiting a view instant across app restarts.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// RenderCache is a size-bounded disk cache of encoded render results.
// Entries persist across restarts; eviction is least-recently-used and
// runs on a background worker so Set never blocks on disk cleanup.
type RenderCache struct {
	baseDir   string
	maxSize   int64 // bytes
	currSize  int64 // atomic
	mu        sync.RWMutex
	metadata  map[string]*RenderMetadata
	evictChan chan struct{}

	saves     sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// RenderMetadata records one cached render
type RenderMetadata struct {
	Key        string    `json:"key"`
	SegmentID  string    `json:"segmentId"`
	Size       int64     `json:"size"`
	AccessTime time.Time `json:"accessTime"`
	CreateTime time.Time `json:"createTime"`
}

// RenderKey derives the cache key for a render request. Any input that
// changes the output pixels must appear here.
func RenderKey(segmentID string, traceStart, traceEnd, sampleStart, sampleEnd int,
	colormap string, intensityMin, intensityMax float32, width, height int) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s|%d:%d|%d:%d|%s|%g:%g|%dx%d",
		segmentID, traceStart, traceEnd, sampleStart, sampleEnd,
		colormap, intensityMin, intensityMax, width, height))
	return hex.EncodeToString(h[:])
}

// NewRenderCache creates a render cache rooted at baseDir with the given
// size bound. Structure: baseDir/{key[:2]}/{key}.png, index at
// baseDir/cache_index.json.
func NewRenderCache(baseDir string, maxSizeMB int) (*RenderCache, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &RenderCache{
		baseDir:   baseDir,
		maxSize:   int64(maxSizeMB) * 1024 * 1024,
		metadata:  make(map[string]*RenderMetadata),
		evictChan: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}

	if err := c.loadMetadata(); err != nil {
		if err := c.rebuildMetadata(); err != nil {
			return nil, fmt.Errorf("failed to initialize render cache: %w", err)
		}
	}

	go c.evictionWorker()
	return c, nil
}

// Get retrieves a cached render by key
func (c *RenderCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	meta, exists := c.metadata[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	data, err := os.ReadFile(c.filePath(key))
	if err != nil {
		// File missing underneath us; drop the stale entry
		c.evict(key, meta)
		return nil, false
	}

	c.mu.Lock()
	meta.AccessTime = time.Now()
	c.mu.Unlock()

	return data, true
}

// Set stores an encoded render under the given key
func (c *RenderCache) Set(key, segmentID string, data []byte) error {
	path := c.filePath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache subdirectory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	now := time.Now()
	meta := &RenderMetadata{
		Key:        key,
		SegmentID:  segmentID,
		Size:       int64(len(data)),
		AccessTime: now,
		CreateTime: now,
	}

	c.mu.Lock()
	if old, exists := c.metadata[key]; exists {
		atomic.AddInt64(&c.currSize, -old.Size)
	}
	c.metadata[key] = meta
	c.mu.Unlock()

	atomic.AddInt64(&c.currSize, meta.Size)

	if atomic.LoadInt64(&c.currSize) > c.maxSize {
		select {
		case c.evictChan <- struct{}{}:
		default:
		}
	}

	c.saves.Add(1)
	go func() {
		defer c.saves.Done()
		c.saveMetadata()
	}()
	return nil
}

// Close stops the eviction worker and waits for in-flight index writes.
// The cache must not be used after Close.
func (c *RenderCache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.saves.Wait()
}

// InvalidateSegment removes every cached render for a segment. Called when
// the segment's file is re-downloaded.
func (c *RenderCache) InvalidateSegment(segmentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, meta := range c.metadata {
		if meta.SegmentID != segmentID {
			continue
		}
		os.Remove(c.filePath(key))
		delete(c.metadata, key)
		atomic.AddInt64(&c.currSize, -meta.Size)
	}
}

// filePath fans keys out into 256 subdirectories to keep directory listings
// short
func (c *RenderCache) filePath(key string) string {
	prefix := key
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(c.baseDir, prefix, key+".png")
}

func (c *RenderCache) evict(key string, meta *RenderMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()

	os.Remove(c.filePath(key))
	delete(c.metadata, key)
	atomic.AddInt64(&c.currSize, -meta.Size)
}

func (c *RenderCache) evictionWorker() {
	for {
		select {
		case <-c.done:
			return
		case <-c.evictChan:
			c.evictLRU()
		}
	}
}

// evictLRU removes least-recently-used renders until the cache is back under
// 80% of the bound, leaving headroom before the next sweep
func (c *RenderCache) evictLRU() {
	c.mu.Lock()
	defer c.mu.Unlock()

	currSize := atomic.LoadInt64(&c.currSize)
	if currSize <= c.maxSize {
		return
	}
	targetSize := c.maxSize * 8 / 10

	type entry struct {
		key        string
		accessTime time.Time
		size       int64
	}
	entries := make([]entry, 0, len(c.metadata))
	for key, meta := range c.metadata {
		entries = append(entries, entry{key, meta.AccessTime, meta.Size})
	}
	for i := 0; i < len(entries)-1; i++ {
		for j := i + 1; j < len(entries); j++ {
			if entries[i].accessTime.After(entries[j].accessTime) {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}

	for _, e := range entries {
		if currSize <= targetSize {
			break
		}
		os.Remove(c.filePath(e.key))
		delete(c.metadata, e.key)
		atomic.AddInt64(&c.currSize, -e.size)
		currSize -= e.size
	}

	c.saveMetadataLocked()
}

func (c *RenderCache) loadMetadata() error {
	data, err := os.ReadFile(filepath.Join(c.baseDir, "cache_index.json"))
	if err != nil {
		return fmt.Errorf("failed to read cache index: %w", err)
	}

	var metadata map[string]*RenderMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return fmt.Errorf("failed to parse cache index: %w", err)
	}
	c.metadata = metadata

	var total int64
	for _, meta := range metadata {
		total += meta.Size
	}
	atomic.StoreInt64(&c.currSize, total)
	return nil
}

func (c *RenderCache) saveMetadata() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saveMetadataLocked()
}

// saveMetadataLocked writes the index atomically via a temp file rename.
// Caller holds at least a read lock.
func (c *RenderCache) saveMetadataLocked() error {
	data, err := json.MarshalIndent(c.metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache index: %w", err)
	}

	metaPath := filepath.Join(c.baseDir, "cache_index.json")
	tempPath := metaPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache index: %w", err)
	}
	return os.Rename(tempPath, metaPath)
}

// rebuildMetadata reconstructs the index by scanning the cache directory.
// Segment attribution is lost for rebuilt entries, so InvalidateSegment will
// miss them, but LRU eviction still works off file mod times.
func (c *RenderCache) rebuildMetadata() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metadata = make(map[string]*RenderMetadata)
	var total int64

	err := filepath.Walk(c.baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || filepath.Ext(path) != ".png" {
			return nil
		}
		key := filepath.Base(path)
		key = key[:len(key)-len(".png")]
		c.metadata[key] = &RenderMetadata{
			Key:        key,
			Size:       info.Size(),
			AccessTime: info.ModTime(),
			CreateTime: info.ModTime(),
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan cache directory: %w", err)
	}

	atomic.StoreInt64(&c.currSize, total)
	return c.saveMetadataLocked()
}

// Stats returns entry count, current size, and the configured bound
func (c *RenderCache) Stats() (entries int, sizeBytes int64, maxBytes int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.metadata), atomic.LoadInt64(&c.currSize), c.maxSize
}

// Clear removes every cached render
func (c *RenderCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key := range c.metadata {
		os.Remove(c.filePath(key))
	}
	c.metadata = make(map[string]*RenderMetadata)
	atomic.StoreInt64(&c.currSize, 0)
	return c.saveMetadataLocked()
}

// Dir returns the cache's base directory
func (c *RenderCache) Dir() string {
	return c.baseDir
}

// Package geoindex reads the transect geometry index: a read-only SQLite
// database listing every known radar segment, its groundtrack polyline, and
// the remote resource its radargram can be fetched from. The database itself
// is produced by a separate curation pipeline and is never written here; the
// only mutable state is the per-segment availability registry layered on top.
package geoindex

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	_ "modernc.org/sqlite"

	"radargram-desktop/internal/common"
	"radargram-desktop/internal/naming"
)

// Availability describes where a segment's radargram currently lives
type Availability string

const (
	AvailableRemote Availability = "available-remote"
	Downloading     Availability = "downloading"
	AvailableLocal  Availability = "available-local"
	Unavailable     Availability = "unavailable"
)

// Download methods recorded in the index
const (
	MethodWget  = "wget"  // plain HTTP GET
	MethodToken = "token" // GET with a bearer access token
)

// ErrNotFound is returned when a segment id is absent from the index
var ErrNotFound = errors.New("segment not found in index")

// RemoteResource describes where and how a segment's radargram is fetched
type RemoteResource struct {
	URL      string `json:"url"`
	Method   string `json:"method"` // e.g. "wget" (plain GET), "token" (bearer auth)
	Filesize int64  `json:"filesize"`
	SHA256   string `json:"sha256,omitempty"` // empty when the archive publishes no checksum
}

// Segment identifies one transect and its download metadata.
// Immutable once loaded; availability lives in the Index registry.
type Segment struct {
	ID          string         `json:"id"` // institution_campaign_segment
	Institution string         `json:"institution"`
	Campaign    string         `json:"campaign"`
	Groundtrack []common.Point `json:"-"`

	// Path relative to the configured root directory where the
	// radargram is (or will be) stored.
	RelativePath string `json:"relativePath"`

	Remote RemoteResource `json:"remote"`
}

// Index provides read-only access to the segment catalog plus the in-memory
// availability registry. Safe for concurrent use.
type Index struct {
	mu           sync.RWMutex
	segments     map[string]*Segment
	availability map[string]Availability
}

// Open loads the geometry index from a SQLite database file. The whole
// catalog is loaded up front: segment metadata is small even for tens of
// thousands of transects, and the locator needs the groundtracks resident.
func Open(path string) (*Index, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	defer db.Close()

	idx := &Index{
		segments:     make(map[string]*Segment),
		availability: make(map[string]Availability),
	}

	if err := idx.loadSegments(db); err != nil {
		return nil, err
	}
	if err := idx.loadGroundtracks(db); err != nil {
		return nil, err
	}

	log.Printf("[GeoIndex] Loaded %d segments from %s", len(idx.segments), path)
	return idx, nil
}

func (idx *Index) loadSegments(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT segment_id, institution, campaign, relative_path,
		       url, download_method, filesize, COALESCE(sha256, '')
		FROM segments`)
	if err != nil {
		return fmt.Errorf("failed to query segments table: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		seg := &Segment{}
		if err := rows.Scan(
			&seg.ID, &seg.Institution, &seg.Campaign, &seg.RelativePath,
			&seg.Remote.URL, &seg.Remote.Method, &seg.Remote.Filesize, &seg.Remote.SHA256,
		); err != nil {
			return fmt.Errorf("failed to scan segment row: %w", err)
		}
		idx.segments[seg.ID] = seg
		idx.availability[seg.ID] = AvailableRemote
		if seg.Remote.URL == "" {
			// Some institutions have not released their data; the segment is
			// shown on the map but cannot be fetched.
			idx.availability[seg.ID] = Unavailable
		}
	}
	return rows.Err()
}

func (idx *Index) loadGroundtracks(db *sql.DB) error {
	rows, err := db.Query(`
		SELECT segment_id, lon, lat
		FROM groundtracks
		ORDER BY segment_id, vertex_index`)
	if err != nil {
		return fmt.Errorf("failed to query groundtracks table: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var lon, lat float64
		if err := rows.Scan(&id, &lon, &lat); err != nil {
			return fmt.Errorf("failed to scan groundtrack row: %w", err)
		}
		seg, ok := idx.segments[id]
		if !ok {
			return fmt.Errorf("groundtrack references unknown segment %q", id)
		}
		seg.Groundtrack = append(seg.Groundtrack, common.Point{Lat: lat, Lon: lon})
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for id, seg := range idx.segments {
		if len(seg.Groundtrack) < 2 {
			return fmt.Errorf("segment %q has a degenerate groundtrack (%d vertices)", id, len(seg.Groundtrack))
		}
	}
	return nil
}

// Segment returns the segment with the given id
func (idx *Index) Segment(id string) (*Segment, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	seg, ok := idx.segments[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return seg, nil
}

// SegmentsWithin returns the segments matching the given ids, skipping any
// id the index does not know about. Order follows the input ids.
func (idx *Index) SegmentsWithin(ids []string) []*Segment {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	result := make([]*Segment, 0, len(ids))
	for _, id := range ids {
		if seg, ok := idx.segments[id]; ok {
			result = append(result, seg)
		}
	}
	return result
}

// AllIDs returns every segment id in the index
func (idx *Index) AllIDs() []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := make([]string, 0, len(idx.segments))
	for id := range idx.segments {
		ids = append(ids, id)
	}
	return ids
}

// Availability returns a segment's current availability state
func (idx *Index) Availability(id string) Availability {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if av, ok := idx.availability[id]; ok {
		return av
	}
	return Unavailable
}

// SetAvailability updates a segment's availability state.
// Only the transfer manager and the startup scan should call this.
func (idx *Index) SetAvailability(id string, av Availability) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.segments[id]; !ok {
		return
	}
	idx.availability[id] = av
}

// ScanLocal walks the configured root directory and classifies each
// segment's file as complete, in-progress, or absent. A file is considered
// complete only when it exists at the final path with the expected size;
// a .part staging file leaves the segment remote so a later download can
// resume it.
func (idx *Index) ScanLocal(root string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	found := 0
	for id, seg := range idx.segments {
		if idx.availability[id] == Unavailable {
			continue
		}

		path, err := naming.RadargramPath(root, seg.RelativePath)
		if err != nil {
			log.Printf("[GeoIndex] Bad relative path for %s: %v", id, err)
			continue
		}

		info, err := os.Stat(path)
		if err == nil && !info.IsDir() && (seg.Remote.Filesize == 0 || info.Size() == seg.Remote.Filesize) {
			idx.availability[id] = AvailableLocal
			found++
			continue
		}

		idx.availability[id] = AvailableRemote
	}

	log.Printf("[GeoIndex] Local scan complete: %d of %d segments already downloaded", found, len(idx.segments))
}

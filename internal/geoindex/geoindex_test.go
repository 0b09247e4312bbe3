package geoindex

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radargram-desktop/internal/naming"
)

type fixtureSegment struct {
	id, institution, campaign, relPath, url, method string
	filesize                                        int64
	track                                           [][2]float64 // lon, lat
}

func writeFixtureDB(t *testing.T, segments []fixtureSegment) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "index.gpkg")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`
		CREATE TABLE segments (
			segment_id TEXT PRIMARY KEY,
			institution TEXT NOT NULL,
			campaign TEXT NOT NULL,
			relative_path TEXT NOT NULL,
			url TEXT NOT NULL,
			download_method TEXT NOT NULL,
			filesize INTEGER NOT NULL,
			sha256 TEXT
		);
		CREATE TABLE groundtracks (
			segment_id TEXT NOT NULL,
			vertex_index INTEGER NOT NULL,
			lon REAL NOT NULL,
			lat REAL NOT NULL
		);`)
	require.NoError(t, err)

	for _, seg := range segments {
		_, err = db.Exec(
			`INSERT INTO segments (segment_id, institution, campaign, relative_path, url, download_method, filesize)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			seg.id, seg.institution, seg.campaign, seg.relPath, seg.url, seg.method, seg.filesize)
		require.NoError(t, err)

		for i, v := range seg.track {
			_, err = db.Exec(
				`INSERT INTO groundtracks (segment_id, vertex_index, lon, lat) VALUES (?, ?, ?, ?)`,
				seg.id, i, v[0], v[1])
			require.NoError(t, err)
		}
	}
	return path
}

func defaultFixture() []fixtureSegment {
	return []fixtureSegment{
		{
			id: "UTIG_ICP3_X45a", institution: "UTIG", campaign: "ICP3",
			relPath: "UTIG/ICP3/X45a.rgram",
			url:     "https://archive.example.org/ICP3/X45a.rgram",
			method:  MethodWget, filesize: 2048,
			track: [][2]float64{{110.0, -75.0}, {110.1, -75.0}, {110.2, -75.1}},
		},
		{
			id: "CRESIS_2013_A12", institution: "CRESIS", campaign: "2013_Antarctica",
			relPath: "CRESIS/2013/A12.rgram",
			url:     "https://data.example.edu/2013/A12.rgram",
			method:  MethodToken, filesize: 4096,
			track: [][2]float64{{111.0, -76.0}, {111.2, -76.1}},
		},
		{
			id: "BAS_AGAP_B01", institution: "BAS", campaign: "AGAP",
			relPath: "BAS/AGAP/B01.rgram",
			url:     "", // not released
			method:  "", filesize: 0,
			track: [][2]float64{{112.0, -77.0}, {112.1, -77.0}},
		},
	}
}

func TestOpenLoadsCatalog(t *testing.T) {
	idx, err := Open(writeFixtureDB(t, defaultFixture()))
	require.NoError(t, err)

	assert.Len(t, idx.AllIDs(), 3)

	seg, err := idx.Segment("UTIG_ICP3_X45a")
	require.NoError(t, err)
	assert.Equal(t, "UTIG", seg.Institution)
	assert.Equal(t, "ICP3", seg.Campaign)
	assert.Equal(t, int64(2048), seg.Remote.Filesize)
	assert.Equal(t, MethodWget, seg.Remote.Method)
	require.Len(t, seg.Groundtrack, 3)
	assert.Equal(t, -75.0, seg.Groundtrack[0].Lat)
	assert.Equal(t, 110.0, seg.Groundtrack[0].Lon)

	_, err = idx.Segment("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpenMarksUnreleasedSegmentsUnavailable(t *testing.T) {
	idx, err := Open(writeFixtureDB(t, defaultFixture()))
	require.NoError(t, err)

	assert.Equal(t, AvailableRemote, idx.Availability("UTIG_ICP3_X45a"))
	assert.Equal(t, Unavailable, idx.Availability("BAS_AGAP_B01"))
	assert.Equal(t, Unavailable, idx.Availability("unknown-id"))
}

func TestOpenRejectsDegenerateGroundtrack(t *testing.T) {
	fixture := defaultFixture()
	fixture[0].track = fixture[0].track[:1]

	_, err := Open(writeFixtureDB(t, fixture))
	assert.Error(t, err)
}

func TestSegmentsWithinKeepsOrderAndSkipsUnknown(t *testing.T) {
	idx, err := Open(writeFixtureDB(t, defaultFixture()))
	require.NoError(t, err)

	segs := idx.SegmentsWithin([]string{"CRESIS_2013_A12", "missing", "UTIG_ICP3_X45a"})
	require.Len(t, segs, 2)
	assert.Equal(t, "CRESIS_2013_A12", segs[0].ID)
	assert.Equal(t, "UTIG_ICP3_X45a", segs[1].ID)
}

func TestSetAvailabilityIgnoresUnknownSegment(t *testing.T) {
	idx, err := Open(writeFixtureDB(t, defaultFixture()))
	require.NoError(t, err)

	idx.SetAvailability("unknown-id", Downloading)
	assert.Equal(t, Unavailable, idx.Availability("unknown-id"))

	idx.SetAvailability("UTIG_ICP3_X45a", Downloading)
	assert.Equal(t, Downloading, idx.Availability("UTIG_ICP3_X45a"))
}

func TestScanLocal(t *testing.T) {
	idx, err := Open(writeFixtureDB(t, defaultFixture()))
	require.NoError(t, err)

	root := t.TempDir()

	// Complete file with the expected size
	completePath, err := naming.RadargramPath(root, "UTIG/ICP3/X45a.rgram")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(completePath), 0o755))
	require.NoError(t, os.WriteFile(completePath, make([]byte, 2048), 0o644))

	// In-progress staging file only
	partialPath, err := naming.RadargramPath(root, "CRESIS/2013/A12.rgram")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(partialPath), 0o755))
	require.NoError(t, os.WriteFile(naming.PartialPath(partialPath), make([]byte, 100), 0o644))

	idx.ScanLocal(root)

	assert.Equal(t, AvailableLocal, idx.Availability("UTIG_ICP3_X45a"))
	assert.Equal(t, AvailableRemote, idx.Availability("CRESIS_2013_A12"), "a .part file is not a complete download")
	assert.Equal(t, Unavailable, idx.Availability("BAS_AGAP_B01"))
}

func TestScanLocalRejectsSizeMismatch(t *testing.T) {
	idx, err := Open(writeFixtureDB(t, defaultFixture()))
	require.NoError(t, err)

	root := t.TempDir()
	path, err := naming.RadargramPath(root, "UTIG/ICP3/X45a.rgram")
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0o644))

	idx.ScanLocal(root)
	assert.Equal(t, AvailableRemote, idx.Availability("UTIG_ICP3_X45a"))
}

package naming

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRadargramPathJoinsUnderRoot(t *testing.T) {
	root := t.TempDir()

	got, err := RadargramPath(root, "UTIG/ICP3/X45a.rgram")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "UTIG", "ICP3", "X45a.rgram"), got)
}

func TestRadargramPathRejectsTraversal(t *testing.T) {
	root := t.TempDir()

	_, err := RadargramPath(root, "../outside.rgram")
	assert.Error(t, err)
	_, err = RadargramPath(root, "a/../../outside.rgram")
	assert.Error(t, err)
}

func TestRadargramPathRejectsEmptyInputs(t *testing.T) {
	_, err := RadargramPath("", "a.rgram")
	assert.Error(t, err)
	_, err = RadargramPath(t.TempDir(), "")
	assert.Error(t, err)
}

func TestPartialPath(t *testing.T) {
	assert.Equal(t, "/data/x.rgram.part", PartialPath("/data/x.rgram"))
	assert.True(t, IsPartial("/data/x.rgram.part"))
	assert.False(t, IsPartial("/data/x.rgram"))
}

func TestSnapshotFilename(t *testing.T) {
	got := SnapshotFilename("UTIG_ICP3_X45a", 100, 500, 0, 3200)
	assert.Equal(t, "UTIG_ICP3_X45a_tr100-500_sa0-3200.tif", got)
}

func TestSnapshotFilenameSanitizesSeparators(t *testing.T) {
	got := SnapshotFilename("BAS/AGAP B01", 0, 10, 0, 10)
	assert.Equal(t, "BAS_AGAP_B01_tr0-10_sa0-10.tif", got)
}

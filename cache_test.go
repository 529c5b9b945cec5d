package geoip

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ranges := []ResolvedRange{
		{Start: a4("10.0.0.0"), End: a4("10.0.0.255"), Country: "US", Lat: 38, Lon: -97},
		{Start: a6("2001:db8::"), End: a6("2001:db8::ff"), Country: "NL", Lat: 52.37, Lon: 4.89},
	}
	path := filepath.Join(t.TempDir(), "resolved.msgpack")

	require.NoError(t, SaveResolved(path, FamilyIPv6, ranges))
	got, family, err := LoadResolved(path)
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv6, family)
	assert.Equal(t, ranges, got)
}

func TestSnapshotEmptySet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.msgpack")
	require.NoError(t, SaveResolved(path, FamilyIPv4, nil))
	got, family, err := LoadResolved(path)
	require.NoError(t, err)
	assert.Equal(t, FamilyIPv4, family)
	assert.Empty(t, got)
}

func TestSnapshotRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.msgpack")
	require.NoError(t, os.WriteFile(path, []byte("not msgpack at all"), 0644))
	_, _, err := LoadResolved(path)
	require.Error(t, err)
}

func TestSnapshotSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resolved.msgpack")
	require.NoError(t, SaveResolved(path, FamilyIPv4, []ResolvedRange{
		{Start: a4("1.0.0.0"), End: a4("1.0.0.255"), Country: "AU"},
	}))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "resolved.msgpack", entries[0].Name())
}

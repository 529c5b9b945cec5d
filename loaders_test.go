package geoip

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseHexAddr(t *testing.T) {
	tests := []struct {
		in     string
		family Family
		want   Uint128
		ok     bool
	}{
		{"0", FamilyIPv4, Uint128{}, true},
		{"ffffffff", FamilyIPv4, Uint128{Lo: 0xffffffff}, true},
		{"0A000001", FamilyIPv4, Uint128{Lo: 0x0a000001}, true},
		{"100000000", FamilyIPv4, Uint128{}, false},
		{"20010db8000000000000000000000001", FamilyIPv6, Uint128{Hi: 0x20010db800000000, Lo: 1}, true},
		{"", FamilyIPv4, Uint128{}, false},
		{"xyz", FamilyIPv4, Uint128{}, false},
		{"123456789012345678901234567890123", FamilyIPv6, Uint128{}, false},
	}
	for _, tt := range tests {
		got, err := parseHexAddr(tt.in, tt.family)
		if tt.ok {
			require.NoError(t, err, tt.in)
			assert.Equal(t, tt.want, got, tt.in)
		} else {
			assert.Error(t, err, tt.in)
		}
	}
}

func TestParseTextAddr(t *testing.T) {
	got, err := parseTextAddr("10.0.0.1", FamilyIPv4)
	require.NoError(t, err)
	assert.Equal(t, Uint128{Lo: 0x0a000001}, got)

	_, err = parseTextAddr("2001:db8::1", FamilyIPv4)
	assert.Error(t, err)
	_, err = parseTextAddr("10.0.0.1", FamilyIPv6)
	assert.Error(t, err)
	_, err = parseTextAddr("not-an-ip", FamilyIPv4)
	assert.Error(t, err)
}

func TestLoadCountryTSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "country.tsv",
		"0a000000\t0a0000ff\tUS\n"+
			"0b000000\t0b0000ff\tCA\n"+
			"garbage line\n"+
			"0c000000\t0c0000ff\t\n")

	tbl, err := LoadCountryTSV(path, SourceIPtoASN, FamilyIPv4)
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())

	attr, ok := tbl.sweep(a4("10.0.0.9"))
	require.True(t, ok)
	assert.Equal(t, "US", attr.Country)
}

func TestLoadCityTSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "city.tsv",
		"0a000000\t0a0000ff\tUS\tNew York\tNY\t40.71\t-74.00\n"+
			"0b000000\t0b0000ff\tUS\tBoston\tMA\tbad\t-71.06\n")

	tbl, err := LoadCityTSV(path, SourceIP2Location, FamilyIPv4, 0, 5, 6)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	assert.Equal(t, CityVote, tbl.Kind)

	attr, ok := tbl.sweep(a4("10.0.0.1"))
	require.True(t, ok)
	assert.Equal(t, Attribute{Country: "US", Lat: 40.71, Lon: -74.00}, attr)
}

func TestLoadCountryCSV(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "country.csv",
		"1.0.0.0,1.0.0.255,AU\n"+
			"bad,line,ZZ\n")

	tbl, err := LoadCountryCSV(path, SourceGeoWhois, FamilyIPv4)
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
}

func TestLoadMissingFileYieldsEmptyTable(t *testing.T) {
	tbl, err := LoadCountryTSV(filepath.Join(t.TempDir(), "nope.tsv"), SourceIPinfo, FamilyIPv4)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
}

func TestLoadOverlappingInputIsMalformed(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "overlap.tsv",
		"0a000000\t0a0000ff\tUS\n"+
			"0a000080\t0a0001ff\tUS\n")

	_, err := LoadCountryTSV(path, SourceIPtoASN, FamilyIPv4)
	require.ErrorIs(t, err, ErrMalformed)
}

func TestLoadSpec(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "cc.tsv", "0a000000\t0a0000ff\tUS\n")

	tbl, err := LoadSpec(SourceSpec{Name: "iptoasn", Kind: "country", IPv4File: "cc.tsv"}, FamilyIPv4, dir, -1)
	require.NoError(t, err)
	require.NotNil(t, tbl)
	assert.Equal(t, SourceIPtoASN, tbl.ID)
	assert.Equal(t, CountryVote, tbl.Kind)

	// No file configured for the family.
	tbl, err = LoadSpec(SourceSpec{Name: "iptoasn", Kind: "country", IPv4File: "cc.tsv"}, FamilyIPv6, dir, -1)
	require.NoError(t, err)
	assert.Nil(t, tbl)
}

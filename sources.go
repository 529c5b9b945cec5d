package geoip

import (
	"errors"
	"fmt"
	"sort"

	"github.com/daijro/geoip-all-in-one/mmdb"
)

// Uint128 is the address integer shared with the database writer.
type Uint128 = mmdb.Uint128

// ErrMalformed reports a source table violating the sorted/disjoint
// invariant. Fatal: detected before any reconciliation or writing.
var ErrMalformed = errors.New("malformed source table")

// Family selects an address space. Source tables, reconciliation and the
// per-family outputs are all keyed by it.
type Family int

const (
	FamilyIPv4 Family = iota
	FamilyIPv6
)

// Width returns the address bit width of the family.
func (f Family) Width() int {
	if f == FamilyIPv4 {
		return 32
	}
	return 128
}

func (f Family) String() string {
	if f == FamilyIPv4 {
		return "ipv4"
	}
	return "ipv6"
}

// Kind says what a source contributes: a country vote alone, or a country
// hint plus a coordinate.
type Kind uint8

const (
	CountryVote Kind = iota
	CityVote
)

// SourceID names an upstream dataset.
type SourceID string

// The six default sources: three city-capable, three country-only. All
// six vote on country; only the city sources offer coordinates.
const (
	SourceIP2Location SourceID = "ip2location"
	SourceDBIP        SourceID = "dbip"
	SourceGeoLite2    SourceID = "geolite2"
	SourceIPtoASN     SourceID = "iptoasn"
	SourceGeoWhois    SourceID = "geo-whois-asn-country"
	SourceIPinfo      SourceID = "ipinfo"
)

// Attribute is a per-range source value. Country-only sources fill just
// Country; city sources add the coordinate.
type Attribute struct {
	Country string
	Lat     float64
	Lon     float64
}

type tableEntry struct {
	start Uint128
	end   Uint128 // inclusive
	attr  Attribute
}

// SourceTable is one source's sorted, disjoint range table for one
// address family. Build it with Add calls, then Finalize; it is read-only
// afterwards. Lookups use a sweep cursor, so query points must be
// non-decreasing, which is exactly how the breakpoint walk consumes it.
type SourceTable struct {
	ID        SourceID
	Kind      Kind
	Family    Family
	Priority  int // rank among city sources, 0 = highest; unused for country tables
	entries   []tableEntry
	cursor    int
	finalized bool
}

// NewSourceTable returns an empty table for the given source and family.
func NewSourceTable(id SourceID, kind Kind, family Family) *SourceTable {
	return &SourceTable{ID: id, Kind: kind, Family: family}
}

// Add appends a range. Ranges may arrive unsorted; Finalize orders them.
func (t *SourceTable) Add(start, end Uint128, attr Attribute) {
	t.entries = append(t.entries, tableEntry{start: start, end: end, attr: attr})
}

// Finalize sorts the table and verifies the invariant: every range
// non-empty and within the family's width, no two ranges overlapping.
// Violations are ErrMalformed and abort the build.
func (t *SourceTable) Finalize() error {
	sort.Slice(t.entries, func(i, j int) bool {
		if c := t.entries[i].start.Cmp(t.entries[j].start); c != 0 {
			return c < 0
		}
		return t.entries[i].end.Less(t.entries[j].end)
	})
	maxAddr := mmdb.MaxAddr(t.Family.Width())
	for i, e := range t.entries {
		if e.end.Less(e.start) {
			return fmt.Errorf("%s: range %s-%s inverted: %w", t.ID, e.start, e.end, ErrMalformed)
		}
		if maxAddr.Less(e.end) {
			return fmt.Errorf("%s: range end %s outside %s space: %w", t.ID, e.end, t.Family, ErrMalformed)
		}
		if i > 0 && !t.entries[i-1].end.Less(e.start) {
			return fmt.Errorf("%s: ranges %s-%s and %s-%s overlap: %w",
				t.ID, t.entries[i-1].start, t.entries[i-1].end, e.start, e.end, ErrMalformed)
		}
	}
	t.finalized = true
	t.cursor = 0
	return nil
}

// Len returns the number of ranges.
func (t *SourceTable) Len() int { return len(t.entries) }

// resetCursor rewinds the sweep cursor for a fresh ascending walk.
func (t *SourceTable) resetCursor() { t.cursor = 0 }

// sweep returns the attribute covering point, if any. Points passed to
// successive calls must be non-decreasing; the cursor only moves forward.
func (t *SourceTable) sweep(point Uint128) (Attribute, bool) {
	for t.cursor < len(t.entries) && t.entries[t.cursor].end.Less(point) {
		t.cursor++
	}
	if t.cursor < len(t.entries) && !point.Less(t.entries[t.cursor].start) {
		return t.entries[t.cursor].attr, true
	}
	return Attribute{}, false
}

// boundaries appends every range edge as half-open endpoints: each start,
// and each end+1 unless the range runs to the top of the address space.
// The caller tracks the top separately to avoid wrap-around.
func (t *SourceTable) boundaries(dst []Uint128, maxAddr Uint128) ([]Uint128, bool) {
	coversTop := false
	for _, e := range t.entries {
		dst = append(dst, e.start)
		if e.end.Cmp(maxAddr) == 0 {
			coversTop = true
			continue
		}
		dst = append(dst, e.end.AddOne())
	}
	return dst, coversTop
}

// snapCoordinates rewrites every coordinate in a city table through snap.
// Used by the optional geohash snapping pass before tables are finalized.
func (t *SourceTable) snapCoordinates(snap func(lat, lon float64) (float64, float64)) {
	if t.Kind != CityVote {
		return
	}
	for i := range t.entries {
		t.entries[i].attr.Lat, t.entries[i].attr.Lon = snap(t.entries[i].attr.Lat, t.entries[i].attr.Lon)
	}
}

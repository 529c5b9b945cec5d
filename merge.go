package geoip

import (
	"fmt"
	"sort"

	"github.com/daijro/geoip-all-in-one/mmdb"
)

// ResolvedRange is one reconciled, non-overlapping output range.
type ResolvedRange struct {
	Start   Uint128
	End     Uint128 // inclusive
	Country string
	Lat     float64
	Lon     float64
}

// sameAttr reports whether two ranges carry an identical attribute tuple.
func (r ResolvedRange) sameAttr(o ResolvedRange) bool {
	return r.Country == o.Country && r.Lat == o.Lat && r.Lon == o.Lon
}

// MergeStats summarizes one reconciliation pass. Drops are not errors;
// they are counted here and reported once.
type MergeStats struct {
	Sources          int
	Breakpoints      int
	Segments         int
	Uncovered        int // no source covers the segment: no resolvable country
	DroppedNoCoord   int // country resolved but no qualifying coordinate
	Emitted          int
	Coalesced        int // segments absorbed into a preceding identical range
	MaxSpreadDegrees float64
}

// MergeSources reconciles the per-source tables of one address family
// into the final sorted, non-overlapping, coalesced range set.
//
// The breakpoint set is the sorted union of every table's half-open
// endpoints; walking consecutive breakpoints enumerates the finest
// partition that respects every source boundary. Each candidate segment
// gets a country vote and, if the country resolves, a coordinate; only
// fully resolved segments are emitted. Adjacent segments with identical
// attributes coalesce before the set is returned. Everything is ordered
// by construction, so identical inputs reproduce identical output.
func MergeSources(tables []*SourceTable, votePriority, coordPriority []SourceID) ([]ResolvedRange, MergeStats, error) {
	stats := MergeStats{Sources: len(tables)}
	if len(tables) == 0 {
		return nil, stats, nil
	}

	family := tables[0].Family
	for _, t := range tables {
		if !t.finalized {
			return nil, stats, fmt.Errorf("source %s: not finalized", t.ID)
		}
		if t.Family != family {
			return nil, stats, fmt.Errorf("source %s: family %s in a %s merge", t.ID, t.Family, family)
		}
		t.resetCursor()
	}
	maxAddr := mmdb.MaxAddr(family.Width())

	// Collect, sort and dedupe the breakpoints. A range ending at the
	// top of the address space contributes a sentinel segment instead of
	// a wrapped end+1 edge.
	var edges []Uint128
	coversTop := false
	for _, t := range tables {
		var top bool
		edges, top = t.boundaries(edges, maxAddr)
		coversTop = coversTop || top
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Less(edges[j]) })
	edges = dedupeEdges(edges)
	stats.Breakpoints = len(edges)

	var (
		out    []ResolvedRange
		values []sourceValue
	)
	emit := func(start, end Uint128) {
		stats.Segments++

		values = values[:0]
		for _, t := range tables {
			if attr, ok := t.sweep(start); ok {
				values = append(values, sourceValue{id: t.ID, kind: t.Kind, attr: attr})
			}
		}
		if len(values) == 0 {
			stats.Uncovered++
			return
		}

		country, ok := resolveCountry(values, votePriority)
		if !ok {
			stats.Uncovered++
			return
		}
		if spread := coordSpreadDegrees(qualifyCoords(country, values, coordPriority)); spread > stats.MaxSpreadDegrees {
			stats.MaxSpreadDegrees = spread
		}
		lat, lon, ok := resolveCoordinate(country, values, coordPriority)
		if !ok {
			stats.DroppedNoCoord++
			return
		}

		r := ResolvedRange{Start: start, End: end, Country: country, Lat: lat, Lon: lon}
		if n := len(out); n > 0 && out[n-1].sameAttr(r) && out[n-1].End.AddOne().Cmp(start) == 0 {
			out[n-1].End = end
			stats.Coalesced++
			return
		}
		out = append(out, r)
		stats.Emitted++
	}

	for i := 0; i+1 < len(edges); i++ {
		emit(edges[i], edges[i+1].SubOne())
	}
	if coversTop && len(edges) > 0 {
		emit(edges[len(edges)-1], maxAddr)
	}
	return out, stats, nil
}

func dedupeEdges(edges []Uint128) []Uint128 {
	out := edges[:0]
	for i, e := range edges {
		if i == 0 || edges[i-1].Cmp(e) != 0 {
			out = append(out, e)
		}
	}
	return out
}

// validateResolved checks the partition invariant on a resolved set:
// sorted ascending, pairwise disjoint, every range non-empty. The merger
// guarantees it structurally; the pipeline re-checks before writing so a
// merger bug aborts the build instead of corrupting a trie.
func validateResolved(ranges []ResolvedRange) error {
	for i, r := range ranges {
		if r.End.Less(r.Start) {
			return fmt.Errorf("resolved range %s-%s inverted", r.Start, r.End)
		}
		if i > 0 && !ranges[i-1].End.Less(r.Start) {
			return fmt.Errorf("resolved ranges %s-%s and %s-%s overlap",
				ranges[i-1].Start, ranges[i-1].End, r.Start, r.End)
		}
	}
	return nil
}

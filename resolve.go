package geoip

import (
	"github.com/golang/geo/s2"
)

// DefaultCoordPriority is the fixed 3-way city source order:
// IP2Location > DB-IP > GeoLite2.
func DefaultCoordPriority() []SourceID {
	return []SourceID{SourceIP2Location, SourceDBIP, SourceGeoLite2}
}

type coordCandidate struct {
	id  SourceID
	lat float64
	lon float64
}

// qualifyCoords filters the covering city sources down to those whose
// country hint matches the voted country, ordered by coordinate priority.
func qualifyCoords(country string, values []sourceValue, priority []SourceID) []coordCandidate {
	var out []coordCandidate
	for _, id := range priority {
		for _, v := range values {
			if v.id == id && v.kind == CityVote && v.attr.Country == country {
				out = append(out, coordCandidate{id: v.id, lat: v.attr.Lat, lon: v.attr.Lon})
			}
		}
	}
	return out
}

// resolveCoordinate picks the coordinate for a sub-interval whose country
// vote already resolved. With all three city sources qualifying: an exact
// coordinate reported by two or more sources wins outright; otherwise the
// medoid (the point with the smallest summed great-circle distance to
// the other two) wins, ties broken lexicographically by (lat, lon) and
// then by source priority. With fewer than three, the highest-priority
// qualifying source wins. With none, there is no coordinate and the
// sub-interval is dropped by the caller. Pure function of its inputs.
func resolveCoordinate(country string, values []sourceValue, priority []SourceID) (lat, lon float64, ok bool) {
	cands := qualifyCoords(country, values, priority)
	switch len(cands) {
	case 0:
		return 0, 0, false
	case 1, 2:
		return cands[0].lat, cands[0].lon, true
	}

	// Most common: any exact agreement between two sources decides.
	for i := 0; i < len(cands); i++ {
		for j := i + 1; j < len(cands); j++ {
			if cands[i].lat == cands[j].lat && cands[i].lon == cands[j].lon {
				return cands[i].lat, cands[i].lon, true
			}
		}
	}

	// All distinct: discard the extremes, keep the middle. The middle is
	// the medoid under great-circle distance; for points that order
	// cleanly (e.g. collinear) this is the middle-ranked coordinate.
	best := 0
	bestSum := summedDistance(cands, 0)
	for i := 1; i < len(cands); i++ {
		sum := summedDistance(cands, i)
		switch {
		case sum < bestSum:
			best, bestSum = i, sum
		case sum == bestSum && lexLess(cands[i], cands[best]):
			best = i
		}
	}
	return cands[best].lat, cands[best].lon, true
}

// summedDistance returns candidate i's total angular distance to the
// other candidates, in radians.
func summedDistance(cands []coordCandidate, i int) float64 {
	pi := s2.LatLngFromDegrees(cands[i].lat, cands[i].lon)
	sum := 0.0
	for j, c := range cands {
		if j == i {
			continue
		}
		sum += float64(pi.Distance(s2.LatLngFromDegrees(c.lat, c.lon)))
	}
	return sum
}

func lexLess(a, b coordCandidate) bool {
	if a.lat != b.lat {
		return a.lat < b.lat
	}
	return a.lon < b.lon
}

// coordSpreadDegrees returns the maximum pairwise great-circle distance
// among the candidates, in degrees. Reported in the build summary as a
// rough disagreement figure; zero when fewer than two qualify.
func coordSpreadDegrees(cands []coordCandidate) float64 {
	max := 0.0
	for i := 0; i < len(cands); i++ {
		pi := s2.LatLngFromDegrees(cands[i].lat, cands[i].lon)
		for j := i + 1; j < len(cands); j++ {
			d := pi.Distance(s2.LatLngFromDegrees(cands[j].lat, cands[j].lon)).Degrees()
			if d > max {
				max = d
			}
		}
	}
	return max
}

package geoip

// sourceValue is one source's answer for a candidate sub-interval,
// collected by the merger in configured source order.
type sourceValue struct {
	id   SourceID
	kind Kind
	attr Attribute
}

// DefaultVotePriority is the fixed 6-way tie-break order for country
// voting. Configuration, not derived: earlier wins ties.
func DefaultVotePriority() []SourceID {
	return []SourceID{
		SourceIP2Location,
		SourceDBIP,
		SourceGeoLite2,
		SourceIPtoASN,
		SourceGeoWhois,
		SourceIPinfo,
	}
}

// resolveCountry tallies one country vote per covering source and returns
// the winner. Highest vote count wins; exact ties go to the code reported
// by the highest-priority tied source. Returns ok=false only when no
// source covers the sub-interval. Pure function of its inputs.
func resolveCountry(values []sourceValue, priority []SourceID) (string, bool) {
	if len(values) == 0 {
		return "", false
	}

	votes := make(map[string]int, len(values))
	for _, v := range values {
		votes[v.attr.Country]++
	}
	best := 0
	for _, n := range votes {
		if n > best {
			best = n
		}
	}

	// Walk the fixed priority order; the first source whose code carries
	// the top vote count decides. Map iteration never orders the outcome.
	for _, id := range priority {
		for _, v := range values {
			if v.id == id && votes[v.attr.Country] == best {
				return v.attr.Country, true
			}
		}
	}

	// A source outside the configured priority list can still win when
	// nothing in the list covers this sub-interval.
	for _, v := range values {
		if votes[v.attr.Country] == best {
			return v.attr.Country, true
		}
	}
	return "", false
}

package geoip

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/daijro/geoip-all-in-one/mmdb"
)

// Adapter layer: parses upstream dump files into SourceTables. Two wire
// formats cover all six default sources: hex TSV (lowercase hex bounds,
// inclusive, tab-separated columns) and decimal CSV (dotted-quad or
// textual IPv6 bounds). Unparseable lines are logged and skipped; the
// finalized table still enforces the sorted/disjoint invariant.

// parseHexAddr parses an unprefixed hex address value.
func parseHexAddr(s string, family Family) (Uint128, error) {
	if s == "" || len(s) > 32 {
		return Uint128{}, fmt.Errorf("hex address %q", s)
	}
	var u Uint128
	for i := 0; i < len(s); i++ {
		var d uint64
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			d = uint64(c - '0')
		case c >= 'a' && c <= 'f':
			d = uint64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = uint64(c-'A') + 10
		default:
			return Uint128{}, fmt.Errorf("hex address %q", s)
		}
		u.Hi = u.Hi<<4 | u.Lo>>60
		u.Lo = u.Lo<<4 | d
	}
	if mmdb.MaxAddr(family.Width()).Less(u) {
		return Uint128{}, fmt.Errorf("hex address %q outside %s space", s, family)
	}
	return u, nil
}

// parseTextAddr parses a dotted quad or textual IPv6 address.
func parseTextAddr(s string, family Family) (Uint128, error) {
	a, err := netip.ParseAddr(s)
	if err != nil {
		return Uint128{}, err
	}
	a = a.Unmap()
	if (family == FamilyIPv4) != a.Is4() {
		return Uint128{}, fmt.Errorf("address %q is not %s", s, family)
	}
	return mmdb.Uint128FromAddr(a), nil
}

// loadLines opens path and feeds each line to parse, which returns false
// for lines it cannot use. A missing file yields an empty table, matching
// the optional-source behavior of the upstream dumps.
func loadLines(path string, id SourceID, parse func(line string) bool) error {
	fi, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("source %s: %s missing, loading empty table", id, path)
			return nil
		}
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer fi.Close()

	scanner := bufio.NewScanner(fi)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	bad := 0
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !parse(line) {
			bad++
		}
	}
	if bad > 0 {
		log.Warnf("source %s: skipped %d unparseable lines in %s", id, bad, path)
	}
	return scanner.Err()
}

// LoadCountryTSV loads a hex TSV country table: start, end (inclusive),
// ISO2 code.
func LoadCountryTSV(path string, id SourceID, family Family) (*SourceTable, error) {
	t := NewSourceTable(id, CountryVote, family)
	err := loadLines(path, id, func(line string) bool {
		parts := strings.Split(line, "\t")
		if len(parts) < 3 || parts[2] == "" {
			return false
		}
		start, err := parseHexAddr(parts[0], family)
		if err != nil {
			return false
		}
		end, err := parseHexAddr(parts[1], family)
		if err != nil {
			return false
		}
		t.Add(start, end, Attribute{Country: parts[2]})
		return true
	})
	if err != nil {
		return nil, err
	}
	if err := t.Finalize(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadCityTSV loads a hex TSV city table: start, end, country hint, with
// the latitude and longitude columns at the given zero-based positions.
func LoadCityTSV(path string, id SourceID, family Family, priority, latCol, lonCol int) (*SourceTable, error) {
	t := NewSourceTable(id, CityVote, family)
	t.Priority = priority
	maxCol := latCol
	if lonCol > maxCol {
		maxCol = lonCol
	}
	err := loadLines(path, id, func(line string) bool {
		parts := strings.Split(line, "\t")
		if len(parts) <= maxCol || parts[2] == "" {
			return false
		}
		start, err := parseHexAddr(parts[0], family)
		if err != nil {
			return false
		}
		end, err := parseHexAddr(parts[1], family)
		if err != nil {
			return false
		}
		lat, errLat := strconv.ParseFloat(parts[latCol], 64)
		lon, errLon := strconv.ParseFloat(parts[lonCol], 64)
		if errLat != nil || errLon != nil {
			return false
		}
		t.Add(start, end, Attribute{Country: parts[2], Lat: lat, Lon: lon})
		return true
	})
	if err != nil {
		return nil, err
	}
	if err := t.Finalize(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadCountryCSV loads a decimal CSV country table: textual start and end
// addresses (inclusive), ISO2 code.
func LoadCountryCSV(path string, id SourceID, family Family) (*SourceTable, error) {
	t := NewSourceTable(id, CountryVote, family)
	err := loadLines(path, id, func(line string) bool {
		parts := strings.Split(line, ",")
		if len(parts) < 3 || parts[2] == "" {
			return false
		}
		start, err := parseTextAddr(parts[0], family)
		if err != nil {
			return false
		}
		end, err := parseTextAddr(parts[1], family)
		if err != nil {
			return false
		}
		t.Add(start, end, Attribute{Country: parts[2]})
		return true
	})
	if err != nil {
		return nil, err
	}
	if err := t.Finalize(); err != nil {
		return nil, err
	}
	return t, nil
}

// LoadSpec maps one SourceSpec to the right loader for the family,
// returning nil when the spec has no file for that family.
func LoadSpec(spec SourceSpec, family Family, dataDir string, coordRank int) (*SourceTable, error) {
	file := spec.IPv4File
	if family == FamilyIPv6 {
		file = spec.IPv6File
	}
	if file == "" {
		return nil, nil
	}
	if dataDir != "" {
		file = dataDir + "/" + file
	}
	id := SourceID(spec.Name)
	switch {
	case spec.Kind == "city":
		latCol, lonCol := spec.LatCol, spec.LonCol
		if latCol == 0 && lonCol == 0 {
			latCol, lonCol = 5, 6
		}
		return LoadCityTSV(file, id, family, coordRank, latCol, lonCol)
	case spec.Format == "decimal_csv":
		return LoadCountryCSV(file, id, family)
	default:
		return LoadCountryTSV(file, id, family)
	}
}

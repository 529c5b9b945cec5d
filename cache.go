package geoip

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack"
)

// Resolved-range snapshots let the reconcile and write phases run as
// separate invocations: reconcile once, snapshot, then build any number
// of output databases from the snapshot.

// snapshotVersion guards against loading a snapshot written by an
// incompatible layout of snapshotRange.
const snapshotVersion = 1

type snapshotRange struct {
	StartHi uint64
	StartLo uint64
	EndHi   uint64
	EndLo   uint64
	Country string
	Lat     float64
	Lon     float64
}

type snapshot struct {
	Version int
	Family  string
	Ranges  []snapshotRange
}

// SaveResolved writes a resolved range set to path as a msgpack snapshot.
// Atomic like the database writer: temp file beside the destination,
// rename on success, nothing left behind on failure.
func SaveResolved(path string, family Family, ranges []ResolvedRange) (err error) {
	snap := snapshot{Version: snapshotVersion, Family: family.String(), Ranges: make([]snapshotRange, 0, len(ranges))}
	for _, r := range ranges {
		snap.Ranges = append(snap.Ranges, snapshotRange{
			StartHi: r.Start.Hi, StartLo: r.Start.Lo,
			EndHi: r.End.Hi, EndLo: r.End.Lo,
			Country: r.Country, Lat: r.Lat, Lon: r.Lon,
		})
	}
	data, err := msgpack.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp snapshot: %w", err)
	}
	success := false
	defer func() {
		tmp.Close()
		if !success {
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing snapshot %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming snapshot into %s: %w", path, err)
	}
	success = true
	return nil
}

// LoadResolved reads a snapshot back. The returned set carries the same
// ordering and attributes that were saved.
func LoadResolved(path string) ([]ResolvedRange, Family, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, err
	}
	var snap snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, 0, fmt.Errorf("decoding snapshot %s: %w", path, err)
	}
	if snap.Version != snapshotVersion {
		return nil, 0, fmt.Errorf("snapshot %s: version %d, want %d", path, snap.Version, snapshotVersion)
	}
	family := FamilyIPv4
	if snap.Family == FamilyIPv6.String() {
		family = FamilyIPv6
	}
	ranges := make([]ResolvedRange, 0, len(snap.Ranges))
	for _, r := range snap.Ranges {
		ranges = append(ranges, ResolvedRange{
			Start:   Uint128{Hi: r.StartHi, Lo: r.StartLo},
			End:     Uint128{Hi: r.EndHi, Lo: r.EndLo},
			Country: r.Country,
			Lat:     r.Lat,
			Lon:     r.Lon,
		})
	}
	return ranges, family, nil
}

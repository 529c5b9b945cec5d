// Package geoip reconciles independently-maintained IP-geolocation
// datasets into MaxMind-DB-format lookup databases.
//
// Each source contributes a sorted table of address ranges carrying a
// country code and, for city-capable sources, a coordinate. The merger
// partitions the address space at every source boundary, votes a country
// per segment, selects a coordinate, coalesces identical neighbors, and
// hands the resolved set to the mmdb writer. Output: one database per
// address family plus a combined file with IPv4 under the zero-extended
// ::/96 prefix.
//
//	b := geoip.NewBuilder(geoip.WithBuildEpoch(1700000000))
//	b.AddTable(table)
//	err := b.Build("./out")
package geoip

import (
	"fmt"
	"path/filepath"
	"sync"

	geohash "github.com/TomiHiltunen/geohash-golang"
	"github.com/sirupsen/logrus"

	"github.com/daijro/geoip-all-in-one/mmdb"
)

var log = logrus.StandardLogger()

// SetLogger replaces the package logger.
func SetLogger(l *logrus.Logger) { log = l }

// TimezoneResolver derives an IANA timezone identifier from a
// coordinate. External collaborator; "" means unknown.
type TimezoneResolver func(lat, lon float64) string

// RecordSchemaVersion is stamped into the output metadata. Bump when the
// record map's fields change.
const RecordSchemaVersion = 1

// Builder collects source tables and drives the full pipeline.
type Builder struct {
	votePriority     []SourceID
	coordPriority    []SourceID
	geohashPrecision int
	buildEpoch       uint64
	databaseType     string
	tz               TimezoneResolver
	parallel         bool
	tables           map[Family][]*SourceTable
}

// Option configures a Builder.
type Option func(*Builder)

// WithVotePriority sets the 6-way country vote tie-break order.
func WithVotePriority(order []SourceID) Option {
	return func(b *Builder) { b.votePriority = order }
}

// WithCoordPriority sets the 3-way city source order.
func WithCoordPriority(order []SourceID) Option {
	return func(b *Builder) { b.coordPriority = order }
}

// WithTimezoneResolver sets the coordinate-to-timezone collaborator.
func WithTimezoneResolver(tz TimezoneResolver) Option {
	return func(b *Builder) { b.tz = tz }
}

// WithBuildEpoch fixes the metadata build epoch. The builder never reads
// the wall clock, so identical inputs always produce identical bytes.
func WithBuildEpoch(epoch uint64) Option {
	return func(b *Builder) { b.buildEpoch = epoch }
}

// WithGeohashPrecision enables coordinate snapping: every city
// coordinate is replaced by the center of its geohash cell at the given
// precision before merging, so near-identical coordinates collapse into
// shared cells and more neighbors coalesce. Zero disables snapping.
func WithGeohashPrecision(precision int) Option {
	return func(b *Builder) { b.geohashPrecision = precision }
}

// WithDatabaseType sets the metadata database_type string.
func WithDatabaseType(name string) Option {
	return func(b *Builder) { b.databaseType = name }
}

// WithParallelReconcile lets the IPv4 and IPv6 reconciliations run
// concurrently. They share no tables and each output file owns its
// encoder, so this is the only parallelism the pipeline permits.
func WithParallelReconcile() Option {
	return func(b *Builder) { b.parallel = true }
}

// NewBuilder returns a Builder with default priorities.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		votePriority:  DefaultVotePriority(),
		coordPriority: DefaultCoordPriority(),
		databaseType:  "geoip-all-in-one",
		tables:        make(map[Family][]*SourceTable),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// AddTable registers a finalized source table. When geohash snapping is
// enabled the table's coordinates are normalized here, before any
// reconciliation sees them.
func (b *Builder) AddTable(t *SourceTable) error {
	if !t.finalized {
		return fmt.Errorf("source %s: not finalized", t.ID)
	}
	if b.geohashPrecision > 0 {
		t.snapCoordinates(geohashSnap(b.geohashPrecision))
	}
	b.tables[t.Family] = append(b.tables[t.Family], t)
	return nil
}

// geohashSnap maps a coordinate to the center of its geohash cell.
func geohashSnap(precision int) func(lat, lon float64) (float64, float64) {
	return func(lat, lon float64) (float64, float64) {
		center := geohash.Decode(geohash.EncodeWithPrecision(lat, lon, precision)).Center()
		return center.Lat(), center.Lng()
	}
}

// Reconcile merges every registered family and returns the resolved
// sets. Families are independent; with WithParallelReconcile they run
// concurrently, results joined before returning.
func (b *Builder) Reconcile() (map[Family][]ResolvedRange, map[Family]MergeStats, error) {
	families := []Family{FamilyIPv4, FamilyIPv6}
	results := make([]struct {
		r   []ResolvedRange
		s   MergeStats
		err error
	}, len(families))

	var wg sync.WaitGroup
	for i, f := range families {
		if len(b.tables[f]) == 0 {
			continue
		}
		run := func(i int, f Family) {
			results[i].r, results[i].s, results[i].err = MergeSources(b.tables[f], b.votePriority, b.coordPriority)
		}
		if b.parallel {
			wg.Add(1)
			go func(i int, f Family) {
				defer wg.Done()
				run(i, f)
			}(i, f)
		} else {
			run(i, f)
		}
	}
	wg.Wait()

	resolved := make(map[Family][]ResolvedRange, len(families))
	stats := make(map[Family]MergeStats, len(families))
	for i, f := range families {
		if len(b.tables[f]) == 0 {
			continue
		}
		if results[i].err != nil {
			return nil, nil, fmt.Errorf("reconciling %s: %w", f, results[i].err)
		}
		resolved[f], stats[f] = results[i].r, results[i].s
	}

	for _, f := range families {
		if s, ok := stats[f]; ok {
			log.WithFields(logrus.Fields{
				"family":      f.String(),
				"sources":     s.Sources,
				"breakpoints": s.Breakpoints,
				"segments":    s.Segments,
				"uncovered":   s.Uncovered,
				"no_coord":    s.DroppedNoCoord,
				"emitted":     s.Emitted,
				"coalesced":   s.Coalesced,
				"max_spread":  fmt.Sprintf("%.1fdeg", s.MaxSpreadDegrees),
			}).Info("reconciled")
		}
	}
	return resolved, stats, nil
}

// Build runs the full pipeline and writes up to three databases into
// outDir: geoip-ipv4.mmdb, geoip-ipv6.mmdb and the combined geoip.mmdb.
// Any fatal error aborts the whole build; no partial files remain.
func (b *Builder) Build(outDir string) error {
	resolved, _, err := b.Reconcile()
	if err != nil {
		return err
	}
	return b.WriteDatabases(outDir, resolved)
}

// WriteDatabases serializes already-reconciled range sets, one file per
// family present plus the combined file when both are.
func (b *Builder) WriteDatabases(outDir string, resolved map[Family][]ResolvedRange) error {
	for _, f := range []Family{FamilyIPv4, FamilyIPv6} {
		if err := validateResolved(resolved[f]); err != nil {
			return fmt.Errorf("%s: %w", f, err)
		}
	}

	v4, v6 := resolved[FamilyIPv4], resolved[FamilyIPv6]
	if len(v4) > 0 {
		if err := b.writeDatabase(filepath.Join(outDir, "geoip-ipv4.mmdb"), 4, v4); err != nil {
			return err
		}
	}
	if len(v6) > 0 {
		if err := b.writeDatabase(filepath.Join(outDir, "geoip-ipv6.mmdb"), 6, v6); err != nil {
			return err
		}
	}
	if len(v4) > 0 && len(v6) > 0 {
		// One 128-bit tree, one data section, one metadata block; the
		// IPv4 set slots in under ::/96 because its key values already
		// live in the low 32 bits.
		if err := b.writeDatabase(filepath.Join(outDir, "geoip.mmdb"), 6, v4, v6); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) writeDatabase(path string, ipVersion int, sets ...[]ResolvedRange) error {
	w, err := mmdb.NewWriter(mmdb.Options{
		IPVersion:           ipVersion,
		DatabaseType:        b.databaseType,
		Description:         map[string]string{"en": "merged IP geolocation data"},
		BuildEpoch:          b.buildEpoch,
		RecordSchemaVersion: RecordSchemaVersion,
	})
	if err != nil {
		return err
	}
	for _, set := range sets {
		for _, r := range set {
			rec := mmdb.Record{
				Country:   r.Country,
				Latitude:  r.Lat,
				Longitude: r.Lon,
			}
			if b.tz != nil {
				rec.Timezone = b.tz(r.Lat, r.Lon)
			}
			if err := w.InsertRange(r.Start, r.End, rec); err != nil {
				return fmt.Errorf("building %s: %w", path, err)
			}
		}
	}
	if err := w.WriteFile(path); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"path":    path,
		"nodes":   w.NodeCount(),
		"records": w.RecordCount(),
		"data":    w.DataSize(),
	}).Info("database written")
	return nil
}

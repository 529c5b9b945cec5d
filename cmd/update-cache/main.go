// Command update-cache reconciles the configured sources once and writes
// the resolved range sets as msgpack snapshot files.
//
// Usage:
//
//	go run ./cmd/update-cache -config sources.yaml -data ./data -cache ./cache
//
// It writes resolved-ipv4.msgpack and resolved-ipv6.msgpack into the
// cache directory. Database files can then be rebuilt from the snapshots
// without re-reading or re-merging the source dumps.
package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	geoip "github.com/daijro/geoip-all-in-one"
)

func main() {
	var (
		configPath = flag.String("config", "sources.yaml", "sources and priority configuration")
		dataDir    = flag.String("data", "./data", "directory holding the source dumps")
		cacheDir   = flag.String("cache", "./cache", "directory receiving the snapshots")
	)
	flag.Parse()

	log := logrus.StandardLogger()

	cfg, err := geoip.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading config")
	}
	if err := os.MkdirAll(*cacheDir, 0o755); err != nil {
		log.WithError(err).Fatal("creating cache directory")
	}

	opts := []geoip.Option{
		geoip.WithVotePriority(cfg.VotePriority),
		geoip.WithCoordPriority(cfg.CoordPriority),
		geoip.WithBuildEpoch(cfg.BuildEpoch),
	}
	if cfg.GeohashPrecision > 0 {
		opts = append(opts, geoip.WithGeohashPrecision(cfg.GeohashPrecision))
	}
	b := geoip.NewBuilder(opts...)

	for _, spec := range cfg.Sources {
		for _, family := range []geoip.Family{geoip.FamilyIPv4, geoip.FamilyIPv6} {
			table, err := geoip.LoadSpec(spec, family, *dataDir, cfg.CoordRank(geoip.SourceID(spec.Name)))
			if err != nil {
				log.WithError(err).WithField("source", spec.Name).Fatal("loading source")
			}
			if table == nil {
				continue
			}
			if err := b.AddTable(table); err != nil {
				log.WithError(err).WithField("source", spec.Name).Fatal("registering source")
			}
		}
	}

	resolved, _, err := b.Reconcile()
	if err != nil {
		log.WithError(err).Fatal("reconcile failed")
	}

	for _, family := range []geoip.Family{geoip.FamilyIPv4, geoip.FamilyIPv6} {
		ranges := resolved[family]
		if len(ranges) == 0 {
			continue
		}
		path := filepath.Join(*cacheDir, "resolved-"+family.String()+".msgpack")
		if err := geoip.SaveResolved(path, family, ranges); err != nil {
			log.WithError(err).Fatal("writing snapshot")
		}
		log.WithFields(logrus.Fields{
			"family": family.String(),
			"ranges": len(ranges),
			"path":   path,
		}).Info("snapshot written")
	}
}

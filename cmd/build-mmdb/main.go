// Command build-mmdb reconciles the configured geolocation sources into
// MaxMind-DB-format database files.
//
// Usage:
//
//	go run ./cmd/build-mmdb -config sources.yaml -data ./data -out ./out
//
// It reads the source dumps named by the config from the data directory
// and writes geoip-ipv4.mmdb, geoip-ipv6.mmdb and the combined
// geoip.mmdb into the output directory.
package main

import (
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	geoip "github.com/daijro/geoip-all-in-one"
)

func main() {
	var (
		configPath = flag.String("config", "sources.yaml", "sources and priority configuration")
		dataDir    = flag.String("data", "./data", "directory holding the source dumps")
		outDir     = flag.String("out", "./out", "directory receiving the database files")
		parallel   = flag.Bool("parallel", false, "reconcile IPv4 and IPv6 concurrently")
	)
	flag.Parse()

	log := logrus.StandardLogger()

	cfg, err := geoip.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("loading config")
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.WithError(err).Fatal("creating output directory")
	}

	opts := []geoip.Option{
		geoip.WithVotePriority(cfg.VotePriority),
		geoip.WithCoordPriority(cfg.CoordPriority),
		geoip.WithBuildEpoch(cfg.BuildEpoch),
	}
	if cfg.GeohashPrecision > 0 {
		opts = append(opts, geoip.WithGeohashPrecision(cfg.GeohashPrecision))
	}
	if *parallel {
		opts = append(opts, geoip.WithParallelReconcile())
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
			log.WithFields(logrus.Fields{
				"source": spec.Name,
				"family": family.String(),
				"ranges": table.Len(),
			}).Info("source loaded")
			if err := b.AddTable(table); err != nil {
				log.WithError(err).WithField("source", spec.Name).Fatal("registering source")
			}
		}
	}

	if err := b.Build(*outDir); err != nil {
		log.WithError(err).Fatal("build failed")
	}
	log.Info("done")
}

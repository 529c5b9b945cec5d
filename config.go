package geoip

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// SourceSpec describes one upstream dataset in a sources.yaml file: where
// its per-family files live and how to parse them. The adapter layer in
// loaders.go consumes it.
type SourceSpec struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`   // "country" or "city"
	Format   string `yaml:"format"` // "hex_tsv" (default) or "decimal_csv"
	IPv4File string `yaml:"ipv4_file"`
	IPv6File string `yaml:"ipv6_file"`
	LatCol   int    `yaml:"lat_col"` // city kind only
	LonCol   int    `yaml:"lon_col"`
}

// Config is the static build configuration: the source list and the two
// fixed priority orders. Priorities are supplied, never inferred.
type Config struct {
	Sources          []SourceSpec `yaml:"sources"`
	VotePriority     []SourceID   `yaml:"vote_priority"`
	CoordPriority    []SourceID   `yaml:"coord_priority"`
	GeohashPrecision int          `yaml:"geohash_precision"`
	BuildEpoch       uint64       `yaml:"build_epoch"`
}

// LoadConfig reads a sources.yaml. Missing priorities fall back to the
// defaults; an explicit coordinate priority must name city sources only.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if len(cfg.VotePriority) == 0 {
		cfg.VotePriority = DefaultVotePriority()
	}
	if len(cfg.CoordPriority) == 0 {
		cfg.CoordPriority = DefaultCoordPriority()
	}
	for _, s := range cfg.Sources {
		switch s.Kind {
		case "country", "city":
		default:
			return nil, fmt.Errorf("config %s: source %q: kind %q: want country or city", path, s.Name, s.Kind)
		}
		switch s.Format {
		case "", "hex_tsv", "decimal_csv":
		default:
			return nil, fmt.Errorf("config %s: source %q: format %q unknown", path, s.Name, s.Format)
		}
	}
	return &cfg, nil
}

// CoordRank returns the position of id in the coordinate priority list,
// or -1 when id is not a city source.
func (c *Config) CoordRank(id SourceID) int {
	for i, p := range c.CoordPriority {
		if p == id {
			return i
		}
	}
	return -1
}

// Package mmdb builds MaxMind-DB-format lookup databases: a fixed-width
// binary search tree over address bits, a deduplicated data section of
// self-describing records, and a trailing metadata block located by its
// byte marker. One Writer produces one output file; lookups against the
// result cost O(address bit width).
package mmdb

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// metadataMarker precedes the metadata map at the end of the file. The
// sections before it have no fixed length, so readers locate metadata by
// scanning backward for these bytes.
var metadataMarker = []byte("\xab\xcd\xefMaxMind.com")

// dataSeparator sits between the node array and the data section; data
// pointers are biased past it.
const dataSeparatorLen = 16

// recordSize is the per-child record width in bits. 32 keeps node layout
// trivial (two big-endian uint32s) and addresses far more nodes and data
// than any source set produces.
const recordSize = 32

// Options configure a database build. IPVersion selects the trie width:
// 4 means a 32-bit tree over IPv4 only; 6 means a 128-bit tree, with any
// IPv4 content inserted under the zero-extended ::/96 prefix by the
// caller.
type Options struct {
	IPVersion           int
	DatabaseType        string
	Languages           []string
	Description         map[string]string
	BuildEpoch          uint64 // fixed by the caller; never wall clock
	RecordSchemaVersion uint32
}

// Writer accumulates ranges and serializes the finished database.
type Writer struct {
	opts  Options
	width int
	tree  *trie
	enc   *encoder
}

// NewWriter returns a Writer for the given options.
func NewWriter(opts Options) (*Writer, error) {
	var width int
	switch opts.IPVersion {
	case 4:
		width = 32
	case 6:
		width = 128
	default:
		return nil, fmt.Errorf("ip version %d: want 4 or 6", opts.IPVersion)
	}
	if opts.DatabaseType == "" {
		opts.DatabaseType = "geoip-all-in-one"
	}
	if len(opts.Languages) == 0 {
		opts.Languages = []string{"en"}
	}
	return &Writer{
		opts:  opts,
		width: width,
		tree:  newTrie(width),
		enc:   newEncoder(),
	}, nil
}

// InsertRange stores rec for every address in the inclusive range
// [start, end]. The range is decomposed into minimal CIDR-aligned blocks
// and each block becomes one leaf; all leaves of one tuple share one data
// record. Overlap with previously inserted ranges is ErrTrieConflict.
func (w *Writer) InsertRange(start, end Uint128, rec Record) error {
	offset, err := w.enc.record(rec)
	if err != nil {
		return err
	}
	prefixes, err := SplitRange(start, end, w.width)
	if err != nil {
		return err
	}
	for _, p := range prefixes {
		if err := w.tree.insert(p, offset); err != nil {
			return err
		}
	}
	return nil
}

// NodeCount returns the number of search-tree nodes built so far.
func (w *Writer) NodeCount() int { return len(w.tree.nodes) }

// RecordCount returns the number of distinct data records.
func (w *Writer) RecordCount() int { return w.enc.records() }

// DataSize returns the data-section length in bytes.
func (w *Writer) DataSize() int { return w.enc.size() }

// recordValue collapses an in-memory child ref into its on-disk value:
// node indices stay below nodeCount, nodeCount itself means empty, and
// data pointers are nodeCount plus the separator plus the data offset.
func (w *Writer) recordValue(ref childRef, nodeCount uint32) (uint32, error) {
	switch ref.kind {
	case refEmpty:
		return nodeCount, nil
	case refNode:
		return ref.value, nil
	default:
		v := uint64(nodeCount) + dataSeparatorLen + uint64(ref.value)
		if v > 1<<recordSize-1 {
			return 0, fmt.Errorf("data pointer %d past %d-bit record: %w", v, recordSize, ErrOverflow)
		}
		return uint32(v), nil
	}
}

// WriteTo serializes the database: node array, separator, data section,
// metadata marker and metadata map, in that order.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	nodeCount := uint32(len(w.tree.nodes))
	bw := bufio.NewWriter(out)
	var written int64

	var nodeBuf [8]byte
	for _, n := range w.tree.nodes {
		left, err := w.recordValue(n.child[0], nodeCount)
		if err != nil {
			return written, err
		}
		right, err := w.recordValue(n.child[1], nodeCount)
		if err != nil {
			return written, err
		}
		binary.BigEndian.PutUint32(nodeBuf[0:4], left)
		binary.BigEndian.PutUint32(nodeBuf[4:8], right)
		m, err := bw.Write(nodeBuf[:])
		written += int64(m)
		if err != nil {
			return written, err
		}
	}

	m, err := bw.Write(make([]byte, dataSeparatorLen))
	written += int64(m)
	if err != nil {
		return written, err
	}
	m, err = bw.Write(w.enc.arena)
	written += int64(m)
	if err != nil {
		return written, err
	}
	m, err = bw.Write(metadataMarker)
	written += int64(m)
	if err != nil {
		return written, err
	}
	meta, err := w.appendMetadata(nil, nodeCount)
	if err != nil {
		return written, err
	}
	m, err = bw.Write(meta)
	written += int64(m)
	if err != nil {
		return written, err
	}
	return written, bw.Flush()
}

// appendMetadata encodes the metadata map with the same tagged scheme as
// the data section, keys in fixed sorted order for byte-stable output.
func (w *Writer) appendMetadata(dst []byte, nodeCount uint32) ([]byte, error) {
	type field struct {
		key string
		put func([]byte) ([]byte, error)
	}
	str := func(s string) func([]byte) ([]byte, error) {
		return func(b []byte) ([]byte, error) { return appendString(b, s) }
	}
	u16 := func(v uint16) func([]byte) ([]byte, error) {
		return func(b []byte) ([]byte, error) { return appendUint16(b, v), nil }
	}
	u32 := func(v uint32) func([]byte) ([]byte, error) {
		return func(b []byte) ([]byte, error) { return appendUint32(b, v), nil }
	}

	fields := []field{
		{"binary_format_major_version", u16(2)},
		{"binary_format_minor_version", u16(0)},
		{"build_epoch", func(b []byte) ([]byte, error) { return appendUint64(b, w.opts.BuildEpoch), nil }},
		{"data_section_size", u32(uint32(w.enc.size()))},
		{"database_type", str(w.opts.DatabaseType)},
		{"description", func(b []byte) ([]byte, error) { return appendStringMap(b, w.opts.Description) }},
		{"ip_version", u16(uint16(w.opts.IPVersion))},
		{"languages", func(b []byte) ([]byte, error) { return appendStringArray(b, w.opts.Languages) }},
		{"node_count", u32(nodeCount)},
		{"record_schema_version", u32(w.opts.RecordSchemaVersion)},
		{"record_size", u16(recordSize)},
	}

	dst = appendControl(dst, typeMap, len(fields))
	var err error
	for _, f := range fields {
		if dst, err = appendString(dst, f.key); err != nil {
			return nil, err
		}
		if dst, err = f.put(dst); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// WriteFile writes the database to path atomically: the bytes go to a
// temporary file beside the destination, which is renamed into place only
// after a successful flush. Any failure removes the temporary file and
// leaves no partial output.
func (w *Writer) WriteFile(path string) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	success := false
	defer func() {
		tmp.Close()
		if !success {
			os.Remove(tmp.Name())
		}
	}()

	if _, err = w.WriteTo(tmp); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming into %s: %w", path, err)
	}
	success = true
	return nil
}

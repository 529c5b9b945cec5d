package mmdb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os"
)

// Metadata is the decoded trailing metadata map.
type Metadata struct {
	BinaryFormatMajorVersion uint16
	BinaryFormatMinorVersion uint16
	BuildEpoch               uint64
	DatabaseType             string
	Description              map[string]string
	IPVersion                int
	Languages                []string
	NodeCount                uint32
	RecordSize               int
	DataSectionSize          uint32
	RecordSchemaVersion      uint32
}

// Reader answers point lookups against a built database. It exists for
// verification and tests; production consumers use any standard MaxMind
// DB reader.
type Reader struct {
	data     []byte
	meta     Metadata
	treeSize int
}

// Open reads the database file at path into memory.
func Open(path string) (*Reader, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromBytes(data)
}

// FromBytes opens a database held in memory. The metadata block is found
// by scanning backward from the end for the metadata marker.
func FromBytes(data []byte) (*Reader, error) {
	idx := bytes.LastIndex(data, metadataMarker)
	if idx < 0 {
		return nil, errors.New("open db: metadata marker not found")
	}
	meta, err := decodeMetadata(data[idx+len(metadataMarker):])
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if meta.RecordSize != recordSize {
		return nil, fmt.Errorf("open db: record size %d unsupported", meta.RecordSize)
	}
	treeSize := int(meta.NodeCount) * recordSize / 4
	if treeSize+dataSeparatorLen > idx {
		return nil, errors.New("open db: node array larger than file")
	}
	return &Reader{data: data[:idx], meta: meta, treeSize: treeSize}, nil
}

// Meta returns the decoded metadata.
func (r *Reader) Meta() Metadata { return r.meta }

// Lookup returns the record covering ip, or found=false when no inserted
// range contains it. IPv4 addresses query a v6 database under the
// zero-extended ::/96 prefix.
func (r *Reader) Lookup(ip netip.Addr) (rec Record, found bool, err error) {
	ip = ip.Unmap()
	var key Uint128
	width := 128
	switch {
	case r.meta.IPVersion == 4:
		if !ip.Is4() {
			return rec, false, fmt.Errorf("lookup %s: IPv4-only database", ip)
		}
		key = Uint128FromAddr(ip)
		width = 32
	case ip.Is4():
		key = Uint128FromAddr(ip) // low 32 bits, i.e. ::/96 embedding
	default:
		key = Uint128FromBytes(ip.As16())
	}

	node := uint32(0)
	for i := 0; i < width; i++ {
		bit := key.Bit(width, i)
		base := int(node)*8 + bit*4
		if base+4 > r.treeSize {
			return rec, false, errors.New("lookup: node index out of bounds")
		}
		value := binary.BigEndian.Uint32(r.data[base : base+4])
		switch {
		case value == r.meta.NodeCount:
			return rec, false, nil
		case value < r.meta.NodeCount:
			node = value
		default:
			off := r.treeSize + int(value-r.meta.NodeCount)
			if off < r.treeSize+dataSeparatorLen || off >= len(r.data) {
				return rec, false, errors.New("lookup: data pointer out of bounds")
			}
			return r.decodeRecord(off)
		}
	}
	return rec, false, errors.New("lookup: tree deeper than address width")
}

func (r *Reader) decodeRecord(off int) (Record, bool, error) {
	v, _, err := decodeValue(r.data, off)
	if err != nil {
		return Record{}, false, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return Record{}, false, errors.New("decode record: not a map")
	}
	var rec Record
	if s, ok := m["country"].(string); ok {
		rec.Country = s
	}
	if f, ok := m["latitude"].(float64); ok {
		rec.Latitude = f
	}
	if f, ok := m["longitude"].(float64); ok {
		rec.Longitude = f
	}
	if s, ok := m["timezone"].(string); ok {
		rec.Timezone = s
	}
	return rec, true, nil
}

// decodeMetadata maps the metadata block into Metadata.
func decodeMetadata(data []byte) (Metadata, error) {
	var meta Metadata
	v, _, err := decodeValue(data, 0)
	if err != nil {
		return meta, err
	}
	m, ok := v.(map[string]interface{})
	if !ok {
		return meta, errors.New("metadata: not a map")
	}
	if u, ok := m["binary_format_major_version"].(uint64); ok {
		meta.BinaryFormatMajorVersion = uint16(u)
	}
	if u, ok := m["binary_format_minor_version"].(uint64); ok {
		meta.BinaryFormatMinorVersion = uint16(u)
	}
	if u, ok := m["build_epoch"].(uint64); ok {
		meta.BuildEpoch = u
	}
	if s, ok := m["database_type"].(string); ok {
		meta.DatabaseType = s
	}
	if d, ok := m["description"].(map[string]interface{}); ok {
		meta.Description = make(map[string]string, len(d))
		for k, val := range d {
			if s, ok := val.(string); ok {
				meta.Description[k] = s
			}
		}
	}
	if u, ok := m["ip_version"].(uint64); ok {
		meta.IPVersion = int(u)
	}
	if a, ok := m["languages"].([]interface{}); ok {
		for _, val := range a {
			if s, ok := val.(string); ok {
				meta.Languages = append(meta.Languages, s)
			}
		}
	}
	if u, ok := m["node_count"].(uint64); ok {
		meta.NodeCount = uint32(u)
	}
	if u, ok := m["record_size"].(uint64); ok {
		meta.RecordSize = int(u)
	}
	if u, ok := m["data_section_size"].(uint64); ok {
		meta.DataSectionSize = uint32(u)
	}
	if u, ok := m["record_schema_version"].(uint64); ok {
		meta.RecordSchemaVersion = uint32(u)
	}
	if meta.NodeCount == 0 || meta.IPVersion == 0 {
		return meta, errors.New("metadata: missing required fields")
	}
	return meta, nil
}

// decodeValue decodes one tagged value at off, returning it and the
// offset just past it. Unsigned integer types all decode as uint64.
func decodeValue(data []byte, off int) (interface{}, int, error) {
	if off >= len(data) {
		return nil, 0, errors.New("decode: truncated control byte")
	}
	ctrl := data[off]
	off++
	typ := int(ctrl >> 5)
	if typ == 0 {
		if off >= len(data) {
			return nil, 0, errors.New("decode: truncated extended type")
		}
		typ = int(data[off]) + 7
		off++
	}

	size := int(ctrl & 0x1f)
	switch size {
	case 29, 30, 31:
		n := size - 28 // number of size-extension bytes
		if off+n > len(data) {
			return nil, 0, errors.New("decode: truncated size")
		}
		ext := 0
		for i := 0; i < n; i++ {
			ext = ext<<8 | int(data[off+i])
		}
		off += n
		switch n {
		case 1:
			size = ext + 29
		case 2:
			size = ext + 285
		case 3:
			size = ext + 65821
		}
	}

	switch typ {
	case typeString:
		if off+size > len(data) {
			return nil, 0, errors.New("decode: truncated string")
		}
		return string(data[off : off+size]), off + size, nil
	case typeDouble:
		if size != 8 || off+8 > len(data) {
			return nil, 0, errors.New("decode: bad double")
		}
		return math.Float64frombits(binary.BigEndian.Uint64(data[off : off+8])), off + 8, nil
	case typeBytes:
		if off+size > len(data) {
			return nil, 0, errors.New("decode: truncated bytes")
		}
		return append([]byte(nil), data[off:off+size]...), off + size, nil
	case typeUint16, typeUint32, typeUint64:
		if size > 8 || off+size > len(data) {
			return nil, 0, errors.New("decode: bad uint")
		}
		var v uint64
		for i := 0; i < size; i++ {
			v = v<<8 | uint64(data[off+i])
		}
		return v, off + size, nil
	case typeMap:
		m := make(map[string]interface{}, size)
		for i := 0; i < size; i++ {
			kv, next, err := decodeValue(data, off)
			if err != nil {
				return nil, 0, err
			}
			key, ok := kv.(string)
			if !ok {
				return nil, 0, errors.New("decode: non-string map key")
			}
			val, next2, err := decodeValue(data, next)
			if err != nil {
				return nil, 0, err
			}
			m[key] = val
			off = next2
		}
		return m, off, nil
	case typeArray:
		a := make([]interface{}, 0, size)
		for i := 0; i < size; i++ {
			val, next, err := decodeValue(data, off)
			if err != nil {
				return nil, 0, err
			}
			a = append(a, val)
			off = next
		}
		return a, off, nil
	default:
		return nil, 0, fmt.Errorf("decode: unsupported type %d", typ)
	}
}

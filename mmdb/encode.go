package mmdb

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrOverflow reports a value the record encoding cannot represent.
var ErrOverflow = errors.New("encoding overflow")

// Record is the attribute tuple stored for a range. This is the stable
// consumer contract: a flat map with the four fields below.
type Record struct {
	Country   string // ISO 3166-1 alpha-2 code
	Latitude  float64
	Longitude float64
	Timezone  string // IANA identifier, "" when unknown
}

// Data-section type tags, per the MaxMind DB convention: a control byte
// carries a 3-bit type and a 5-bit size, with extended forms for types
// above 7 and sizes above 28.
const (
	typeString = 2
	typeDouble = 3
	typeBytes  = 4
	typeUint16 = 5
	typeUint32 = 6
	typeMap    = 7
	typeUint64 = 9
	typeArray  = 11
)

// maxFieldLen bounds any single encoded string. Far beyond anything a
// country code or timezone id needs; hitting it means corrupt input.
const maxFieldLen = 1 << 16

// encoder owns the data section: an append-only arena of encoded records
// plus a content-addressed cache mapping encoded bytes to their offset.
// Identical tuples encode once; later occurrences reuse the offset. The
// cache follows the string-interner shape (value -> stable index), minus
// locking: each output file has exactly one encoder owner.
type encoder struct {
	arena   []byte
	offsets map[string]uint32
	scratch []byte
}

func newEncoder() *encoder {
	return &encoder{offsets: make(map[string]uint32)}
}

// record returns the data-section offset for rec, encoding and appending
// it on first sight.
func (e *encoder) record(rec Record) (uint32, error) {
	var err error
	e.scratch, err = appendRecord(e.scratch[:0], rec)
	if err != nil {
		return 0, err
	}
	if off, ok := e.offsets[string(e.scratch)]; ok {
		return off, nil
	}
	off := len(e.arena)
	if off+len(e.scratch) > maxDataSection {
		return 0, fmt.Errorf("data section past %d bytes: %w", maxDataSection, ErrOverflow)
	}
	e.arena = append(e.arena, e.scratch...)
	e.offsets[string(e.scratch)] = uint32(off)
	return uint32(off), nil
}

// size returns the current data-section length.
func (e *encoder) size() int { return len(e.arena) }

// records returns the number of distinct encoded tuples.
func (e *encoder) records() int { return len(e.offsets) }

// maxDataSection keeps data offsets addressable by 32-bit node records
// after the node-count bias is added.
const maxDataSection = 1 << 30

// appendRecord encodes the consumer-facing record map. Field order is
// fixed so identical tuples are byte-identical, which the dedup cache
// and the determinism guarantee both rely on.
func appendRecord(dst []byte, rec Record) ([]byte, error) {
	var err error
	dst = appendControl(dst, typeMap, 4)
	for _, f := range [...]struct {
		key string
		put func([]byte) ([]byte, error)
	}{
		{"country", func(b []byte) ([]byte, error) { return appendString(b, rec.Country) }},
		{"latitude", func(b []byte) ([]byte, error) { return appendDouble(b, rec.Latitude), nil }},
		{"longitude", func(b []byte) ([]byte, error) { return appendDouble(b, rec.Longitude), nil }},
		{"timezone", func(b []byte) ([]byte, error) { return appendString(b, rec.Timezone) }},
	} {
		dst, _ = appendString(dst, f.key)
		dst, err = f.put(dst)
		if err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// appendControl writes the control byte for typ with the payload size.
// Types above 7 use the extended form: the control byte carries type 0
// and the byte after it holds type-7. Size-extension bytes, when the
// size exceeds 28, follow the type-specifying bytes.
func appendControl(dst []byte, typ, size int) []byte {
	typeBits := typ
	if typ > 7 {
		typeBits = 0
	}
	var sizeBits int
	var ext [3]byte
	extLen := 0
	switch {
	case size < 29:
		sizeBits = size
	case size < 29+256:
		sizeBits = 29
		ext[0] = byte(size - 29)
		extLen = 1
	case size < 285+65536:
		sizeBits = 30
		n := size - 285
		ext[0], ext[1] = byte(n>>8), byte(n)
		extLen = 2
	default:
		sizeBits = 31
		n := size - 65821
		ext[0], ext[1], ext[2] = byte(n>>16), byte(n>>8), byte(n)
		extLen = 3
	}
	dst = append(dst, byte(typeBits<<5|sizeBits))
	if typ > 7 {
		dst = append(dst, byte(typ-7))
	}
	return append(dst, ext[:extLen]...)
}

func appendString(dst []byte, s string) ([]byte, error) {
	if len(s) > maxFieldLen {
		return nil, fmt.Errorf("string of %d bytes: %w", len(s), ErrOverflow)
	}
	dst = appendControl(dst, typeString, len(s))
	return append(dst, s...), nil
}

func appendDouble(dst []byte, v float64) []byte {
	dst = appendControl(dst, typeDouble, 8)
	u := math.Float64bits(v)
	return append(dst, byte(u>>56), byte(u>>48), byte(u>>40), byte(u>>32),
		byte(u>>24), byte(u>>16), byte(u>>8), byte(u))
}

// appendUint writes an unsigned value as the given tagged type with a
// minimal big-endian payload.
func appendUint(dst []byte, typ int, v uint64) []byte {
	var payload [8]byte
	n := 0
	for x := v; x != 0; x >>= 8 {
		n++
	}
	for i := 0; i < n; i++ {
		payload[n-1-i] = byte(v >> (8 * i))
	}
	dst = appendControl(dst, typ, n)
	return append(dst, payload[:n]...)
}

func appendUint16(dst []byte, v uint16) []byte { return appendUint(dst, typeUint16, uint64(v)) }
func appendUint32(dst []byte, v uint32) []byte { return appendUint(dst, typeUint32, uint64(v)) }
func appendUint64(dst []byte, v uint64) []byte { return appendUint(dst, typeUint64, v) }

// appendStringMap encodes a map with string values, keys sorted for
// deterministic output.
func appendStringMap(dst []byte, m map[string]string) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	dst = appendControl(dst, typeMap, len(m))
	var err error
	for _, k := range keys {
		if dst, err = appendString(dst, k); err != nil {
			return nil, err
		}
		if dst, err = appendString(dst, m[k]); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// appendStringArray encodes an array of strings in the given order.
func appendStringArray(dst []byte, vals []string) ([]byte, error) {
	dst = appendControl(dst, typeArray, len(vals))
	var err error
	for _, v := range vals {
		if dst, err = appendString(dst, v); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

package mmdb

import (
	"fmt"
	"math/bits"
	"net/netip"
)

// Uint128 is an unsigned 128-bit integer used as a trie key. IPv4 keys
// occupy the low 32 bits; IPv6 keys use all 128 bits. Comparable and
// ordered, so it can serve as a map key and be sorted directly.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// Uint128From32 returns a key holding a 32-bit address value.
func Uint128From32(v uint32) Uint128 {
	return Uint128{Lo: uint64(v)}
}

// Uint128FromBytes returns a key from a 16-byte big-endian address.
func Uint128FromBytes(b [16]byte) Uint128 {
	var u Uint128
	for i := 0; i < 8; i++ {
		u.Hi = u.Hi<<8 | uint64(b[i])
		u.Lo = u.Lo<<8 | uint64(b[i+8])
	}
	return u
}

// Uint128FromAddr converts a parsed address to a key. IPv4 addresses map
// to the low 32 bits, the zero-extended form used by combined databases.
func Uint128FromAddr(a netip.Addr) Uint128 {
	if a.Is4() {
		b := a.As4()
		return Uint128From32(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
	}
	return Uint128FromBytes(a.As16())
}

// MaxAddr returns the all-ones key for the given bit width.
func MaxAddr(width int) Uint128 {
	if width == 32 {
		return Uint128{Lo: 0xffffffff}
	}
	return Uint128{Hi: ^uint64(0), Lo: ^uint64(0)}
}

// Cmp returns -1, 0 or 1 comparing u against v.
func (u Uint128) Cmp(v Uint128) int {
	switch {
	case u.Hi < v.Hi:
		return -1
	case u.Hi > v.Hi:
		return 1
	case u.Lo < v.Lo:
		return -1
	case u.Lo > v.Lo:
		return 1
	}
	return 0
}

// Less reports whether u sorts before v.
func (u Uint128) Less(v Uint128) bool { return u.Cmp(v) < 0 }

// AddOne returns u+1 with wrap-around at the 128-bit boundary.
func (u Uint128) AddOne() Uint128 {
	lo, carry := bits.Add64(u.Lo, 1, 0)
	hi, _ := bits.Add64(u.Hi, 0, carry)
	return Uint128{Hi: hi, Lo: lo}
}

// SubOne returns u-1 with wrap-around at zero.
func (u Uint128) SubOne() Uint128 {
	lo, borrow := bits.Sub64(u.Lo, 1, 0)
	hi, _ := bits.Sub64(u.Hi, 0, borrow)
	return Uint128{Hi: hi, Lo: lo}
}

// Add returns u+v, reporting overflow past 128 bits.
func (u Uint128) Add(v Uint128) (Uint128, bool) {
	lo, carry := bits.Add64(u.Lo, v.Lo, 0)
	hi, carry := bits.Add64(u.Hi, v.Hi, carry)
	return Uint128{Hi: hi, Lo: lo}, carry != 0
}

// IsZero reports whether u is zero.
func (u Uint128) IsZero() bool { return u.Hi == 0 && u.Lo == 0 }

// Bit returns the i-th bit (0 = most significant) of the width-bit view
// of u. For width 32 the view is the low 32 bits of Lo.
func (u Uint128) Bit(width, i int) int {
	pos := 128 - width + i // bit position in the full 128-bit value, MSB first
	if pos < 64 {
		return int(u.Hi>>(63-pos)) & 1
	}
	return int(u.Lo>>(127-pos)) & 1
}

// TrailingZeros returns the number of trailing zero bits, 128 for zero.
func (u Uint128) TrailingZeros() int {
	if u.Lo != 0 {
		return bits.TrailingZeros64(u.Lo)
	}
	if u.Hi != 0 {
		return 64 + bits.TrailingZeros64(u.Hi)
	}
	return 128
}

// shiftLeft returns u << n for 0 <= n <= 128.
func (u Uint128) shiftLeft(n int) Uint128 {
	switch {
	case n >= 128:
		return Uint128{}
	case n >= 64:
		return Uint128{Hi: u.Lo << (n - 64)}
	case n > 0:
		return Uint128{Hi: u.Hi<<n | u.Lo>>(64-n), Lo: u.Lo << n}
	}
	return u
}

// Addr converts the width-bit view of u back to a netip.Addr.
func (u Uint128) Addr(width int) netip.Addr {
	if width == 32 {
		v := uint32(u.Lo)
		return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)})
	}
	var b [16]byte
	for i := 0; i < 8; i++ {
		b[7-i] = byte(u.Hi >> (8 * i))
		b[15-i] = byte(u.Lo >> (8 * i))
	}
	return netip.AddrFrom16(b)
}

// String formats u as the address of its natural bit width. Values that
// fit in 32 bits format as dotted quads, which keeps error messages
// readable for IPv4 builds.
func (u Uint128) String() string {
	if u.Hi == 0 && u.Lo <= 0xffffffff {
		return u.Addr(32).String()
	}
	return u.Addr(128).String()
}

// Prefix is a CIDR-aligned block: the first Len bits of Addr (MSB-first
// within the trie bit width) identify the block.
type Prefix struct {
	Addr Uint128
	Len  int
}

func (p Prefix) String() string {
	return fmt.Sprintf("%s/%d", p.Addr, p.Len)
}

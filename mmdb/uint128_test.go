package mmdb

import (
	"net/netip"
	"testing"
)

func TestUint128Cmp(t *testing.T) {
	tests := []struct {
		name string
		a, b Uint128
		want int
	}{
		{"equal zero", Uint128{}, Uint128{}, 0},
		{"lo less", Uint128{Lo: 1}, Uint128{Lo: 2}, -1},
		{"lo greater", Uint128{Lo: 3}, Uint128{Lo: 2}, 1},
		{"hi dominates lo", Uint128{Hi: 1}, Uint128{Lo: ^uint64(0)}, 1},
		{"hi less", Uint128{Hi: 1, Lo: 5}, Uint128{Hi: 2}, -1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.a.Cmp(tc.b); got != tc.want {
				t.Errorf("Cmp(%v, %v) = %d, want %d", tc.a, tc.b, got, tc.want)
			}
			if got := tc.b.Cmp(tc.a); got != -tc.want {
				t.Errorf("Cmp(%v, %v) = %d, want %d", tc.b, tc.a, got, -tc.want)
			}
		})
	}
}

func TestUint128AddOneCarry(t *testing.T) {
	u := Uint128{Lo: ^uint64(0)}
	got := u.AddOne()
	want := Uint128{Hi: 1}
	if got != want {
		t.Fatalf("AddOne(%v) = %v, want %v", u, got, want)
	}
	if back := got.SubOne(); back != u {
		t.Fatalf("SubOne(%v) = %v, want %v", got, back, u)
	}
}

func TestUint128Bit(t *testing.T) {
	tests := []struct {
		name  string
		u     Uint128
		width int
		bits  string // MSB first
	}{
		{"v4 10.0.0.1 head", Uint128From32(0x0a000001), 32, "00001010"},
		{"v4 high bit", Uint128From32(0x80000000), 32, "1000"},
		{"v6 top byte", Uint128{Hi: 0x2a << 56}, 128, "00101010"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for i, want := range tc.bits {
				got := tc.u.Bit(tc.width, i)
				if got != int(want-'0') {
					t.Errorf("Bit(%d, %d) = %d, want %c", tc.width, i, got, want)
				}
			}
		})
	}
}

func TestUint128TrailingZeros(t *testing.T) {
	tests := []struct {
		u    Uint128
		want int
	}{
		{Uint128{}, 128},
		{Uint128{Lo: 1}, 0},
		{Uint128{Lo: 0x100}, 8},
		{Uint128{Hi: 1}, 64},
		{Uint128{Hi: 0x8000000000000000}, 127},
	}
	for _, tc := range tests {
		if got := tc.u.TrailingZeros(); got != tc.want {
			t.Errorf("TrailingZeros(%v) = %d, want %d", tc.u, got, tc.want)
		}
	}
}

func TestUint128AddrRoundTrip(t *testing.T) {
	for _, s := range []string{"0.0.0.0", "10.0.0.1", "255.255.255.255"} {
		a := netip.MustParseAddr(s)
		u := Uint128FromAddr(a)
		if got := u.Addr(32); got != a {
			t.Errorf("Addr(32) round trip of %s = %s", s, got)
		}
	}
	for _, s := range []string{"::", "2001:db8::1", "ffff:ffff:ffff:ffff:ffff:ffff:ffff:ffff"} {
		a := netip.MustParseAddr(s)
		u := Uint128FromBytes(a.As16())
		if got := u.Addr(128); got != a {
			t.Errorf("Addr(128) round trip of %s = %s", s, got)
		}
	}
}

func TestMaxAddr(t *testing.T) {
	if got := MaxAddr(32); got != (Uint128{Lo: 0xffffffff}) {
		t.Errorf("MaxAddr(32) = %v", got)
	}
	if got := MaxAddr(128); got != (Uint128{Hi: ^uint64(0), Lo: ^uint64(0)}) {
		t.Errorf("MaxAddr(128) = %v", got)
	}
}

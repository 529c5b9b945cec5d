package mmdb

import (
	"net/netip"
	"testing"
)

func v4(s string) Uint128 { return Uint128FromAddr(netip.MustParseAddr(s)) }
func v6(s string) Uint128 { return Uint128FromBytes(netip.MustParseAddr(s).As16()) }

func TestSplitRangeMinimal(t *testing.T) {
	tests := []struct {
		name       string
		start, end Uint128
		width      int
		want       []string
	}{
		{
			// The canonical awkward range: no single aligned block fits.
			name:  "10.0.0.1-10.0.0.6",
			start: v4("10.0.0.1"), end: v4("10.0.0.6"), width: 32,
			want: []string{"10.0.0.1/32", "10.0.0.2/31", "10.0.0.4/31", "10.0.0.6/32"},
		},
		{
			name:  "exact block",
			start: v4("192.168.0.0"), end: v4("192.168.0.255"), width: 32,
			want: []string{"192.168.0.0/24"},
		},
		{
			name:  "single address",
			start: v4("1.2.3.4"), end: v4("1.2.3.4"), width: 32,
			want: []string{"1.2.3.4/32"},
		},
		{
			name:  "whole v4 space",
			start: v4("0.0.0.0"), end: v4("255.255.255.255"), width: 32,
			want: []string{"0.0.0.0/0"},
		},
		{
			name:  "top of v4 space",
			start: v4("255.255.255.254"), end: v4("255.255.255.255"), width: 32,
			want: []string{"255.255.255.254/31"},
		},
		{
			name:  "v6 crossing a /64",
			start: v6("2001:db8::ffff:ffff:ffff:ffff"), end: v6("2001:db8:0:1::"), width: 128,
			want: []string{"2001:db8::ffff:ffff:ffff:ffff/128", "2001:db8:0:1::/128"},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := SplitRange(tc.start, tc.end, tc.width)
			if err != nil {
				t.Fatalf("SplitRange: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i, p := range got {
				s := p.Addr.Addr(tc.width).String() + "/" + itoa(p.Len)
				if s != tc.want[i] {
					t.Errorf("block %d = %s, want %s", i, s, tc.want[i])
				}
			}
		})
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// TestSplitRangeReconstructs checks the decomposition property directly:
// blocks are ordered, adjacent, and exactly cover [start, end].
func TestSplitRangeReconstructs(t *testing.T) {
	cases := []struct {
		start, end Uint128
		width      int
	}{
		{v4("10.0.0.1"), v4("10.0.0.6"), 32},
		{v4("0.0.0.1"), v4("0.0.1.77"), 32},
		{v4("172.16.5.3"), v4("172.31.200.9"), 32},
		{v6("2001:db8::1"), v6("2001:db8::1:2:3"), 128},
	}
	for _, tc := range cases {
		blocks, err := SplitRange(tc.start, tc.end, tc.width)
		if err != nil {
			t.Fatalf("SplitRange: %v", err)
		}
		cur := tc.start
		for _, p := range blocks {
			if p.Addr != cur {
				t.Fatalf("block %s does not start at %s: gap or overlap", p, cur.Addr(tc.width))
			}
			if p.Addr.TrailingZeros() < tc.width-p.Len {
				t.Fatalf("block %s not aligned to its size", p)
			}
			cur = blockEnd(p.Addr, tc.width-p.Len).AddOne()
		}
		if cur != tc.end.AddOne() {
			t.Fatalf("blocks end at %s, want %s", cur.SubOne().Addr(tc.width), tc.end.Addr(tc.width))
		}
	}
}

func TestSplitRangeErrors(t *testing.T) {
	if _, err := SplitRange(v4("10.0.0.2"), v4("10.0.0.1"), 32); err == nil {
		t.Error("inverted range: want error")
	}
	if _, err := SplitRange(Uint128{}, Uint128{Hi: 1}, 32); err == nil {
		t.Error("end outside 32-bit space: want error")
	}
}

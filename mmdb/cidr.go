package mmdb

import "fmt"

// pow2 returns 2^s for 0 <= s < 128.
func pow2(s int) Uint128 {
	if s < 64 {
		return Uint128{Lo: 1 << s}
	}
	return Uint128{Hi: 1 << (s - 64)}
}

// blockEnd returns the last address of the 2^s sized block starting at cur.
// cur must be aligned to 2^s.
func blockEnd(cur Uint128, s int) Uint128 {
	if s >= 128 {
		return MaxAddr(128)
	}
	e, _ := cur.Add(pow2(s).SubOne())
	return e
}

// SplitRange decomposes the inclusive range [start, end] into the minimal
// ordered set of CIDR-aligned blocks whose union is exactly the range:
// repeatedly take the largest aligned block at the current lower bound
// that does not run past end, then advance.
func SplitRange(start, end Uint128, width int) ([]Prefix, error) {
	if end.Less(start) {
		return nil, fmt.Errorf("split range: start %s after end %s", start, end)
	}
	if MaxAddr(width).Less(end) {
		return nil, fmt.Errorf("split range: end %s outside %d-bit space", end, width)
	}

	var out []Prefix
	cur := start
	for {
		// Largest power-of-two alignment available at cur, capped by width.
		s := cur.TrailingZeros()
		if s > width {
			s = width
		}
		// Shrink until the block stays inside [cur, end].
		for s > 0 && end.Less(blockEnd(cur, s)) {
			s--
		}
		out = append(out, Prefix{Addr: cur, Len: width - s})

		last := blockEnd(cur, s)
		if !last.Less(end) {
			return out, nil
		}
		cur = last.AddOne()
	}
}

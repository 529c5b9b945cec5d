package mmdb

import (
	"errors"
	"fmt"
)

// ErrTrieConflict reports two inserted blocks overlapping in the search
// tree. The merge stage guarantees non-overlapping input, so hitting this
// means an internal consistency bug, and the build must abort.
var ErrTrieConflict = errors.New("trie conflict: overlapping blocks")

type refKind uint8

const (
	refEmpty refKind = iota // no data below this child
	refNode                 // child points at another trie node
	refData                 // child is a leaf holding a data-section offset
)

// childRef is one child slot of a trie node: empty, a node index, or a
// data-section offset. The tag is explicit in memory; the on-disk form
// collapses it into the value range of the record (see writer.go).
type childRef struct {
	kind  refKind
	value uint32
}

type trieNode struct {
	child [2]childRef
}

// trie is the binary search tree under construction. Node 0 is the root.
type trie struct {
	width int
	nodes []trieNode
}

func newTrie(width int) *trie {
	return &trie{width: width, nodes: make([]trieNode, 1)}
}

// insert places a leaf for the given CIDR block referencing the data at
// offset. Descends one bit at a time MSB-first, creating interior nodes
// as needed. Never overwrites: any collision is ErrTrieConflict.
func (t *trie) insert(p Prefix, offset uint32) error {
	if p.Len == 0 {
		// A /0 leaf would make the root itself a leaf, which the node
		// array cannot express. Split into the two half-space blocks.
		half := pow2(t.width - 1)
		if err := t.insert(Prefix{Addr: p.Addr, Len: 1}, offset); err != nil {
			return err
		}
		hi, _ := p.Addr.Add(half)
		return t.insert(Prefix{Addr: hi, Len: 1}, offset)
	}

	cur := 0
	for i := 0; i < p.Len-1; i++ {
		bit := p.Addr.Bit(t.width, i)
		ref := t.nodes[cur].child[bit]
		switch ref.kind {
		case refEmpty:
			next := len(t.nodes)
			if next > maxNodeCount {
				return fmt.Errorf("insert %s: node array exceeds %d entries", p, maxNodeCount)
			}
			t.nodes = append(t.nodes, trieNode{})
			t.nodes[cur].child[bit] = childRef{kind: refNode, value: uint32(next)}
			cur = next
		case refNode:
			cur = int(ref.value)
		case refData:
			// Descending through an existing leaf: the new block is
			// inside an already-inserted one.
			return fmt.Errorf("insert %s: %w", p, ErrTrieConflict)
		}
	}

	bit := p.Addr.Bit(t.width, p.Len-1)
	if t.nodes[cur].child[bit].kind != refEmpty {
		return fmt.Errorf("insert %s: %w", p, ErrTrieConflict)
	}
	t.nodes[cur].child[bit] = childRef{kind: refData, value: offset}
	return nil
}

// maxNodeCount keeps node indices and data pointers representable in
// 32-bit records.
const maxNodeCount = 1<<31 - 1

// Package zset implements the sorted-set container: a membership index
// (internal/hashmap, by member name) composed with an ordered index
// (internal/avl, by (score, name)) so that ZADD/ZREM/ZSCORE are O(1)
// amortized while ZQUERY's range-seek and offset walk stay O(log n).
package zset

import (
	"github.com/photondb/photondb/internal/avl"
	"github.com/photondb/photondb/internal/fnvhash"
	"github.com/photondb/photondb/internal/hashmap"
)

// Node is one sorted-set member. It is returned by Lookup/SeekGE/Offset and
// the caller uses Score/Name to read it or passes it back to Offset/Delete.
type Node struct {
	score float64
	name  string
	hcode uint64
	idx   *avl.Node[*Node]
}

// Score returns the member's current score.
func (n *Node) Score() float64 { return n.score }

// Name returns the member's name.
func (n *Node) Name() string { return n.name }

// HashCode satisfies hashmap.Entry.
func (n *Node) HashCode() uint64 { return n.hcode }

func less(a, b *avl.Node[*Node]) bool {
	av, bv := a.Value, b.Value
	if av.score != bv.score {
		return av.score < bv.score
	}
	// Go's string '<' already gives the right tiebreak: byte-wise
	// compare, and when one name is a prefix of the other the shorter
	// one sorts first.
	return av.name < bv.name
}

func eqName(name string) func(*Node) bool {
	return func(n *Node) bool { return n.name == name }
}

// Set is a sorted set: hmap maps name -> *Node (via hash code + name
// equality), tree orders *Node by (score, name).
type Set struct {
	hmap *hashmap.Table[*Node]
	tree *avl.Tree[*Node]
	size int
}

// New returns an empty sorted set.
func New() *Set {
	return &Set{
		hmap: hashmap.New[*Node](),
		tree: avl.NewTree(less),
	}
}

// Len returns the number of members.
func (s *Set) Len() int { return s.size }

// Insert adds name with score if absent, returning true. If name already
// exists with a different score, its position in the ordered index is
// updated (hash position is untouched) and Insert returns false. If name
// exists with the same score, Insert is a no-op and returns false.
func (s *Set) Insert(name string, score float64) bool {
	hcode := fnvhash.Sum32Widened(name)
	if n, ok := s.hmap.Lookup(hcode, eqName(name)); ok {
		if n.score == score {
			return false
		}
		s.tree.Delete(n.idx)
		n.score = score
		s.tree.Insert(n.idx)
		return false
	}

	n := &Node{score: score, name: name, hcode: hcode}
	n.idx = avl.NewNode(n)
	s.hmap.Insert(n)
	s.tree.Insert(n.idx)
	s.size++
	return true
}

// Lookup finds a member by name. O(1) amortized.
func (s *Set) Lookup(name string) (*Node, bool) {
	return s.hmap.Lookup(fnvhash.Sum32Widened(name), eqName(name))
}

// Delete removes n from the set.
func (s *Set) Delete(n *Node) {
	s.hmap.Delete(n.hcode, eqName(n.name))
	s.tree.Delete(n.idx)
	s.size--
}

// SeekGE returns the smallest member >= (score, name), or nil.
func (s *Set) SeekGE(score float64, name string) *Node {
	key := avl.NewNode(&Node{score: score, name: name})

	var found *avl.Node[*Node]
	for n := s.tree.Root(); n != nil; {
		if less(n, key) {
			n = n.Right()
		} else {
			found = n
			n = n.Left()
		}
	}
	if found == nil {
		return nil
	}
	return found.Value
}

// Offset walks k positions ahead (k>0) or behind (k<0) of n in sorted
// order, returning nil if the walk exits the set.
func Offset(n *Node, k int64) *Node {
	if n == nil {
		return nil
	}
	target := avl.Offset(n.idx, k)
	if target == nil {
		return nil
	}
	return target.Value
}

// ForEach calls f for every member; iteration order is unspecified (it
// walks the hash table, not the ordered index).
func (s *Set) ForEach(f func(*Node) bool) {
	s.hmap.ForEach(f)
}

// Clear removes all members.
func (s *Set) Clear() {
	s.hmap.Clear()
	s.tree = avl.NewTree(less)
	s.size = 0
}

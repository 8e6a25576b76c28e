package avl

import (
	"math/rand"
	"sort"
	"testing"
)

func intLess(a, b *Node[int]) bool { return a.Value < b.Value }

// checkInvariants walks the whole tree verifying the balance factor and
// count bookkeeping every mutation must leave consistent.
func checkInvariants[T any](t *testing.T, n *Node[T]) (h, c int32) {
	t.Helper()
	if n == nil {
		return 0, 0
	}
	lh, lc := checkInvariants[T](t, n.left)
	rh, rc := checkInvariants[T](t, n.right)

	if d := lh - rh; d > 1 || d < -1 {
		t.Fatalf("balance violation: left height %d right height %d", lh, rh)
	}
	wantH := max32(lh, rh) + 1
	if n.height != wantH {
		t.Fatalf("height mismatch: got %d want %d", n.height, wantH)
	}
	wantC := lc + rc + 1
	if n.count != wantC {
		t.Fatalf("count mismatch: got %d want %d", n.count, wantC)
	}
	return wantH, wantC
}

func inorder(n *Node[int], out *[]int) {
	if n == nil {
		return
	}
	inorder(n.left, out)
	*out = append(*out, n.Value)
	inorder(n.right, out)
}

func TestInsertMaintainsInvariantsAndOrder(t *testing.T) {
	tree := NewTree(intLess)
	var want []int
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 2000; i++ {
		v := rng.Intn(5000)
		tree.Insert(NewNode(v))
		want = append(want, v)
		checkInvariants[int](t, tree.root)
	}

	sort.Ints(want)
	var got []int
	inorder(tree.root, &got)
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %d want %d", i, got[i], want[i])
		}
	}
	if tree.Len() != len(want) {
		t.Fatalf("Len() = %d, want %d", tree.Len(), len(want))
	}
}

func TestDeleteMaintainsInvariants(t *testing.T) {
	tree := NewTree(intLess)
	nodes := make([]*Node[int], 0, 500)
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 500; i++ {
		n := NewNode(rng.Intn(10000))
		tree.Insert(n)
		nodes = append(nodes, n)
	}

	rng.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	for _, n := range nodes {
		tree.Delete(n)
		if tree.root != nil {
			checkInvariants[int](t, tree.root)
		}
	}
	if tree.Len() != 0 {
		t.Fatalf("expected empty tree, got len %d", tree.Len())
	}
}

func TestOffsetMatchesLinearRank(t *testing.T) {
	tree := NewTree(intLess)
	var nodes []*Node[int]
	for i := 0; i < 200; i++ {
		n := NewNode(i) // distinct ascending values => insertion order == sorted order
		tree.Insert(n)
		nodes = append(nodes, n)
	}

	mid := nodes[100]
	for k := int64(-100); k <= 99; k++ {
		got := Offset(mid, k)
		wantIdx := 100 + int(k)
		if got == nil {
			t.Fatalf("offset(%d) = nil, want value %d", k, wantIdx)
		}
		if got.Value != wantIdx {
			t.Fatalf("offset(%d) = %d, want %d", k, got.Value, wantIdx)
		}
	}

	if Offset(mid, 1000) != nil {
		t.Fatalf("offset beyond tree bounds should be nil")
	}
}

func TestFirst(t *testing.T) {
	tree := NewTree(intLess)
	if tree.First() != nil {
		t.Fatalf("First() on empty tree should be nil")
	}
	for _, v := range []int{5, 3, 8, 1, 4} {
		tree.Insert(NewNode(v))
	}
	if tree.First().Value != 1 {
		t.Fatalf("First() = %d, want 1", tree.First().Value)
	}
}

package expireheap

import (
	"math/rand"
	"testing"
)

type owner struct {
	name string
	idx  int
}

func (o *owner) HeapIndex() int     { return o.idx }
func (o *owner) SetHeapIndex(i int) { o.idx = i }

func newOwner(name string) *owner { return &owner{name: name, idx: UnsetIndex} }

func TestUpsertOrdersByDeadline(t *testing.T) {
	h := New[*owner]()
	a, b, c := newOwner("a"), newOwner("b"), newOwner("c")
	h.Upsert(a, 300)
	h.Upsert(b, 100)
	h.Upsert(c, 200)

	var order []string
	for h.Len() > 0 {
		v, _, _ := h.Pop()
		order = append(order, v.name)
	}
	want := []string{"b", "c", "a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("pop order = %v, want %v", order, want)
		}
	}
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	h := New[*owner]()
	a, b := newOwner("a"), newOwner("b")
	h.Upsert(a, 100)
	h.Upsert(b, 200)

	// Pushing a's deadline later should move b to the front.
	h.Upsert(a, 300)
	v, deadline, ok := h.Peek()
	if !ok || v.name != "b" || deadline != 200 {
		t.Fatalf("peek = %v %d %v, want b 200 true", v.name, deadline, ok)
	}
}

func TestRemove(t *testing.T) {
	h := New[*owner]()
	a, b, c := newOwner("a"), newOwner("b"), newOwner("c")
	h.Upsert(a, 1)
	h.Upsert(b, 2)
	h.Upsert(c, 3)

	h.Remove(b)
	if b.HeapIndex() != UnsetIndex {
		t.Fatalf("removed item should have its heap index reset to unset")
	}
	if h.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", h.Len())
	}

	var remaining []string
	for h.Len() > 0 {
		v, _, _ := h.Pop()
		remaining = append(remaining, v.name)
	}
	if len(remaining) != 2 || remaining[0] != "a" || remaining[1] != "c" {
		t.Fatalf("remaining = %v, want [a c]", remaining)
	}
}

func TestBackIndexCoherenceUnderChurn(t *testing.T) {
	h := New[*owner]()
	rng := rand.New(rand.NewSource(42))
	owners := make([]*owner, 0, 300)

	for i := 0; i < 300; i++ {
		o := newOwner("x")
		owners = append(owners, o)
		h.Upsert(o, rng.Int63n(10000))
	}

	for i := 0; i < 1000; i++ {
		o := owners[rng.Intn(len(owners))]
		switch rng.Intn(3) {
		case 0:
			h.Upsert(o, rng.Int63n(10000))
		case 1:
			h.Remove(o)
		case 2:
			if o.HeapIndex() != UnsetIndex {
				if h.h[o.HeapIndex()].value != o {
					t.Fatalf("back-index coherence violated for %p", o)
				}
			}
		}
	}
}

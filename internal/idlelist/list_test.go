package idlelist

import "testing"

func TestTouchMovesToBack(t *testing.T) {
	q := New[string]()
	ea := q.PushBack("a")
	q.PushBack("b")
	ec := q.PushBack("c")

	q.Touch(ea) // a becomes most-recently-active

	var order []string
	for q.Len() > 0 {
		v, e, _ := q.FrontElem()
		order = append(order, v)
		q.Remove(e)
	}
	want := []string{"b", "c", "a"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	_ = ec
}

func TestRemoveMidList(t *testing.T) {
	q := New[int]()
	q.PushBack(1)
	e2 := q.PushBack(2)
	q.PushBack(3)

	q.Remove(e2)
	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}

	v, _, ok := q.FrontElem()
	if !ok || v != 1 {
		t.Fatalf("front = %v, %v; want 1, true", v, ok)
	}
}

func TestFrontOnEmpty(t *testing.T) {
	q := New[int]()
	if _, ok := q.Front(); ok {
		t.Fatalf("Front() on empty list should report false")
	}
}

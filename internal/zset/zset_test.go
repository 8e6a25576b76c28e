package zset

import "testing"

func TestInsertUpdateScore(t *testing.T) {
	s := New()
	if !s.Insert("a", 1) {
		t.Fatalf("first insert of a should report true (new)")
	}
	if s.Insert("a", 1) {
		t.Fatalf("re-insert with same score should report false")
	}
	if s.Insert("a", 2) {
		t.Fatalf("re-insert with new score should report false")
	}
	n, ok := s.Lookup("a")
	if !ok || n.Score() != 2 {
		t.Fatalf("lookup(a) = %v, %v; want score 2", n, ok)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}
}

func TestInsertReturnsFalseOnScoreChangeThenSeekGEOrdersByScoreThenName(t *testing.T) {
	// Inserting "a" a second time with a different score reports false
	// (not a new member); seeking from score 2 walks members in
	// (score, name) order.
	s := New()
	results := []bool{
		s.Insert("a", 1),
		s.Insert("b", 2),
		s.Insert("c", 2),
		s.Insert("a", 2),
	}
	want := []bool{true, true, true, false}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("insert #%d = %v, want %v", i, results[i], want[i])
		}
	}

	n := s.SeekGE(2, "")
	var names []string
	for n != nil {
		names = append(names, n.Name())
		n = Offset(n, 1)
	}
	wantNames := []string{"a", "b", "c"}
	if len(names) != len(wantNames) {
		t.Fatalf("names = %v, want %v", names, wantNames)
	}
	for i := range wantNames {
		if names[i] != wantNames[i] {
			t.Fatalf("names[%d] = %s, want %s", i, names[i], wantNames[i])
		}
	}
}

func TestDeleteRemovesFromBothIndices(t *testing.T) {
	s := New()
	s.Insert("a", 1)
	n, _ := s.Lookup("a")
	s.Delete(n)
	if _, ok := s.Lookup("a"); ok {
		t.Fatalf("a should be gone after delete")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
	if s.SeekGE(0, "") != nil {
		t.Fatalf("SeekGE on empty set should return nil")
	}
}

func TestSeekGEFindsSmallestNotLess(t *testing.T) {
	s := New()
	for _, m := range []struct {
		name  string
		score float64
	}{{"x", 1}, {"y", 3}, {"z", 5}} {
		s.Insert(m.name, m.score)
	}
	n := s.SeekGE(2, "")
	if n == nil || n.Name() != "y" {
		t.Fatalf("SeekGE(2, \"\") = %v, want y", n)
	}
	n = s.SeekGE(10, "")
	if n != nil {
		t.Fatalf("SeekGE beyond max should be nil, got %v", n)
	}
}

func TestOffsetBeyondRangeIsNil(t *testing.T) {
	s := New()
	s.Insert("only", 1)
	n, _ := s.Lookup("only")
	if Offset(n, 1) != nil {
		t.Fatalf("offset past the last member should be nil")
	}
	if Offset(n, -1) != nil {
		t.Fatalf("offset before the first member should be nil")
	}
}

func TestClear(t *testing.T) {
	s := New()
	for i := 0; i < 50; i++ {
		s.Insert(string(rune('a'+i%26))+string(rune(i)), float64(i))
	}
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("Len() after Clear = %d, want 0", s.Len())
	}
}

func TestTieBreakByNameLength(t *testing.T) {
	// Same score: "ab" should sort before "abc" (shorter prefix is less).
	s := New()
	s.Insert("abc", 1)
	s.Insert("ab", 1)
	n := s.SeekGE(1, "")
	if n == nil || n.Name() != "ab" {
		t.Fatalf("first member at score 1 should be \"ab\", got %v", n)
	}
}

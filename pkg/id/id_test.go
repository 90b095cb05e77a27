package id

import "testing"

func TestNextMonotonic(t *testing.T) {
	g := NewGenerator()
	prev := g.Next()
	for i := 0; i < 1000; i++ {
		next := g.Next()
		if next.String() <= prev.String() {
			t.Fatalf("ids not increasing: %s then %s", prev, next)
		}
		prev = next
	}
}

func TestNextClockRegression(t *testing.T) {
	g := NewGenerator()
	fake := int64(5_000_000)
	orig := nowMs
	nowMs = func() int64 { return fake }
	defer func() { nowMs = orig }()

	a := g.Next()
	fake = 4_000_000 // clock steps back
	b := g.Next()
	if b.String() <= a.String() {
		t.Fatalf("expected monotonic ids across clock regression: %s then %s", a, b)
	}
}

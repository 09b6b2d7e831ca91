package idgen

import "testing"

func TestGeneratorNewID(t *testing.T) {
	t.Parallel()
	g := New()
	a, err := g.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	b, err := g.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if a == b {
		t.Fatal("expected distinct ids")
	}
	if len(a) != 36 {
		t.Fatalf("expected uuid string length 36, got %d", len(a))
	}
}

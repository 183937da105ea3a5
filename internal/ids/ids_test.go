package ids

import "testing"

func TestCorrelationIDsAreOrderedV7(t *testing.T) {
	a := NewUUIDv7()
	b := NewUUIDv7()
	if a.Version() != 7 {
		t.Fatalf("expected version 7, got %d", a.Version())
	}
	if a.String() >= b.String() {
		t.Fatalf("expected time-ordered ids, got %s then %s", a, b)
	}
}

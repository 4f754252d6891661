package flowstate

import "testing"

func TestUpdateClassifiesAfterThreshold(t *testing.T) {
	r := New(ThresholdPolicy{Bytes: 1000, Packets: 1000})

	for i := 0; i < 5; i++ {
		c := r.Update("flowA", 100, uint64(i))
		if c != SMALL {
			t.Fatalf("expected SMALL before threshold, got %v at iteration %d", c, i)
		}
	}
	c := r.Update("flowA", 600, 5)
	if c != BULK {
		t.Fatalf("expected BULK after exceeding byte threshold, got %v", c)
	}
	if !r.NeedsCoding("flowA") {
		t.Fatal("expected NeedsCoding true for BULK flow")
	}
}

func TestBulkClassificationIsSticky(t *testing.T) {
	r := New(ThresholdPolicy{Bytes: 100, Packets: 1000})
	r.Update("flowB", 200, 0)
	if c := r.Update("flowB", 1, 1); c != BULK {
		t.Fatalf("expected classification to remain BULK, got %v", c)
	}
}

func TestNeedsCodingUnknownFlowDefaultsFalse(t *testing.T) {
	r := New(nil)
	if r.NeedsCoding("never-seen") {
		t.Fatal("expected NeedsCoding false for an untracked flow")
	}
}

func TestLookup(t *testing.T) {
	r := New(nil)
	if _, ok := r.Lookup("x"); ok {
		t.Fatal("expected not found before any Update")
	}
	r.Update("x", 50, 3)
	s, ok := r.Lookup("x")
	if !ok {
		t.Fatal("expected found after Update")
	}
	if s.ByteCount != 50 || s.PacketCount != 1 || s.FirstSeenTick != 3 {
		t.Fatalf("unexpected flow state: %+v", s)
	}
}

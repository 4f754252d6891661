package route

import "testing"

func ipu32(t *testing.T, s string) uint32 {
	t.Helper()
	tbl := New()
	if err := tbl.Add(s, 32, "x", 0); err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return tbl.routes[0].Destination
}

func TestLongestPrefixMatchPrefersMoreSpecific(t *testing.T) {
	tbl := New()
	if err := tbl.Add("10.0.0.0", 8, "10.0.0.1", 10); err != nil {
		t.Fatal(err)
	}
	if err := tbl.Add("10.1.0.0", 16, "10.1.0.1", 10); err != nil {
		t.Fatal(err)
	}

	got := tbl.LongestPrefixMatch(ipu32(t, "10.1.2.3"))
	if got != "10.1.0.1" {
		t.Fatalf("expected more specific route, got %q", got)
	}

	got = tbl.LongestPrefixMatch(ipu32(t, "10.2.2.3"))
	if got != "10.0.0.1" {
		t.Fatalf("expected fallback to /8 route, got %q", got)
	}
}

func TestLongestPrefixMatchNoRoute(t *testing.T) {
	tbl := New()
	if err := tbl.Add("10.0.0.0", 8, "10.0.0.1", 0); err != nil {
		t.Fatal(err)
	}
	got := tbl.LongestPrefixMatch(ipu32(t, "192.168.1.1"))
	if got != "" {
		t.Fatalf("expected empty next-hop for unmatched destination, got %q", got)
	}
}

func TestAddRejectsInvalidInput(t *testing.T) {
	tbl := New()
	if err := tbl.Add("not-an-ip", 8, "x", 0); err == nil {
		t.Fatal("expected error for invalid destination")
	}
	if err := tbl.Add("10.0.0.0", 33, "x", 0); err == nil {
		t.Fatal("expected error for invalid mask length")
	}
}

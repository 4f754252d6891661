package ioudp

import (
	"bytes"
	"testing"
)

func TestNewSealerIsNilForAnEmptyKey(t *testing.T) {
	s, err := newSealer(nil)
	if err != nil {
		t.Fatalf("newSealer(nil): %v", err)
	}
	if s != nil {
		t.Fatal("expected a nil *sealer for an empty key")
	}
}

func TestSealerRoundTripsAPayload(t *testing.T) {
	key := bytes.Repeat([]byte{0x11}, 32)
	s, err := newSealer(key)
	if err != nil {
		t.Fatalf("newSealer: %v", err)
	}

	header := []byte("20-byte-header-here!")
	payload := []byte("arbitrary payload bytes")

	sealed, err := s.seal(nil, header, payload)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if bytes.Contains(sealed, payload) {
		t.Fatal("sealed output should not contain the plaintext payload")
	}

	opened, err := s.open(header, sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(opened, payload) {
		t.Fatalf("opened = %q, want %q", opened, payload)
	}
}

func TestSealerRejectsTamperedHeader(t *testing.T) {
	key := bytes.Repeat([]byte{0x22}, 32)
	s, err := newSealer(key)
	if err != nil {
		t.Fatalf("newSealer: %v", err)
	}

	header := []byte("20-byte-header-here!")
	sealed, err := s.seal(nil, header, []byte("payload"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	tampered := append([]byte(nil), header...)
	tampered[0] ^= 0xFF
	if _, err := s.open(tampered, sealed); err == nil {
		t.Fatal("expected open to reject a tampered header")
	}
}

func TestSealerRejectsShortCiphertext(t *testing.T) {
	key := bytes.Repeat([]byte{0x33}, 32)
	s, err := newSealer(key)
	if err != nil {
		t.Fatalf("newSealer: %v", err)
	}
	if _, err := s.open([]byte("header"), []byte("short")); err == nil {
		t.Fatal("expected an error opening ciphertext shorter than the nonce")
	}
}

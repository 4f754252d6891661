package ioudp

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// sealer seals/opens the payload that follows the 20-byte wire header
// with ChaCha20-Poly1305, keyed by [transport] cipher_key. The header
// itself is carried as associated data: authenticated but not encrypted,
// since UdpNode's read path decodes it before a session exists to open
// the ciphertext with. A nil *sealer is a no-op passthrough, matching a
// relay with no cipher_key configured.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	if len(key) == 0 {
		return nil, nil
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("ioudp: chacha20poly1305 key: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// seal appends a fresh nonce followed by sealed(payload) to dst, with
// header authenticated as associated data.
func (s *sealer) seal(dst, header, payload []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("ioudp: nonce: %w", err)
	}
	dst = append(dst, nonce...)
	return s.aead.Seal(dst, nonce, payload, header), nil
}

// open splits the leading nonce from sealed and authenticates/decrypts
// it against header.
func (s *sealer) open(header, sealed []byte) ([]byte, error) {
	n := s.aead.NonceSize()
	if len(sealed) < n {
		return nil, fmt.Errorf("ioudp: ciphertext shorter than nonce (%d < %d)", len(sealed), n)
	}
	nonce, ciphertext := sealed[:n], sealed[n:]
	plain, err := s.aead.Open(ciphertext[:0], nonce, ciphertext, header)
	if err != nil {
		return nil, fmt.Errorf("ioudp: open: %w", err)
	}
	return plain, nil
}

// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ssh

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"
)

func mustRandBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

// TestStreamCipherSealOpenRoundTrip exercises spec.md §8's property for
// the non-AEAD aes-ctr + hmac-sha2-256 suite.
func TestStreamCipherSealOpenRoundTrip(t *testing.T) {
	key := mustRandBytes(t, 32)
	iv := mustRandBytes(t, 16)
	macKey := mustRandBytes(t, 32)

	seal, err := newAESCTRCipher(key, iv)
	if err != nil {
		t.Fatalf("newAESCTRCipher (seal side): %v", err)
	}
	seal.(*streamCipherSuite).setMAC(macHMACSHA256, macKey)

	open, err := newAESCTRCipher(key, iv)
	if err != nil {
		t.Fatalf("newAESCTRCipher (open side): %v", err)
	}
	open.(*streamCipherSuite).setMAC(macHMACSHA256, macKey)

	payload := []byte("the quick brown fox jumps over the lazy dog, 0123456789")
	sealed, err := seal.seal(0, payload)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	plain, err := open.open(0, sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(plain, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", plain, payload)
	}
}

func TestStreamCipherBitFlipFailsMAC(t *testing.T) {
	key := mustRandBytes(t, 32)
	iv := mustRandBytes(t, 16)
	macKey := mustRandBytes(t, 32)

	seal, _ := newAESCTRCipher(key, iv)
	seal.(*streamCipherSuite).setMAC(macHMACSHA256, macKey)
	open, _ := newAESCTRCipher(key, iv)
	open.(*streamCipherSuite).setMAC(macHMACSHA256, macKey)

	sealed, err := seal.seal(3, []byte("payload bytes"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed[0] ^= 0x01
	if _, err := open.open(3, sealed); err == nil {
		t.Fatal("expected a one-bit flip to fail MAC verification")
	}
}

func TestAEADSealOpenRoundTrip(t *testing.T) {
	key := mustRandBytes(t, 64) // main key + length key, OpenSSH convention
	seal, err := newChaCha20Poly1305Cipher(key, nil)
	if err != nil {
		t.Fatalf("newChaCha20Poly1305Cipher (seal side): %v", err)
	}
	open, err := newChaCha20Poly1305Cipher(key, nil)
	if err != nil {
		t.Fatalf("newChaCha20Poly1305Cipher (open side): %v", err)
	}

	payload := []byte("\x00session payload after padding length byte")
	sealed, err := seal.seal(42, payload)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	plain, err := open.open(42, sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(plain, payload) {
		t.Fatalf("round trip mismatch: got %q want %q", plain, payload)
	}
}

func TestAEADBitFlipFailsTag(t *testing.T) {
	key := mustRandBytes(t, 64)
	seal, _ := newChaCha20Poly1305Cipher(key, nil)
	open, _ := newChaCha20Poly1305Cipher(key, nil)

	sealed, err := seal.seal(7, []byte("\x04abcd"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	sealed[len(sealed)-1] ^= 0x01 // flip a bit in the tag
	if _, err := open.open(7, sealed); err == nil {
		t.Fatal("expected a one-bit flip to fail tag verification")
	}
}

func TestAEADRejectsWrongKeySize(t *testing.T) {
	if _, err := newChaCha20Poly1305Cipher(mustRandBytes(t, 10), nil); err == nil {
		t.Fatal("expected wrong key size to be rejected")
	}
}

func TestChaCha20LengthStreamDeterministic(t *testing.T) {
	key := mustRandBytes(t, 32)
	a, err := newChaCha20LengthStream(key, 5)
	if err != nil {
		t.Fatalf("newChaCha20LengthStream: %v", err)
	}
	b, err := newChaCha20LengthStream(key, 5)
	if err != nil {
		t.Fatalf("newChaCha20LengthStream: %v", err)
	}

	in := []byte{0, 0, 1, 0}
	var outA, outB [4]byte
	a.XORKeyStream(outA[:], in)
	b.XORKeyStream(outB[:], in)
	if !bytes.Equal(outA[:], outB[:]) {
		t.Fatal("same key/seq should produce the same keystream")
	}

	c, _ := newChaCha20LengthStream(key, 6)
	var outC [4]byte
	c.XORKeyStream(outC[:], in)
	if bytes.Equal(outA[:], outC[:]) {
		t.Fatal("different sequence numbers should produce different keystreams")
	}
}

// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package vmcrypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"oclare.dev/pkg/internal/buildctx"
)

func TestKeyStream(t *testing.T) {
	// RFC 8439 appendix A.1, test vector 1.
	want, err := hex.DecodeString("76b8e0ada0f13d90405d6ae55386bd28bdd219b8a08ded1aa836efcc8b770dc7")
	if err != nil {
		t.Fatal(err)
	}
	got := xorKeyStream(make([]byte, KeySize), make([]byte, 12), make([]byte, len(want)))
	if !bytes.Equal(got, want) {
		t.Errorf("key stream = %x; want %x", got, want)
	}
}

func TestRoundTrip(t *testing.T) {
	inputs := [][]byte{
		nil,
		[]byte("x"),
		[]byte(strings.Repeat("bytecode", 100)),
	}
	for _, method := range Methods() {
		t.Run(method.String(), func(t *testing.T) {
			s, err := New(buildctx.NewRand("round trip"), method, 0xdeadbeef)
			if err != nil {
				t.Fatal(err)
			}
			for _, input := range inputs {
				b := s.Encrypt(input)
				if b.Method != method {
					t.Errorf("Method = %v; want %v", b.Method, method)
				}
				if len(input) > 0 && bytes.Contains(b.Data, input) {
					t.Errorf("ciphertext contains plaintext %q", input)
				}
				got, err := Decrypt(b)
				if err != nil {
					t.Error(err)
					continue
				}
				if !bytes.Equal(got, input) {
					t.Errorf("Decrypt(Encrypt(%q)) = %q", input, got)
				}
			}
		})
	}
}

func TestEncryptText(t *testing.T) {
	for _, method := range Methods() {
		t.Run(method.String(), func(t *testing.T) {
			s, err := New(buildctx.NewRand("text"), method, 7)
			if err != nil {
				t.Fatal(err)
			}
			overhead := 0
			if method == XSalsa20Poly1305 {
				overhead = secretboxOverhead
			}
			for _, text := range []string{"", "print", "héllo wörld", strings.Repeat("a", 28), strings.Repeat("b", 29)} {
				b := s.EncryptText(text)
				n := len(b.Data) - overhead
				if n%textBlockSize != 0 {
					t.Errorf("EncryptText(%q) payload is %d bytes; want a multiple of %d", text, n, textBlockSize)
				}
				lo := (4 + len(text) + textBlockSize - 1) / textBlockSize * textBlockSize
				if n < lo || n > lo+maxExtraBlocks*textBlockSize {
					t.Errorf("EncryptText(%q) payload is %d bytes; want in [%d, %d]", text, n, lo, lo+maxExtraBlocks*textBlockSize)
				}
				got, err := DecryptText(b)
				if err != nil {
					t.Error(err)
					continue
				}
				if got != text {
					t.Errorf("DecryptText(EncryptText(%q)) = %q", text, got)
				}
			}
		})
	}
}

const secretboxOverhead = 16

func TestNonces(t *testing.T) {
	const salt = 0x01020304
	for _, method := range Methods() {
		s, err := New(buildctx.NewRand("nonces"), method, salt)
		if err != nil {
			t.Fatal(err)
		}
		seen := make(map[string]int)
		for i := range 300 {
			b := s.Encrypt([]byte{byte(i)})
			if len(b.Nonce) != method.NonceSize() {
				t.Fatalf("%v: len(Nonce) = %d; want %d", method, len(b.Nonce), method.NonceSize())
			}
			if prev, dup := seen[string(b.Nonce)]; dup {
				t.Errorf("%v: blob %d reuses the nonce of blob %d", method, i, prev)
			}
			seen[string(b.Nonce)] = i
			counter := uint32(b.Nonce[0]) | uint32(b.Nonce[1])<<8 | uint32(b.Nonce[2])<<16 | uint32(b.Nonce[3])<<24
			if got := counter ^ salt; got != uint32(i) {
				t.Errorf("%v: blob %d nonce counter = %d", method, i, got)
			}
		}
		if got := s.NonceCount(); got != 300 {
			t.Errorf("%v: NonceCount() = %d; want 300", method, got)
		}
	}
}

func TestDeterministic(t *testing.T) {
	encrypt := func(salt uint32) *Blob {
		s, err := New(buildctx.NewRand("same seed"), ChaCha20, salt)
		if err != nil {
			t.Fatal(err)
		}
		return s.EncryptText("constant")
	}
	if diff := cmp.Diff(encrypt(1), encrypt(1)); diff != "" {
		t.Errorf("same seed and salt (-first +second):\n%s", diff)
	}
	if a, b := encrypt(1), encrypt(2); bytes.Equal(a.Data, b.Data) {
		t.Error("different salts produced the same ciphertext")
	}
}

func TestEncryptWith(t *testing.T) {
	s, err := New(buildctx.NewRand("with"), ChaCha20, 0)
	if err != nil {
		t.Fatal(err)
	}
	var key [KeySize]byte
	for i := range key {
		key[i] = byte(i)
	}
	b := s.EncryptWith(&key, []byte("dispatch"))
	if !bytes.Equal(b.Key, key[:]) {
		t.Errorf("Key = %x; want %x", b.Key, key)
	}
	if bytes.Equal(b.Key, s.Key()) {
		t.Error("EncryptWith used the build key")
	}
	got, err := Decrypt(b)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "dispatch" {
		t.Errorf("Decrypt(...) = %q; want %q", got, "dispatch")
	}
}

func TestDecryptTampered(t *testing.T) {
	s, err := New(buildctx.NewRand("tamper"), XSalsa20Poly1305, 0)
	if err != nil {
		t.Fatal(err)
	}
	b := s.Encrypt([]byte("authenticated"))
	b.Data[len(b.Data)-1] ^= 1
	if _, err := Decrypt(b); !errors.Is(err, ErrAuth) {
		t.Errorf("Decrypt(tampered) = _, %v; want %v", err, ErrAuth)
	}
}

func TestSplitKey(t *testing.T) {
	rng := buildctx.NewRand("split")
	key := rng.Bytes(KeySize)
	for _, n := range []int{3, 4, 7} {
		shares, err := SplitKey(rng, key, n)
		if err != nil {
			t.Fatal(err)
		}
		if len(shares) != n {
			t.Errorf("SplitKey(..., %d) returned %d shares", n, len(shares))
		}
		for i, share := range shares {
			if bytes.Equal(share, key) {
				t.Errorf("share %d of %d equals the key", i, n)
			}
		}
		if got := CombineShares(shares); !bytes.Equal(got, key) {
			t.Errorf("CombineShares(SplitKey(key, %d)) = %x; want %x", n, got, key)
		}
	}
	if _, err := SplitKey(rng, key, 2); err == nil {
		t.Error("SplitKey(..., 2) did not return an error")
	}
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		s    string
		want Method
	}{
		{"chacha20", ChaCha20},
		{"ChaCha20", ChaCha20},
		{"xsalsa20-poly1305", XSalsa20Poly1305},
		{"xsalsa20poly1305", XSalsa20Poly1305},
		{"secretbox", XSalsa20Poly1305},
	}
	for _, test := range tests {
		got, err := ParseMethod(test.s)
		if got != test.want || err != nil {
			t.Errorf("ParseMethod(%q) = %v, %v; want %v, <nil>", test.s, got, err, test.want)
		}
	}
	if _, err := ParseMethod("aes"); err == nil {
		t.Error("ParseMethod(\"aes\") did not return an error")
	}
	if _, err := New(buildctx.NewRand(""), 0, 0); err == nil {
		t.Error("New with zero method did not return an error")
	}
}

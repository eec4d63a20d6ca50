// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package vmcrypto encrypts the bytecode, constants, and dispatch table
// of a protected program.
package vmcrypto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/nacl/secretbox"
	"oclare.dev/pkg/internal/buildctx"
)

// KeySize is the size of every key in bytes.
const KeySize = 32

const (
	nonceSeedSize  = 12
	textBlockSize  = 32
	maxExtraBlocks = 3
)

// Method is a cipher that the generated program knows how to undo.
type Method uint8

// Supported methods.
const (
	// ChaCha20 is the RFC 8439 stream cipher with a block counter starting at 0.
	// The generated program carries its own implementation.
	ChaCha20 Method = 1 + iota
	// XSalsa20Poly1305 is NaCl's secretbox.
	// The generated program requires a luasodium-compatible module.
	XSalsa20Poly1305
)

// Methods returns every supported method.
func Methods() []Method {
	return []Method{ChaCha20, XSalsa20Poly1305}
}

// IsValid reports whether m is a supported method.
func (m Method) IsValid() bool {
	return m == ChaCha20 || m == XSalsa20Poly1305
}

// String returns the method's name, like "chacha20".
func (m Method) String() string {
	switch m {
	case ChaCha20:
		return "chacha20"
	case XSalsa20Poly1305:
		return "xsalsa20-poly1305"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// NonceSize returns the size of m's nonces in bytes.
func (m Method) NonceSize() int {
	switch m {
	case ChaCha20:
		return chacha20.NonceSize
	case XSalsa20Poly1305:
		return 24
	default:
		return 0
	}
}

// ParseMethod returns the method with the given name.
// It accepts the names returned by [Method.String]
// as well as "xsalsa20poly1305" and "secretbox".
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "chacha20", "chacha":
		return ChaCha20, nil
	case "xsalsa20-poly1305", "xsalsa20poly1305", "secretbox":
		return XSalsa20Poly1305, nil
	default:
		return 0, fmt.Errorf("unknown encryption method %q", s)
	}
}

// MarshalText returns the method's name.
func (m Method) MarshalText() ([]byte, error) {
	if !m.IsValid() {
		return nil, fmt.Errorf("marshal encryption method: invalid method %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText parses a method name.
func (m *Method) UnmarshalText(text []byte) error {
	var err error
	*m, err = ParseMethod(string(text))
	return err
}

// Blob is one encrypted payload.
type Blob struct {
	Data   []byte
	Key    []byte
	Nonce  []byte
	Method Method
}

// System issues blobs for one build.
// Every blob it issues has a distinct nonce.
// A System is not safe for concurrent use.
type System struct {
	method    Method
	rng       *buildctx.Rand
	key       [KeySize]byte
	nonceSeed [nonceSeedSize]byte
	salt      uint32
	counter   uint32
}

// New returns a new System that draws its key and nonce seed from rng.
// salt is mixed into every nonce
// so that builds with the same seed produce different ciphertext.
func New(rng *buildctx.Rand, method Method, salt uint32) (*System, error) {
	if !method.IsValid() {
		return nil, fmt.Errorf("new crypto system: invalid method %v", method)
	}
	s := &System{
		method: method,
		rng:    rng,
		salt:   salt,
	}
	copy(s.key[:], rng.Bytes(KeySize))
	copy(s.nonceSeed[:], rng.Bytes(nonceSeedSize))
	return s, nil
}

// Method returns the method that s encrypts with.
func (s *System) Method() Method {
	return s.method
}

// Key returns a copy of the build key.
func (s *System) Key() []byte {
	return append([]byte(nil), s.key[:]...)
}

// NonceCount returns the number of nonces issued so far.
func (s *System) NonceCount() int {
	return int(s.counter)
}

func (s *System) nextNonce() []byte {
	nonce := make([]byte, s.method.NonceSize())
	binary.LittleEndian.PutUint32(nonce, s.counter^s.salt)
	s.counter++
	for i := 4; i < len(nonce); i++ {
		nonce[i] = s.nonceSeed[i%nonceSeedSize] ^ byte(s.salt>>((i%4)*8))
	}
	return nonce
}

// Encrypt encrypts plaintext under the build key.
func (s *System) Encrypt(plaintext []byte) *Blob {
	return s.EncryptWith(&s.key, plaintext)
}

// EncryptWith encrypts plaintext under the given key,
// using the next nonce of the build.
func (s *System) EncryptWith(key *[KeySize]byte, plaintext []byte) *Blob {
	b := &Blob{
		Key:    append([]byte(nil), key[:]...),
		Nonce:  s.nextNonce(),
		Method: s.method,
	}
	switch s.method {
	case ChaCha20:
		b.Data = xorKeyStream(key[:], b.Nonce, plaintext)
	case XSalsa20Poly1305:
		var nonce [24]byte
		copy(nonce[:], b.Nonce)
		b.Data = secretbox.Seal(nil, plaintext, &nonce, key)
	default:
		panic("unreachable")
	}
	return b
}

// EncryptText encrypts a string with its length hidden.
// The plaintext is a 4-byte little-endian length,
// the string's bytes,
// and filler drawn from the build's random stream
// up to a multiple of 32 bytes plus zero to three further 32-byte blocks.
func (s *System) EncryptText(text string) *Blob {
	n := 4 + len(text)
	padded := (n+textBlockSize-1)/textBlockSize*textBlockSize + s.rng.IntRange(0, maxExtraBlocks)*textBlockSize
	buf := make([]byte, 4, padded)
	binary.LittleEndian.PutUint32(buf, uint32(len(text)))
	buf = append(buf, text...)
	for len(buf) < padded {
		buf = append(buf, byte(s.rng.IntRange(0, 255)))
	}
	return s.Encrypt(buf)
}

// ErrAuth is returned by [Decrypt] when an authenticated blob has been altered.
var ErrAuth = errors.New("message authentication failed")

// Decrypt returns the plaintext of b.
func Decrypt(b *Blob) ([]byte, error) {
	if len(b.Key) != KeySize {
		return nil, fmt.Errorf("decrypt: key is %d bytes (want %d)", len(b.Key), KeySize)
	}
	if len(b.Nonce) != b.Method.NonceSize() {
		return nil, fmt.Errorf("decrypt: %v nonce is %d bytes (want %d)", b.Method, len(b.Nonce), b.Method.NonceSize())
	}
	switch b.Method {
	case ChaCha20:
		return xorKeyStream(b.Key, b.Nonce, b.Data), nil
	case XSalsa20Poly1305:
		var key [KeySize]byte
		var nonce [24]byte
		copy(key[:], b.Key)
		copy(nonce[:], b.Nonce)
		plaintext, ok := secretbox.Open(nil, b.Data, &nonce, &key)
		if !ok {
			return nil, fmt.Errorf("decrypt: %w", ErrAuth)
		}
		return plaintext, nil
	default:
		return nil, fmt.Errorf("decrypt: invalid method %v", b.Method)
	}
}

// DecryptText returns the string encrypted by [System.EncryptText].
func DecryptText(b *Blob) (string, error) {
	plaintext, err := Decrypt(b)
	if err != nil {
		return "", err
	}
	if len(plaintext) < 4 {
		return "", fmt.Errorf("decrypt text: missing length")
	}
	n := binary.LittleEndian.Uint32(plaintext)
	if uint64(n) > uint64(len(plaintext)-4) {
		return "", fmt.Errorf("decrypt text: length %d exceeds %d-byte payload", n, len(plaintext)-4)
	}
	return string(plaintext[4 : 4+n]), nil
}

func xorKeyStream(key, nonce, src []byte) []byte {
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		panic(err)
	}
	dst := make([]byte, len(src))
	c.XORKeyStream(dst, src)
	return dst
}

// MinShares is the smallest number of shares [SplitKey] produces.
const MinShares = 3

// SplitKey splits key into n XOR shares.
// The first n-1 shares are drawn from rng;
// the XOR of all shares is key.
func SplitKey(rng *buildctx.Rand, key []byte, n int) ([][]byte, error) {
	if n < MinShares {
		return nil, fmt.Errorf("split key: %d shares is fewer than %d", n, MinShares)
	}
	shares := make([][]byte, n)
	last := append([]byte(nil), key...)
	for i := range n - 1 {
		shares[i] = rng.Bytes(len(key))
		for j, b := range shares[i] {
			last[j] ^= b
		}
	}
	shares[n-1] = last
	return shares, nil
}

// CombineShares returns the XOR of shares.
func CombineShares(shares [][]byte) []byte {
	if len(shares) == 0 {
		return nil
	}
	key := make([]byte, len(shares[0]))
	for _, share := range shares {
		for i := range key {
			key[i] ^= share[i]
		}
	}
	return key
}

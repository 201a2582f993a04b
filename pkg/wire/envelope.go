// SPDX-FileCopyrightText: 2026 The krait-go Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire implements the secure message protocol between an agent and
// its controller.
//
// A protocol message travels as one Envelope: the base64 encoding of the
// agent's UUID, a per-message IV, the AES-256-CBC ciphertext of the padded
// plaintext and an HMAC-SHA256 tag over IV and ciphertext. The session key is
// negotiated once, outside of this package, and used for both encryption and
// authentication.
//
// The protocol is strictly half-duplex. A reply does not carry an own IV, it
// is decrypted with the IV of the outbound message of the same exchange.
package wire

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// KeyLen is the length of a session key in bytes, AES-256.
const KeyLen = 32

const (
	idLen  = 16
	ivLen  = aes.BlockSize
	macLen = sha256.Size
)

var (
	// ErrKeyLen indicates key material of a wrong length.
	ErrKeyLen = errors.New("wire: session key must be 32 bytes")

	// ErrEnvelope indicates a blob which cannot be an Envelope, e.g., broken
	// base64 or too few bytes for the fixed fields.
	ErrEnvelope = errors.New("wire: malformed envelope")

	// ErrVerification indicates an HMAC mismatch. The ciphertext was not
	// touched in this case.
	ErrVerification = errors.New("wire: message verification failed")

	// ErrPadding indicates broken PKCS#7 padding after decryption.
	ErrPadding = errors.New("wire: invalid padding")
)

// Key is the symmetric session key, set once per agent lifetime.
type Key [KeyLen]byte

// KeyFromBase64 parses base64 encoded key material into a Key.
func KeyFromBase64(s string) (k Key, err error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return
	}
	if len(raw) != KeyLen {
		err = ErrKeyLen
		return
	}

	copy(k[:], raw)
	return
}

// NewIV returns a fresh random IV. Each outbound message must use its own.
func NewIV() (iv []byte, err error) {
	iv = make([]byte, ivLen)
	_, err = rand.Read(iv)
	return
}

// pad appends PKCS#7 padding up to the AES block size.
func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

// unpad strips PKCS#7 padding.
func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrPadding
	}

	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, ErrPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrPadding
		}
	}

	return data[:len(data)-n], nil
}

// mac computes the HMAC-SHA256 tag over iv and ciphertext.
func mac(key Key, iv, ciphertext []byte) []byte {
	h := hmac.New(sha256.New, key[:])
	h.Write(iv)
	h.Write(ciphertext)
	return h.Sum(nil)
}

func encrypt(key Key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	padded := pad(plaintext)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return ciphertext, nil
}

func decrypt(key Key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrEnvelope
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return unpad(plaintext)
}

// Seal creates the Envelope base64(id || iv || ciphertext || mac) for an
// outbound message.
func Seal(key Key, id uuid.UUID, iv, plaintext []byte) (string, error) {
	if len(iv) != ivLen {
		return "", ErrEnvelope
	}

	ciphertext, err := encrypt(key, iv, plaintext)
	if err != nil {
		return "", err
	}

	blob := make([]byte, 0, idLen+ivLen+len(ciphertext)+macLen)
	blob = append(blob, id[:]...)
	blob = append(blob, iv...)
	blob = append(blob, ciphertext...)
	blob = append(blob, mac(key, iv, ciphertext)...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Open verifies and decrypts a full Envelope, returning the embedded UUID and
// the plaintext. Verification always happens before decryption.
func Open(key Key, blob string) (id uuid.UUID, plaintext []byte, err error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		err = ErrEnvelope
		return
	}
	if len(raw) < idLen+ivLen+aes.BlockSize+macLen {
		err = ErrEnvelope
		return
	}

	copy(id[:], raw[:idLen])
	iv := raw[idLen : idLen+ivLen]
	ciphertext := raw[idLen+ivLen : len(raw)-macLen]
	tag := raw[len(raw)-macLen:]

	if !hmac.Equal(tag, mac(key, iv, ciphertext)) {
		err = ErrVerification
		return
	}

	plaintext, err = decrypt(key, iv, ciphertext)
	return
}

// OpenReply verifies and decrypts a reply blob, base64(ciphertext || mac),
// using the IV of the outbound message it answers.
func OpenReply(key Key, iv []byte, blob string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, ErrEnvelope
	}
	if len(raw) < aes.BlockSize+macLen {
		return nil, ErrEnvelope
	}

	ciphertext := raw[:len(raw)-macLen]
	tag := raw[len(raw)-macLen:]

	if !hmac.Equal(tag, mac(key, iv, ciphertext)) {
		return nil, ErrVerification
	}

	return decrypt(key, iv, ciphertext)
}

// SealReply creates the reply blob for a received Envelope, reusing its IV.
// The agent itself only consumes replies; this is provided for controller
// implementations and the tests.
func SealReply(key Key, iv, plaintext []byte) (string, error) {
	if len(iv) != ivLen {
		return "", ErrEnvelope
	}

	ciphertext, err := encrypt(key, iv, plaintext)
	if err != nil {
		return "", err
	}

	blob := make([]byte, 0, len(ciphertext)+macLen)
	blob = append(blob, ciphertext...)
	blob = append(blob, mac(key, iv, ciphertext)...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

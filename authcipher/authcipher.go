// Package authcipher implements the encrypt-then-MAC scheme protecting keystore
// secrets: AES-256-CTR for confidentiality and HMAC-SHA256 over the ciphertext for
// integrity.
//
// The CTR counter block is fixed. Every encryption must therefore use a key
// derived from a fresh salt; Seal takes care of that.
package authcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"

	"pangea.dev/signkit/kdf"
)

// MACSize is the length of an HMAC-SHA256 tag.
const MACSize = sha256.Size

var (
	ErrAuthentication = errors.New("authcipher: failed to authenticate encrypted value")
	ErrMalformed      = errors.New("authcipher: malformed encrypted value")
)

// initialCounter is the big-endian counter block 1.
var initialCounter = [aes.BlockSize]byte{aes.BlockSize - 1: 1}

// Encrypt encrypts plaintext under key and returns the ciphertext with its MAC.
func Encrypt(plaintext, key []byte) (cipherText, mac []byte, err error) {
	stream, err := newStream(key)
	if err != nil {
		return nil, nil, err
	}
	cipherText = make([]byte, len(plaintext))
	stream.XORKeyStream(cipherText, plaintext)
	return cipherText, computeMAC(key, cipherText), nil
}

// Decrypt verifies mac over cipherText and only then decrypts it.
// A mismatch returns ErrAuthentication and no plaintext.
func Decrypt(cipherText, mac, key []byte) ([]byte, error) {
	if len(key) != kdf.KeyLen {
		return nil, fmt.Errorf("authcipher: key must be %d bytes, got %d", kdf.KeyLen, len(key))
	}
	if !hmac.Equal(mac, computeMAC(key, cipherText)) {
		return nil, ErrAuthentication
	}
	stream, err := newStream(key)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(cipherText))
	stream.XORKeyStream(plaintext, cipherText)
	return plaintext, nil
}

func newStream(key []byte) (cipher.Stream, error) {
	if len(key) != kdf.KeyLen {
		return nil, fmt.Errorf("authcipher: key must be %d bytes, got %d", kdf.KeyLen, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	iv := initialCounter
	return cipher.NewCTR(block, iv[:]), nil
}

func computeMAC(key, cipherText []byte) []byte {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write(cipherText)
	return m.Sum(nil)
}

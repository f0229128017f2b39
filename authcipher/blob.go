package authcipher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/awnumar/memguard"

	"pangea.dev/signkit/kdf"
)

// SaltSize is the number of random salt bytes drawn per encryption.
const SaltSize = 32

// Blob is the persisted form of an encrypted value, including everything needed
// to derive its key again except the password.
type Blob struct {
	N          int    `json:"n"`
	R          int    `json:"r"`
	P          int    `json:"p"`
	DKLen      int    `json:"dk_len"`
	Salt       string `json:"salt"`
	CipherText string `json:"cipher_text"`
	MAC        string `json:"mac"`
}

func (b *Blob) Params() kdf.Params {
	return kdf.Params{N: b.N, R: b.R, P: b.P, DKLen: b.DKLen}
}

// Seal derives a key from password with a fresh salt and encrypts plaintext.
// random defaults to crypto/rand.
func Seal(ctx context.Context, password, plaintext []byte, params kdf.Params, random io.Reader) (*Blob, error) {
	if random == nil {
		random = rand.Reader
	}
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(random, salt); err != nil {
		return nil, fmt.Errorf("authcipher: salt: %w", err)
	}
	key, err := kdf.Derive(ctx, password, salt, params)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)

	ct, mac, err := Encrypt(plaintext, key)
	if err != nil {
		return nil, err
	}
	return &Blob{
		N:          params.N,
		R:          params.R,
		P:          params.P,
		DKLen:      params.DKLen,
		Salt:       hex.EncodeToString(salt),
		CipherText: hex.EncodeToString(ct),
		MAC:        hex.EncodeToString(mac),
	}, nil
}

// Open re-derives the key with the blob's own parameters and decrypts it.
func Open(ctx context.Context, password []byte, b *Blob) ([]byte, error) {
	salt, ct, mac, err := b.decode()
	if err != nil {
		return nil, err
	}
	key, err := kdf.Derive(ctx, password, salt, b.Params())
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(key)
	return Decrypt(ct, mac, key)
}

// Validate checks field encodings and KDF parameters without deriving anything.
func (b *Blob) Validate() error {
	_, _, _, err := b.decode()
	return err
}

func (b *Blob) decode() (salt, cipherText, mac []byte, err error) {
	if b == nil {
		return nil, nil, nil, fmt.Errorf("%w: missing", ErrMalformed)
	}
	if err := b.Params().Validate(); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if salt, err = hex.DecodeString(b.Salt); err != nil || len(salt) == 0 {
		return nil, nil, nil, fmt.Errorf("%w: salt must be non-empty hex", ErrMalformed)
	}
	if cipherText, err = hex.DecodeString(b.CipherText); err != nil {
		return nil, nil, nil, fmt.Errorf("%w: cipher_text must be hex", ErrMalformed)
	}
	if mac, err = hex.DecodeString(b.MAC); err != nil || len(mac) != MACSize {
		return nil, nil, nil, fmt.Errorf("%w: mac must be %d bytes of hex", ErrMalformed, MACSize)
	}
	return salt, cipherText, mac, nil
}

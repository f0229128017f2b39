package kdf

import (
	"context"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/scrypt"
)

const (
	// DefaultLogN is the cost exponent used when calibration is unavailable.
	DefaultLogN = 15
	// MaxLogN is the largest cost exponent accepted anywhere.
	MaxLogN = 31

	DefaultR = 8
	DefaultP = 1

	// KeyLen is the derived key length in bytes (AES-256).
	KeyLen = 32
)

var ErrInvalidParams = errors.New("kdf: invalid parameters")

// Params are the scrypt cost parameters. They travel with every encrypted blob
// so old records keep decrypting after the default cost changes.
type Params struct {
	N     int
	R     int
	P     int
	DKLen int
}

// ParamsForLogN returns the default r, p and key length with N = 2^logN.
func ParamsForLogN(logN int) Params {
	return Params{N: 1 << uint(logN), R: DefaultR, P: DefaultP, DKLen: KeyLen}
}

func DefaultParams() Params { return ParamsForLogN(DefaultLogN) }

// LogN returns log2(N), or 0 when N is not a power of two.
func (p Params) LogN() int {
	if p.N < 2 || p.N&(p.N-1) != 0 {
		return 0
	}
	n := 0
	for v := p.N; v > 1; v >>= 1 {
		n++
	}
	return n
}

func (p Params) Validate() error {
	if p.N < 2 || int64(p.N) > int64(1)<<MaxLogN || p.N&(p.N-1) != 0 {
		return fmt.Errorf("%w: n must be a power of two in [2, 2^%d], got %d", ErrInvalidParams, MaxLogN, p.N)
	}
	if p.R < 1 || p.P < 1 {
		return fmt.Errorf("%w: r and p must be positive, got r=%d p=%d", ErrInvalidParams, p.R, p.P)
	}
	if uint64(p.R)*uint64(p.P) >= 1<<30 {
		return fmt.Errorf("%w: r*p too large", ErrInvalidParams)
	}
	if p.DKLen != KeyLen {
		return fmt.Errorf("%w: dk_len must be %d, got %d", ErrInvalidParams, KeyLen, p.DKLen)
	}
	return nil
}

// Derive runs scrypt over password and salt. The caller owns the returned key and
// should wipe it when done.
//
// A context cancelled before or during the derivation yields ctx.Err() and no key.
func Derive(ctx context.Context, password, salt []byte, p Params) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: salt is empty", ErrInvalidParams)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := scrypt.Key(password, salt, p.N, p.R, p.P, p.DKLen)
	if err != nil {
		return nil, fmt.Errorf("kdf: scrypt: %w", err)
	}
	if err := ctx.Err(); err != nil {
		memguard.WipeBytes(key)
		return nil, err
	}
	return key, nil
}

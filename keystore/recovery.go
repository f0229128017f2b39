package keystore

import (
	"context"
	"crypto/ed25519"
	"strings"

	"github.com/awnumar/memguard"
	"github.com/tyler-smith/go-bip39"
)

// RecoveryPhrase returns the 24-word BIP-39 encoding of rec's Ed25519 seed.
// Anyone holding the phrase holds the key.
func (s *Store) RecoveryPhrase(ctx context.Context, rec *Record, password string) (string, error) {
	priv, err := s.open(ctx, rec, password)
	if err != nil {
		return "", err
	}
	defer memguard.WipeBytes(priv)

	seed := priv.Seed()
	defer memguard.WipeBytes(seed)
	phrase, err := bip39.NewMnemonic(seed)
	if err != nil {
		return "", newError(KindInternal, "", "encode recovery phrase: "+err.Error(), err)
	}
	return phrase, nil
}

// Restore rebuilds a key from its recovery phrase and writes it as a new
// "0.1" record under name, encrypted with password.
func (s *Store) Restore(ctx context.Context, name, phrase, password, confirmation string) (*Record, string, error) {
	if err := checkName(name); err != nil {
		return nil, "", err
	}
	if err := CheckPassword(password, confirmation); err != nil {
		return nil, "", err
	}
	seed, err := bip39.EntropyFromMnemonic(strings.Join(strings.Fields(phrase), " "))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, "", ErrInvalidPhrase
	}
	defer memguard.WipeBytes(seed)

	priv := ed25519.NewKeyFromSeed(seed)
	defer memguard.WipeBytes(priv)
	pub := priv.Public().(ed25519.PublicKey)

	s.log.WithField("name", name).Debug("restoring signing key from recovery phrase")
	return s.persist(ctx, name, pub, priv, password, InitialVersion, s.now().Unix())
}

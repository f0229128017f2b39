package signer

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"sort"
	"strconv"

	"github.com/multiformats/go-multihash"
)

// Hash computes the canonical sha2-256 multihash of a.
//
// Fields are fed in a fixed order: name translations sorted by language code
// (code then value), the raw signing key bytes, code, the decoded image, engine
// and the decimal version.
func Hash(a *BuildArtifact) (multihash.Multihash, error) {
	if a == nil {
		return nil, fieldError("", "artifact is empty")
	}
	if len(a.Name) == 0 {
		return nil, fieldError("name", "invalid amount of name translations")
	}
	key, err := hex.DecodeString(a.UsedSigningKey)
	if err != nil || len(key) != ed25519.PublicKeySize {
		return nil, fieldError("used_signing_key", "must be exactly 32 bytes long")
	}
	img, err := decodeImage(a.Image)
	if err != nil {
		return nil, fieldError("image", "must be base64")
	}
	if a.Version < 1 {
		return nil, fieldError("version", "must be an integer of at least 1")
	}

	h := sha256.New()
	langs := make([]string, 0, len(a.Name))
	for lang := range a.Name {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		io.WriteString(h, lang)
		io.WriteString(h, a.Name[lang])
	}
	h.Write(key)
	io.WriteString(h, a.Code)
	h.Write(img)
	io.WriteString(h, a.Engine)
	io.WriteString(h, strconv.Itoa(a.Version))

	mh, err := multihash.Encode(h.Sum(nil), multihash.SHA2_256)
	if err != nil {
		return nil, err
	}
	return multihash.Multihash(mh), nil
}

func decodeImage(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}

package signer

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"unicode/utf8"
)

// Assemble builds an artifact from a project manifest (a JSON object carrying
// "name", "engine" and "version"), the bundled code and an optional icon.
// The artifact is checked with Hash before it is returned.
func Assemble(manifest, code, icon []byte, pub ed25519.PublicKey) (*BuildArtifact, error) {
	obj, err := decodeObject(manifest)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(code) {
		return nil, fieldError("code", "must be utf-8 text")
	}
	obj["code"] = string(code)
	obj["image"] = base64.StdEncoding.EncodeToString(icon)
	obj["used_signing_key"] = hex.EncodeToString(pub)

	a, err := artifactFromObject(obj)
	if err != nil {
		return nil, err
	}
	if _, err := Hash(a); err != nil {
		return nil, err
	}
	return a, nil
}

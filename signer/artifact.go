// Package signer hashes build artifacts into a canonical multihash and signs
// that hash with an Ed25519 key.
package signer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// BuildArtifact is the unit of content that gets signed and distributed.
type BuildArtifact struct {
	// Name maps language codes to display names.
	Name           map[string]string `json:"name"`
	UsedSigningKey string            `json:"used_signing_key"`
	Code           string            `json:"code"`
	// Image is base64.
	Image   string `json:"image"`
	Engine  string `json:"engine"`
	Version int    `json:"version"`
}

// SignedArtifact is a BuildArtifact plus the hex Ed25519 signature of its hash.
type SignedArtifact struct {
	BuildArtifact
	Signature string `json:"signature"`
}

// Marshal renders the artifact as indented JSON.
func (a *SignedArtifact) Marshal() ([]byte, error) {
	return json.MarshalIndent(a, "", "  ")
}

// ParseArtifact decodes artifact JSON without trusting the field types: a
// field of the wrong JSON type is an *Error, not a zero value.
func ParseArtifact(data []byte) (*BuildArtifact, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	return artifactFromObject(obj)
}

// ParseSignedArtifact is ParseArtifact plus the "signature" field.
func ParseSignedArtifact(data []byte) (*SignedArtifact, error) {
	obj, err := decodeObject(data)
	if err != nil {
		return nil, err
	}
	a, err := artifactFromObject(obj)
	if err != nil {
		return nil, err
	}
	sig, ok := obj["signature"].(string)
	if !ok {
		return nil, fieldError("signature", "must be of type string")
	}
	return &SignedArtifact{BuildArtifact: *a, Signature: sig}, nil
}

func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fieldError("", "invalid json: "+err.Error())
	}
	if dec.More() {
		return nil, fieldError("", "trailing data after json object")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fieldError("", "must be a json object")
	}
	return obj, nil
}

func artifactFromObject(obj map[string]any) (*BuildArtifact, error) {
	a := &BuildArtifact{}

	rawName, ok := obj["name"].(map[string]any)
	if !ok {
		return nil, fieldError("name", "must be an object of translations")
	}
	a.Name = make(map[string]string, len(rawName))
	for lang, v := range rawName {
		s, ok := v.(string)
		if !ok {
			return nil, fieldError("name", fmt.Sprintf("translation %q must be of type string", lang))
		}
		a.Name[lang] = s
	}

	for _, f := range []struct {
		key string
		dst *string
	}{
		{"used_signing_key", &a.UsedSigningKey},
		{"code", &a.Code},
		{"image", &a.Image},
		{"engine", &a.Engine},
	} {
		s, ok := obj[f.key].(string)
		if !ok {
			return nil, fieldError(f.key, "must be of type string")
		}
		*f.dst = s
	}

	num, ok := obj["version"].(json.Number)
	if !ok {
		return nil, fieldError("version", "must be of type number and be at least 1")
	}
	v, err := strconv.ParseInt(num.String(), 10, 0)
	if err != nil || v < 1 {
		return nil, fieldError("version", "must be an integer of at least 1")
	}
	a.Version = int(v)
	return a, nil
}

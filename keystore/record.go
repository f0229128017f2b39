package keystore

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"pangea.dev/signkit/authcipher"
)

const (
	// InitialVersion is the version of the first record for a key name.
	InitialVersion = "0.1"
	// FileSuffix terminates every record file name.
	FileSuffix = ".sk.json"
)

// Record is one immutable version of a signing key as stored on disk.
type Record struct {
	Name                 string           `json:"name"`
	PublicKey            string           `json:"public_key"`
	PrivateKeyCipherText *authcipher.Blob `json:"private_key_cipher_text"`
	CreatedAt            int64            `json:"created_at"`
	Version              string           `json:"version"`
}

// FileName returns "<name>-<createdAt>.sk.json".
func FileName(name string, createdAt int64) string {
	return name + "-" + strconv.FormatInt(createdAt, 10) + FileSuffix
}

func (r *Record) FileName() string { return FileName(r.Name, r.CreatedAt) }

// PublicKeyBytes decodes PublicKey.
func (r *Record) PublicKeyBytes() (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(r.PublicKey)
	if err != nil {
		return nil, errors.New("public_key must be hex")
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("public_key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// Validate checks that every required field is present and well formed.
func (r *Record) Validate() error {
	if r == nil {
		return errors.New("record is empty")
	}
	if err := CheckKeyName(r.Name); err != nil {
		return fmt.Errorf("name: %w", err)
	}
	if _, err := r.PublicKeyBytes(); err != nil {
		return err
	}
	if r.PrivateKeyCipherText == nil {
		return errors.New("private_key_cipher_text is missing")
	}
	if err := r.PrivateKeyCipherText.Validate(); err != nil {
		return err
	}
	if r.CreatedAt <= 0 {
		return errors.New("created_at must be a positive unix timestamp")
	}
	if _, _, err := parseVersion(r.Version); err != nil {
		return err
	}
	return nil
}

// Marshal renders the record as indented JSON.
func (r *Record) Marshal() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// ParseRecord decodes and validates a record file.
func ParseRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// NextVersion increments a "<major>.<minor>" version. The minor part runs from
// 0 to 9; incrementing 9 rolls over into the major part ("0.9" -> "1.0").
func NextVersion(v string) (string, error) {
	major, minor, err := parseVersion(v)
	if err != nil {
		return "", err
	}
	if minor == 9 {
		major++
		minor = 0
	} else {
		minor++
	}
	return strconv.Itoa(major) + "." + strconv.Itoa(minor), nil
}

// CompareVersions orders two well-formed versions like strings.Compare.
// Malformed versions sort first.
func CompareVersions(a, b string) int {
	am, an, aerr := parseVersion(a)
	bm, bn, berr := parseVersion(b)
	switch {
	case aerr != nil && berr != nil:
		return strings.Compare(a, b)
	case aerr != nil:
		return -1
	case berr != nil:
		return 1
	}
	if am != bm {
		return cmpInt(am, bm)
	}
	return cmpInt(an, bn)
}

func parseVersion(v string) (major, minor int, err error) {
	head, tail, ok := strings.Cut(v, ".")
	if !ok || !isDigits(head) || !isDigits(tail) {
		return 0, 0, fmt.Errorf("version %q must have the form <major>.<minor>", v)
	}
	major, err = strconv.Atoi(head)
	if err != nil {
		return 0, 0, fmt.Errorf("version %q: %w", v, err)
	}
	minor, err = strconv.Atoi(tail)
	if err != nil || minor > 9 {
		return 0, 0, fmt.Errorf("version %q: minor part must be 0-9", v)
	}
	return major, minor, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

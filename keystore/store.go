package keystore

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	log "github.com/sirupsen/logrus"

	"pangea.dev/signkit/authcipher"
	"pangea.dev/signkit/kdf"
)

// Options configures a Store. Zero values select the production defaults.
type Options struct {
	FS FS
	// Cost supplies the scrypt cost exponent for new encryptions.
	// Defaults to a fresh kdf.Calibrator without a side store.
	Cost kdf.CostSource
	// R and P override the scrypt block size and parallelism.
	R, P int
	Now  func() time.Time
	Rand io.Reader
	Log  *log.Entry
}

// Store creates, rotates and reads signing key records in one directory.
//
// Records are never modified or deleted: every create and every password
// rotation writes a new file. Store does not serialize rotations of the same
// name; callers that rotate concurrently must do so themselves.
type Store struct {
	dir  string
	fs   FS
	cost kdf.CostSource
	r, p int
	now  func() time.Time
	rand io.Reader
	log  *log.Entry
}

// DefaultDirectory is ~/.signkit/keys.
func DefaultDirectory() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".signkit", "keys"), nil
}

func New(dir string, opts Options) (*Store, error) {
	if dir == "" {
		var err error
		dir, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	s := &Store{
		dir:  dir,
		fs:   opts.FS,
		cost: opts.Cost,
		r:    opts.R,
		p:    opts.P,
		now:  opts.Now,
		rand: opts.Rand,
		log:  opts.Log,
	}
	if s.fs == nil {
		s.fs = OSFS{}
	}
	if s.cost == nil {
		s.cost = kdf.NewCalibrator(nil)
	}
	if s.r <= 0 {
		s.r = kdf.DefaultR
	}
	if s.p <= 0 {
		s.p = kdf.DefaultP
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rand == nil {
		s.rand = rand.Reader
	}
	if s.log == nil {
		s.log = log.WithField("component", "keystore")
	}
	return s, nil
}

func (s *Store) Dir() string { return s.dir }

// Path returns where a record lives in this store.
func (s *Store) Path(r *Record) string { return filepath.Join(s.dir, r.FileName()) }

// Create generates a new Ed25519 key pair and persists it at version "0.1",
// encrypted under password. It returns the record and the file it was written to.
func (s *Store) Create(ctx context.Context, name, password, confirmation string) (*Record, string, error) {
	if err := checkName(name); err != nil {
		return nil, "", err
	}
	if err := CheckPassword(password, confirmation); err != nil {
		return nil, "", err
	}
	pub, priv, err := ed25519.GenerateKey(s.rand)
	if err != nil {
		return nil, "", newError(KindInternal, "", "generate ed25519 key: "+err.Error(), err)
	}
	defer memguard.WipeBytes(priv)

	return s.persist(ctx, name, pub, priv, password, InitialVersion, s.now().Unix())
}

// Rotate re-encrypts rec's private key under newPassword and writes it as the
// next version. The file holding rec is left untouched.
func (s *Store) Rotate(ctx context.Context, rec *Record, oldPassword, newPassword, confirmation string) (*Record, string, error) {
	if err := CheckPassword(newPassword, confirmation); err != nil {
		return nil, "", err
	}
	priv, err := s.open(ctx, rec, oldPassword)
	if err != nil {
		return nil, "", err
	}
	defer memguard.WipeBytes(priv)

	next, err := NextVersion(rec.Version)
	if err != nil {
		return nil, "", newError(KindMalformed, "", "malformed record: "+err.Error(), err)
	}
	createdAt := s.now().Unix()
	if createdAt <= rec.CreatedAt {
		createdAt = rec.CreatedAt + 1
	}
	pub := priv.Public().(ed25519.PublicKey)
	return s.persist(ctx, rec.Name, pub, priv, newPassword, next, createdAt)
}

// RotateFile loads the record at path and rotates it.
func (s *Store) RotateFile(ctx context.Context, path, oldPassword, newPassword, confirmation string) (*Record, string, error) {
	rec, err := s.Load(path)
	if err != nil {
		return nil, "", err
	}
	return s.Rotate(ctx, rec, oldPassword, newPassword, confirmation)
}

// Validate reports whether password opens rec and the recovered key matches the
// stored public key. A wrong password is a false result, not an error.
func (s *Store) Validate(ctx context.Context, rec *Record, password string) (bool, error) {
	priv, err := s.open(ctx, rec, password)
	switch {
	case err == nil:
		memguard.WipeBytes(priv)
		return true, nil
	case IsKind(err, KindAuthentication), errors.Is(err, ErrKeyMismatch):
		return false, nil
	default:
		return false, err
	}
}

// Load reads and validates the record at path.
func (s *Store) Load(path string) (*Record, error) {
	if !s.fs.Exists(path) {
		return nil, newError(KindNotFound, path, `Signing key ("`+path+`") does not exist`, fs.ErrNotExist)
	}
	data, err := s.fs.ReadAll(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, newError(KindNotFound, path, `Signing key ("`+path+`") does not exist`, err)
		}
		return nil, newError(KindInternal, path, "read signing key: "+err.Error(), err)
	}
	rec, err := ParseRecord(data)
	if err != nil {
		return nil, newError(KindMalformed, path, "malformed signing key "+filepath.Base(path)+": "+err.Error(), err)
	}
	return rec, nil
}

// History returns every stored record of name, oldest version first.
func (s *Store) History(name string) ([]*Record, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	lister, ok := s.fs.(Lister)
	if !ok {
		return nil, newError(KindInternal, s.dir, "keystore filesystem cannot list directories", nil)
	}
	files, err := lister.List(s.dir)
	if err != nil {
		return nil, newError(KindInternal, s.dir, "list keystore: "+err.Error(), err)
	}

	var out []*Record
	prefix := name + "-"
	for _, f := range files {
		if !strings.HasPrefix(f, prefix) || !strings.HasSuffix(f, FileSuffix) {
			continue
		}
		if !isDigits(strings.TrimSuffix(strings.TrimPrefix(f, prefix), FileSuffix)) {
			continue
		}
		rec, err := s.Load(filepath.Join(s.dir, f))
		if err != nil {
			return nil, err
		}
		if rec.Name == name {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := CompareVersions(out[i].Version, out[j].Version); c != 0 {
			return c < 0
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out, nil
}

// Latest returns the newest version of name.
func (s *Store) Latest(name string) (*Record, error) {
	hist, err := s.History(name)
	if err != nil {
		return nil, err
	}
	if len(hist) == 0 {
		return nil, newError(KindNotFound, s.dir, "no signing key named "+name, fs.ErrNotExist)
	}
	return hist[len(hist)-1], nil
}

func (s *Store) params(ctx context.Context) kdf.Params {
	p := kdf.ParamsForLogN(s.cost.LogN(ctx))
	p.R = s.r
	p.P = s.p
	return p
}

// persist encrypts priv and writes the assembled record. Nothing is written
// unless the whole record, MAC included, was built.
func (s *Store) persist(ctx context.Context, name string, pub ed25519.PublicKey, priv ed25519.PrivateKey, password, version string, createdAt int64) (*Record, string, error) {
	pw := []byte(password)
	defer memguard.WipeBytes(pw)

	blob, err := authcipher.Seal(ctx, pw, priv, s.params(ctx), s.rand)
	if err != nil {
		return nil, "", newError(KindInternal, "", "encrypt signing key: "+err.Error(), err)
	}
	rec := &Record{
		Name:                 name,
		PublicKey:            hex.EncodeToString(pub),
		PrivateKeyCipherText: blob,
		CreatedAt:            createdAt,
		Version:              version,
	}
	data, err := rec.Marshal()
	if err != nil {
		return nil, "", newError(KindInternal, "", "encode signing key: "+err.Error(), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, "", newError(KindInternal, "", "signing key not written: "+err.Error(), err)
	}

	path := s.Path(rec)
	if err := s.fs.WriteAll(path, data); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, "", newError(KindExists, path, `Signing key ("`+path+`") already exists`, err)
		}
		return nil, "", newError(KindInternal, path, "write signing key: "+err.Error(), err)
	}
	s.log.WithFields(log.Fields{
		"name":    name,
		"version": version,
		"path":    path,
		"log_n":   blob.Params().LogN(),
	}).Debug("signing key persisted")
	return rec, path, nil
}

// open decrypts rec with password and returns the private key, which the
// caller must wipe.
func (s *Store) open(ctx context.Context, rec *Record, password string) (ed25519.PrivateKey, error) {
	if err := rec.Validate(); err != nil {
		return nil, newError(KindMalformed, "", "malformed signing key: "+err.Error(), err)
	}
	want, _ := rec.PublicKeyBytes()

	pw := []byte(password)
	defer memguard.WipeBytes(pw)

	plain, err := authcipher.Open(ctx, pw, rec.PrivateKeyCipherText)
	switch {
	case err == nil:
	case errors.Is(err, authcipher.ErrAuthentication):
		s.log.WithField("name", rec.Name).Debug("signing key authentication failed")
		return nil, newError(KindAuthentication, "", "failed to authenticate decrypted value", err)
	case errors.Is(err, authcipher.ErrMalformed):
		return nil, newError(KindMalformed, "", "malformed signing key: "+err.Error(), err)
	default:
		return nil, newError(KindInternal, "", "decrypt signing key: "+err.Error(), err)
	}
	defer memguard.WipeBytes(plain)

	if len(plain) != ed25519.PrivateKeySize {
		return nil, ErrKeyMismatch
	}
	priv := ed25519.NewKeyFromSeed(plain[:ed25519.SeedSize])
	if !bytes.Equal(priv[ed25519.SeedSize:], want) || !bytes.Equal(plain[ed25519.SeedSize:], want) {
		memguard.WipeBytes(priv)
		return nil, ErrKeyMismatch
	}
	return priv, nil
}

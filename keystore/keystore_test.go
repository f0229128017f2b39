package keystore

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pangea.dev/signkit/authcipher"
	"pangea.dev/signkit/kdf"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newTestStore(t *testing.T) (*Store, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Unix(1531643650, 0)}
	s, err := New(t.TempDir(), Options{Cost: kdf.FixedCost(4), Now: clock.Now})
	require.NoError(t, err)
	return s, clock
}

type failingFS struct {
	OSFS
	err error
}

func (f failingFS) WriteAll(string, []byte) error { return f.err }

func TestNextVersion(t *testing.T) {
	cases := map[string]string{
		"0.1": "0.2",
		"0.8": "0.9",
		"0.9": "1.0",
		"1.9": "2.0",
		"2.3": "2.4",
		"9.9": "10.0",
	}
	for in, want := range cases {
		got, err := NextVersion(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "1", "a.b", "1.10", "-1.2", "1.-2", "1.2.3", "+1.2"} {
		_, err := NextVersion(bad)
		assert.Error(t, err, bad)
	}
}

func TestCompareVersions(t *testing.T) {
	assert.Equal(t, -1, CompareVersions("0.9", "1.0"))
	assert.Equal(t, 1, CompareVersions("10.0", "9.9"))
	assert.Equal(t, 0, CompareVersions("1.2", "1.2"))
	assert.Equal(t, -1, CompareVersions("junk", "0.1"))
}

func TestCreateAndValidate(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	rec, path, err := s.Create(ctx, "prod-key", "pangea1234", "pangea1234")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Dir(), "prod-key-1531643650.sk.json"), path)
	assert.Equal(t, "prod-key", rec.Name)
	assert.Equal(t, InitialVersion, rec.Version)
	assert.EqualValues(t, 1531643650, rec.CreatedAt)
	assert.Equal(t, 1<<4, rec.PrivateKeyCipherText.N)

	loaded, err := s.Load(path)
	require.NoError(t, err)
	assert.Equal(t, rec, loaded)

	ok, err := s.Validate(ctx, loaded, "pangea1234")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Validate(ctx, loaded, "wrong password")
	require.NoError(t, err)
	assert.False(t, ok)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRecordFileShape(t *testing.T) {
	s, _ := newTestStore(t)
	_, path, err := s.Create(context.Background(), "shape", "pangea1234", "pangea1234")
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.ElementsMatch(t, []string{"name", "public_key", "private_key_cipher_text", "created_at", "version"}, keysOf(doc))

	var blob map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(doc["private_key_cipher_text"], &blob))
	assert.ElementsMatch(t, []string{"n", "r", "p", "dk_len", "salt", "cipher_text", "mac"}, keysOf(blob))
	assert.JSONEq(t, `"0.1"`, string(doc["version"]))
}

func keysOf(m map[string]json.RawMessage) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestRotatePassword(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	orig, origPath, err := s.Create(ctx, "prod-key", "pangea1234", "pangea1234")
	require.NoError(t, err)
	before, err := os.ReadFile(origPath)
	require.NoError(t, err)

	// Same second as creation: the new file must still get its own name.
	rotated, newPath, err := s.Rotate(ctx, orig, "pangea1234", "pangea5678", "pangea5678")
	require.NoError(t, err)
	assert.NotEqual(t, origPath, newPath)
	assert.Equal(t, "0.2", rotated.Version)
	assert.Equal(t, orig.Name, rotated.Name)
	assert.Equal(t, orig.PublicKey, rotated.PublicKey)
	assert.Greater(t, rotated.CreatedAt, orig.CreatedAt)
	assert.NotEqual(t, orig.PrivateKeyCipherText.Salt, rotated.PrivateKeyCipherText.Salt)

	after, err := os.ReadFile(origPath)
	require.NoError(t, err)
	assert.Equal(t, before, after, "old record must be left untouched")

	oldRec, err := s.Load(origPath)
	require.NoError(t, err)
	newRec, err := s.Load(newPath)
	require.NoError(t, err)

	ok, err := s.Validate(ctx, oldRec, "pangea1234")
	require.NoError(t, err)
	assert.True(t, ok, "old file still opens with the old password")

	ok, err = s.Validate(ctx, newRec, "pangea5678")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Validate(ctx, newRec, "pangea1234")
	require.NoError(t, err)
	assert.False(t, ok, "new file must not open with the old password")

	clock.t = clock.t.Add(time.Hour)
	third, _, err := s.RotateFile(ctx, newPath, "pangea5678", "pangea9012", "pangea9012")
	require.NoError(t, err)
	assert.Equal(t, "0.3", third.Version)
	assert.Equal(t, clock.t.Unix(), third.CreatedAt)
}

func TestRotateWrongPassword(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	rec, _, err := s.Create(ctx, "prod-key", "pangea1234", "pangea1234")
	require.NoError(t, err)

	_, _, err = s.Rotate(ctx, rec, "not the password", "pangea5678", "pangea5678")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindAuthentication))
	assert.ErrorIs(t, err, authcipher.ErrAuthentication)
	assert.Equal(t, "failed to authenticate decrypted value", err.Error())

	hist, err := s.History("prod-key")
	require.NoError(t, err)
	assert.Len(t, hist, 1, "no file may be written on failure")
}

func TestPasswordPolicy(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, _, err := s.Create(ctx, "k", "abc", "abc")
	require.ErrorIs(t, err, ErrPasswordTooShort)
	assert.True(t, IsKind(err, KindPasswordPolicy))

	_, _, err = s.Create(ctx, "k", "my password", "wrong password confirmation")
	require.ErrorIs(t, err, ErrPasswordMismatch)

	rec, _, err := s.Create(ctx, "k", "my password", "my password")
	require.NoError(t, err)
	_, _, err = s.Rotate(ctx, rec, "my password", "short", "short")
	require.ErrorIs(t, err, ErrPasswordTooShort)
	_, _, err = s.Rotate(ctx, rec, "my password", "my_new_password", "wrong confirmation")
	require.ErrorIs(t, err, ErrPasswordMismatch)

	assert.NoError(t, CheckPassword("i am long enough", "i am long enough"))
	assert.ErrorIs(t, CheckPassword("äöüäöüä", "äöüäöüä"), ErrPasswordTooShort)
}

func TestInvalidName(t *testing.T) {
	s, _ := newTestStore(t)
	for _, name := range []string{"", "../escape", "has space", "a/b", strings.Repeat("x", MaxKeyNameLength+1)} {
		_, _, err := s.Create(context.Background(), name, "pangea1234", "pangea1234")
		assert.True(t, IsKind(err, KindInvalidName), "%q: %v", name, err)
	}
}

func TestLoadErrors(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Load(filepath.Join(s.Dir(), "i-do-not-exist.json"))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNotFound))
	assert.Contains(t, err.Error(), "does not exist")

	write := func(name, body string) string {
		p := filepath.Join(s.Dir(), name)
		require.NoError(t, os.MkdirAll(s.Dir(), 0o700))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
		return p
	}

	_, err = s.Load(write("garbage.sk.json", "{not json"))
	assert.True(t, IsKind(err, KindMalformed), "%v", err)

	_, err = s.Load(write("nofields.sk.json", `{"name":"x"}`))
	assert.True(t, IsKind(err, KindMalformed), "%v", err)

	rec, path, err := s.Create(context.Background(), "good", "pangea1234", "pangea1234")
	require.NoError(t, err)
	_ = path
	rec.PublicKey = "abcd"
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	_, err = s.Load(write("shortpub.sk.json", string(data)))
	assert.True(t, IsKind(err, KindMalformed), "%v", err)
}

func TestCreateNeverOverwrites(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	_, path, err := s.Create(ctx, "prod-key", "pangea1234", "pangea1234")
	require.NoError(t, err)
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, _, err = s.Create(ctx, "prod-key", "pangea1234", "pangea1234")
	require.Error(t, err)
	assert.True(t, IsKind(err, KindExists))

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestFailedWriteReportsInternal(t *testing.T) {
	boom := errors.New("disk full")
	s, err := New(t.TempDir(), Options{FS: failingFS{err: boom}, Cost: kdf.FixedCost(4)})
	require.NoError(t, err)

	_, _, err = s.Create(context.Background(), "k", "pangea1234", "pangea1234")
	require.ErrorIs(t, err, boom)
	assert.True(t, IsKind(err, KindInternal))
}

func TestCancelledCreateWritesNothing(t *testing.T) {
	s, _ := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Create(ctx, "k", "pangea1234", "pangea1234")
	require.ErrorIs(t, err, context.Canceled)

	entries, err := os.ReadDir(s.Dir())
	if err == nil {
		assert.Empty(t, entries)
	}
}

func TestHistoryAndLatest(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	rec, _, err := s.Create(ctx, "prod-key", "pangea1234", "pangea1234")
	require.NoError(t, err)
	_, _, err = s.Create(ctx, "prod", "pangea1234", "pangea1234")
	require.NoError(t, err)

	for i := 0; i < 9; i++ {
		clock.t = clock.t.Add(time.Minute)
		rec, _, err = s.Rotate(ctx, rec, "pangea1234", "pangea1234", "pangea1234")
		require.NoError(t, err)
	}
	assert.Equal(t, "1.0", rec.Version)

	hist, err := s.History("prod-key")
	require.NoError(t, err)
	require.Len(t, hist, 10)
	assert.Equal(t, "0.1", hist[0].Version)
	assert.Equal(t, "0.9", hist[8].Version)
	assert.Equal(t, "1.0", hist[9].Version)
	for _, r := range hist {
		assert.Equal(t, "prod-key", r.Name)
	}

	latest, err := s.Latest("prod-key")
	require.NoError(t, err)
	assert.Equal(t, "1.0", latest.Version)

	short, err := s.History("prod")
	require.NoError(t, err)
	assert.Len(t, short, 1)

	_, err = s.Latest("missing")
	assert.True(t, IsKind(err, KindNotFound))
}

func TestValidateDetectsSwappedPublicKey(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)

	a, _, err := s.Create(ctx, "a", "pangea1234", "pangea1234")
	require.NoError(t, err)
	clock.t = clock.t.Add(time.Second)
	b, _, err := s.Create(ctx, "b", "pangea1234", "pangea1234")
	require.NoError(t, err)

	swapped := *a
	swapped.PublicKey = b.PublicKey
	ok, err := s.Validate(ctx, &swapped, "pangea1234")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Unlock(ctx, &swapped, "pangea1234")
	require.ErrorIs(t, err, ErrKeyMismatch)
}

func TestUnlockSign(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	rec, _, err := s.Create(ctx, "prod-key", "pangea1234", "pangea1234")
	require.NoError(t, err)

	key, err := s.Unlock(ctx, rec, "pangea1234")
	require.NoError(t, err)
	assert.Equal(t, "prod-key", key.Name())
	assert.Equal(t, "0.1", key.Version())

	pub, err := rec.PublicKeyBytes()
	require.NoError(t, err)
	assert.Equal(t, pub, key.PublicKey())

	msg := []byte("string to be signed")
	sig, err := key.Sign(msg)
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(pub, msg, sig))

	key.Destroy()
	_, err = key.Sign(msg)
	require.ErrorIs(t, err, ErrKeyDestroyed)

	_, err = s.Unlock(ctx, rec, "wrong password")
	assert.True(t, IsKind(err, KindAuthentication))
}

func TestRecoveryPhraseRestore(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestStore(t)
	rec, _, err := s.Create(ctx, "prod-key", "pangea1234", "pangea1234")
	require.NoError(t, err)

	phrase, err := s.RecoveryPhrase(ctx, rec, "pangea1234")
	require.NoError(t, err)
	assert.Len(t, strings.Fields(phrase), 24)

	_, err = s.RecoveryPhrase(ctx, rec, "wrong password")
	assert.True(t, IsKind(err, KindAuthentication))

	clock.t = clock.t.Add(time.Second)
	restored, _, err := s.Restore(ctx, "prod-key-restored", "  "+phrase+"\n", "another-pass", "another-pass")
	require.NoError(t, err)
	assert.Equal(t, rec.PublicKey, restored.PublicKey)
	assert.Equal(t, InitialVersion, restored.Version)

	_, _, err = s.Restore(ctx, "x", "not a valid phrase at all", "pangea1234", "pangea1234")
	require.ErrorIs(t, err, ErrInvalidPhrase)
}

package main

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pangea.dev/signkit/config"
	"pangea.dev/signkit/distribute"
	"pangea.dev/signkit/signer"
)

type testSigner struct{ priv ed25519.PrivateKey }

func (s testSigner) PublicKey() ed25519.PublicKey { return s.priv.Public().(ed25519.PublicKey) }
func (s testSigner) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.Daemon.StoreDir = filepath.Join(t.TempDir(), "store")
	cfg.Daemon.Rate = 0
	return cfg
}

func quietLogger() *log.Logger {
	l := log.New()
	l.SetOutput(io.Discard)
	return l
}

func TestDaemonStoresPushedArtifacts(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s := testSigner{priv: priv}

	cfg := testConfig(t)
	cfg.Daemon.MirrorDirs = []string{filepath.Join(t.TempDir(), "mirror")}
	cfg.Daemon.TrustedKeys = []string{hex.EncodeToString(s.PublicKey())}
	d, err := newDaemon(cfg, quietLogger())
	require.NoError(t, err)

	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/0")
	require.NoError(t, err)
	lis, err := manet.Listen(addr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.serve(ctx, lis) }()

	client, err := distribute.Dial(ctx, lis.Multiaddr().String(), distribute.ClientOptions{MaxElapsed: 5 * time.Second})
	require.NoError(t, err)

	sa, err := signer.SignArtifact(&signer.BuildArtifact{
		Name:           map[string]string{"en-us": "wallet"},
		UsedSigningKey: hex.EncodeToString(s.PublicKey()),
		Code:           "console.log('wallet')",
		Engine:         "1.0.0",
		Version:        3,
	}, s)
	require.NoError(t, err)
	data, err := sa.Marshal()
	require.NoError(t, err)

	ids, err := client.Push(ctx, data)
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.True(t, d.store.Has(ids[0]))

	got, err := client.Fetch(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, data, got)
	require.NoError(t, client.Close())

	rec := httptest.NewRecorder()
	d.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `signkit_peer_artifacts_total{outcome="accepted"} 1`)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestNewDaemonRejectsBadTrustedKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.TrustedKeys = []string{"not-hex"}
	_, err := newDaemon(cfg, quietLogger())
	assert.Error(t, err)
}

func TestRunRejectsBadFlags(t *testing.T) {
	dir := t.TempDir()
	var errOut bytes.Buffer
	code := run(context.Background(), []string{
		"--config", filepath.Join(dir, "none.yaml"),
		"--store-dir", filepath.Join(dir, "store"),
		"--listen", "/ip4/127.0.0.1/udp/7777",
	}, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "signkit-peerd:")
}

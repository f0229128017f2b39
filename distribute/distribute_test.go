package distribute

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"

	"pangea.dev/signkit/cidutil"
	"pangea.dev/signkit/signer"
	"pangea.dev/signkit/storage"
	"pangea.dev/signkit/storage/testkit"
)

type edSigner struct{ priv ed25519.PrivateKey }

func newEdSigner(t *testing.T) edSigner {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return edSigner{priv: priv}
}

func (s edSigner) PublicKey() ed25519.PublicKey { return s.priv.Public().(ed25519.PublicKey) }
func (s edSigner) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.priv, msg), nil
}

func signedArtifact(t *testing.T, s edSigner, version int) *signer.SignedArtifact {
	t.Helper()
	a := &signer.BuildArtifact{
		Name:           map[string]string{"en-us": "send and request money"},
		UsedSigningKey: hex.EncodeToString(s.PublicKey()),
		Code:           "console.log('hi')",
		Image:          "aGk=",
		Engine:         "1.2.3",
		Version:        version,
	}
	sa, err := signer.SignArtifact(a, s)
	require.NoError(t, err)
	return sa
}

func marshal(t *testing.T, sa *signer.SignedArtifact) []byte {
	t.Helper()
	b, err := sa.Marshal()
	require.NoError(t, err)
	return b
}

type peer struct {
	client   *Client
	store    *testkit.MemCAS
	metrics  *Metrics
	mu       sync.Mutex
	sessions []string
}

func (p *peer) seenSessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sessions...)
}

func startPeer(t *testing.T, opts ServerOptions) *peer {
	t.Helper()
	p := &peer{store: testkit.NewMemCAS(), metrics: NewMetrics(prometheus.NewRegistry())}
	opts.Store = p.store
	opts.Metrics = p.metrics
	srv, err := NewServer(opts)
	require.NoError(t, err)

	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer(grpc.StreamInterceptor(func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		md, _ := metadata.FromIncomingContext(ss.Context())
		p.mu.Lock()
		p.sessions = append(p.sessions, md.Get(SessionHeader)...)
		p.mu.Unlock()
		return handler(srv, ss)
	}))
	RegisterDistributorServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	client, err := DialTarget(ctx, "bufnet", ClientOptions{DialOptions: []grpc.DialOption{grpc.WithContextDialer(dialer)}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	p.client = client
	return p
}

func TestPushStoresVerifiedArtifacts(t *testing.T) {
	p := startPeer(t, ServerOptions{})
	s := newEdSigner(t)
	first, second := marshal(t, signedArtifact(t, s, 1)), marshal(t, signedArtifact(t, s, 2))

	ids, err := p.client.Push(context.Background(), first, second)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	want, err := cidutil.Of(first)
	require.NoError(t, err)
	assert.True(t, ids[0].Equals(want))
	assert.True(t, p.store.Has(ids[0]))
	assert.True(t, p.store.Has(ids[1]))

	assert.Equal(t, 2.0, testutil.ToFloat64(p.metrics.artifacts.WithLabelValues(OutcomeAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.streams))

	sessions := p.seenSessions()
	require.Len(t, sessions, 1)
	_, err = uuid.Parse(sessions[0])
	assert.NoError(t, err)
}

func TestPushRejectsTamperedArtifact(t *testing.T) {
	p := startPeer(t, ServerOptions{})
	sa := signedArtifact(t, newEdSigner(t), 1)
	sa.Code = "alert('tampered')"

	_, err := p.client.Push(context.Background(), marshal(t, sa))
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 0, p.store.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.artifacts.WithLabelValues(OutcomeBadSignature)))
}

func TestPushRejectsMalformedArtifact(t *testing.T) {
	p := startPeer(t, ServerOptions{})
	_, err := p.client.Push(context.Background(), []byte(`{"name":"not a map"}`))
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.artifacts.WithLabelValues(OutcomeInvalid)))
}

func TestPushRejectsUntrustedKey(t *testing.T) {
	trusted, stranger := newEdSigner(t), newEdSigner(t)
	p := startPeer(t, ServerOptions{TrustedKeys: []ed25519.PublicKey{trusted.PublicKey()}})

	_, err := p.client.Push(context.Background(), marshal(t, signedArtifact(t, trusted, 1)))
	require.NoError(t, err)

	_, err = p.client.Push(context.Background(), marshal(t, signedArtifact(t, stranger, 1)))
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 1, p.store.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.artifacts.WithLabelValues(OutcomeUntrusted)))
}

func TestPushRateLimited(t *testing.T) {
	p := startPeer(t, ServerOptions{Limiter: rate.NewLimiter(0, 1)})
	s := newEdSigner(t)

	_, err := p.client.Push(context.Background(), marshal(t, signedArtifact(t, s, 1)))
	require.NoError(t, err)
	_, err = p.client.Push(context.Background(), marshal(t, signedArtifact(t, s, 2)))
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.rateLimited))
}

func TestPushTooLarge(t *testing.T) {
	p := startPeer(t, ServerOptions{MaxArtifactBytes: 16})
	_, err := p.client.Push(context.Background(), marshal(t, signedArtifact(t, newEdSigner(t), 1)))
	require.ErrorIs(t, err, ErrRejected)
}

func TestFetch(t *testing.T) {
	p := startPeer(t, ServerOptions{})
	payload := marshal(t, signedArtifact(t, newEdSigner(t), 1))

	ids, err := p.client.Push(context.Background(), payload)
	require.NoError(t, err)

	got, err := p.client.Fetch(context.Background(), ids[0])
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	missing, err := cidutil.Of([]byte("never pushed"))
	require.NoError(t, err)
	_, err = p.client.Fetch(context.Background(), missing)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDistributorOverGRPC(t *testing.T) {
	p := startPeer(t, ServerOptions{})
	s := newEdSigner(t)

	d := NewDistributor(p.client, nil)
	require.NoError(t, d.Distribute(context.Background(), signedArtifact(t, s, 1), signedArtifact(t, s, 2)))
	assert.Equal(t, 2, p.store.Len())
	assert.Len(t, p.seenSessions(), 2)
}

func TestDistributorRefusesUnverifiedArtifacts(t *testing.T) {
	var sent [][]byte
	d := NewDistributor(TransportFunc(func(_ context.Context, b []byte) error {
		sent = append(sent, b)
		return nil
	}), nil)
	s := newEdSigner(t)

	good := signedArtifact(t, s, 1)
	unsigned := signedArtifact(t, s, 2)
	unsigned.Signature = ""

	err := d.Distribute(context.Background(), good, unsigned)
	require.ErrorIs(t, err, signer.ErrEncoding)
	assert.Empty(t, sent, "nothing is sent when any artifact fails verification")

	forged := signedArtifact(t, s, 3)
	forged.Engine = "9.9.9"
	assert.ErrorIs(t, d.Distribute(context.Background(), forged), signer.ErrSignature)

	require.NoError(t, d.Distribute(context.Background(), good))
	require.Len(t, sent, 1)
	parsed, err := signer.ParseSignedArtifact(sent[0])
	require.NoError(t, err)
	assert.Equal(t, good, parsed)
}

func TestDistributorStopsAtFirstSendFailure(t *testing.T) {
	boom := errors.New("peer went away")
	calls := 0
	d := NewDistributor(TransportFunc(func(context.Context, []byte) error {
		calls++
		if calls == 2 {
			return boom
		}
		return nil
	}), nil)
	s := newEdSigner(t)

	err := d.Distribute(context.Background(), signedArtifact(t, s, 1), signedArtifact(t, s, 2), signedArtifact(t, s, 3))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 2, calls)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Distribute(ctx, signedArtifact(t, s, 1)), context.Canceled)
}

func TestTarget(t *testing.T) {
	got, err := Target("/ip4/127.0.0.1/tcp/7777")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", got)

	got, err = Target("/ip6/::1/tcp/7777")
	require.NoError(t, err)
	assert.Equal(t, "[::1]:7777", got)

	for _, bad := range []string{"", "127.0.0.1:7777", "/ip4/127.0.0.1/udp/7777"} {
		_, err := Target(bad)
		assert.Error(t, err, bad)
	}
}

func TestDialCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Dial(ctx, "/ip4/127.0.0.1/tcp/1", ClientOptions{DialTimeout: 50 * time.Millisecond})
	require.Error(t, err)
}

func TestParsePublicKey(t *testing.T) {
	s := newEdSigner(t)
	pub, err := ParsePublicKey(hex.EncodeToString(s.PublicKey()))
	require.NoError(t, err)
	assert.Equal(t, s.PublicKey(), pub)

	_, err = ParsePublicKey("abcd")
	assert.Error(t, err)

	_, err = NewServer(ServerOptions{Store: testkit.NewMemCAS(), TrustedKeys: []ed25519.PublicKey{{1, 2}}})
	assert.Error(t, err)
	_, err = NewServer(ServerOptions{})
	assert.Error(t, err)
}

package distribute

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"pangea.dev/signkit/cidutil"
	"pangea.dev/signkit/storage"
)

// SessionHeader carries the per-stream session id in gRPC metadata.
const SessionHeader = "x-signkit-session"

type ClientOptions struct {
	// DialTimeout bounds each connection attempt. Defaults to 5s.
	DialTimeout time.Duration
	// MaxElapsed bounds all attempts together. Defaults to 30s.
	MaxElapsed  time.Duration
	MaxMsgBytes int
	// DialOptions are appended to the defaults.
	DialOptions []grpc.DialOption
	Log         *log.Entry
}

// Client pushes signed artifacts to a peer. It implements Transport.
type Client struct {
	cc     *grpc.ClientConn
	client DistributorClient
	log    *log.Entry
}

var _ Transport = (*Client)(nil)

// Target converts a peer multiaddr such as /ip4/127.0.0.1/tcp/7777 into a
// gRPC dial target.
func Target(addr string) (string, error) {
	m, err := ma.NewMultiaddr(strings.TrimSpace(addr))
	if err != nil {
		return "", fmt.Errorf("distribute: invalid peer address %q: %w", addr, err)
	}
	network, host, err := manet.DialArgs(m)
	if err != nil {
		return "", fmt.Errorf("distribute: peer address %q: %w", addr, err)
	}
	switch network {
	case "tcp", "tcp4", "tcp6":
		return host, nil
	default:
		return "", fmt.Errorf("distribute: peer address %q: unsupported network %s", addr, network)
	}
}

// Dial connects to the peer at the multiaddr addr, retrying with exponential
// backoff until the peer answers, ctx is done or MaxElapsed passes.
func Dial(ctx context.Context, addr string, opts ClientOptions) (*Client, error) {
	target, err := Target(addr)
	if err != nil {
		return nil, err
	}
	return DialTarget(ctx, target, opts)
}

// DialTarget is Dial for a plain gRPC target.
func DialTarget(ctx context.Context, target string, opts ClientOptions) (*Client, error) {
	entry := opts.Log
	if entry == nil {
		entry = log.WithField("component", "distribute")
	}
	entry = entry.WithField("peer", target)
	timeout := opts.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxMsg := opts.MaxMsgBytes
	if maxMsg <= 0 {
		maxMsg = DefaultMaxArtifactBytes + 1<<10
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(maxMsg),
			grpc.MaxCallSendMsgSize(maxMsg),
		),
		grpc.WithBlock(),
	}
	dialOpts = append(dialOpts, opts.DialOptions...)

	var cc *grpc.ClientConn
	operation := func() error {
		dctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, err := grpc.DialContext(dctx, target, dialOpts...)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		cc = conn
		return nil
	}
	notify := func(err error, next time.Duration) {
		entry.WithError(err).Debugf("peer not reachable, retrying in %s", next)
	}
	if err := backoff.RetryNotify(operation, dialBackoff(ctx, opts.MaxElapsed), notify); err != nil {
		return nil, fmt.Errorf("distribute: connect to %s: %w", target, err)
	}
	entry.Debug("connected to peer")
	return &Client{cc: cc, client: NewDistributorClient(cc), log: entry}, nil
}

func dialBackoff(ctx context.Context, maxElapsed time.Duration) backoff.BackOff {
	if maxElapsed <= 0 {
		maxElapsed = 30 * time.Second
	}
	return backoff.WithContext(&backoff.ExponentialBackOff{
		InitialInterval:     200 * time.Millisecond,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         5 * time.Second,
		MaxElapsedTime:      maxElapsed,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}, ctx)
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

// Send pushes a single payload.
func (c *Client) Send(ctx context.Context, payload []byte) error {
	_, err := c.Push(ctx, payload)
	return err
}

// Push streams payloads to the peer in one session and returns the CIDs the
// peer stored them under. Each returned CID is checked against the one
// computed locally.
func (c *Client) Push(ctx context.Context, payloads ...[]byte) ([]cid.Cid, error) {
	session := uuid.NewString()
	ctx = metadata.AppendToOutgoingContext(ctx, SessionHeader, session)
	entry := c.log.WithField("session", session)

	want := make([]cid.Cid, 0, len(payloads))
	for _, p := range payloads {
		id, err := cidutil.Of(p)
		if err != nil {
			return nil, err
		}
		want = append(want, id)
	}

	stream, err := c.client.Push(ctx)
	if err != nil {
		return nil, mapRPC(err)
	}
	for _, p := range payloads {
		// io.EOF means the peer ended the stream; its status comes from CloseAndRecv.
		if err := stream.Send(wrapperspb.Bytes(p)); err != nil {
			if err == io.EOF {
				break
			}
			return nil, mapRPC(err)
		}
	}
	reply, err := stream.CloseAndRecv()
	if err != nil {
		return nil, mapRPC(err)
	}

	got, err := parseCIDList(reply.GetValue())
	if err != nil {
		return nil, err
	}
	if len(got) != len(want) {
		return nil, fmt.Errorf("%w: peer stored %d artifacts, sent %d", storage.ErrCIDMismatch, len(got), len(want))
	}
	for i := range want {
		if !got[i].Equals(want[i]) {
			return nil, fmt.Errorf("%w: artifact %d: want %s, peer has %s", storage.ErrCIDMismatch, i, want[i], got[i])
		}
	}
	entry.WithField("count", len(got)).Debug("artifacts pushed")
	return got, nil
}

// Fetch downloads a stored artifact and checks it against id.
func (c *Client) Fetch(ctx context.Context, id cid.Cid) ([]byte, error) {
	if !id.Defined() {
		return nil, storage.ErrInvalidCID
	}
	reply, err := c.client.Fetch(ctx, wrapperspb.String(id.String()))
	if err != nil {
		return nil, mapRPC(err)
	}
	b := reply.GetValue()
	if err := cidutil.Verify(id, b); err != nil {
		return nil, storage.ErrCIDMismatch
	}
	return b, nil
}

func parseCIDList(s string) ([]cid.Cid, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]cid.Cid, 0, len(parts))
	for _, p := range parts {
		id, err := cidutil.Parse(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", storage.ErrInvalidCID, err)
		}
		out = append(out, id)
	}
	return out, nil
}

package distribute

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ipfs/go-cid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"pangea.dev/signkit/cidutil"
	"pangea.dev/signkit/signer"
	"pangea.dev/signkit/storage"
)

// DefaultMaxArtifactBytes bounds a single artifact on both ends of a stream.
const DefaultMaxArtifactBytes = 64 << 20

type ServerOptions struct {
	Store storage.CAS
	// TrustedKeys restricts accepted artifacts to these signing keys. Empty
	// accepts any artifact whose signature verifies.
	TrustedKeys []ed25519.PublicKey
	// Limiter gates new Push streams. Nil means unlimited.
	Limiter          *rate.Limiter
	MaxArtifactBytes int
	Metrics          *Metrics
	Log              *log.Entry
}

// Server is the receiving side of artifact distribution. Every artifact is
// verified before it is stored; nothing unsigned reaches the store.
type Server struct {
	UnimplementedDistributorServer

	store    storage.CAS
	trusted  []ed25519.PublicKey
	limiter  *rate.Limiter
	maxBytes int
	metrics  *Metrics
	log      *log.Entry
}

func NewServer(opts ServerOptions) (*Server, error) {
	if opts.Store == nil {
		return nil, errors.New("distribute: server requires a store")
	}
	for i, k := range opts.TrustedKeys {
		if len(k) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("distribute: trusted key %d is %d bytes, want %d", i, len(k), ed25519.PublicKeySize)
		}
	}
	s := &Server{
		store:    opts.Store,
		trusted:  opts.TrustedKeys,
		limiter:  opts.Limiter,
		maxBytes: opts.MaxArtifactBytes,
		metrics:  opts.Metrics,
		log:      opts.Log,
	}
	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxArtifactBytes
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	if s.log == nil {
		s.log = log.WithField("component", "distribute")
	}
	return s, nil
}

func (s *Server) Push(stream Distributor_PushServer) error {
	entry := s.log.WithField("session", sessionID(stream.Context()))
	s.metrics.streams.Inc()
	if s.limiter != nil && !s.limiter.Allow() {
		s.metrics.rateLimited.Inc()
		entry.Warn("push stream rate limited")
		return statusFor(ErrRateLimited)
	}

	var ids []string
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		id, err := s.accept(entry, msg.GetValue())
		if err != nil {
			entry.WithError(err).WithField("index", len(ids)).Warn("artifact rejected")
			return statusFor(err)
		}
		ids = append(ids, id.String())
	}
	entry.WithField("count", len(ids)).Info("push stream complete")
	return stream.SendAndClose(wrapperspb.String(strings.Join(ids, ",")))
}

func (s *Server) Fetch(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	id, err := cidutil.Parse(in.GetValue())
	if err != nil {
		return nil, statusFor(fmt.Errorf("%w: %v", storage.ErrInvalidCID, err))
	}
	b, err := s.store.Get(id)
	if err != nil {
		return nil, statusFor(err)
	}
	return wrapperspb.Bytes(b), nil
}

// accept verifies one artifact and stores its exact bytes.
func (s *Server) accept(entry *log.Entry, data []byte) (cid.Cid, error) {
	if len(data) > s.maxBytes {
		s.metrics.outcome(OutcomeInvalid)
		return cid.Undef, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(data), s.maxBytes)
	}
	sa, err := signer.ParseSignedArtifact(data)
	if err != nil {
		s.metrics.outcome(OutcomeInvalid)
		return cid.Undef, err
	}
	if err := signer.VerifyArtifact(sa); err != nil {
		if errors.Is(err, signer.ErrSignature) {
			s.metrics.outcome(OutcomeBadSignature)
		} else {
			s.metrics.outcome(OutcomeInvalid)
		}
		return cid.Undef, err
	}
	pub, _ := hexKey(sa.UsedSigningKey)
	if !s.isTrusted(pub) {
		s.metrics.outcome(OutcomeUntrusted)
		return cid.Undef, fmt.Errorf("%w: %s", ErrUntrusted, signer.KeyID(pub))
	}

	id, err := s.store.Put(data)
	if err != nil {
		s.metrics.outcome(OutcomeStoreError)
		return cid.Undef, err
	}
	s.metrics.outcome(OutcomeAccepted)
	s.metrics.bytes.Add(float64(len(data)))
	entry.WithFields(log.Fields{
		"cid":     id.String(),
		"key_id":  signer.KeyID(pub),
		"version": sa.Version,
	}).Debug("artifact stored")
	return id, nil
}

func (s *Server) isTrusted(pub ed25519.PublicKey) bool {
	if len(s.trusted) == 0 {
		return true
	}
	for _, k := range s.trusted {
		if bytes.Equal(k, pub) {
			return true
		}
	}
	return false
}

func sessionID(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if v := md.Get(SessionHeader); len(v) > 0 {
		return v[0]
	}
	return ""
}

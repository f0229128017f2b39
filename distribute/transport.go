// Package distribute ships signed build artifacts to peers.
//
// A Distributor verifies artifacts and hands their JSON to a Transport. The
// gRPC Client is the Transport used in production; Server is the peer side.
package distribute

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	log "github.com/sirupsen/logrus"

	"pangea.dev/signkit/signer"
)

// Transport sends one serialized artifact to a remote peer. It knows nothing
// about peer discovery or handshakes.
type Transport interface {
	Send(ctx context.Context, payload []byte) error
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, payload []byte) error

func (f TransportFunc) Send(ctx context.Context, payload []byte) error { return f(ctx, payload) }

type Distributor struct {
	transport Transport
	log       *log.Entry
}

func NewDistributor(t Transport, logger *log.Entry) *Distributor {
	if logger == nil {
		logger = log.WithField("component", "distribute")
	}
	return &Distributor{transport: t, log: logger}
}

// Distribute verifies every artifact, then sends them in order. Nothing is
// sent if any artifact fails verification; sending stops at the first
// transport error.
func (d *Distributor) Distribute(ctx context.Context, artifacts ...*signer.SignedArtifact) error {
	payloads := make([][]byte, 0, len(artifacts))
	for i, a := range artifacts {
		if err := signer.VerifyArtifact(a); err != nil {
			return fmt.Errorf("distribute: artifact %d: %w", i, err)
		}
		b, err := a.Marshal()
		if err != nil {
			return fmt.Errorf("distribute: artifact %d: %w", i, err)
		}
		payloads = append(payloads, b)
	}

	for i, p := range payloads {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := d.transport.Send(ctx, p); err != nil {
			return fmt.Errorf("distribute: send artifact %d: %w", i, err)
		}
		pub, _ := hexKey(artifacts[i].UsedSigningKey)
		d.log.WithFields(log.Fields{
			"key_id":  signer.KeyID(pub),
			"version": artifacts[i].Version,
			"bytes":   len(p),
		}).Debug("artifact sent")
	}
	return nil
}

// ParsePublicKey decodes a hex Ed25519 public key, as given to --trusted-key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	pub, err := hexKey(s)
	if err != nil {
		return nil, fmt.Errorf("distribute: public key %q: %w", s, err)
	}
	return pub, nil
}

func hexKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("want %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

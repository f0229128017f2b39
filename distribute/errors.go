package distribute

import (
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"pangea.dev/signkit/signer"
	"pangea.dev/signkit/storage"
)

var (
	// ErrRejected wraps a peer's refusal of an artifact.
	ErrRejected    = errors.New("distribute: artifact rejected by peer")
	ErrRateLimited = errors.New("distribute: peer rate limit exceeded")
	ErrUntrusted   = errors.New("distribute: signing key is not trusted")
	ErrTooLarge    = errors.New("distribute: artifact too large")
)

// statusFor maps a server-side failure onto a gRPC status.
func statusFor(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRateLimited):
		return status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, ErrTooLarge), errors.Is(err, signer.ErrEncoding), errors.Is(err, storage.ErrInvalidCID):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, signer.ErrSignature):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, ErrUntrusted):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, storage.ErrCIDMismatch), errors.Is(err, storage.ErrImmutable):
		return status.Error(codes.DataLoss, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// mapRPC turns a status returned by a peer back into this package's errors.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return ErrRateLimited
	case codes.InvalidArgument, codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%w: %s", ErrRejected, st.Message())
	case codes.NotFound:
		return storage.ErrNotFound
	case codes.DataLoss:
		return storage.ErrCIDMismatch
	default:
		return err
	}
}

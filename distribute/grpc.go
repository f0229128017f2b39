package distribute

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The service is described with protobuf well-known wrapper types, so no
// protoc step is needed:
//
//	service Distributor {
//	  rpc Push(stream google.protobuf.BytesValue) returns (google.protobuf.StringValue);
//	  rpc Fetch(google.protobuf.StringValue) returns (google.protobuf.BytesValue);
//	}
const (
	serviceName  = "pangea.signkit.distribute.v1.Distributor"
	pushMethod   = "/" + serviceName + "/Push"
	fetchMethod  = "/" + serviceName + "/Fetch"
	metadataFile = "distribute.proto"
)

// DistributorServer is the server API for the Distributor service.
type DistributorServer interface {
	// Push receives a stream of signed artifact JSON documents and replies
	// with their CIDs, comma separated, in order.
	Push(Distributor_PushServer) error
	// Fetch returns the stored artifact with the given CID.
	Fetch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
}

// UnimplementedDistributorServer can be embedded to have forward compatible implementations.
type UnimplementedDistributorServer struct{}

func (UnimplementedDistributorServer) Push(Distributor_PushServer) error {
	return status.Error(codes.Unimplemented, "method Push not implemented")
}
func (UnimplementedDistributorServer) Fetch(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Fetch not implemented")
}

func RegisterDistributorServer(s grpc.ServiceRegistrar, srv DistributorServer) {
	s.RegisterService(&Distributor_ServiceDesc, srv)
}

type Distributor_PushServer interface {
	SendAndClose(*wrapperspb.StringValue) error
	Recv() (*wrapperspb.BytesValue, error)
	grpc.ServerStream
}

type distributorPushServer struct{ grpc.ServerStream }

func (x *distributorPushServer) SendAndClose(m *wrapperspb.StringValue) error {
	return x.ServerStream.SendMsg(m)
}

func (x *distributorPushServer) Recv() (*wrapperspb.BytesValue, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// DistributorClient is the client API for the Distributor service.
type DistributorClient interface {
	Push(ctx context.Context, opts ...grpc.CallOption) (Distributor_PushClient, error)
	Fetch(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type Distributor_PushClient interface {
	Send(*wrapperspb.BytesValue) error
	CloseAndRecv() (*wrapperspb.StringValue, error)
	grpc.ClientStream
}

type distributorClient struct{ cc grpc.ClientConnInterface }

func NewDistributorClient(cc grpc.ClientConnInterface) DistributorClient {
	return &distributorClient{cc: cc}
}

func (c *distributorClient) Push(ctx context.Context, opts ...grpc.CallOption) (Distributor_PushClient, error) {
	stream, err := c.cc.NewStream(ctx, &Distributor_ServiceDesc.Streams[0], pushMethod, opts...)
	if err != nil {
		return nil, err
	}
	return &distributorPushClient{stream}, nil
}

func (c *distributorClient) Fetch(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, fetchMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

type distributorPushClient struct{ grpc.ClientStream }

func (x *distributorPushClient) Send(m *wrapperspb.BytesValue) error {
	return x.ClientStream.SendMsg(m)
}

func (x *distributorPushClient) CloseAndRecv() (*wrapperspb.StringValue, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(wrapperspb.StringValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _Distributor_Push_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(DistributorServer).Push(&distributorPushServer{stream})
}

func _Distributor_Fetch_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DistributorServer).Fetch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fetchMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DistributorServer).Fetch(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Distributor_ServiceDesc is the grpc.ServiceDesc for the Distributor service.
var Distributor_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*DistributorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Fetch", Handler: _Distributor_Fetch_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Push", Handler: _Distributor_Push_Handler, ClientStreams: true},
	},
	Metadata: metadataFile,
}

// Code generated by protoc-gen-go-grpc; hand-authored here because
// protoc is not run in this environment. Method/service names and the
// client/server stub shape mirror protoc-gen-go-grpc's actual output
// (verified against real generated code), built directly on
// google.golang.org/grpc rather than relying on descriptor-based
// reflection.
package dnapb

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	DNA_StreamData_FullMethodName = "/dna.stream.v2.DNA/StreamData"
	DNA_Status_FullMethodName     = "/dna.stream.v2.DNA/Status"
)

// DNAClient is the client API for the DNA service.
type DNAClient interface {
	StreamData(ctx context.Context, in *StreamDataRequest, opts ...grpc.CallOption) (DNA_StreamDataClient, error)
	Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
}

type dNAClient struct {
	cc grpc.ClientConnInterface
}

func NewDNAClient(cc grpc.ClientConnInterface) DNAClient {
	return &dNAClient{cc}
}

func (c *dNAClient) StreamData(ctx context.Context, in *StreamDataRequest, opts ...grpc.CallOption) (DNA_StreamDataClient, error) {
	stream, err := c.cc.NewStream(ctx, &dNA_ServiceDesc.Streams[0], DNA_StreamData_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &dNAStreamDataClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// DNA_StreamDataClient is the streaming response iterator returned by
// DNAClient.StreamData.
type DNA_StreamDataClient interface {
	Recv() (*StreamDataResponse, error)
	grpc.ClientStream
}

type dNAStreamDataClient struct {
	grpc.ClientStream
}

func (x *dNAStreamDataClient) Recv() (*StreamDataResponse, error) {
	m := new(StreamDataResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *dNAClient) Status(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.cc.Invoke(ctx, DNA_Status_FullMethodName, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// DNAServer is the server API for the DNA service.
type DNAServer interface {
	StreamData(*StreamDataRequest, DNA_StreamDataServer) error
	Status(context.Context, *StatusRequest) (*StatusResponse, error)
}

// UnimplementedDNAServer may be embedded to have forward compatible
// implementations.
type UnimplementedDNAServer struct{}

func (UnimplementedDNAServer) StreamData(*StreamDataRequest, DNA_StreamDataServer) error {
	return status.Errorf(codes.Unimplemented, "method StreamData not implemented")
}

func (UnimplementedDNAServer) Status(context.Context, *StatusRequest) (*StatusResponse, error) {
	return nil, status.Errorf(codes.Unimplemented, "method Status not implemented")
}

func RegisterDNAServer(s grpc.ServiceRegistrar, srv DNAServer) {
	s.RegisterService(&dNA_ServiceDesc, srv)
}

func _DNA_StreamData_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(StreamDataRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(DNAServer).StreamData(m, &dNAStreamDataServer{stream})
}

// DNA_StreamDataServer is the server-side handle used to send responses
// on the StreamData stream.
type DNA_StreamDataServer interface {
	Send(*StreamDataResponse) error
	grpc.ServerStream
}

type dNAStreamDataServer struct {
	grpc.ServerStream
}

func (x *dNAStreamDataServer) Send(m *StreamDataResponse) error {
	return x.ServerStream.SendMsg(m)
}

func _DNA_Status_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DNAServer).Status(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: DNA_Status_FullMethodName,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(DNAServer).Status(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// dNA_ServiceDesc is the grpc.ServiceDesc for the DNA service; it is
// used both for registration and (by the client stub) to locate the
// StreamData StreamDesc.
var dNA_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "dna.stream.v2.DNA",
	HandlerType: (*DNAServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Status",
			Handler:    _DNA_Status_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamData",
			Handler:       _DNA_StreamData_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "dna.proto",
}

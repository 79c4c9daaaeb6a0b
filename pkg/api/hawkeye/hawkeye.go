// Package hawkeye holds the gRPC contracts spoken by the collector.
//
// Two services exist:
//
//	hawkeye.HawkeyeService               implemented by monitored peers, polled by the collector
//	hawkeye_collector.HawkeyeCollector   implemented by the collector, queried by clients
//
// Messages are protobuf well-known types, so no generated code is needed:
// service descriptors are declared here the way protoc-gen-go-grpc would.
package hawkeye

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const (
	PeerServiceName      = "hawkeye.HawkeyeService"
	CollectorServiceName = "hawkeye_collector.HawkeyeCollector"
)

// Full method names. GetOcupation keeps the spelling deployed peers and
// clients already use on the wire.
const (
	GetCpuStatsFullMethod  = "/hawkeye.HawkeyeService/GetCpuStats"
	GetOcupationFullMethod = "/hawkeye_collector.HawkeyeCollector/GetOcupation"
	PushSampleFullMethod   = "/hawkeye_collector.HawkeyeCollector/PushSample"
)

// PeerServer is implemented by monitored hosts. The request carries a sampling
// window in seconds; the response is the current occupation.
type PeerServer interface {
	GetCpuStats(context.Context, *wrapperspb.Int64Value) (*wrapperspb.FloatValue, error)
}

// CollectorServer is the query and push surface of the collector.
type CollectorServer interface {
	GetOccupation(context.Context, *wrapperspb.StringValue) (*structpb.ListValue, error)
	PushSample(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

func RegisterPeerServer(s grpc.ServiceRegistrar, srv PeerServer) {
	s.RegisterService(&PeerServiceDesc, srv)
}

func RegisterCollectorServer(s grpc.ServiceRegistrar, srv CollectorServer) {
	s.RegisterService(&CollectorServiceDesc, srv)
}

var PeerServiceDesc = grpc.ServiceDesc{
	ServiceName: PeerServiceName,
	HandlerType: (*PeerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCpuStats", Handler: getCpuStatsHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hawkeye.proto",
}

var CollectorServiceDesc = grpc.ServiceDesc{
	ServiceName: CollectorServiceName,
	HandlerType: (*CollectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetOcupation", Handler: getOcupationHandler},
		{MethodName: "PushSample", Handler: pushSampleHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "hawkeye_collector.proto",
}

func getCpuStatsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.Int64Value)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerServer).GetCpuStats(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetCpuStatsFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PeerServer).GetCpuStats(ctx, req.(*wrapperspb.Int64Value))
	}
	return interceptor(ctx, in, info, handler)
}

func getOcupationHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).GetOccupation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetOcupationFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).GetOccupation(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func pushSampleHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CollectorServer).PushSample(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PushSampleFullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CollectorServer).PushSample(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// PeerClient calls HawkeyeService on a monitored host.
type PeerClient struct {
	cc grpc.ClientConnInterface
}

func NewPeerClient(cc grpc.ClientConnInterface) *PeerClient {
	return &PeerClient{cc: cc}
}

func (c *PeerClient) GetCpuStats(ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption) (*wrapperspb.FloatValue, error) {
	out := new(wrapperspb.FloatValue)
	if err := c.cc.Invoke(ctx, GetCpuStatsFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CollectorClient calls HawkeyeCollector on a collector.
type CollectorClient struct {
	cc grpc.ClientConnInterface
}

func NewCollectorClient(cc grpc.ClientConnInterface) *CollectorClient {
	return &CollectorClient{cc: cc}
}

func (c *CollectorClient) GetOccupation(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, GetOcupationFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CollectorClient) PushSample(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, PushSampleFullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

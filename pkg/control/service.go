package control

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC name of the Bridge service.
// Requests and responses are JSON documents carried in BytesValue messages.
const ServiceName = "analyzer.coordinator.v1.Bridge"

const (
	analyzeWebsiteMethod    = "/" + ServiceName + "/AnalyzeWebsite"
	analyzeSinglePageMethod = "/" + ServiceName + "/AnalyzeSinglePage"
)

// BridgeServer is the server side of the Bridge service
type BridgeServer interface {
	AnalyzeWebsite(ctx context.Context, request *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
	AnalyzeSinglePage(ctx context.Context, request *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

func registerBridgeServer(registrar grpc.ServiceRegistrar, server BridgeServer) {
	registrar.RegisterService(&bridgeServiceDesc, server)
}

var bridgeServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BridgeServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "AnalyzeWebsite",
			Handler:    analyzeWebsiteHandler,
		},
		{
			MethodName: "AnalyzeSinglePage",
			Handler:    analyzeSinglePageHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "analyzer/coordinator/v1/bridge.proto",
}

func analyzeWebsiteHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BridgeServer).AnalyzeWebsite(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: analyzeWebsiteMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BridgeServer).AnalyzeWebsite(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func analyzeSinglePageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BridgeServer).AnalyzeSinglePage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: analyzeSinglePageMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BridgeServer).AnalyzeSinglePage(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// Package rpc exposes the arbiter to remote simulation drivers over gRPC.
// Messages are google.protobuf.Struct values so the service needs no
// generated code.
package rpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// #region service-desc

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "intersection.v1.Arbiter"

const (
	methodRequestAdmission = "RequestAdmission"
	methodEnter            = "Enter"
	methodExit             = "Exit"
	methodCheckpoint       = "Checkpoint"
)

// ArbiterServer is the server API for the Arbiter service.
type ArbiterServer interface {
	RequestAdmission(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Enter(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Exit(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Checkpoint(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Arbiter service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ArbiterServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: methodRequestAdmission, Handler: unaryHandler(methodRequestAdmission, ArbiterServer.RequestAdmission)},
		{MethodName: methodEnter, Handler: unaryHandler(methodEnter, ArbiterServer.Enter)},
		{MethodName: methodExit, Handler: unaryHandler(methodExit, ArbiterServer.Exit)},
		{MethodName: methodCheckpoint, Handler: unaryHandler(methodCheckpoint, ArbiterServer.Checkpoint)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "intersection/v1/arbiter.proto",
}

func fullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

type unaryCall func(ArbiterServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ArbiterServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ArbiterServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// #endregion service-desc

// Package api exposes the message history over gRPC. Requests and responses
// are google.protobuf.Struct values; the service descriptor is declared here
// rather than generated.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "talk.v1.HistoryService"

// Full method names, as used by clients.
const (
	MethodFetchPage   = "/" + ServiceName + "/FetchPage"
	MethodSendMessage = "/" + ServiceName + "/SendMessage"
	MethodGetStatus   = "/" + ServiceName + "/GetStatus"
	MethodWatchEvents = "/" + ServiceName + "/WatchEvents"
)

// HistoryServer is the server side of the history service.
type HistoryServer interface {
	FetchPage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	WatchEvents(*structpb.Struct, grpc.ServerStream) error
}

// RegisterHistoryServer registers srv on s.
func RegisterHistoryServer(s grpc.ServiceRegistrar, srv HistoryServer) {
	s.RegisterService(&historyServiceDesc, srv)
}

var historyServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*HistoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "FetchPage", Handler: unaryHandler(MethodFetchPage, HistoryServer.FetchPage)},
		{MethodName: "SendMessage", Handler: unaryHandler(MethodSendMessage, HistoryServer.SendMessage)},
		{MethodName: "GetStatus", Handler: unaryHandler(MethodGetStatus, HistoryServer.GetStatus)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       watchEventsHandler,
			ServerStreams: true,
		},
	},
}

type unaryMethod func(HistoryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(HistoryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(HistoryServer), ctx, req.(*structpb.Struct))
		})
	}
}

func watchEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(structpb.Struct)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(HistoryServer).WatchEvents(in, stream)
}

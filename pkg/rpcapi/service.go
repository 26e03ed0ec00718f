package rpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// serviceName is the gRPC service path every method below is registered
// under: /spacetimedb.control.Control/<Method>.
const serviceName = "spacetimedb.control.Control"

// ServiceDesc is a hand-written stand-in for the grpc.ServiceDesc a
// protoc-generated control.pb.go would normally produce. There are no
// .proto sources in this repository to generate from (see DESIGN.md),
// so the four methods are wired by hand against the Core interface.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Core)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Publish", Handler: publishHandler},
		{MethodName: "Call", Handler: callHandler},
		{MethodName: "Logs", Handler: logsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "pkg/rpcapi/service.go",
}

// RegisterControlServer binds core to s under ServiceDesc. grpc.Server
// dispatches every Publish/Call/Subscribe/Logs RPC it receives to core
// from this point on.
func RegisterControlServer(s *grpc.Server, core Core) {
	s.RegisterService(&ServiceDesc, core)
}

func publishHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PublishRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Core).Publish(ctx, *in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Publish"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Core).Publish(ctx, *req.(*PublishRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func callHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CallRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Core).Call(ctx, *in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Call"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Core).Call(ctx, *req.(*CallRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func logsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LogsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Core).Logs(ctx, *in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Logs"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Core).Logs(ctx, *req.(*LogsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// subscribeHandler drives the server side of the Subscribe server-stream:
// one request message, then a table change per SendMsg until the
// Core implementation's channel closes or the client goes away.
func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	var req SubscribeRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	changes, cancel, err := srv.(Core).Subscribe(stream.Context(), req)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&change); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

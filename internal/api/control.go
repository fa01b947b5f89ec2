// Package api exposes the daemon over gRPC. The Control service is declared
// by hand over protobuf well-known types, so no generated stubs are needed
// on either side of the socket.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const ControlServiceName = "peerchat.v1.Control"

const (
	Control_Status_FullMethodName       = "/peerchat.v1.Control/Status"
	Control_Send_FullMethodName         = "/peerchat.v1.Control/Send"
	Control_Accept_FullMethodName       = "/peerchat.v1.Control/Accept"
	Control_Rematch_FullMethodName      = "/peerchat.v1.Control/Rematch"
	Control_Exit_FullMethodName         = "/peerchat.v1.Control/Exit"
	Control_Connectivity_FullMethodName = "/peerchat.v1.Control/Connectivity"
	Control_ListMessages_FullMethodName = "/peerchat.v1.Control/ListMessages"
	Control_WatchEvents_FullMethodName  = "/peerchat.v1.Control/WatchEvents"
)

// ControlServer is the server API for the Control service.
type ControlServer interface {
	Status(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Send(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	Accept(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Rematch(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Exit(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	Connectivity(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
	ListMessages(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
	WatchEvents(*wrapperspb.StringValue, grpc.ServerStreamingServer[structpb.Struct]) error
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&Control_ServiceDesc, srv)
}

func unaryHandler[Req, Res any](fullMethod string, call func(ControlServer, context.Context, *Req) (*Res, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func _Control_WatchEvents_Handler(srv any, stream grpc.ServerStream) error {
	m := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ControlServer).WatchEvents(m, &grpc.GenericServerStream[wrapperspb.StringValue, structpb.Struct]{ServerStream: stream})
}

// Control_ServiceDesc is the grpc.ServiceDesc for the Control service.
var Control_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ControlServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Status", Handler: unaryHandler(Control_Status_FullMethodName, ControlServer.Status)},
		{MethodName: "Send", Handler: unaryHandler(Control_Send_FullMethodName, ControlServer.Send)},
		{MethodName: "Accept", Handler: unaryHandler(Control_Accept_FullMethodName, ControlServer.Accept)},
		{MethodName: "Rematch", Handler: unaryHandler(Control_Rematch_FullMethodName, ControlServer.Rematch)},
		{MethodName: "Exit", Handler: unaryHandler(Control_Exit_FullMethodName, ControlServer.Exit)},
		{MethodName: "Connectivity", Handler: unaryHandler(Control_Connectivity_FullMethodName, ControlServer.Connectivity)},
		{MethodName: "ListMessages", Handler: unaryHandler(Control_ListMessages_FullMethodName, ControlServer.ListMessages)},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "WatchEvents",
			Handler:       _Control_WatchEvents_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "peerchat/v1/control.proto",
}

// ControlClient is the client API for the Control service.
type ControlClient struct {
	cc grpc.ClientConnInterface
}

// NewControlClient wraps a connection to a daemon socket.
func NewControlClient(cc grpc.ClientConnInterface) *ControlClient {
	return &ControlClient{cc: cc}
}

func (c *ControlClient) Status(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Control_Status_FullMethodName, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) Send(ctx context.Context, text string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, Control_Send_FullMethodName, wrapperspb.String(text), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *ControlClient) Accept(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, Control_Accept_FullMethodName, &emptypb.Empty{}, new(emptypb.Empty), opts...)
}

func (c *ControlClient) Rematch(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, Control_Rematch_FullMethodName, &emptypb.Empty{}, new(emptypb.Empty), opts...)
}

func (c *ControlClient) Exit(ctx context.Context, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, Control_Exit_FullMethodName, &emptypb.Empty{}, new(emptypb.Empty), opts...)
}

func (c *ControlClient) Connectivity(ctx context.Context, available bool, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, Control_Connectivity_FullMethodName, wrapperspb.Bool(available), new(emptypb.Empty), opts...)
}

func (c *ControlClient) ListMessages(ctx context.Context, opts ...grpc.CallOption) (*structpb.ListValue, error) {
	out := new(structpb.ListValue)
	if err := c.cc.Invoke(ctx, Control_ListMessages_FullMethodName, &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// WatchEvents streams bus events whose kind starts with namespace; an empty
// namespace streams everything.
func (c *ControlClient) WatchEvents(ctx context.Context, namespace string, opts ...grpc.CallOption) (grpc.ServerStreamingClient[structpb.Struct], error) {
	stream, err := c.cc.NewStream(ctx, &Control_ServiceDesc.Streams[0], Control_WatchEvents_FullMethodName, opts...)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[wrapperspb.StringValue, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(wrapperspb.String(namespace)); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

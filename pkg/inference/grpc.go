package inference

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// InferenceServer is the server API for the guardian.inference.v1.Inference service.
//
// Messages are protobuf well-known types so no code generation is needed.
// Load takes a model id and returns its size in MB. Generate takes a Struct
// with "model", "prompt" and "max_tokens" fields.
type InferenceServer interface {
	Load(context.Context, *wrapperspb.StringValue) (*wrapperspb.DoubleValue, error)
	Unload(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	Generate(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error)
}

// UnimplementedInferenceServer can be embedded to have forward compatible implementations.
type UnimplementedInferenceServer struct{}

func (UnimplementedInferenceServer) Load(context.Context, *wrapperspb.StringValue) (*wrapperspb.DoubleValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Load not implemented")
}
func (UnimplementedInferenceServer) Unload(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error) {
	return nil, status.Error(codes.Unimplemented, "method Unload not implemented")
}
func (UnimplementedInferenceServer) Generate(context.Context, *structpb.Struct) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Generate not implemented")
}

// RegisterInferenceServer registers the Inference service on a gRPC server.
func RegisterInferenceServer(s grpc.ServiceRegistrar, srv InferenceServer) {
	s.RegisterService(&Inference_ServiceDesc, srv)
}

// InferenceClient is the client API for the Inference service.
type InferenceClient interface {
	Load(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.DoubleValue, error)
	Unload(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Generate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
}

type inferenceClient struct{ cc grpc.ClientConnInterface }

func NewInferenceClient(cc grpc.ClientConnInterface) InferenceClient { return &inferenceClient{cc: cc} }

func (c *inferenceClient) Load(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.DoubleValue, error) {
	out := new(wrapperspb.DoubleValue)
	if err := c.cc.Invoke(ctx, "/guardian.inference.v1.Inference/Load", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *inferenceClient) Unload(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, "/guardian.inference.v1.Inference/Unload", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *inferenceClient) Generate(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/guardian.inference.v1.Inference/Generate", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _Inference_Load_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InferenceServer).Load(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/guardian.inference.v1.Inference/Load"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InferenceServer).Load(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Inference_Unload_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InferenceServer).Unload(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/guardian.inference.v1.Inference/Unload"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InferenceServer).Unload(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _Inference_Generate_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(InferenceServer).Generate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/guardian.inference.v1.Inference/Generate"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(InferenceServer).Generate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Inference_ServiceDesc is the grpc.ServiceDesc for the Inference service.
var Inference_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "guardian.inference.v1.Inference",
	HandlerType: (*InferenceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Load", Handler: _Inference_Load_Handler},
		{MethodName: "Unload", Handler: _Inference_Unload_Handler},
		{MethodName: "Generate", Handler: _Inference_Generate_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inference.proto",
}

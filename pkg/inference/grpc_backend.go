package inference

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// GRPCBackend implements Backend over the Inference gRPC service.
type GRPCBackend struct {
	cc      *grpc.ClientConn
	client  InferenceClient
	timeout time.Duration
}

// DialGRPC connects to an Inference service at target. Timeout applies per RPC when non-zero.
func DialGRPC(target string, timeout time.Duration, opts ...grpc.DialOption) (*GRPCBackend, error) {
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}, opts...)
	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "dial inference service %s", target)
	}
	return &GRPCBackend{cc: cc, client: NewInferenceClient(cc), timeout: timeout}, nil
}

// Load implements Backend.
func (b *GRPCBackend) Load(ctx context.Context, model string) (float64, error) {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	out, err := b.client.Load(ctx, wrapperspb.String(model))
	if err != nil {
		return 0, errors.Wrapf(err, "load %s", model)
	}
	return out.GetValue(), nil
}

// Unload implements Backend.
func (b *GRPCBackend) Unload(ctx context.Context, model string) error {
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	if _, err := b.client.Unload(ctx, wrapperspb.String(model)); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return errors.Wrapf(err, "unload %s", model)
	}
	return nil
}

// Generate implements Backend.
func (b *GRPCBackend) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	in, err := structpb.NewStruct(map[string]any{
		"model":      req.Model,
		"prompt":     req.Prompt,
		"max_tokens": req.MaxTokens,
	})
	if err != nil {
		return "", errors.Wrap(err, "encode generate request")
	}
	ctx, cancel := b.ctx(ctx)
	defer cancel()
	out, err := b.client.Generate(ctx, in)
	if err != nil {
		return "", errors.Wrapf(err, "generate on %s", req.Model)
	}
	return out.GetValue(), nil
}

// Close implements Backend.
func (b *GRPCBackend) Close() error {
	if b == nil || b.cc == nil {
		return nil
	}
	return b.cc.Close()
}

func (b *GRPCBackend) ctx(parent context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, b.timeout)
}

// BackendServer exposes any Backend over the Inference gRPC service, so a
// runtime reachable over HTTP can be bridged to gRPC clients.
type BackendServer struct {
	UnimplementedInferenceServer
	Backend Backend
}

func (s *BackendServer) Load(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.DoubleValue, error) {
	if in.GetValue() == "" {
		return nil, status.Error(codes.InvalidArgument, "model is required")
	}
	size, err := s.Backend.Load(ctx, in.GetValue())
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return wrapperspb.Double(size), nil
}

func (s *BackendServer) Unload(ctx context.Context, in *wrapperspb.StringValue) (*emptypb.Empty, error) {
	if err := s.Backend.Unload(ctx, in.GetValue()); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &emptypb.Empty{}, nil
}

func (s *BackendServer) Generate(ctx context.Context, in *structpb.Struct) (*wrapperspb.StringValue, error) {
	fields := in.GetFields()
	req := GenerateRequest{
		Model:     fields["model"].GetStringValue(),
		Prompt:    fields["prompt"].GetStringValue(),
		MaxTokens: int(fields["max_tokens"].GetNumberValue()),
	}
	if req.Model == "" {
		return nil, status.Error(codes.InvalidArgument, "model is required")
	}
	out, err := s.Backend.Generate(ctx, req)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.String(out), nil
}

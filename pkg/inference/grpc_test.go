package inference

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func newBufconnBackend(t *testing.T, backend Backend) *GRPCBackend {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterInferenceServer(srv, &BackendServer{Backend: backend})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	b, err := DialGRPC("passthrough:///bufnet", 5*time.Second,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestGRPCBackendRoundtrip(t *testing.T) {
	inner := new(mockBackend)
	inner.On("Load", mock.Anything, "org/model").Return(8192.0, nil)
	inner.On("Generate", mock.Anything, GenerateRequest{Model: "org/model", Prompt: "five lazy moon", MaxTokens: 100}).
		Return("fish run paper", nil)
	inner.On("Unload", mock.Anything, "org/model").Return(nil)

	b := newBufconnBackend(t, inner)
	ctx := context.Background()

	size, err := b.Load(ctx, "org/model")
	require.NoError(t, err)
	assert.Equal(t, 8192.0, size)

	out, err := b.Generate(ctx, GenerateRequest{Model: "org/model", Prompt: "five lazy moon", MaxTokens: 100})
	require.NoError(t, err)
	assert.Equal(t, "fish run paper", out)

	require.NoError(t, b.Unload(ctx, "org/model"))
	inner.AssertExpectations(t)
}

func TestGRPCBackendErrors(t *testing.T) {
	inner := new(mockBackend)
	inner.On("Load", mock.Anything, "org/missing").Return(0.0, errors.New("not on disk"))
	inner.On("Generate", mock.Anything, mock.Anything).Return("", errors.New("oom"))

	b := newBufconnBackend(t, inner)
	ctx := context.Background()

	_, err := b.Load(ctx, "org/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not on disk")

	_, err = b.Load(ctx, "")
	assert.Error(t, err)

	_, err = b.Generate(ctx, GenerateRequest{Model: "m", Prompt: "p"})
	assert.Error(t, err)
}

func TestClientOverGRPC(t *testing.T) {
	inner := new(mockBackend)
	inner.On("Load", mock.Anything, "org/model").Return(100.0, nil)
	inner.On("Generate", mock.Anything, mock.Anything).Return("blue river apple", nil)

	r, _ := testResolver(t)
	c := NewClient(newBufconnBackend(t, inner), r, Options{})

	h, size, err := c.Load(context.Background(), "org/model", false)
	require.NoError(t, err)
	assert.Equal(t, 100.0, size)
	assert.Equal(t, "apple", c.Query(context.Background(), h, "blue river"))
}

package fault

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestClientCheck(t *testing.T) {
	t.Parallel()
	_, server, client := bootstrapClientTest(t)

	resp, err := client.Check(context.Background(), server.Name())
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func TestClientCheckUnknownInjector(t *testing.T) {
	t.Parallel()
	_, _, client := bootstrapClientTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := client.Check(ctx, "no-such-injector")
	assert.True(t, errors.Is(err, ErrUnknownInjector), "got: %v", err)
}

func TestClientWaitUntilServingTimeout(t *testing.T) {
	t.Parallel()
	_, _, client := bootstrapClientTest(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	err := client.WaitUntilServing(ctx, "no-such-injector")
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got: %v", err)
}

// WaitUntilServing on a live injector is exercised by bootstrapClientTest.

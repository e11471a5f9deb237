package bench

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/lytics/fault"
	"github.com/lytics/fault/testetcd"
	"github.com/stretchr/testify/require"
)

const workers = 16

type testGrid struct {
	injector *fault.Injector
	server   *fault.Server
	client   *fault.Client
}

// runInjectorGrid starts an embedded etcd, an injector served over
// gRPC and a client connected to it. Everything is stopped when the
// test or benchmark ends.
func runInjectorGrid(t testing.TB) *testGrid {
	t.Helper()
	const timeout = 20 * time.Second

	embed := testetcd.NewEmbedded(t)
	etcd := testetcd.StartAndConnect(t, embed.Endpoints())
	namespace := fmt.Sprintf("bench-namespace-%d", rand.Int63())

	in, err := fault.NewInjector(fault.InjectorCfg{Capacity: 1024, SuspendTimeout: timeout})
	require.NoError(t, err)
	t.Cleanup(func() { in.Close() })

	server, err := fault.NewServer(etcd, in, fault.ServerCfg{Namespace: namespace, Name: "bench"})
	require.NoError(t, err)
	t.Cleanup(server.Stop)

	client, err := fault.NewClient(etcd, fault.ClientCfg{Namespace: namespace})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	lis, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	go server.Serve(lis)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	require.NoError(t, server.WaitUntilStarted(ctx))
	require.NoError(t, client.WaitUntilServing(ctx, server.Name()))

	return &testGrid{injector: in, server: server, client: client}
}

func pointName(worker int) string {
	return fmt.Sprintf("bench-point-%d", worker)
}

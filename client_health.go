package fault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/lytics/retry"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Check the health of the injector's service.
func (c *Client) Check(ctx context.Context, injector string) (*healthpb.HealthCheckResponse, error) {
	nsName, err := namespaceName(c.cfg.Namespace, injector)
	if err != nil {
		return nil, fmt.Errorf("namespacing name: %w", err)
	}

	var resp *healthpb.HealthCheckResponse
	_ = retry.XWithContext(ctx, 3, time.Second, func(ctx context.Context) error {
		var cc *clientAndConn
		cc, err = c.getCC(ctx, nsName)
		if err != nil {
			return nil
		}
		resp, err = cc.health.Check(ctx, &healthpb.HealthCheckRequest{Service: injectorServiceName})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("checking health: %w", err)
	}
	return resp, nil
}

func (c *Client) watchHealth(ctx context.Context, nsName string) (healthpb.Health_WatchClient, error) {
	var (
		stream healthpb.Health_WatchClient
		err    error
	)
	_ = retry.XWithContext(ctx, 3, time.Second, func(ctx context.Context) error {
		var cc *clientAndConn
		cc, err = c.getCC(ctx, nsName)
		if err != nil {
			return nil
		}
		stream, err = cc.health.Watch(ctx, &healthpb.HealthCheckRequest{Service: injectorServiceName})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("watching health: %w", err)
	}
	return stream, nil
}

// WaitUntilServing blocks until the injector is serving or the context
// is done. Will retry with exponential backoff.
func (c *Client) WaitUntilServing(ctx context.Context, injector string) error {
	nsName, err := namespaceName(c.cfg.Namespace, injector)
	if err != nil {
		return fmt.Errorf("namespacing name: %w", err)
	}

	b := newBackoff()
	defer b.Stop()

LOOP:
	for {
		if err := b.Backoff(ctx); err != nil {
			return fmt.Errorf("backing off: %w", err)
		}

		stream, err := c.watchHealth(ctx, nsName)
		if err != nil {
			c.logf("watching injector %v: %v", injector, err)
			continue
		}

		resp := new(healthpb.HealthCheckResponse)
		for resp.Status != healthpb.HealthCheckResponse_SERVING {
			resp, err = stream.Recv()
			if errors.Is(err, io.EOF) {
				c.logf("stream ended, restarting")
				continue LOOP
			}
			if err != nil {
				c.logf("receiving health of %v: %v", injector, err)
				c.dropConn(nsName)
				continue LOOP
			}
		}
		return nil
	}
}

package bench

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lytics/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoundTrip arms a point per worker over the wire, lets every
// worker reach its point locally and checks the remote view.
func TestRoundTrip(t *testing.T) {
	g := runInjectorGrid(t)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	for i := 0; i < workers; i++ {
		_, err := g.client.Arm(ctx, g.server.Name(), fault.Fault{Name: pointName(i), Type: fault.TypeSkip, Budget: 2})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(ii int) {
			defer wg.Done()
			for n := 0; n < 3; n++ {
				g.injector.Reach(ctx, pointName(ii), fault.Scope{})
			}
		}(i)
	}
	wg.Wait()

	points, err := g.client.List(ctx, g.server.Name())
	require.NoError(t, err)
	require.Len(t, points, workers)
	for _, p := range points {
		assert.Equal(t, fault.StateCompleted, p.State, p.Name)
		assert.Equal(t, 2, p.Hits, p.Name)
		assert.Equal(t, 2, p.Triggered, p.Name)
	}
}

package bench

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lytics/fault"
)

// go test -run=^$ -bench=. -benchmem
// go test -run=^$ -bench=. -benchmem -memprofile /tmp/memprofile.out -cpuprofile /tmp/cpuprofile.out

func BenchmarkClientStatusRoundTrip(b *testing.B) {
	g := runInjectorGrid(b)
	ctx := context.Background()
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		timeout, cancel := context.WithTimeout(ctx, 10*time.Second)
		_, err := g.client.Status(timeout, g.server.Name(), pointName(0))
		cancel()
		if err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkClientArmResetRoundTrip(b *testing.B) {
	g := runInjectorGrid(b)
	ctx := context.Background()
	f := fault.Fault{Name: pointName(0), Type: fault.TypeError, Budget: 1}
	b.ResetTimer()
	for n := 0; n < b.N; n++ {
		timeout, cancel := context.WithTimeout(ctx, 10*time.Second)
		if _, err := g.client.Arm(timeout, g.server.Name(), f); err != nil {
			cancel()
			b.Fatal(err)
		}
		_, err := g.client.Reset(timeout, g.server.Name(), f.Name)
		cancel()
		if err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkClientStatusRoundTripWorkers issues b.N status requests
// from each of the workers concurrently.
func BenchmarkClientStatusRoundTripWorkers(b *testing.B) {
	g := runInjectorGrid(b)
	ctx := context.Background()

	wgStart := &sync.WaitGroup{}
	wgStart.Add(1)
	wgDone := &sync.WaitGroup{}
	for i := 0; i < workers; i++ {
		wgDone.Add(1)
		go func(ii int) {
			wgStart.Wait()
			defer wgDone.Done()
			for n := 0; n < b.N; n++ {
				timeout, cancel := context.WithTimeout(ctx, 10*time.Second)
				_, err := g.client.Status(timeout, g.server.Name(), pointName(ii))
				cancel()
				if err != nil {
					b.Error(err)
					return
				}
			}
		}(i)
	}
	b.ResetTimer()
	wgStart.Done()
	wgDone.Wait()
	b.StopTimer()
}

// BenchmarkReachUnarmedPoint is the cost engine code pays at a point
// while a different point of the injector is armed.
func BenchmarkReachUnarmedPoint(b *testing.B) {
	in, err := fault.NewInjector(fault.InjectorCfg{})
	if err != nil {
		b.Fatal(err)
	}
	defer in.Close()
	if err := in.Arm(fault.Fault{Name: "other", Type: fault.TypeSkip, Budget: fault.Unlimited}); err != nil {
		b.Fatal(err)
	}
	ctx := context.Background()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			in.Reach(ctx, pointName(0), fault.Scope{})
		}
	})
}

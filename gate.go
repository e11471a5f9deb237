package fault

import "sync"

// gate that workers suspended at a point block on. A gate is
// released exactly once, the error it was released with is
// what the suspended workers return.
type gate struct {
	once sync.Once
	c    chan struct{}
	err  error
}

func newGate() *gate {
	return &gate{c: make(chan struct{})}
}

// release every worker waiting on the gate.
func (g *gate) release(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.c)
	})
}

// C is closed when the gate is released.
func (g *gate) C() <-chan struct{} {
	return g.c
}

// Err the gate was released with, only valid after C is closed.
func (g *gate) Err() error {
	return g.err
}

package fault

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lytics/fault/discovery"
	"github.com/lytics/retry"
	etcdv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	// Registers the codec the service is called with.
	_ "github.com/lytics/fault/codec"
)

type clientAndConn struct {
	address string
	conn    *grpc.ClientConn
	client  *injectorClient
	health  healthpb.HealthClient
}

// Client of remote injectors, used by test harnesses to arm and
// observe the fault points of engine processes. The client can be
// used by multiple go-routines.
type Client struct {
	mu       sync.Mutex
	cfg      ClientCfg
	registry *discovery.Registry
	// conns by namespaced injector name.
	conns map[string]*clientAndConn
}

// NewClient with namespace and using the given etcd client.
func NewClient(etcd *etcdv3.Client, cfg ClientCfg) (*Client, error) {
	setClientCfgDefaults(&cfg)

	if !isNameValid(cfg.Namespace) {
		return nil, fmt.Errorf("%w: namespace=%s", ErrInvalidNamespace, cfg.Namespace)
	}
	if etcd == nil {
		return nil, ErrNilEtcd
	}
	r, err := discovery.New(etcd)
	if err != nil {
		return nil, err
	}
	r.Timeout = cfg.Timeout
	if cfg.Logger != nil {
		r.Logger = cfg.Logger
	}
	return &Client{
		cfg:      cfg,
		registry: r,
		conns:    make(map[string]*clientAndConn),
	}, nil
}

// Close all outbound connections of this client immediately.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	for nsName, cc := range c.conns {
		if cerr := cc.conn.Close(); cerr != nil {
			err = cerr
		}
		delete(c.conns, nsName)
	}
	return err
}

// Injectors in this client's namespace, by name.
func (c *Client) Injectors(ctx context.Context) ([]string, error) {
	prefix, err := namespacePrefix(c.cfg.Namespace)
	if err != nil {
		return nil, err
	}
	eps, err := c.registry.Find(ctx, prefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(eps))
	for _, ep := range eps {
		name, err := stripNamespace(c.cfg.Namespace, ep.Key)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// InjectorEvent reports an injector joining or leaving the namespace.
type InjectorEvent struct {
	Name string
	Lost bool
	Err  error
}

func (e *InjectorEvent) String() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("injector watch error: %v", e.Err)
	case e.Lost:
		return fmt.Sprintf("injector lost: %v", e.Name)
	}
	return fmt.Sprintf("injector discovered: %v", e.Name)
}

// WatchInjectors returns the injectors currently in the namespace and
// a channel of the ones discovered or lost afterwards. The channel is
// closed when ctx is done.
func (c *Client) WatchInjectors(ctx context.Context) ([]string, <-chan *InjectorEvent, error) {
	prefix, err := namespacePrefix(c.cfg.Namespace)
	if err != nil {
		return nil, nil, err
	}
	current, events, err := c.registry.Watch(ctx, prefix)
	if err != nil {
		return nil, nil, err
	}
	names := make([]string, 0, len(current))
	for _, ep := range current {
		if name, err := stripNamespace(c.cfg.Namespace, ep.Key); err == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	out := make(chan *InjectorEvent)
	go func() {
		defer close(out)
		for ev := range events {
			var ie *InjectorEvent
			switch ev.Type {
			case discovery.Error:
				ie = &InjectorEvent{Err: ev.Error}
			case discovery.Modify:
				continue
			default:
				name, err := stripNamespace(c.cfg.Namespace, ev.Key)
				if err != nil {
					continue
				}
				ie = &InjectorEvent{Name: name, Lost: ev.Type == discovery.Delete}
				if ie.Lost {
					c.dropConn(ev.Key)
				}
			}
			select {
			case out <- ie:
			case <-ctx.Done():
				return
			}
		}
	}()
	return names, out, nil
}

// Inject the fault request into the named injector, see
// Injector.Inject for how requests are dispatched by type.
func (c *Client) Inject(ctx context.Context, injector string, f Fault) (Snapshot, error) {
	if !Types.Valid(f.Type) || !DDLStatements.Valid(f.DDL) {
		return Snapshot{}, fmt.Errorf("%w: type=%d ddl=%d", ErrUnknownIdentifier, f.Type, f.DDL)
	}
	var snap *Snapshot
	err := c.call(ctx, injector, func(ic *injectorClient) (err error) {
		snap, err = ic.Inject(ctx, &f)
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return *snap, nil
}

// Arm a fault at a point of the named injector.
func (c *Client) Arm(ctx context.Context, injector string, f Fault) (Snapshot, error) {
	if !f.Type.IsAction() {
		return Snapshot{}, fmt.Errorf("%w: type=%v is not an action", ErrInvalidType, f.Type)
	}
	return c.Inject(ctx, injector, f)
}

// Status of a point of the named injector.
func (c *Client) Status(ctx context.Context, injector, point string) (Snapshot, error) {
	return c.pointCall(ctx, injector, point, (*injectorClient).Status)
}

// Reset a point of the named injector.
func (c *Client) Reset(ctx context.Context, injector, point string) (Snapshot, error) {
	return c.pointCall(ctx, injector, point, (*injectorClient).Reset)
}

// Resume the workers suspended at a point of the named injector.
func (c *Client) Resume(ctx context.Context, injector, point string) (Snapshot, error) {
	return c.pointCall(ctx, injector, point, (*injectorClient).Resume)
}

// WaitUntilTriggered blocks until a point of the named injector has
// fired n times, or ctx is done.
func (c *Client) WaitUntilTriggered(ctx context.Context, injector, point string, n int) (Snapshot, error) {
	var snap *Snapshot
	err := c.call(ctx, injector, func(ic *injectorClient) (err error) {
		snap, err = ic.WaitUntilTriggered(ctx, &WaitRequest{Name: point, Count: n})
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return *snap, nil
}

// List the points of the named injector.
func (c *Client) List(ctx context.Context, injector string) ([]Snapshot, error) {
	var res *ListResponse
	err := c.call(ctx, injector, func(ic *injectorClient) (err error) {
		res, err = ic.List(ctx, &ListRequest{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return res.Points, nil
}

func (c *Client) pointCall(ctx context.Context, injector, point string, method func(*injectorClient, context.Context, *PointRequest) (*Snapshot, error)) (Snapshot, error) {
	var snap *Snapshot
	err := c.call(ctx, injector, func(ic *injectorClient) (err error) {
		snap, err = method(ic, ctx, &PointRequest{Name: point})
		return err
	})
	if err != nil {
		return Snapshot{}, err
	}
	return *snap, nil
}

// call f with the client of the named injector. Calls are not
// retried, arming twice is not the same as arming once, but a
// connection that turned out to be unavailable is dropped so
// the next call looks the injector up again.
func (c *Client) call(ctx context.Context, injector string, f func(*injectorClient) error) error {
	nsName, err := namespaceName(c.cfg.Namespace, injector)
	if err != nil {
		return err
	}
	cc, err := c.getCC(ctx, nsName)
	if err != nil {
		return err
	}
	err = f(cc.client)
	if status.Code(err) == codes.Unavailable {
		c.dropConn(nsName)
	}
	return err
}

// getCC returns the connection to the injector, dialing it if needed.
func (c *Client) getCC(ctx context.Context, nsName string) (*clientAndConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cc, ok := c.conns[nsName]; ok {
		return cc, nil
	}

	var (
		ep  *discovery.Endpoint
		err error
	)
	_ = retry.XWithContext(ctx, 3, time.Second, func(ctx context.Context) error {
		timeout, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
		ep, err = c.registry.Lookup(timeout, nsName)
		if errors.Is(err, discovery.ErrUnknownKey) {
			return nil
		}
		return err
	})
	if errors.Is(err, discovery.ErrUnknownKey) {
		return nil, fmt.Errorf("%w: %v", ErrUnknownInjector, nsName)
	}
	if err != nil {
		return nil, fmt.Errorf("finding injector %v: %w", nsName, err)
	}

	conn, err := grpc.DialContext(ctx, ep.Address,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(otelgrpc.UnaryClientInterceptor()),
		grpc.WithStreamInterceptor(otelgrpc.StreamClientInterceptor()),
	)
	if err != nil {
		return nil, fmt.Errorf("dialing injector %v at %v: %w", nsName, ep.Address, err)
	}
	cc := &clientAndConn{
		address: ep.Address,
		conn:    conn,
		client:  newInjectorClient(conn),
		health:  healthpb.NewHealthClient(conn),
	}
	c.conns[nsName] = cc
	c.logf("%v: connected to injector: %v, address: %v", c.cfg.Namespace, nsName, ep.Address)
	return cc, nil
}

func (c *Client) dropConn(nsName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cc, ok := c.conns[nsName]
	if !ok {
		return
	}
	delete(c.conns, nsName)
	if err := cc.conn.Close(); err != nil {
		c.logf("%v: closing connection to %v: %v", c.cfg.Namespace, cc.address, err)
	}
}

func (c *Client) logf(format string, v ...interface{}) {
	if c.cfg.Logger != nil {
		c.cfg.Logger.Printf(format, v...)
	}
}

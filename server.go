package fault

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/lytics/fault/discovery"
	"github.com/lytics/retry"
	etcdv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	// Registers the codec the service is served with.
	_ "github.com/lytics/fault/codec"
)

// Server exposes an injector to remote harnesses over gRPC and
// advertises it in etcd under its namespace.
type Server struct {
	mu       sync.RWMutex
	name     string
	ctx      context.Context
	cancel   func()
	cfg      ServerCfg
	injector *Injector
	grpc     grpcServer
	health   *health.Server
	registry *discovery.Registry
	stop     sync.Once
}

type grpcServer interface {
	RegisterService(desc *grpc.ServiceDesc, impl interface{})
	Serve(lis net.Listener) error
	Stop()
}

// NewServer for the injector. The namespace, and the name if one is
// given, must contain only characters in the set: [a-zA-Z0-9-_]
func NewServer(etcd *etcdv3.Client, in *Injector, cfg ServerCfg) (*Server, error) {
	setServerCfgDefaults(&cfg)

	if !isNameValid(cfg.Namespace) {
		return nil, fmt.Errorf("%w: namespace=%s", ErrInvalidNamespace, cfg.Namespace)
	}
	if cfg.Name != "" && !isNameValid(cfg.Name) {
		return nil, fmt.Errorf("%w: name=%s", ErrInvalidName, cfg.Name)
	}
	if etcd == nil {
		return nil, ErrNilEtcd
	}
	if in == nil {
		return nil, ErrNilInjector
	}

	r, err := discovery.New(etcd)
	if err != nil {
		return nil, err
	}
	r.Timeout = cfg.Timeout
	r.LeaseDuration = cfg.LeaseDuration
	if cfg.Logger != nil {
		r.Logger = cfg.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		injector: in,
		grpc: grpc.NewServer(
			grpc.Creds(insecure.NewCredentials()),
			grpc.UnaryInterceptor(otelgrpc.UnaryServerInterceptor()),
			grpc.StreamInterceptor(otelgrpc.StreamServerInterceptor()),
		),
		health:   health.NewServer(),
		registry: r,
	}, nil
}

// Name the injector is advertised under. Only valid after the
// server has started, see WaitUntilStarted.
func (s *Server) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Context of the server, done when the server is stopping.
func (s *Server) Context() context.Context {
	return s.ctx
}

// Serve the injector on the listener, blocking until Stop is called.
// The listener address type must be net.TCPAddr, otherwise an error
// will be returned.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.registry.Start(s.ctx, lis.Addr()); err != nil {
		return fmt.Errorf("starting registry: %w", err)
	}

	name := s.cfg.Name
	if name == "" {
		name = formatName(s.registry.Address())
	}
	nsName, err := namespaceName(s.cfg.Namespace, name)
	if err != nil {
		return fmt.Errorf("namespacing %v: %w", name, err)
	}

	// Registration is retried since etcd may be briefly
	// unavailable, but a name held by another injector is
	// not going to free itself.
	retry.X(3, time.Second, func() bool {
		timeout, cancel := context.WithTimeout(s.ctx, s.cfg.Timeout)
		err = s.registry.Register(timeout, nsName, s.cfg.Annotations...)
		cancel()
		return err != nil && !errors.Is(err, discovery.ErrAlreadyRegistered)
	})
	if err != nil {
		return fmt.Errorf("registering %v: %w", nsName, err)
	}

	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
	s.logf("%v: serving injector: %v, address: %v", s.cfg.Namespace, name, s.registry.Address())

	RegisterInjectorServer(s.grpc, s)
	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	s.health.SetServingStatus(injectorServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s.grpc, s.health)

	err = s.grpc.Serve(lis)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	// Something in gRPC returns the "use of..." error
	// message even though it stopped fine. Catch that
	// error and don't pass it up.
	if err != nil && !strings.Contains(err.Error(), "use of closed network connection") {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}

// WaitUntilStarted waits until the server is registered or until the
// context is done. There is no guarantee that the gRPC server is
// serving: use Client.WaitUntilServing() for that.
func (s *Server) WaitUntilStarted(ctx context.Context) error {
	b := newBackoff()
	defer b.Stop()

	for {
		if err := b.Backoff(ctx); err != nil {
			return fmt.Errorf("backing off: %w", err)
		}
		if s.Name() == "" {
			s.logf("not yet started")
			continue
		}
		return nil
	}
}

// Stop the server. Requests in flight, such as remote waits, are
// cancelled. The injector itself is left running, the engine owns it.
func (s *Server) Stop() {
	s.stop.Do(func() {
		s.cancel()
		s.health.Shutdown()
		if err := s.registry.Stop(); err != nil {
			s.logf("%v: stopping registry: %v", s.cfg.Namespace, err)
		}
		s.grpc.Stop()
	})
}

// serverCtx is done when either the request or the server is done.
func (s *Server) serverCtx(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Inject implements the gRPC injector service.
func (s *Server) Inject(ctx context.Context, req *Fault) (*Snapshot, error) {
	ctx, cancel := s.serverCtx(ctx)
	defer cancel()
	snap, err := s.injector.Inject(ctx, *req)
	if err != nil {
		return nil, toStatus(err)
	}
	return &snap, nil
}

// Status implements the gRPC injector service.
func (s *Server) Status(ctx context.Context, req *PointRequest) (*Snapshot, error) {
	if !isNameValid(req.Name) {
		return nil, toStatus(fmt.Errorf("%w: name=%q", ErrInvalidName, req.Name))
	}
	snap := s.injector.Status(req.Name)
	return &snap, nil
}

// List implements the gRPC injector service.
func (s *Server) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	return &ListResponse{Points: s.injector.List()}, nil
}

// Reset implements the gRPC injector service.
func (s *Server) Reset(ctx context.Context, req *PointRequest) (*Snapshot, error) {
	if err := s.injector.Reset(req.Name); err != nil {
		return nil, toStatus(err)
	}
	snap := s.injector.Status(req.Name)
	return &snap, nil
}

// Resume implements the gRPC injector service.
func (s *Server) Resume(ctx context.Context, req *PointRequest) (*Snapshot, error) {
	if err := s.injector.Resume(req.Name); err != nil {
		return nil, toStatus(err)
	}
	snap := s.injector.Status(req.Name)
	return &snap, nil
}

// WaitUntilTriggered implements the gRPC injector service.
func (s *Server) WaitUntilTriggered(ctx context.Context, req *WaitRequest) (*Snapshot, error) {
	ctx, cancel := s.serverCtx(ctx)
	defer cancel()
	if err := s.injector.WaitUntilTriggered(ctx, req.Name, req.Count); err != nil {
		return nil, toStatus(err)
	}
	snap := s.injector.Status(req.Name)
	return &snap, nil
}

func (s *Server) logf(format string, v ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, v...)
	}
}

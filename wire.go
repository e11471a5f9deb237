package fault

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lytics/fault/codec"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const injectorServiceName = "fault.Injector"

// PointRequest names a fault point of a remote injector.
type PointRequest struct {
	Name string `json:"name"`
}

// WaitRequest waits for a remote point to fire Count times.
type WaitRequest struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type ListRequest struct{}

type ListResponse struct {
	Points []Snapshot `json:"points"`
}

// InjectorServer is the server API of the fault.Injector service.
type InjectorServer interface {
	Inject(context.Context, *Fault) (*Snapshot, error)
	Status(context.Context, *PointRequest) (*Snapshot, error)
	List(context.Context, *ListRequest) (*ListResponse, error)
	Reset(context.Context, *PointRequest) (*Snapshot, error)
	Resume(context.Context, *PointRequest) (*Snapshot, error)
	WaitUntilTriggered(context.Context, *WaitRequest) (*Snapshot, error)
}

// RegisterInjectorServer with the gRPC service registrar.
func RegisterInjectorServer(s grpc.ServiceRegistrar, srv InjectorServer) {
	s.RegisterService(&injectorServiceDesc, srv)
}

var injectorServiceDesc = grpc.ServiceDesc{
	ServiceName: injectorServiceName,
	HandlerType: (*InjectorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Inject", Handler: unaryHandler("Inject", InjectorServer.Inject)},
		{MethodName: "Status", Handler: unaryHandler("Status", InjectorServer.Status)},
		{MethodName: "List", Handler: unaryHandler("List", InjectorServer.List)},
		{MethodName: "Reset", Handler: unaryHandler("Reset", InjectorServer.Reset)},
		{MethodName: "Resume", Handler: unaryHandler("Resume", InjectorServer.Resume)},
		{MethodName: "WaitUntilTriggered", Handler: unaryHandler("WaitUntilTriggered", InjectorServer.WaitUntilTriggered)},
	},
	Streams: []grpc.StreamDesc{},
}

func fullMethod(method string) string {
	return "/" + injectorServiceName + "/" + method
}

// unaryHandler decodes the request of a method and dispatches it to
// the server, through the interceptor when one is installed.
func unaryHandler[Req, Res any](method string, call func(InjectorServer, context.Context, *Req) (*Res, error)) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		req := new(Req)
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InjectorServer), ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod(method),
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(InjectorServer), ctx, req.(*Req))
		}
		return interceptor(ctx, req, info, handler)
	}
}

// injectorClient is the client API of the fault.Injector service.
type injectorClient struct {
	cc grpc.ClientConnInterface
}

func newInjectorClient(cc grpc.ClientConnInterface) *injectorClient {
	return &injectorClient{cc: cc}
}

func (c *injectorClient) invoke(ctx context.Context, method string, req, res interface{}) error {
	err := c.cc.Invoke(ctx, fullMethod(method), req, res, grpc.CallContentSubtype(codec.Name))
	return fromStatus(err)
}

func (c *injectorClient) Inject(ctx context.Context, req *Fault) (*Snapshot, error) {
	res := new(Snapshot)
	if err := c.invoke(ctx, "Inject", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *injectorClient) Status(ctx context.Context, req *PointRequest) (*Snapshot, error) {
	res := new(Snapshot)
	if err := c.invoke(ctx, "Status", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *injectorClient) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	res := new(ListResponse)
	if err := c.invoke(ctx, "List", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *injectorClient) Reset(ctx context.Context, req *PointRequest) (*Snapshot, error) {
	res := new(Snapshot)
	if err := c.invoke(ctx, "Reset", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *injectorClient) Resume(ctx context.Context, req *PointRequest) (*Snapshot, error) {
	res := new(Snapshot)
	if err := c.invoke(ctx, "Resume", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *injectorClient) WaitUntilTriggered(ctx context.Context, req *WaitRequest) (*Snapshot, error) {
	res := new(Snapshot)
	if err := c.invoke(ctx, "WaitUntilTriggered", req, res); err != nil {
		return nil, err
	}
	return res, nil
}

// wireErrors maps the sentinels that cross the wire to status codes.
// Order matters, the first sentinel matched wins.
var wireErrors = []struct {
	err  error
	code codes.Code
}{
	{ErrUnknownIdentifier, codes.InvalidArgument},
	{ErrInvalidName, codes.InvalidArgument},
	{ErrInvalidType, codes.InvalidArgument},
	{ErrInvalidBudget, codes.InvalidArgument},
	{ErrAlreadyArmed, codes.AlreadyExists},
	{ErrTableFull, codes.ResourceExhausted},
	{ErrNotSuspended, codes.FailedPrecondition},
	{ErrCancelled, codes.Aborted},
	{ErrInjectorClosed, codes.Unavailable},
}

// toStatus converts an injector error into a gRPC status error. The
// message keeps the error text so the client can recover the sentinel.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	for _, we := range wireErrors {
		if errors.Is(err, we.err) {
			return status.Error(we.code, err.Error())
		}
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus converts a gRPC status error back into an error that
// matches the sentinel it was created from.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	msg := st.Message()
	for _, we := range wireErrors {
		if we.code == st.Code() && strings.HasPrefix(msg, we.err.Error()) {
			return fmt.Errorf("%w: remote: %s", we.err, msg)
		}
	}
	switch st.Code() {
	case codes.DeadlineExceeded:
		return fmt.Errorf("%w: remote: %s", context.DeadlineExceeded, msg)
	case codes.Canceled:
		return fmt.Errorf("%w: remote: %s", context.Canceled, msg)
	}
	return err
}

// Package discovery advertises fault injectors in etcd and finds them.
// Every injector process holds one lease, its endpoints are written
// under that lease, so they disappear when the process stops or its
// keep alive fails.
package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lytics/retry"
	etcdv3 "go.etcd.io/etcd/client/v3"
)

// Logger hides the logging function Printf behind a simple
// interface so libraries such as klog can be used.
type Logger interface {
	Printf(string, ...interface{})
}

var (
	ErrNotOwner                = errors.New("discovery: not owner")
	ErrNotStarted              = errors.New("discovery: not started")
	ErrUnknownKey              = errors.New("discovery: unknown key")
	ErrNilEtcd                 = errors.New("discovery: nil etcd")
	ErrAlreadyRegistered       = errors.New("discovery: already registered")
	ErrFailedRegistration      = errors.New("discovery: failed registration")
	ErrLeaseDurationTooShort   = errors.New("discovery: lease duration too short")
	ErrUnknownNetAddressType   = errors.New("discovery: unknown net address type")
	ErrUnspecifiedNetAddressIP = errors.New("discovery: unspecified net address ip")
	ErrWatchClosedUnexpectedly = errors.New("discovery: watch closed unexpectedly")
	ErrAddressInUse            = errors.New("discovery: address lock held after timeout")
)

var minLeaseDuration = 10 * time.Second

// Endpoint of an injector as written in etcd.
type Endpoint struct {
	Key         string    `json:"key"`
	Address     string    `json:"address"`
	Annotations []string  `json:"annotations,omitempty"`
	Registered  time.Time `json:"registered"`
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("key: %v, address: %v, annotations: %v",
		e.Key, e.Address, strings.Join(e.Annotations, ","))
}

// EventType of a watch event.
type EventType int

const (
	Error EventType = iota
	Delete
	Modify
	Create
)

func (t EventType) String() string {
	switch t {
	case Delete:
		return "delete"
	case Modify:
		return "modify"
	case Create:
		return "create"
	}
	return "error"
}

// Event triggered by a change of the endpoints under a watched prefix.
type Event struct {
	Key      string
	Endpoint *Endpoint
	Type     EventType
	Error    error
}

func (e *Event) String() string {
	if e.Error != nil {
		return fmt.Sprintf("key: %v, error: %v", e.Key, e.Error)
	}
	return fmt.Sprintf("key: %v, type: %v, endpoint: %v", e.Key, e.Type, e.Endpoint)
}

// Registry of injector endpoints. A registry that is never started
// can still be used to find and watch endpoints.
type Registry struct {
	mu      sync.RWMutex
	started bool
	done    chan struct{}
	exited  chan struct{}
	client  *etcdv3.Client
	kv      etcdv3.KV
	lease   etcdv3.Lease
	leaseID etcdv3.LeaseID
	address string

	Logger        Logger
	Timeout       time.Duration
	LeaseDuration time.Duration

	// heartbeats is a testing hook counting keep alive responses.
	heartbeats int
}

// New registry using the etcd client.
func New(client *etcdv3.Client) (*Registry, error) {
	if client == nil {
		return nil, ErrNilEtcd
	}
	return &Registry{
		done:          make(chan struct{}),
		exited:        make(chan struct{}),
		client:        client,
		kv:            etcdv3.NewKV(client),
		leaseID:       -1,
		Timeout:       10 * time.Second,
		LeaseDuration: 60 * time.Second,
	}, nil
}

func addressLockKey(address string) string {
	return "discovery.address-lock." + address
}

// Start the registry for the listener address. A lease is granted,
// the address is locked under it so two processes never advertise
// the same address, and the lease is kept alive until Stop.
func (r *Registry) Start(ctx context.Context, addr net.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}
	address, err := FormatAddress(addr)
	if err != nil {
		return err
	}
	if r.LeaseDuration < minLeaseDuration {
		return fmt.Errorf("%w: %v < %v", ErrLeaseDurationTooShort, r.LeaseDuration, minLeaseDuration)
	}
	r.address = address
	r.lease = etcdv3.NewLease(r.client)

	gctx, cancel := context.WithTimeout(ctx, r.Timeout)
	res, err := r.lease.Grant(gctx, int64(r.LeaseDuration.Seconds()))
	cancel()
	if err != nil {
		return fmt.Errorf("discovery: granting lease: %w", err)
	}
	r.leaseID = res.ID

	// A previous process on the same address may still hold the
	// lock, wait at most for its lease to run out.
	lctx, cancel := context.WithTimeout(ctx, 2*r.LeaseDuration)
	err = r.lockAddress(lctx, address)
	cancel()
	if err != nil {
		return err
	}

	keepAliveCtx, keepAliveCancel := context.WithCancel(context.Background())
	keepAlive, err := r.lease.KeepAlive(keepAliveCtx, r.leaseID)
	if err != nil {
		keepAliveCancel()
		return fmt.Errorf("discovery: keep alive: %w", err)
	}

	go func() {
		defer close(r.exited)
		defer keepAliveCancel()
		for {
			select {
			case <-r.done:
				r.logf("discovery: %v: keep alive closed", address)
				return
			case res, open := <-keepAlive:
				if !open {
					select {
					case <-r.done:
						r.logf("discovery: %v: keep alive closed", address)
						return
					default:
					}
					panic(fmt.Sprintf("discovery: %v: keep alive closed unexpectedly", address))
				}
				r.mu.Lock()
				r.heartbeats++
				r.mu.Unlock()
				r.logf("discovery: %v: keep alive heartbeat ttl: %vs", address, res.TTL)
			}
		}
	}()

	r.started = true
	return nil
}

func (r *Registry) lockAddress(ctx context.Context, address string) error {
	key := addressLockKey(address)

	var (
		held = true
		gerr error
	)
	retry.X(10000, time.Second, func() bool {
		if ctx.Err() != nil {
			return false
		}
		res, err := r.kv.Get(ctx, key, etcdv3.WithLimit(1))
		if err != nil {
			gerr = err
			return false
		}
		if res.Count != 0 {
			return true
		}
		held = false
		return false
	})
	if gerr != nil && ctx.Err() == nil {
		return fmt.Errorf("discovery: reading address lock: %w", gerr)
	}
	if held {
		return fmt.Errorf("%w: %v", ErrAddressInUse, address)
	}

	pctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	txn, err := r.kv.Txn(pctx).
		If(etcdv3.Compare(etcdv3.Version(key), "=", 0)).
		Then(etcdv3.OpPut(key, "", etcdv3.WithLease(r.leaseID))).
		Commit()
	if err != nil {
		return fmt.Errorf("discovery: writing address lock: %w", err)
	}
	if !txn.Succeeded {
		return fmt.Errorf("%w: %v", ErrAddressInUse, address)
	}
	return nil
}

// Address of the registry in the format <ip>:<port>.
func (r *Registry) Address() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.address
}

// Started returns true once Start succeeded.
func (r *Registry) Started() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started
}

// Stop the keep alive and revoke the lease, removing every endpoint
// registered by this registry.
func (r *Registry) Stop() error {
	r.mu.Lock()
	if r.leaseID < 0 {
		r.mu.Unlock()
		return nil
	}
	select {
	case <-r.done:
		r.mu.Unlock()
		return nil
	default:
	}
	close(r.done)
	started := r.started
	leaseID := r.leaseID
	r.mu.Unlock()

	// The keep alive go-routine takes the lock to count
	// heartbeats, so wait for it without holding the lock.
	if started {
		<-r.exited
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.Timeout)
	defer cancel()
	if _, err := r.lease.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("discovery: revoking lease: %w", err)
	}
	return r.lease.Close()
}

// Register the key with this registry's address. A key can be
// registered only once across all registries, registering a key
// owned by anyone returns ErrAlreadyRegistered.
func (r *Registry) Register(ctx context.Context, key string, annotations ...string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.started {
		return ErrNotStarted
	}
	sort.Strings(annotations)
	value, err := json.Marshal(&Endpoint{
		Key:         key,
		Address:     r.address,
		Annotations: annotations,
		Registered:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	txn, err := r.kv.Txn(ctx).
		If(etcdv3.Compare(etcdv3.Version(key), "=", 0)).
		Then(etcdv3.OpPut(key, string(value), etcdv3.WithLease(r.leaseID))).
		Commit()
	if err != nil {
		return fmt.Errorf("%w: key=%v: %w", ErrFailedRegistration, key, err)
	}
	if !txn.Succeeded {
		return fmt.Errorf("%w: key=%v", ErrAlreadyRegistered, key)
	}
	return nil
}

// Deregister the key. Only the registry that registered a key may
// remove it, deregistering an unknown key does nothing.
func (r *Registry) Deregister(ctx context.Context, key string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.started {
		return ErrNotStarted
	}
	select {
	case <-r.done:
		// The revoked lease took the key with it.
		return nil
	default:
	}

	res, err := r.kv.Get(ctx, key, etcdv3.WithLimit(1))
	if err != nil {
		return err
	}
	if res.Count == 0 {
		return nil
	}
	kv := res.Kvs[0]
	if etcdv3.LeaseID(kv.Lease) != r.leaseID {
		return fmt.Errorf("%w: key=%v", ErrNotOwner, key)
	}
	_, err = r.kv.Txn(ctx).
		If(etcdv3.Compare(etcdv3.ModRevision(key), "=", kv.ModRevision)).
		Then(etcdv3.OpDelete(key)).
		Commit()
	return err
}

// Find the endpoints registered under the prefix.
func (r *Registry) Find(ctx context.Context, prefix string) ([]*Endpoint, error) {
	res, err := r.kv.Get(ctx, prefix, etcdv3.WithPrefix(), etcdv3.WithSort(etcdv3.SortByKey, etcdv3.SortAscend))
	if err != nil {
		return nil, err
	}
	eps := make([]*Endpoint, 0, len(res.Kvs))
	for _, kv := range res.Kvs {
		ep := &Endpoint{}
		if err := json.Unmarshal(kv.Value, ep); err != nil {
			return nil, fmt.Errorf("discovery: key=%s: %w", kv.Key, err)
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// Lookup the endpoint registered under key.
func (r *Registry) Lookup(ctx context.Context, key string) (*Endpoint, error) {
	res, err := r.kv.Get(ctx, key, etcdv3.WithLimit(1))
	if err != nil {
		return nil, err
	}
	if res.Count == 0 {
		return nil, fmt.Errorf("%w: key=%v", ErrUnknownKey, key)
	}
	ep := &Endpoint{}
	if err := json.Unmarshal(res.Kvs[0].Value, ep); err != nil {
		return nil, fmt.Errorf("discovery: key=%s: %w", key, err)
	}
	return ep, nil
}

// Watch the endpoints under prefix. The current endpoints are
// returned along with a channel of the changes that follow them.
// The channel is closed when ctx is done. If the etcd watch fails
// a final event carrying the error is sent before it is closed.
func (r *Registry) Watch(ctx context.Context, prefix string) ([]*Endpoint, <-chan *Event, error) {
	res, err := r.kv.Get(ctx, prefix, etcdv3.WithPrefix())
	if err != nil {
		return nil, nil, err
	}
	current := make([]*Endpoint, 0, len(res.Kvs))
	for _, kv := range res.Kvs {
		ep := &Endpoint{}
		if err := json.Unmarshal(kv.Value, ep); err != nil {
			return nil, nil, fmt.Errorf("discovery: key=%s: %w", kv.Key, err)
		}
		current = append(current, ep)
	}

	events := make(chan *Event)
	put := func(ev *Event) bool {
		select {
		case <-ctx.Done():
			return false
		case events <- ev:
			return true
		}
	}
	deltas := r.client.Watch(ctx, prefix, etcdv3.WithPrefix(), etcdv3.WithRev(res.Header.Revision+1))
	go func() {
		defer close(events)
		for delta := range deltas {
			if err := delta.Err(); err != nil {
				put(&Event{Type: Error, Error: err})
				return
			}
			for _, ev := range delta.Events {
				if !put(newEvent(ev)) {
					return
				}
			}
		}
		if ctx.Err() == nil {
			put(&Event{Type: Error, Error: ErrWatchClosedUnexpectedly})
		}
	}()
	return current, events, nil
}

func newEvent(ev *etcdv3.Event) *Event {
	e := &Event{Key: string(ev.Kv.Key)}
	switch {
	case ev.IsCreate():
		e.Type = Create
	case ev.IsModify():
		e.Type = Modify
	default:
		// Deletes carry no value.
		e.Type = Delete
		return e
	}
	ep := &Endpoint{}
	if err := json.Unmarshal(ev.Kv.Value, ep); err != nil {
		e.Type = Error
		e.Error = fmt.Errorf("discovery: unmarshaling value %q: %w", ev.Kv.Value, err)
		return e
	}
	e.Endpoint = ep
	return e
}

func (r *Registry) logf(format string, v ...interface{}) {
	if r.Logger != nil {
		r.Logger.Printf(format, v...)
	}
}

// FormatAddress as ip:port, since just calling String()
// on the address can return some funky formatting.
func FormatAddress(addr net.Addr) (string, error) {
	switch addr := addr.(type) {
	case *net.TCPAddr:
		if addr.IP.IsUnspecified() {
			return "", ErrUnspecifiedNetAddressIP
		}
		return net.JoinHostPort(addr.IP.String(), fmt.Sprint(addr.Port)), nil
	default:
		return "", fmt.Errorf("%w: %T", ErrUnknownNetAddressType, addr)
	}
}

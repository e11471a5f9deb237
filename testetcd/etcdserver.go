// Package testetcd runs an embedded etcd server for tests.
package testetcd

import (
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	etcdv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/server/v3/embed"
)

// Embedded etcd server, stopped when the test that started it ends.
type Embedded struct {
	Etcd *embed.Etcd
	Cfg  *embed.Config
}

// Endpoints clients connect to.
func (e *Embedded) Endpoints() []string {
	eps := make([]string, 0, len(e.Cfg.ListenClientUrls))
	for _, u := range e.Cfg.ListenClientUrls {
		eps = append(eps, u.Host)
	}
	return eps
}

// NewEmbedded etcd server listening on free localhost ports, with its
// data in a temporary directory of the test.
func NewEmbedded(t testing.TB) *Embedded {
	t.Helper()

	cfg := embed.NewConfig()
	cfg.Dir = t.TempDir()
	cfg.LogLevel = "error"

	peer, client := freeURL(t), freeURL(t)
	cfg.ListenPeerUrls = []url.URL{peer}
	cfg.AdvertisePeerUrls = []url.URL{peer}
	cfg.ListenClientUrls = []url.URL{client}
	cfg.AdvertiseClientUrls = []url.URL{client}
	// Has to be called after the urls are updated.
	cfg.InitialCluster = cfg.InitialClusterFromName(cfg.Name)

	e, err := embed.StartEtcd(cfg)
	if err != nil {
		t.Fatalf("starting etcd: %v", err)
	}
	t.Cleanup(e.Close)

	select {
	case <-e.Server.ReadyNotify():
	case err := <-e.Err():
		t.Fatalf("etcd failed during startup: %v", err)
	case <-time.After(60 * time.Second):
		e.Server.Stop()
		t.Fatal("etcd took too long to start")
	}
	return &Embedded{Etcd: e, Cfg: cfg}
}

// StartAndConnect returns a client connected to the endpoints, closed
// when the test ends.
func StartAndConnect(t testing.TB, endpoints []string) *etcdv3.Client {
	t.Helper()

	etcd, err := etcdv3.New(etcdv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("connecting to etcd: %v", err)
	}
	t.Cleanup(func() { etcd.Close() })
	return etcd
}

func freeURL(t testing.TB) url.URL {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("finding free port: %v", err)
	}
	defer l.Close()
	u, err := url.Parse(fmt.Sprintf("http://%v", l.Addr()))
	if err != nil {
		t.Fatal(err)
	}
	return *u
}

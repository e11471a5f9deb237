package fault

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Logger hides the logging function Printf behind a simple
// interface so libraries such as klog or logrus can be used.
type Logger interface {
	Printf(string, ...interface{})
}

// InjectorCfg where every field is optional, fields with their
// zero value will receive defaults.
type InjectorCfg struct {
	// Capacity is the number of fault point slots. Points keep
	// their slot for the life of the injector, so this bounds
	// the number of distinct point names ever armed.
	Capacity int
	// SuspendTimeout bounds how long a worker may stay suspended
	// at a point armed with TypeSuspend.
	SuspendTimeout time.Duration
	// Registerer for the injector's metrics, nil leaves the
	// metrics unregistered.
	Registerer prometheus.Registerer
	Logger     Logger
}

// setInjectorCfgDefaults for those fields that have their zero value.
func setInjectorCfgDefaults(cfg *InjectorCfg) {
	if cfg.Capacity == 0 {
		cfg.Capacity = 256
	}
	if cfg.SuspendTimeout == 0 {
		cfg.SuspendTimeout = 5 * time.Minute
	}
}

// ServerCfg where the only required argument is Namespace,
// other fields with their zero value will receive defaults.
type ServerCfg struct {
	Namespace string
	// Name the injector is advertised under, defaults to the
	// listener's address in human readable form.
	Name        string
	Annotations []string
	Logger      Logger
	// Etcd configuration.
	Timeout       time.Duration
	LeaseDuration time.Duration
}

// setServerCfgDefaults for those fields that have their zero value.
func setServerCfgDefaults(cfg *ServerCfg) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = 60 * time.Second
	}
}

// ClientCfg where the only required argument is Namespace,
// other fields with their zero value will receive defaults.
type ClientCfg struct {
	Namespace string
	Logger    Logger
	// Timeout of etcd lookups and of dialing an injector.
	Timeout time.Duration
}

// setClientCfgDefaults for those fields that have their zero value.
func setClientCfgDefaults(cfg *ClientCfg) {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
}

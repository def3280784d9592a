// File: facade/fdpass.go
// Unified facade layer for hioload-fd library.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// This file defines the FDPass struct, which aggregates the core
// components of the library behind a single facade. It initializes
// the readiness reactor and metrics based on immutable configuration,
// and exposes convenience operations: listener setup, blocking dial
// with backoff while the listener is not yet bound, and connected
// endpoint pairs for same-process handoff.

package facade

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-fd/api"
	"github.com/momentics/hioload-fd/control"
	"github.com/momentics/hioload-fd/endpoint"
	"github.com/momentics/hioload-fd/reactor"
)

// Config holds parameters immutable per run.
type Config struct {
	Backlog            int           // Listen backlog for endpoints created via Listen
	ConnectTimeout     time.Duration // Per-attempt connect timeout used by Dial
	DialBackoffInitial time.Duration // First retry delay when the listener is absent
	DialBackoffMax     time.Duration // Ceiling for the retry delay
	DialMaxElapsed     time.Duration // Total Dial budget; 0 disables the cap
	UnlinkStaleSocket  bool          // Remove a leftover socket file before bind
	EnableMetrics      bool          // Collect prometheus metrics
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Backlog:            128,
		ConnectTimeout:     2 * time.Second,
		DialBackoffInitial: 10 * time.Millisecond,
		DialBackoffMax:     500 * time.Millisecond,
		DialMaxElapsed:     5 * time.Second,
		UnlinkStaleSocket:  true,
		EnableMetrics:      true,
	}
}

// FDPass aggregates reactor, metrics, and endpoint construction.
type FDPass struct {
	cfg     *Config
	reactor api.Reactor
	metrics *control.Metrics
	promReg *prometheus.Registry

	startOnce sync.Once
	stopOnce  sync.Once
}

// New builds the facade from cfg (nil means DefaultConfig).
func New(cfg *Config) (*FDPass, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	r, err := reactor.NewReactor()
	if err != nil {
		return nil, fmt.Errorf("facade: %w", err)
	}
	f := &FDPass{cfg: cfg, reactor: r}
	if cfg.EnableMetrics {
		f.promReg = prometheus.NewRegistry()
		f.metrics = control.NewMetrics(f.promReg)
		if sm, ok := r.(interface {
			SetMetrics(*control.Metrics)
		}); ok {
			sm.SetMetrics(f.metrics)
		}
	}
	return f, nil
}

// Start runs the reactor loop on its own goroutine.
func (f *FDPass) Start() {
	f.startOnce.Do(func() {
		go f.reactor.Run()
	})
}

// Stop terminates the reactor; outstanding operations resolve through
// their timeout path first.
func (f *FDPass) Stop() {
	f.stopOnce.Do(func() {
		f.reactor.Stop()
		_ = f.reactor.Close()
	})
}

// Reactor exposes the underlying readiness loop.
func (f *FDPass) Reactor() api.Reactor { return f.reactor }

// Registry exposes the prometheus registry, nil when metrics are off.
func (f *FDPass) Registry() *prometheus.Registry { return f.promReg }

// NewEndpoint creates an unbound endpoint wired to the facade's
// reactor and metrics.
func (f *FDPass) NewEndpoint() *endpoint.Endpoint {
	ep := endpoint.New(f.reactor)
	ep.SetMetrics(f.metrics)
	return ep
}

// Listen binds a listening endpoint at path, removing a stale socket
// file first when configured.
func (f *FDPass) Listen(path string) (*endpoint.Endpoint, error) {
	if f.cfg.UnlinkStaleSocket {
		_ = unix.Unlink(path)
	}
	ep := f.NewEndpoint()
	if err := ep.Bind(path); err != nil {
		ep.Close()
		return nil, err
	}
	if err := ep.Listen(f.cfg.Backlog); err != nil {
		ep.Close()
		return nil, err
	}
	return ep, nil
}

// Dial connects to path, blocking the caller. While the listener is
// not yet bound (no socket file, or nobody listening) the attempt is
// retried with exponential backoff up to DialMaxElapsed.
func (f *FDPass) Dial(path string) (*endpoint.Endpoint, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = f.cfg.DialBackoffInitial
	bo.MaxInterval = f.cfg.DialBackoffMax
	bo.MaxElapsedTime = f.cfg.DialMaxElapsed

	var result *endpoint.Endpoint
	op := func() error {
		ep := f.NewEndpoint()
		done := make(chan *endpoint.Endpoint, 1)
		if err := ep.Connect(path, f.cfg.ConnectTimeout, func(p *endpoint.Endpoint) {
			done <- p
		}); err != nil {
			ep.Close()
			var netErr *api.NetError
			if errors.As(err, &netErr) &&
				(netErr.Errno == unix.ENOENT || netErr.Errno == unix.ECONNREFUSED) {
				return err // listener not up yet, retry
			}
			return backoff.Permanent(err)
		}
		p := <-done
		if p == nil {
			ep.Close()
			return fmt.Errorf("dial %s: %w", path, api.ErrOperationTimeout)
		}
		result = p
		return nil
	}
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return result, nil
}

// Socketpair returns two already-connected endpoints backed by an
// anonymous local-domain pair, for same-process descriptor handoff
// and tests.
func (f *FDPass) Socketpair() (*endpoint.Endpoint, *endpoint.Endpoint, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, api.NewNetError("socketpair", errnoOf(err))
	}
	a, err := endpoint.NewFromRaw(f.reactor, fds[0])
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	b, err := endpoint.NewFromRaw(f.reactor, fds[1])
	if err != nil {
		a.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	a.SetMetrics(f.metrics)
	b.SetMetrics(f.metrics)
	return a, b, nil
}

// Stats gathers the current metric values into a flat map for debug
// probes. Empty when metrics are disabled.
func (f *FDPass) Stats() map[string]any {
	reg := control.NewMetricsRegistry()
	if f.promReg == nil {
		return reg.GetSnapshot()
	}
	families, err := f.promReg.Gather()
	if err != nil {
		return reg.GetSnapshot()
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				reg.Set(mf.GetName(), m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				reg.Set(mf.GetName(), m.GetGauge().GetValue())
			}
		}
	}
	return reg.GetSnapshot()
}

func errnoOf(err error) unix.Errno {
	if errno, ok := err.(unix.Errno); ok {
		return errno
	}
	return unix.EIO
}

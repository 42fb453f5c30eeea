// Package nat asks the local network gateway to forward the tracker port.
//
// Forwarding is best effort: callers log the error and keep serving.
package nat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Description is the label routers show next to the mapping.
const Description = "Tracker Server"

// DefaultTimeout bounds gateway discovery plus the mapping request.
const DefaultTimeout = 3 * time.Second

var (
	// ErrNoGateway is returned when no discovery method found a gateway.
	ErrNoGateway = errors.New("nat: no gateway found")
	// ErrTimeout is returned when discovery did not finish in time.
	ErrTimeout = errors.New("nat: gateway discovery timed out")
)

// Mapping is an active port forwarding on the gateway.
type Mapping struct {
	Method       string // "upnp" or "natpmp"
	Protocol     string // "TCP"
	InternalPort int
	ExternalPort int
	ExternalIP   string
	Lifetime     time.Duration // Zero means the gateway keeps it until removed
}

// mapper is one forwarding protocol bound to a discovered gateway.
type mapper interface {
	method() string
	addMapping(proto string, port int, lifetime time.Duration) (Mapping, error)
	deleteMapping(m Mapping) error
}

// discoverFunc locates a gateway speaking one protocol.
type discoverFunc func(timeout time.Duration) (mapper, error)

// Forwarder creates and maintains a single port mapping.
type Forwarder struct {
	logger    zerolog.Logger
	timeout   time.Duration
	discovery []discoverFunc

	mu      sync.Mutex
	mapper  mapper
	mapping *Mapping
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewForwarder returns a forwarder trying UPnP IGD first, then NAT-PMP.
func NewForwarder(logger zerolog.Logger, timeout time.Duration) *Forwarder {
	return newForwarder(logger, timeout, discoverUPnP, discoverNATPMP)
}

func newForwarder(logger zerolog.Logger, timeout time.Duration, discovery ...discoverFunc) *Forwarder {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Forwarder{
		logger:    logger.With().Str("component", "nat").Logger(),
		timeout:   timeout,
		discovery: discovery,
	}
}

// Forward maps TCP port on the gateway to the same port on this host.
// Mappings with a finite lifetime are renewed until Close.
func (f *Forwarder) Forward(ctx context.Context, port int) (*Mapping, error) {
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("nat: invalid port %d", port)
	}

	var errs []error
	for _, discover := range f.discovery {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m, err := withTimeout(f.timeout, func() (mapper, error) { return discover(f.timeout) })
		if err != nil {
			errs = append(errs, err)
			continue
		}

		mapping, err := m.addMapping("TCP", port, natpmpLifetime)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: map port %d: %w", m.method(), port, err))
			continue
		}

		f.mu.Lock()
		f.mapper = m
		f.mapping = &mapping
		f.mu.Unlock()

		if mapping.Lifetime > 0 {
			f.startRenewal(mapping)
		}

		f.logger.Info().
			Str("method", mapping.Method).
			Int("internal_port", mapping.InternalPort).
			Int("external_port", mapping.ExternalPort).
			Str("external_ip", mapping.ExternalIP).
			Msg("port forwarded on gateway")
		out := mapping
		return &out, nil
	}

	if len(errs) == 0 {
		return nil, ErrNoGateway
	}
	return nil, fmt.Errorf("%w: %w", ErrNoGateway, errors.Join(errs...))
}

// Mapping returns the active mapping, if any.
func (f *Forwarder) Mapping() (Mapping, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mapping == nil {
		return Mapping{}, false
	}
	return *f.mapping, true
}

// Close stops renewal and removes the mapping from the gateway.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	cancel := f.cancel
	m, mapping := f.mapper, f.mapping
	f.cancel, f.mapper, f.mapping = nil, nil, nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	f.wg.Wait()

	if m == nil || mapping == nil {
		return nil
	}
	if err := m.deleteMapping(*mapping); err != nil {
		return fmt.Errorf("%s: unmap port %d: %w", m.method(), mapping.ExternalPort, err)
	}
	return nil
}

func (f *Forwarder) startRenewal(mapping Mapping) {
	ctx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	f.cancel = cancel
	f.mu.Unlock()

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		f.renewLoop(ctx, mapping.Lifetime/2)
	}()
}

// renewLoop refreshes the mapping at half its lifetime.
func (f *Forwarder) renewLoop(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			m, mapping := f.mapper, f.mapping
			f.mu.Unlock()
			if m == nil || mapping == nil {
				return
			}
			renewed, err := m.addMapping(mapping.Protocol, mapping.InternalPort, mapping.Lifetime)
			if err != nil {
				f.logger.Warn().Err(err).Str("method", m.method()).Msg("port mapping renewal failed")
				continue
			}
			f.mu.Lock()
			if f.mapping != nil {
				f.mapping = &renewed
			}
			f.mu.Unlock()
		}
	}
}

// withTimeout runs fn in the background; discovery libraries block on
// multicast reads with their own long timeouts.
func withTimeout[T any](timeout time.Duration, fn func() (T, error)) (T, error) {
	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()

	select {
	case res := <-ch:
		return res.val, res.err
	case <-time.After(timeout):
		var zero T
		return zero, ErrTimeout
	}
}

package network

import (
	"context"
	"net"
	"time"

	"github.com/kimhsiao/offlinesync/internal/logging"
)

// Default probe settings.
const (
	DefaultProbeInterval = 15 * time.Second
	DefaultProbeTimeout  = 3 * time.Second
)

// Prober is an Observer that dials a TCP address to decide connectivity.
// A successful dial reports connected and reachable. A failed dial
// reports disconnected.
type Prober struct {
	*Manual

	address  string
	interval time.Duration
	timeout  time.Duration
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
}

// ProberOption configures a Prober.
type ProberOption func(*Prober)

// WithInterval sets the probe interval.
func WithInterval(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithTimeout sets the per-probe dial timeout.
func WithTimeout(d time.Duration) ProberOption {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithDialer overrides the dial function.
func WithDialer(dial func(ctx context.Context, network, address string) (net.Conn, error)) ProberOption {
	return func(p *Prober) {
		p.dial = dial
	}
}

// NewProber creates a prober for address (host:port). Until the first
// probe it reports disconnected.
func NewProber(address string, opts ...ProberOption) *Prober {
	p := &Prober{
		Manual:   NewManual(Disconnected()),
		address:  address,
		interval: DefaultProbeInterval,
		timeout:  DefaultProbeTimeout,
	}
	var d net.Dialer
	p.dial = d.DialContext
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Probe dials once and returns the resulting state.
func (p *Prober) Probe(ctx context.Context) State {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.address)
	if err != nil {
		logging.Debug("Connectivity probe failed", map[string]interface{}{
			"address": p.address,
			"error":   err.Error(),
		})
		return Disconnected()
	}
	_ = conn.Close()
	return Connected(true)
}

// Start probes once synchronously, then every interval until ctx is done.
// Subscribers are only notified when the online verdict changes.
func (p *Prober) Start(ctx context.Context) error {
	p.update(p.Probe(ctx), true)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.update(p.Probe(ctx), false)
		}
	}
}

func (p *Prober) update(next State, first bool) {
	prev := p.State()
	if !first && prev.Online() == next.Online() {
		return
	}
	if prev.Online() != next.Online() {
		logging.Info("Connectivity changed", map[string]interface{}{
			"address": p.address,
			"online":  next.Online(),
		})
	}
	p.Set(next)
}

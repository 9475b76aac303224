package app

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kimhsiao/offlinesync/internal/logging"
	"github.com/kimhsiao/offlinesync/internal/network"
	"github.com/kimhsiao/offlinesync/internal/telemetry"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverWriteTimeout     = 15 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func (c *cli) newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Replay the queue whenever connectivity returns",
		Long: `Run the sync engine until interrupted.

The probe address is dialed every probe interval; each offline to online
transition flushes the queue. With sync.periodicInterval set the queue is
also flushed on a timer while online. Prometheus metrics are served on
--metrics-address when set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return c.run(ctx)
		},
	}
	cmd.Flags().String(flagMetricsAddr, "", "Address to serve Prometheus metrics on (e.g. :9090)")
	c.bindFlag(cmd, flagMetricsAddr)
	return cmd
}

func (c *cli) run(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := telemetry.NewMetrics(reg)
	if err != nil {
		return err
	}

	e, err := c.open(metrics)
	if err != nil {
		return err
	}
	defer e.Close()

	handler, err := newHandler(e.cfg)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	var observer network.Observer
	if addr := e.cfg.Network.ProbeAddress; addr != "" {
		prober := network.NewProber(addr,
			network.WithInterval(e.cfg.ProbeInterval()),
			network.WithTimeout(e.cfg.ProbeTimeout()))
		observer = prober
		g.Go(func() error { return prober.Start(ctx) })
	} else {
		logging.Warn("No probe address configured, assuming the network is up")
		observer = network.NewManual(network.State{IsConnected: true})
	}

	co := newCoordinator(e, observer, handler, metrics, true)
	if err := co.Start(ctx); err != nil {
		return err
	}
	g.Go(func() error {
		<-ctx.Done()
		return co.Close()
	})

	if addr := e.cfg.Metrics.Address; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		server := &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  serverReadTimeout,
			WriteTimeout: serverWriteTimeout,
			IdleTimeout:  serverIdleTimeout,
		}
		g.Go(func() error {
			logging.Info("Serving metrics", map[string]interface{}{"address": addr})
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultGracefulTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	logging.Info("Sync engine running", map[string]interface{}{
		"base_url":      e.cfg.Replay.BaseURL,
		"probe_address": e.cfg.Network.ProbeAddress,
	})
	err = g.Wait()
	logging.Info("Sync engine stopped")
	return err
}

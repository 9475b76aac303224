package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/kimhsiao/offlinesync/internal/config"
	apperrors "github.com/kimhsiao/offlinesync/internal/errors"
	"github.com/kimhsiao/offlinesync/internal/network"
	"github.com/kimhsiao/offlinesync/internal/replay"
	"github.com/kimhsiao/offlinesync/internal/sync/coordinator"
	"github.com/kimhsiao/offlinesync/internal/telemetry"
)

// newHandler builds the HTTP replay handler from cfg. Kinds listed in
// replay.routes get their own client; the rest go to replay.baseURL.
func newHandler(cfg *config.Config) (coordinator.Handler, error) {
	if cfg.Replay.BaseURL == "" && len(cfg.Replay.Routes) == 0 {
		return nil, apperrors.New(apperrors.ErrConfig, "replay.baseURL is required (--base-url)")
	}
	opts := []replay.Option{
		replay.WithHTTPClient(&http.Client{Timeout: cfg.ReplayTimeout()}),
	}
	for k, v := range cfg.Replay.Headers {
		opts = append(opts, replay.WithHeader(k, v))
	}

	var fallback *replay.Client
	if cfg.Replay.BaseURL != "" {
		client, err := replay.New(cfg.Replay.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		if len(cfg.Replay.Routes) == 0 {
			return client, nil
		}
		fallback = client
	}

	router := coordinator.NewRouter()
	for kind, target := range cfg.Replay.Routes {
		client, err := replay.New(target, opts...)
		if err != nil {
			return nil, err
		}
		router.Register(kind, client)
	}
	if fallback != nil {
		router.Fallback(fallback)
	}
	return router, nil
}

// newCoordinator wires the coordinator for e.
func newCoordinator(e *env, observer network.Observer, handler coordinator.Handler,
	metrics *telemetry.Metrics, periodic bool) *coordinator.Coordinator {
	opts := []coordinator.Option{
		coordinator.WithLastSyncStore(e.cache),
		coordinator.WithHandlerTimeout(e.cfg.HandlerTimeout()),
		coordinator.WithMetrics(metrics),
	}
	if periodic {
		opts = append(opts, coordinator.WithPeriodicFlush(e.cfg.PeriodicInterval()))
	}
	return coordinator.New(e.queue, observer, handler, opts...)
}

func printResult(cmd *cobra.Command, res coordinator.FlushResult) error {
	if asJSON, _ := cmd.Flags().GetBool(flagJSON); asJSON {
		return printJSON(cmd.OutOrStdout(), map[string]interface{}{
			"trigger":      res.Trigger,
			"startedAt":    res.StartedAt,
			"finishedAt":   res.FinishedAt,
			"attempted":    res.Attempted,
			"succeeded":    res.Succeeded,
			"failed":       res.Failed,
			"deadLettered": res.DeadLettered,
			"skipped":      res.Skipped,
			"interrupted":  res.Interrupted,
		})
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(),
		"attempted=%d succeeded=%d failed=%d dead_lettered=%d skipped=%d\n",
		res.Attempted, res.Succeeded, res.Failed, res.DeadLettered, res.Skipped)
	return err
}

func (c *cli) newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay the pending action queue once",
		Long: `Replay the pending action queue once and print the result.

When a probe address is configured it is dialed first and the command
fails with OFFLINE if it cannot be reached. Without one the network is
assumed to be up.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := c.open(nil)
			if err != nil {
				return err
			}
			defer e.Close()

			handler, err := newHandler(e.cfg)
			if err != nil {
				return err
			}

			state := network.State{IsConnected: true}
			if addr := e.cfg.Network.ProbeAddress; addr != "" {
				state = network.NewProber(addr, network.WithTimeout(e.cfg.ProbeTimeout())).Probe(cmd.Context())
			}
			return runOnce(cmd, e, network.NewManual(state), handler)
		},
	}
	cmd.Flags().Bool(flagJSON, false, "Print JSON")
	return cmd
}

// runOnce starts a coordinator, lets the initial connectivity report
// trigger its flush and prints the result.
func runOnce(cmd *cobra.Command, e *env, observer network.Observer, handler coordinator.Handler) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	co := newCoordinator(e, observer, handler, nil, false)
	if err := co.Start(ctx); err != nil {
		return err
	}
	defer co.Close()

	co.Wait()
	res, ok := co.LastResult()
	if !ok {
		if _, err := co.SyncNow(ctx); err != nil {
			return err
		}
		res, _ = co.LastResult()
	}
	return printResult(cmd, res)
}

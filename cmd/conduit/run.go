package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/artpar/conduit"
	"github.com/artpar/conduit/adapters/metrics"
	"github.com/artpar/conduit/config"
	"github.com/artpar/conduit/core/channel"
	"github.com/artpar/conduit/core/loop"
)

var (
	graphFile   string
	metricsAddr string
)

// runCmd creates every channel of a yaml graph, opens them and drives a
// processor loop until SIGINT/SIGTERM.
//
// Graph format:
//
//	channels:
//	  - url: "timer://;interval=1s;name=beat"
//	    open: "..."          # optional open parameters
//	modules:
//	  - path: "./mod.so"     # optional plug-ins, loaded first
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a channel graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		holder, err := config.NewHolder(graphFile, logger)
		if err != nil {
			return err
		}
		defer holder.Stop()
		if err := holder.WatchFile(); err != nil {
			logger.Warn().Err(err).Msg("graph file watching disabled")
		}
		holder.WatchSignals()
		graph := holder.Get()

		ctx, err := conduit.NewContext(graph.Sub("defaults"), logger)
		if err != nil {
			return err
		}

		if mods := graph.Sub("modules"); mods != nil {
			for _, key := range mods.SubKeys() {
				mod := mods.Sub(key)
				path := mod.GetOr("path", "")
				if err := ctx.LoadModule(path, mod.GetOr("symbol", "")); err != nil {
					return fmt.Errorf("load module %s: %w", path, err)
				}
			}
		}

		l, err := loop.New(logger)
		if err != nil {
			return err
		}
		defer l.Close()

		chans, opens, err := createChannels(ctx, graph)
		if err != nil {
			return err
		}
		defer func() {
			for _, c := range chans {
				c.Close(true)
				c.Free()
			}
		}()

		for i, c := range chans {
			if err := l.Add(c); err != nil {
				return fmt.Errorf("add %s to loop: %w", c.Name(), err)
			}
			if err := c.Open(opens[i]); err != nil {
				return fmt.Errorf("open %s: %w", c.Name(), err)
			}
		}

		if metricsAddr != "" {
			if err := startMetrics(ctx, metricsAddr); err != nil {
				return fmt.Errorf("metrics endpoint: %w", err)
			}
			logger.Info().Str("addr", metricsAddr).Msg("prometheus metrics enabled")
		}

		sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		logger.Info().Int("channels", len(chans)).Msg("running")
		if err := l.Run(sigCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		logger.Info().Msg("shutting down")
		return nil
	},
}

func createChannels(ctx *channel.Context, graph *config.Config) ([]*channel.Channel, []string, error) {
	section := graph.Sub("channels")
	if section == nil {
		return nil, nil, fmt.Errorf("graph has no channels section")
	}
	keys := section.SubKeys()
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(keys[i])
		b, _ := strconv.Atoi(keys[j])
		return a < b
	})
	var chans []*channel.Channel
	var opens []string
	for _, key := range keys {
		entry := section.Sub(key)
		url := entry.GetOr("url", "")
		c, err := ctx.NewChannel(url, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("create %s: %w", url, err)
		}
		chans = append(chans, c)
		opens = append(opens, entry.GetOr("open", ""))
	}
	return chans, opens, nil
}

func init() {
	runCmd.Flags().StringVarP(&graphFile, "config", "c", "graph.yaml", "channel graph file")
	runCmd.Flags().StringVar(&metricsAddr, "metrics", "", "prometheus listen address (empty = disabled)")
	rootCmd.AddCommand(runCmd)
}

// startMetrics exposes the context's stat list on a Prometheus endpoint.
func startMetrics(ctx *channel.Context, addr string) error {
	reg := prometheus.NewRegistry()
	if err := metrics.New(ctx.Stats()).Register(reg); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	go http.ListenAndServe(addr, mux)
	return nil
}

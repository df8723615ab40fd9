// Command mothership runs the central coordinator: the TS telemetry
// server, the ML mission dispatcher, the prometheus metrics endpoint,
// and the operator telemetry/command websocket.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PedroArgainha/rovermesh/internal/config"
	"github.com/PedroArgainha/rovermesh/internal/fleet"
	"github.com/PedroArgainha/rovermesh/internal/mldispatch"
	"github.com/PedroArgainha/rovermesh/internal/obs"
	"github.com/PedroArgainha/rovermesh/internal/pusher"
	"github.com/PedroArgainha/rovermesh/internal/scenario"
	"github.com/PedroArgainha/rovermesh/internal/tsserver"
)

var configFile string

func main() {
	cmd := &cobra.Command{
		Use:   "mothership",
		Short: "Rover fleet mothership: TS telemetry server + ML mission dispatcher",
		RunE:  run,
	}
	cmd.Flags().StringVar(&configFile, "config", "", "optional YAML config file")
	config.BindMothershipFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags(), "MOTHERSHIP", configFile)
	if err != nil {
		return err
	}

	log := obs.NewLogger(cfg.LogLevel)
	defer log.Sync()

	metrics := obs.NewMetrics()
	table := fleet.NewTable()
	queues, gen := scenario.Build(cfg.Scenario, int64(cfg.Scenario))

	ts := tsserver.New(net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.TSPort)), table, log, metrics)
	dispatch := mldispatch.New(net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.MLPort)), cfg.Scenario, queues, gen, table, log, metrics)
	push := pusher.New(table, queues, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 4)
	goGuarded(errCh, log, "tsserver", func() error { return ts.ListenAndServe(ctx) })
	goGuarded(errCh, log, "mldispatch", func() error { return dispatch.ListenAndServe(ctx) })
	goGuarded(errCh, log, "pusher", func() error { return push.Run(ctx) })
	goGuarded(errCh, log, "operator-http", func() error { return serveOperatorHTTP(ctx, cfg.OperatorAddr, push.HandleOperator, log) })
	goGuarded(errCh, log, "metrics-http", func() error { return serveMetricsHTTP(ctx, cfg.MetricsAddr, metrics, log) })

	select {
	case <-ctx.Done():
		log.Infow("shutting down")
		return nil
	case err := <-errCh:
		if err != nil {
			log.Errorw("component exited with error", "err", err)
			return err
		}
		return nil
	}
}

// goGuarded runs fn in its own goroutine with a recover guard, so a
// panic in one component is logged and turned into an errCh error
// instead of taking the whole process down mid-write. Mirrors the
// teacher's parseFrame recover in protocol/transport.go, which catches
// a handler panic and resyncs rather than crashing the firmware; at the
// goroutine-supervisor level there is nothing to resync, so the guard's
// job is a coordinated shutdown instead of a silent abort.
func goGuarded(errCh chan<- error, log *zap.SugaredLogger, name string, fn func() error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("component panicked", "component", name, "panic", r)
				errCh <- fmt.Errorf("%s: panic: %v", name, r)
			}
		}()
		errCh <- fn()
	}()
}

func serveOperatorHTTP(ctx context.Context, addr string, handler http.HandlerFunc, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/operator", handler)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Infow("operator websocket listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func serveMetricsHTTP(ctx context.Context, addr string, metrics *obs.Metrics, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	log.Infow("metrics endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

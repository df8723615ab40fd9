// Command rover runs one simulated rover: the TS telemetry client and
// the ML mission agent, driving a single in-process rover state model.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PedroArgainha/rovermesh/internal/config"
	"github.com/PedroArgainha/rovermesh/internal/mlrover"
	"github.com/PedroArgainha/rovermesh/internal/obs"
	"github.com/PedroArgainha/rovermesh/internal/roverstate"
	"github.com/PedroArgainha/rovermesh/internal/tsclient"
)

var configFile string

func main() {
	cmd := &cobra.Command{
		Use:   "rover",
		Short: "Simulated rover: TS telemetry client + ML mission agent",
		RunE:  run,
	}
	cmd.Flags().StringVar(&configFile, "config", "", "optional YAML config file")
	config.BindRoverFlags(cmd.Flags())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags(), "ROVER", configFile)
	if err != nil {
		return err
	}

	log := obs.NewLogger(cfg.LogLevel)
	defer log.Sync()

	rover := roverstate.New(uint8(cfg.ID), roverstate.Vec3{}, cfg.Velocity, cfg.Tick)
	rover.Destination = roverstate.Vec3{X: cfg.Dest[0], Y: cfg.Dest[1], Z: cfg.Dest[2]}

	tsAddr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.TSPort))
	mlAddr := net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.MLPort))

	client := tsclient.New(tsAddr, rover, log)
	agent := mlrover.New(mlAddr, rover, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	goGuarded(errCh, log, "tsclient", func() error { return client.Run(ctx) })
	goGuarded(errCh, log, "mlrover", func() error { return agent.Run(ctx) })

	select {
	case <-ctx.Done():
		log.Infow("shutting down", "rover_id", cfg.ID)
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

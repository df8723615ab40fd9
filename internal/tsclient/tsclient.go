// Package tsclient implements the rover side of the Telemetry Stream: a
// single reconnecting stream connection that sends HELLO once and then a
// periodic INFO frame per simulation tick (spec.md §4.5).
package tsclient

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/PedroArgainha/rovermesh/internal/roverstate"
	"github.com/PedroArgainha/rovermesh/internal/ts"
)

// reconnectBackoff is the fixed delay between reconnect attempts.
const reconnectBackoff = 1 * time.Second

// Client drives one rover's TS connection to the mothership.
type Client struct {
	addr  string
	rover *roverstate.Rover
	log   *zap.SugaredLogger

	writeMu sync.Mutex
}

// New creates a TS client for rover, dialing addr (e.g. "mothership:6000").
func New(addr string, rover *roverstate.Rover, log *zap.SugaredLogger) *Client {
	return &Client{addr: addr, rover: rover, log: log}
}

// Run connects, sends HELLO once, then loops sending INFO at the rover's
// tick cadence until ctx is canceled. On write failure or broken
// connection it closes, backs off, and reconnects without resending
// HELLO, per spec.md §4.5.
func (c *Client) Run(ctx context.Context) error {
	helloSent := false

	for ctx.Err() == nil {
		conn, err := net.Dial("tcp", c.addr)
		if err != nil {
			c.log.Warnw("ts client dial failed", "addr", c.addr, "err", err)
			if !sleepCtx(ctx, reconnectBackoff) {
				return nil
			}
			continue
		}

		if !helloSent {
			if err := c.writeFrame(conn, ts.FrameHello); err != nil {
				c.log.Warnw("ts client hello failed", "err", err)
				conn.Close()
				if !sleepCtx(ctx, reconnectBackoff) {
					return nil
				}
				continue
			}
			helloSent = true
			c.log.Infow("ts client connected", "addr", c.addr, "rover_id", c.rover.ID)
		}

		c.runTickLoop(ctx, conn)
		conn.Close()

		if ctx.Err() != nil {
			return nil
		}
		if !sleepCtx(ctx, reconnectBackoff) {
			return nil
		}
	}
	return nil
}

func (c *Client) runTickLoop(ctx context.Context, conn net.Conn) {
	tick := time.Duration(c.rover.TickSeconds * float64(time.Second))
	if tick <= 0 {
		tick = time.Second
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.rover.Step()
			if err := c.writeFrame(conn, ts.FrameInfo); err != nil {
				c.log.Warnw("ts client write failed, reconnecting", "err", err)
				return
			}
		}
	}
}

func (c *Client) writeFrame(conn net.Conn, frameType uint8) error {
	snap := c.rover.Snapshot()
	freq := uint8(1)
	if c.rover.TickSeconds > 0 {
		freq = ts.SaturateFreq(1 / c.rover.TickSeconds)
	}

	in := ts.FrameInput{
		RoverID:  snap.ID,
		Battery:  snap.BatteryPct,
		PosX:     snap.Position.X,
		PosY:     snap.Position.Y,
		PosZ:     snap.Position.Z,
		State:    uint8(snap.State),
		ProcUse:  uint8(snap.ProcUse),
		Storage:  uint8(snap.Storage),
		Velocity: snap.Velocity,
		Heading:  snap.Heading,
		Sensors:  uint8(snap.Sensors),
		Progress: uint8(snap.ProgressPct),
		DestX:    snap.Destination.X,
		DestY:    snap.Destination.Y,
		DestZ:    snap.Destination.Z,
	}

	frame := ts.Encode(frameType, in, freq)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := conn.Write(frame)
	return err
}

// sleepCtx sleeps for d or returns false early if ctx is canceled first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Package tsserver implements the mothership side of the Telemetry
// Stream: it accepts TCP connections, reads framed telemetry, and applies
// it to the shared rover mirror table (spec.md §4.4).
package tsserver

import (
	"context"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/PedroArgainha/rovermesh/internal/fleet"
	"github.com/PedroArgainha/rovermesh/internal/obs"
	"github.com/PedroArgainha/rovermesh/internal/roverstate"
	"github.com/PedroArgainha/rovermesh/internal/ts"
)

// idleReadTimeout bounds each header read so shutdown stays responsive,
// per spec.md §4.4.
const idleReadTimeout = 1 * time.Second

// Server accepts TS stream connections and mirrors telemetry into table.
type Server struct {
	addr    string
	table   *fleet.Table
	log     *zap.SugaredLogger
	metrics *obs.Metrics
}

// New creates a TS server bound to addr (e.g. ":6000").
func New(addr string, table *fleet.Table, log *zap.SugaredLogger, metrics *obs.Metrics) *Server {
	return &Server{addr: addr, table: table, log: log, metrics: metrics}
}

// ListenAndServe accepts connections until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	s.log.Infow("ts server listening", "addr", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(idleReadTimeout))

		header := make([]byte, ts.HeaderSize)
		if _, err := io.ReadFull(conn, header); err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if err != io.EOF {
				s.log.Debugw("ts connection closed on header read", "remote", remote, "err", err)
			}
			return
		}

		payloadLen, err := ts.HeaderPayloadLen(header)
		if err != nil {
			s.log.Warnw("ts invalid header", "remote", remote, "err", err)
			return
		}

		var payload []byte
		if payloadLen > 0 {
			payload = make([]byte, payloadLen)
			if _, err := io.ReadFull(conn, payload); err != nil {
				s.log.Debugw("ts connection closed on payload read", "remote", remote, "err", err)
				return
			}
		}

		frame, err := ts.Decode(header, payload)
		if err != nil {
			s.log.Warnw("ts decode failed, dropping connection", "remote", remote, "err", err)
			if s.metrics != nil && err == ts.ErrChecksumMismatch {
				s.metrics.TSChecksumFailures.Inc()
			}
			return
		}

		if s.metrics != nil {
			s.metrics.TSFramesDecoded.WithLabelValues(frameTypeLabel(frame.Header.Type)).Inc()
		}

		switch frame.Header.Type {
		case ts.FrameHello:
			s.log.Infow("rover connected", "remote", remote, "rover_id", frame.Header.RoverID)

		case ts.FrameInfo:
			s.applyInfo(frame)

		case ts.FrameEnd, ts.FrameFin:
			s.log.Infow("rover disconnecting", "remote", remote, "rover_id", frame.Header.RoverID)
			return

		default:
			s.log.Warnw("ts unknown frame type, dropping connection", "remote", remote, "type", frame.Header.Type)
			return
		}
	}
}

func (s *Server) applyInfo(frame ts.Frame) {
	if frame.Payload == nil {
		return
	}
	p := *frame.Payload
	h := frame.Header

	rover := s.table.GetOrCreate(h.RoverID)
	rover.ApplyTelemetry(
		float64(h.Battery), float64(h.PosX), float64(h.PosY), float64(h.PosZ),
		roverstate.State(h.State), int(p.ProcUse), int(p.Storage), int(p.Sensors),
		float64(p.Velocity), float64(p.Heading), int(p.Progress),
		float64(p.DestX), float64(p.DestY), float64(p.DestZ),
	)
}

func frameTypeLabel(t uint8) string {
	switch t {
	case ts.FrameHello:
		return "hello"
	case ts.FrameInfo:
		return "info"
	case ts.FrameEnd:
		return "end"
	case ts.FrameFin:
		return "fin"
	default:
		return "unknown"
	}
}

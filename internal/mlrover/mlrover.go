// Package mlrover implements the rover side of MissionLink: the
// READY → MISSION/NOMISSION → PROGRESS loop → DONE state machine driven
// over a single UDP socket, with a reliable-send helper providing
// timeout/retry/RETX semantics (spec.md §4.7).
package mlrover

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/PedroArgainha/rovermesh/internal/ml"
	"github.com/PedroArgainha/rovermesh/internal/mission"
	"github.com/PedroArgainha/rovermesh/internal/roverstate"
)

const (
	maxDatagram      = 4096
	readyTimeout     = 500 * time.Millisecond
	readyRetryDelay  = 1 * time.Second
	noMissionSleep   = 2 * time.Second
	progressInterval = 300 * time.Millisecond
	reliableTimeout  = 500 * time.Millisecond
	maxRetries       = 5
)

// Agent drives one rover's ML state machine against the mothership
// dispatcher at addr.
type Agent struct {
	addr     string
	streamID uint16
	rover    *roverstate.Rover
	log      *zap.SugaredLogger

	nextSeq uint32
}

// New creates an ML agent for rover, using rover.ID as the stream id.
func New(addr string, rover *roverstate.Rover, log *zap.SugaredLogger) *Agent {
	return &Agent{addr: addr, streamID: uint16(rover.ID), rover: rover, log: log, nextSeq: 1}
}

func (a *Agent) allocSeq() uint32 {
	seq := a.nextSeq
	a.nextSeq++
	return seq
}

// Run dials the mothership ML socket and loops through mission cycles
// until ctx is canceled.
func (a *Agent) Run(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", a.addr)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", nil, udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for ctx.Err() == nil {
		hdr, payload, ok := a.readyPhase(ctx, conn)
		if !ok {
			return nil
		}

		switch hdr.MsgType {
		case ml.MsgNoMission:
			a.sendOnce(conn, ml.MsgAck, ml.FlagAckOnly, hdr.Seq, nil)
			if !sleepCtx(ctx, noMissionSleep) {
				return nil
			}

		case ml.MsgMission:
			mp, err := ml.DecodeMissionPayload(payload)
			if err != nil {
				a.log.Warnw("ml mission payload decode failed", "err", err)
				continue
			}
			desc := mission.Descriptor{
				MissionID:  mission.Kind(mp.MissionID),
				TaskNumber: mp.TaskNumber,
				X:          mp.X,
				Y:          mp.Y,
				Radius:     mp.Radius,
				Duration:   mp.Duration,
			}
			a.rover.AssignMission(desc)
			a.sendOnce(conn, ml.MsgAck, ml.FlagAckOnly, hdr.Seq, nil)

			if a.runProgressLoop(ctx, conn, desc) {
				a.runDonePhase(conn, desc)
			}

		default:
			a.log.Warnw("ml unexpected reply to READY", "msg_type", hdr.MsgType)
		}
	}
	return nil
}

// readyPhase sends READY with a fresh seq and waits up to readyTimeout
// for the matching reply (MISSION/NOMISSION piggybacking an ack of that
// seq), retransmitting the identical seq with RETX set (after
// readyRetryDelay) on timeout until ctx is canceled, mirroring
// sendReliable's same-seq/RETX-rebuild pattern.
func (a *Agent) readyPhase(ctx context.Context, conn *net.UDPConn) (ml.Header, []byte, bool) {
	buf := make([]byte, maxDatagram)
	seq := a.allocSeq()
	flags := uint8(ml.FlagNeedsAck)

	for ctx.Err() == nil {
		msg := ml.Build(ml.MsgReady, flags, seq, 0, a.streamID, nil)
		if _, err := conn.Write(msg); err != nil {
			a.log.Warnw("ml ready write failed", "err", err)
			if !sleepCtx(ctx, readyRetryDelay) {
				return ml.Header{}, nil, false
			}
			flags |= ml.FlagRetx
			continue
		}

		_ = conn.SetReadDeadline(time.Now().Add(readyTimeout))
		n, err := conn.Read(buf)
		if err != nil {
			flags |= ml.FlagRetx
			if !sleepCtx(ctx, readyRetryDelay) {
				return ml.Header{}, nil, false
			}
			continue
		}

		hdr, payload, perr := ml.Parse(buf[:n])
		if perr != nil {
			continue
		}
		if hdr.Ack != seq {
			continue
		}
		return hdr, payload, true
	}
	return ml.Header{}, nil, false
}

// runProgressLoop sends periodic PROGRESS reports until the rover is
// within the mission radius or progress reaches 100%, reporting whether
// the mission ran to completion (false if the reliable send was
// exhausted, aborting the phase per spec.md §4.7).
func (a *Agent) runProgressLoop(ctx context.Context, conn *net.UDPConn, desc mission.Descriptor) bool {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			snap := a.rover.Snapshot()
			payload := ml.EncodeProgressPayload(ml.ProgressPayload{
				MissionID: uint8(desc.MissionID),
				Status:    0,
				Percent:   uint8(snap.ProgressPct),
				Battery:   uint8(snap.BatteryPct),
				X:         float32(snap.Position.X),
				Y:         float32(snap.Position.Y),
			})

			if !a.sendReliable(conn, ml.MsgProgress, payload) {
				a.log.Warnw("ml progress send exhausted, aborting mission phase", "mission_id", desc.MissionID)
				return false
			}

			dist := a.rover.DistanceTo2D(float64(desc.X), float64(desc.Y))
			if dist <= float64(desc.Radius) || snap.ProgressPct >= 100 {
				return true
			}
		}
	}
}

func (a *Agent) runDonePhase(conn *net.UDPConn, desc mission.Descriptor) {
	payload := ml.EncodeDonePayload(ml.DonePayload{MissionID: uint8(desc.MissionID), ResultCode: 0})
	if !a.sendReliable(conn, ml.MsgDone, payload) {
		a.log.Warnw("ml done send exhausted", "mission_id", desc.MissionID)
	}
	a.rover.ResetAfterDone()
}

// sendReliable sends a NEEDS_ACK message and waits for a matching ACK,
// rebuilding with RETX (same seq) and resending on each timeout, up to
// maxRetries. Any parseable reply that isn't the matching ACK is ignored
// per spec.md §4.7's reliable-send helper.
func (a *Agent) sendReliable(conn *net.UDPConn, msgType uint8, payload []byte) bool {
	seq := a.allocSeq()
	flags := uint8(ml.FlagNeedsAck)
	msg := ml.Build(msgType, flags, seq, 0, a.streamID, payload)
	buf := make([]byte, maxDatagram)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if _, err := conn.Write(msg); err != nil {
			a.log.Warnw("ml reliable send write failed", "err", err)
			return false
		}

		deadline := time.Now().Add(reliableTimeout)
		for {
			_ = conn.SetReadDeadline(deadline)
			n, err := conn.Read(buf)
			if err != nil {
				break
			}
			hdr, _, perr := ml.Parse(buf[:n])
			if perr != nil {
				continue
			}
			if hdr.MsgType == ml.MsgAck && hdr.Ack == seq {
				return true
			}
		}

		flags |= ml.FlagRetx
		msg = ml.Build(msgType, flags, seq, 0, a.streamID, payload)
	}
	return false
}

// sendOnce fires a one-shot message (e.g. ACK_ONLY) with no retry.
func (a *Agent) sendOnce(conn *net.UDPConn, msgType, flags uint8, ack uint32, payload []byte) {
	seq := a.allocSeq()
	msg := ml.Build(msgType, flags, seq, ack, a.streamID, payload)
	if _, err := conn.Write(msg); err != nil {
		a.log.Warnw("ml send failed", "msg_type", msgType, "err", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

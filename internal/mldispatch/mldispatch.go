// Package mldispatch implements the mothership side of MissionLink: a
// single UDP receive loop that hands out missions, tracks in-flight
// assignments, and replays cached replies so retried requests observe
// idempotent behavior (spec.md §4.6).
package mldispatch

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/PedroArgainha/rovermesh/internal/fleet"
	"github.com/PedroArgainha/rovermesh/internal/ml"
	"github.com/PedroArgainha/rovermesh/internal/mission"
	"github.com/PedroArgainha/rovermesh/internal/obs"
	"github.com/PedroArgainha/rovermesh/internal/scenario"
)

// maxDatagram bounds a single ML receive per spec.md §4.6.
const maxDatagram = 4096

// pendingReply is the cached idempotent response to a rover's outstanding
// request. A non-empty entry means the dispatcher has not yet seen the
// matching ACK; any re-received READY gets replayBytes verbatim.
type pendingReply struct {
	hasMissionSeq bool
	missionSeq    uint32
	replyBytes    []byte
	descriptor    mission.Descriptor
	hasDescriptor bool
}

// record is the dispatcher's per-rover bookkeeping, keyed by stream_id.
type record struct {
	mu sync.Mutex

	current    mission.Descriptor
	hasCurrent bool

	lastProgress    ml.ProgressPayload
	hasLastProgress bool
	done            bool

	lastSeqSeen uint32
	pending     pendingReply
	hasPending  bool
}

// Dispatcher owns the ML UDP socket, per-rover records, and the mission
// queues/generator for the configured scenario.
type Dispatcher struct {
	addr       string
	scenarioID int
	table      *fleet.Table
	queues     *scenario.Queues
	gen        *scenario.Generator
	log        *zap.SugaredLogger
	metrics    *obs.Metrics

	mu       sync.Mutex
	records  map[uint16]*record
	nextSeq  uint32
}

// New creates a dispatcher bound to addr (e.g. ":50000"), configured for
// the given scenario's queues/generator.
func New(addr string, scenarioID int, queues *scenario.Queues, gen *scenario.Generator, table *fleet.Table, log *zap.SugaredLogger, metrics *obs.Metrics) *Dispatcher {
	return &Dispatcher{
		addr:       addr,
		scenarioID: scenarioID,
		table:      table,
		queues:     queues,
		gen:        gen,
		log:        log,
		metrics:    metrics,
		records:    make(map[uint16]*record),
		nextSeq:    1,
	}
}

func (d *Dispatcher) recordFor(streamID uint16) *record {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.records[streamID]
	if !ok {
		r = &record{}
		d.records[streamID] = r
	}
	return r
}

func (d *Dispatcher) allocSeq() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	seq := d.nextSeq
	d.nextSeq++
	return seq
}

// ListenAndServe runs the receive loop until ctx is canceled.
func (d *Dispatcher) ListenAndServe(ctx context.Context) error {
	udpAddr, err := net.ResolveUDPAddr("udp", d.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	d.log.Infow("ml dispatcher listening", "addr", d.addr, "scenario", d.scenarioID)

	buf := make([]byte, maxDatagram)
	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}

		msg := make([]byte, n)
		copy(msg, buf[:n])
		d.handleDatagram(conn, peer, msg)
	}
}

func (d *Dispatcher) handleDatagram(conn *net.UDPConn, peer *net.UDPAddr, buf []byte) {
	hdr, payload, err := ml.Parse(buf)
	if err != nil {
		d.log.Warnw("ml parse failed, dropping datagram", "peer", peer, "err", err)
		if d.metrics != nil && err == ml.ErrChecksumMismatch {
			d.metrics.MLChecksumFailures.Inc()
		}
		return
	}

	if d.metrics != nil {
		d.metrics.MLDatagramsTotal.WithLabelValues(msgTypeLabel(hdr.MsgType)).Inc()
	}

	r := d.recordFor(hdr.StreamID)

	switch hdr.MsgType {
	case ml.MsgReady, ml.MsgRequestMission:
		d.handleReady(conn, peer, hdr.StreamID, hdr, r)
	case ml.MsgProgress:
		d.handleProgress(conn, peer, hdr.StreamID, hdr, payload, r)
	case ml.MsgDone:
		d.handleDone(conn, peer, hdr.StreamID, hdr, payload, r)
	case ml.MsgAck:
		d.handleAck(hdr.StreamID, hdr, r)
	default:
		d.log.Warnw("ml unknown message type, dropping", "peer", peer, "type", hdr.MsgType)
	}
}

func (d *Dispatcher) send(conn *net.UDPConn, peer *net.UDPAddr, buf []byte) {
	if _, err := conn.WriteToUDP(buf, peer); err != nil {
		d.log.Warnw("ml write failed", "peer", peer, "err", err)
	}
}

func (d *Dispatcher) handleReady(conn *net.UDPConn, peer *net.UDPAddr, streamID uint16, hdr ml.Header, r *record) {
	r.mu.Lock()
	if r.hasPending {
		replay := r.pending.replyBytes
		r.mu.Unlock()
		d.send(conn, peer, replay)
		return
	}
	r.mu.Unlock()

	roverID := uint8(streamID)
	desc, source, ok := d.selectMission(roverID)

	if !ok {
		seq := d.allocSeq()
		out := ml.Build(ml.MsgNoMission, ml.FlagNeedsAck, seq, hdr.Seq, streamID, nil)

		r.mu.Lock()
		r.pending = pendingReply{hasMissionSeq: false, replyBytes: out}
		r.hasPending = true
		r.mu.Unlock()
		if d.metrics != nil {
			d.metrics.PendingReplies.Inc()
		}

		d.send(conn, peer, out)
		return
	}

	payload := ml.EncodeMissionPayload(ml.MissionPayload{
		MissionID:  uint8(desc.MissionID),
		TaskNumber: desc.TaskNumber,
		X:          desc.X,
		Y:          desc.Y,
		Radius:     desc.Radius,
		Duration:   desc.Duration,
	})
	seq := d.allocSeq()
	out := ml.Build(ml.MsgMission, ml.FlagNeedsAck, seq, hdr.Seq, streamID, payload)

	r.mu.Lock()
	r.pending = pendingReply{
		hasMissionSeq: true,
		missionSeq:    seq,
		replyBytes:    out,
		descriptor:    desc,
		hasDescriptor: true,
	}
	r.hasPending = true
	r.current = desc
	r.hasCurrent = true
	r.done = false
	r.mu.Unlock()
	if d.metrics != nil {
		d.metrics.PendingReplies.Inc()
	}

	if rover, ok := d.table.Get(roverID); ok {
		rover.SetAssignedMission(desc.MissionID)
	} else {
		d.table.GetOrCreate(roverID).SetAssignedMission(desc.MissionID)
	}

	if d.metrics != nil {
		d.metrics.MissionsDispatched.WithLabelValues(source).Inc()
	}

	d.send(conn, peer, out)
}

// selectMission implements the priority order of spec.md §4.6 step 2
// without consuming anything; consumption only happens on ACK.
func (d *Dispatcher) selectMission(roverID uint8) (mission.Descriptor, string, bool) {
	if m, ok := d.queues.PeekManual(roverID); ok {
		return m, "manual", true
	}
	switch d.scenarioID {
	case 3:
		if d.gen != nil {
			return d.gen.Peek(), "generated", true
		}
	default:
		if m, ok := d.queues.PeekAutomatic(); ok {
			return m, "automatic", true
		}
	}
	return mission.Descriptor{}, "", false
}

func (d *Dispatcher) handleProgress(conn *net.UDPConn, peer *net.UDPAddr, streamID uint16, hdr ml.Header, payload []byte, r *record) {
	pp, err := ml.DecodeProgressPayload(payload)
	if err != nil {
		d.log.Warnw("ml progress decode failed", "stream_id", streamID, "err", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasCurrent || uint8(r.current.MissionID) != pp.MissionID {
		d.ackOnly(conn, peer, streamID, hdr.Seq)
		return
	}
	if hdr.Seq <= r.lastSeqSeen {
		if d.metrics != nil {
			d.metrics.MLDuplicates.Inc()
		}
		d.ackOnly(conn, peer, streamID, hdr.Seq)
		return
	}

	r.lastSeqSeen = hdr.Seq
	r.lastProgress = pp
	r.hasLastProgress = true
	d.ackOnly(conn, peer, streamID, hdr.Seq)
}

func (d *Dispatcher) handleDone(conn *net.UDPConn, peer *net.UDPAddr, streamID uint16, hdr ml.Header, payload []byte, r *record) {
	dp, err := ml.DecodeDonePayload(payload)
	if err != nil {
		d.log.Warnw("ml done decode failed", "stream_id", streamID, "err", err)
		return
	}

	r.mu.Lock()
	if !r.hasCurrent || uint8(r.current.MissionID) != dp.MissionID {
		r.mu.Unlock()
		d.ackOnly(conn, peer, streamID, hdr.Seq)
		return
	}
	if r.done || hdr.Seq <= r.lastSeqSeen {
		r.mu.Unlock()
		d.ackOnly(conn, peer, streamID, hdr.Seq)
		return
	}

	r.done = true
	r.lastSeqSeen = hdr.Seq
	kind := r.current.MissionID
	r.mu.Unlock()

	d.log.Infow("mission done", "stream_id", streamID, "mission_id", kind)
	if d.metrics != nil {
		d.metrics.MissionsCompleted.WithLabelValues(kind.Name()).Inc()
	}

	roverID := uint8(streamID)
	if rover, ok := d.table.Get(roverID); ok {
		rover.ClearMission()
	}

	d.ackOnly(conn, peer, streamID, hdr.Seq)
}

func (d *Dispatcher) handleAck(streamID uint16, hdr ml.Header, r *record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.hasPending {
		return
	}

	if r.pending.hasMissionSeq {
		if r.pending.missionSeq != hdr.Ack {
			return
		}
		desc := r.pending.descriptor
		r.hasPending = false
		r.pending = pendingReply{}
		if d.metrics != nil {
			d.metrics.PendingReplies.Dec()
		}

		roverID := uint8(streamID)
		manualHead, hasManualHead := d.manualHead(roverID)
		autoHead, hasAutoHead := d.automaticHead()

		switch {
		case sameMission(manualHead, hasManualHead, desc):
			d.queues.PopManualFront(roverID)
		case (d.scenarioID == 2 || d.scenarioID == 4) && sameMission(autoHead, hasAutoHead, desc):
			d.queues.PopAutomaticFront()
		case d.scenarioID == 3 && d.gen != nil:
			d.gen.Advance()
		}
		return
	}

	// NOMISSION case: no sequence to match, any ACK clears it.
	r.hasPending = false
	r.pending = pendingReply{}
	if d.metrics != nil {
		d.metrics.PendingReplies.Dec()
	}
}

func (d *Dispatcher) manualHead(roverID uint8) (mission.Descriptor, bool) {
	return d.queues.PeekManual(roverID)
}

func (d *Dispatcher) automaticHead() (mission.Descriptor, bool) {
	return d.queues.PeekAutomatic()
}

func sameMission(head mission.Descriptor, ok bool, desc mission.Descriptor) bool {
	return ok && head.TaskNumber == desc.TaskNumber && head.MissionID == desc.MissionID
}

func (d *Dispatcher) ackOnly(conn *net.UDPConn, peer *net.UDPAddr, streamID uint16, ack uint32) {
	seq := d.allocSeq()
	out := ml.Build(ml.MsgAck, ml.FlagAckOnly, seq, ack, streamID, nil)
	d.send(conn, peer, out)
}

func msgTypeLabel(t uint8) string {
	switch t {
	case ml.MsgReady:
		return "ready"
	case ml.MsgMission:
		return "mission"
	case ml.MsgProgress:
		return "progress"
	case ml.MsgDone:
		return "done"
	case ml.MsgAck:
		return "ack"
	case ml.MsgNoMission:
		return "nomission"
	case ml.MsgRequestMission:
		return "requestmission"
	default:
		return "unknown"
	}
}

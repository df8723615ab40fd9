// Package pusher implements the telemetry snapshot pusher: a
// once-per-second scan of dirty rovers pushed as JSON over a websocket
// operator sink, plus inbound operator-issued mission injections
// (spec.md §4.8).
package pusher

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/PedroArgainha/rovermesh/internal/fleet"
	"github.com/PedroArgainha/rovermesh/internal/mission"
	"github.com/PedroArgainha/rovermesh/internal/roverstate"
	"github.com/PedroArgainha/rovermesh/internal/scenario"
)

const pushInterval = 1 * time.Second

// sink wraps the single connected operator websocket. Only one operator
// connection is supported at a time; a new connection replaces the old.
type sink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *sink) set(conn *websocket.Conn) *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.conn
	s.conn = conn
	return old
}

func (s *sink) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *sink) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Pusher owns the push loop, the operator websocket endpoint, and the
// per-rover last-published version map (its sole writer is the push
// loop, so no lock is needed for it).
type Pusher struct {
	table  *fleet.Table
	queues *scenario.Queues
	log    *zap.SugaredLogger

	upgrader websocket.Upgrader
	sink     sink

	lastPublished map[uint8]uint64
}

// New creates a pusher over table, appending operator-injected missions
// into queues.
func New(table *fleet.Table, queues *scenario.Queues, log *zap.SugaredLogger) *Pusher {
	return &Pusher{
		table:         table,
		queues:        queues,
		log:           log,
		upgrader:      websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		lastPublished: make(map[uint8]uint64),
	}
}

// Run drives the once-per-second dirty scan until ctx is canceled.
func (p *Pusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.tick()
		}
	}
}

func (p *Pusher) tick() {
	type dirtyEntry struct {
		id   uint8
		snap roverstate.Snapshot
	}

	var dirty []dirtyEntry
	for _, r := range p.table.All() {
		snap := r.Snapshot()
		if p.lastPublished[snap.ID] != snap.Version {
			dirty = append(dirty, dirtyEntry{id: snap.ID, snap: snap})
		}
	}
	if len(dirty) == 0 {
		return
	}

	data := make([]snapshotJSON, 0, len(dirty))
	for _, e := range dirty {
		data = append(data, toSnapshotJSON(e.snap))
	}

	buf, err := json.Marshal(outboundMessage{Type: "rovers_update", Data: data})
	if err != nil {
		p.log.Errorw("pusher marshal failed", "err", err)
		return
	}

	if err := p.sink.send(buf); err != nil {
		p.log.Warnw("operator sink send failed, disconnecting", "err", err)
		p.sink.disconnect()
		return
	}

	for _, e := range dirty {
		p.lastPublished[e.id] = e.snap.Version
	}
}

// HandleOperator upgrades an HTTP connection to the operator websocket
// sink and serves its inbound JSON command stream until it disconnects.
func (p *Pusher) HandleOperator(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warnw("operator upgrade failed", "err", err)
		return
	}

	if old := p.sink.set(conn); old != nil {
		_ = old.Close()
	}
	p.log.Infow("operator sink connected", "remote", r.RemoteAddr)

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			p.log.Infow("operator sink disconnected", "err", err)
			p.sink.mu.Lock()
			if p.sink.conn == conn {
				p.sink.conn = nil
			}
			p.sink.mu.Unlock()
			_ = conn.Close()
			return
		}
		p.handleInbound(msg)
	}
}

type envelope struct {
	Type string `json:"type"`
}

type assignMissionMsg struct {
	RoverID   int      `json:"rover_id"`
	MissionID int      `json:"mission_id"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	Radius    *float64 `json:"radius,omitempty"`
	Duracao   *float64 `json:"duracao,omitempty"`
}

func (p *Pusher) handleInbound(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		p.log.Warnw("operator message malformed json, discarding", "err", err)
		return
	}

	switch env.Type {
	case "assign_mission":
		p.handleAssignMission(raw)
	default:
		p.log.Warnw("operator message unknown type, discarding", "type", env.Type)
	}
}

func (p *Pusher) handleAssignMission(raw []byte) {
	var msg assignMissionMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		p.log.Warnw("operator assign_mission malformed, discarding", "err", err)
		return
	}
	if msg.RoverID < 0 || msg.RoverID > 255 {
		p.log.Warnw("operator assign_mission rover_id out of range, discarding", "rover_id", msg.RoverID)
		return
	}
	if msg.MissionID < 1 || msg.MissionID > 6 {
		p.log.Warnw("operator assign_mission mission_id out of range, discarding", "mission_id", msg.MissionID)
		return
	}

	radius := float32(2)
	if msg.Radius != nil {
		radius = float32(*msg.Radius)
	}
	duration := float32(60)
	if msg.Duracao != nil {
		duration = float32(*msg.Duracao)
	}

	desc := mission.Descriptor{
		MissionID:  mission.Kind(msg.MissionID),
		TaskNumber: p.queues.NextManualTaskNumber(),
		X:          float32(msg.X),
		Y:          float32(msg.Y),
		Radius:     radius,
		Duration:   duration,
	}
	p.queues.AppendManual(uint8(msg.RoverID), desc)
	p.log.Infow("operator manual mission queued", "rover_id", msg.RoverID, "mission_id", desc.MissionID, "task_number", desc.TaskNumber)
}

type outboundMessage struct {
	Type string         `json:"type"`
	Data []snapshotJSON `json:"data"`
}

type snapshotJSON struct {
	ID                uint8      `json:"id"`
	Position          [3]float64 `json:"position"`
	Destination       [3]float64 `json:"destination"`
	Velocity          float64    `json:"velocity"`
	Heading           float64    `json:"heading"`
	BatteryPct        float64    `json:"battery_pct"`
	State             string     `json:"state"`
	ProcUse           int        `json:"proc_use"`
	Storage           int        `json:"storage"`
	Sensors           int        `json:"sensors"`
	AssignedMissionID uint8      `json:"assigned_mission_id"`
	ProgressPct       int        `json:"progress_pct"`
}

func toSnapshotJSON(s roverstate.Snapshot) snapshotJSON {
	return snapshotJSON{
		ID:                s.ID,
		Position:          [3]float64{s.Position.X, s.Position.Y, s.Position.Z},
		Destination:       [3]float64{s.Destination.X, s.Destination.Y, s.Destination.Z},
		Velocity:          s.Velocity,
		Heading:           s.Heading,
		BatteryPct:        s.BatteryPct,
		State:             s.State.String(),
		ProcUse:           s.ProcUse,
		Storage:           s.Storage,
		Sensors:           s.Sensors,
		AssignedMissionID: uint8(s.AssignedMissionID),
		ProgressPct:       s.ProgressPct,
	}
}

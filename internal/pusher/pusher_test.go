package pusher

import (
	"encoding/json"
	"testing"

	"go.uber.org/zap"

	"github.com/PedroArgainha/rovermesh/internal/fleet"
	"github.com/PedroArgainha/rovermesh/internal/mission"
	"github.com/PedroArgainha/rovermesh/internal/roverstate"
	"github.com/PedroArgainha/rovermesh/internal/scenario"
)

func newTestPusher() (*Pusher, *fleet.Table) {
	table := fleet.NewTable()
	queues := scenario.NewQueues(nil)
	return New(table, queues, zap.NewNop().Sugar()), table
}

func TestTickOnlyPublishesDirtyRoversAndAdvancesVersion(t *testing.T) {
	p, table := newTestPusher()

	r1 := table.GetOrCreate(1)
	r2 := table.GetOrCreate(2)
	r1.ApplyTelemetry(50, 1, 2, 0, roverstate.Moving, 1, 1, 1, 1, 1, 0, 0, 0, 0)

	p.tick()

	if _, ok := p.lastPublished[1]; !ok {
		t.Errorf("rover 1 should have a published version after first tick")
	}
	if _, ok := p.lastPublished[2]; ok {
		t.Errorf("rover 2 never changed, should not be published")
	}
	_ = r2
}

func TestAssignMissionQueuesManualMissionWithFreshTaskNumber(t *testing.T) {
	p, _ := newTestPusher()

	raw, err := json.Marshal(map[string]interface{}{
		"type":       "assign_mission",
		"rover_id":   2,
		"mission_id": 4,
		"x":          5,
		"y":          5,
		"duracao":    90,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	p.handleInbound(raw)

	head, ok := p.queues.PeekManual(2)
	if !ok {
		t.Fatal("expected a manual mission queued for rover 2")
	}
	if head.MissionID != mission.Recharge {
		t.Errorf("MissionID = %v, want Recharge", head.MissionID)
	}
	if head.TaskNumber < scenario.ManualTaskNumberBase {
		t.Errorf("TaskNumber = %d, want >= %d", head.TaskNumber, scenario.ManualTaskNumberBase)
	}
	if head.Duration != 90 {
		t.Errorf("Duration = %v, want 90", head.Duration)
	}
}

func TestAssignMissionRejectsOutOfRangeMissionID(t *testing.T) {
	p, _ := newTestPusher()

	raw, _ := json.Marshal(map[string]interface{}{
		"type":       "assign_mission",
		"rover_id":   1,
		"mission_id": 9,
		"x":          0,
		"y":          0,
	})
	p.handleInbound(raw)

	if _, ok := p.queues.PeekManual(1); ok {
		t.Errorf("out-of-range mission_id should be discarded, not queued")
	}
}

func TestUnknownInboundTypeIgnored(t *testing.T) {
	p, _ := newTestPusher()
	raw, _ := json.Marshal(map[string]interface{}{"type": "ping"})
	p.handleInbound(raw) // must not panic
}

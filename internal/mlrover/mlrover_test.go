package mlrover

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/PedroArgainha/rovermesh/internal/ml"
	"github.com/PedroArgainha/rovermesh/internal/mission"
	"github.com/PedroArgainha/rovermesh/internal/roverstate"
)

func udpPair(t *testing.T) (server *net.UDPConn, client *net.UDPConn) {
	t.Helper()
	server, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 0})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	client, err = net.DialUDP("udp", nil, server.LocalAddr().(*net.UDPAddr))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return server, client
}

// sendReliable must retransmit the same seq with RETX set after one
// timeout, and succeed once the peer finally ACKs it.
func TestSendReliableRetransmitsWithRetxOnTimeout(t *testing.T) {
	server, client := udpPair(t)
	defer server.Close()
	defer client.Close()

	a := &Agent{streamID: 1, log: zap.NewNop().Sugar(), nextSeq: 1}

	result := make(chan bool, 1)
	go func() {
		result <- a.sendReliable(client, ml.MsgProgress, nil)
	}()

	buf := make([]byte, 4096)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	first, _, err := ml.Parse(buf[:n])
	if err != nil {
		t.Fatalf("parse first: %v", err)
	}
	if first.HasFlag(ml.FlagRetx) {
		t.Errorf("first attempt should not carry RETX")
	}
	// drop this one: don't reply, forcing the agent to time out and retry.

	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n2, peer2, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	second, _, err := ml.Parse(buf[:n2])
	if err != nil {
		t.Fatalf("parse second: %v", err)
	}
	if !second.HasFlag(ml.FlagRetx) {
		t.Errorf("retry should carry RETX")
	}
	if second.Seq != first.Seq {
		t.Errorf("retry seq = %d, want unchanged seq %d", second.Seq, first.Seq)
	}

	ack := ml.Build(ml.MsgAck, ml.FlagAckOnly, 1, second.Seq, 1, nil)
	if _, err := server.WriteToUDP(ack, peer2); err != nil {
		t.Fatalf("write ack: %v", err)
	}

	select {
	case ok := <-result:
		if !ok {
			t.Errorf("sendReliable returned false, want true")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("sendReliable did not return in time")
	}
}

// readyPhase must retransmit READY with the same seq and RETX set after
// timing out waiting for a reply, per spec.md §8 scenario 2.
func TestReadyPhaseRetransmitsWithRetxOnTimeout(t *testing.T) {
	server, client := udpPair(t)
	defer server.Close()
	defer client.Close()

	a := &Agent{streamID: 1, log: zap.NewNop().Sugar(), nextSeq: 1}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	type readyResult struct {
		hdr ml.Header
		ok  bool
	}
	result := make(chan readyResult, 1)
	go func() {
		hdr, _, ok := a.readyPhase(ctx, client)
		result <- readyResult{hdr, ok}
	}()

	buf := make([]byte, 4096)
	server.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	first, _, err := ml.Parse(buf[:n])
	if err != nil {
		t.Fatalf("parse first: %v", err)
	}
	if first.MsgType != ml.MsgReady {
		t.Fatalf("first msg type = %d, want READY", first.MsgType)
	}
	if first.HasFlag(ml.FlagRetx) {
		t.Errorf("first attempt should not carry RETX")
	}
	// drop this one: don't reply, forcing the agent to time out and retry.

	server.SetReadDeadline(time.Now().Add(3 * time.Second))
	n2, peer2, err := server.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	second, _, err := ml.Parse(buf[:n2])
	if err != nil {
		t.Fatalf("parse second: %v", err)
	}
	if !second.HasFlag(ml.FlagRetx) {
		t.Errorf("retry should carry RETX")
	}
	if second.Seq != first.Seq {
		t.Errorf("retry seq = %d, want unchanged seq %d", second.Seq, first.Seq)
	}

	reply := ml.Build(ml.MsgNoMission, ml.FlagNeedsAck, 1, second.Seq, 1, nil)
	if _, err := server.WriteToUDP(reply, peer2); err != nil {
		t.Fatalf("write reply: %v", err)
	}

	select {
	case r := <-result:
		if !r.ok {
			t.Fatalf("readyPhase returned ok=false, want true")
		}
		if r.hdr.MsgType != ml.MsgNoMission {
			t.Errorf("readyPhase returned msg type %d, want NOMISSION", r.hdr.MsgType)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("readyPhase did not return in time")
	}
}

// runProgressLoop must exit as soon as the rover is within the mission
// radius, even if progress_pct hasn't reached 100.
func TestRunProgressLoopExitsOnRadius(t *testing.T) {
	server, client := udpPair(t)
	defer server.Close()
	defer client.Close()

	rover := roverstate.New(1, roverstate.Vec3{X: 10, Y: 10}, 1, 0.5)
	a := &Agent{streamID: 1, rover: rover, log: zap.NewNop().Sugar(), nextSeq: 1}

	go func() {
		buf := make([]byte, 4096)
		for {
			server.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, peer, err := server.ReadFromUDP(buf)
			if err != nil {
				return
			}
			hdr, _, err := ml.Parse(buf[:n])
			if err != nil {
				continue
			}
			ack := ml.Build(ml.MsgAck, ml.FlagAckOnly, 1, hdr.Seq, 1, nil)
			server.WriteToUDP(ack, peer)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	desc := mission.Descriptor{MissionID: mission.Survey, TaskNumber: 1, X: 10, Y: 10, Radius: 2, Duration: 60}
	ok := a.runProgressLoop(ctx, client, desc)
	if !ok {
		t.Fatalf("expected runProgressLoop to report completion (already within radius)")
	}
}

package tsserver

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/PedroArgainha/rovermesh/internal/fleet"
	"github.com/PedroArgainha/rovermesh/internal/obs"
	"github.com/PedroArgainha/rovermesh/internal/ts"
)

func TestHelloThenInfoUpdatesRoverMirror(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve tcp port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	table := fleet.NewTable()
	srv := New(addr, table, zap.NewNop().Sugar(), obs.NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := ts.Encode(ts.FrameHello, ts.FrameInput{RoverID: 4}, 1)
	if _, err := conn.Write(hello); err != nil {
		t.Fatalf("write hello: %v", err)
	}

	info := ts.Encode(ts.FrameInfo, ts.FrameInput{
		RoverID: 4, Battery: 77, PosX: 12, PosY: 34, PosZ: 0,
		State: 2, ProcUse: 5, Storage: 6, Velocity: 1.5, Heading: 90,
		Sensors: 7, Progress: 42, DestX: 50, DestY: 50, DestZ: 0,
	}, 2)
	if _, err := conn.Write(info); err != nil {
		t.Fatalf("write info: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rover, ok := table.Get(4); ok {
			snap := rover.Snapshot()
			if snap.BatteryPct == 77 && snap.ProgressPct == 42 {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("rover mirror was never updated from the INFO frame")
}

func TestMalformedFrameDropsConnection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve tcp port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	table := fleet.NewTable()
	srv := New(addr, table, zap.NewNop().Sugar(), obs.NewMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.ListenAndServe(ctx)
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	garbage := make([]byte, ts.HeaderSize)
	garbage[11] = 9 // legal INFO payload_len, but the checksum field stays 0
	conn.Write(garbage)
	conn.Write(make([]byte, 9))

	conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	buf := make([]byte, 16)
	if _, err := conn.Read(buf); err == nil {
		t.Fatalf("expected connection to be closed after a checksum failure")
	}
}

package ml

import "testing"

func TestBuildParseRoundTrip(t *testing.T) {
	mission := EncodeMissionPayload(MissionPayload{
		MissionID: 4, TaskNumber: 1001, X: 10.5, Y: -3.25, Radius: 2, Duration: 60,
	})

	testCases := []struct {
		name     string
		msgType  uint8
		flags    uint8
		seq, ack uint32
		streamID uint16
		payload  []byte
	}{
		{"ready", MsgReady, FlagNeedsAck, 1, 0, 7, nil},
		{"mission", MsgMission, FlagNeedsAck, 1, 1, 7, mission},
		{"ack only", MsgAck, FlagAckOnly, 2, 1, 7, nil},
		{"retx flag combo", MsgReady, FlagNeedsAck | FlagRetx, 1, 0, 7, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			wire := Build(tc.msgType, tc.flags, tc.seq, tc.ack, tc.streamID, tc.payload)

			h, payload, err := Parse(wire)
			if err != nil {
				t.Fatalf("Parse returned error: %v", err)
			}
			if h.Version != Version {
				t.Errorf("Version = %d, want %d", h.Version, Version)
			}
			if h.MsgType != tc.msgType {
				t.Errorf("MsgType = %d, want %d", h.MsgType, tc.msgType)
			}
			if h.Flags != tc.flags {
				t.Errorf("Flags = %#x, want %#x", h.Flags, tc.flags)
			}
			if h.Seq != tc.seq || h.Ack != tc.ack {
				t.Errorf("Seq/Ack = %d/%d, want %d/%d", h.Seq, h.Ack, tc.seq, tc.ack)
			}
			if h.StreamID != tc.streamID {
				t.Errorf("StreamID = %d, want %d", h.StreamID, tc.streamID)
			}
			if len(payload) != len(tc.payload) {
				t.Errorf("payload length = %d, want %d", len(payload), len(tc.payload))
			}
		})
	}
}

func TestFlagCombination(t *testing.T) {
	h := Header{Flags: FlagNeedsAck | FlagRetx}
	if !h.HasFlag(FlagNeedsAck) || !h.HasFlag(FlagRetx) {
		t.Errorf("expected both flags set in %#x", h.Flags)
	}
	if h.HasFlag(FlagAckOnly) {
		t.Errorf("did not expect ACK_ONLY in %#x", h.Flags)
	}
}

func TestMissionPayloadRoundTrip(t *testing.T) {
	p := MissionPayload{MissionID: 2, TaskNumber: 65500, X: 1.5, Y: 2.5, Radius: 0, Duration: 120}
	encoded := EncodeMissionPayload(p)
	if len(encoded) != 19 {
		t.Fatalf("encoded MISSION payload length = %d, want 19", len(encoded))
	}

	decoded, err := DecodeMissionPayload(encoded)
	if err != nil {
		t.Fatalf("DecodeMissionPayload returned error: %v", err)
	}
	if decoded != p {
		t.Errorf("DecodeMissionPayload = %+v, want %+v", decoded, p)
	}
}

func TestProgressPayloadRoundTrip(t *testing.T) {
	p := ProgressPayload{MissionID: 3, Status: 1, Percent: 57, Battery: 42, X: 10, Y: 20}
	encoded := EncodeProgressPayload(p)
	if len(encoded) != 12 {
		t.Fatalf("encoded PROGRESS payload length = %d, want 12", len(encoded))
	}
	decoded, err := DecodeProgressPayload(encoded)
	if err != nil {
		t.Fatalf("DecodeProgressPayload returned error: %v", err)
	}
	if decoded != p {
		t.Errorf("DecodeProgressPayload = %+v, want %+v", decoded, p)
	}
}

func TestDonePayloadRoundTrip(t *testing.T) {
	p := DonePayload{MissionID: 5, ResultCode: 0}
	encoded := EncodeDonePayload(p)
	decoded, err := DecodeDonePayload(encoded)
	if err != nil {
		t.Fatalf("DecodeDonePayload returned error: %v", err)
	}
	if decoded != p {
		t.Errorf("DecodeDonePayload = %+v, want %+v", decoded, p)
	}
}

func TestParseTooShort(t *testing.T) {
	_, _, err := Parse(make([]byte, HeaderSize-1))
	if err != ErrTooShort {
		t.Errorf("expected ErrTooShort, got %v", err)
	}
}

func TestParsePayloadLengthMismatch(t *testing.T) {
	wire := Build(MsgDone, 0, 1, 0, 1, EncodeDonePayload(DonePayload{MissionID: 1}))
	_, _, err := Parse(wire[:len(wire)-1])
	if err != ErrPayloadLengthMismatch {
		t.Errorf("expected ErrPayloadLengthMismatch, got %v", err)
	}
}

func TestParseChecksumMismatch(t *testing.T) {
	wire := Build(MsgDone, 0, 1, 0, 1, EncodeDonePayload(DonePayload{MissionID: 1, ResultCode: 0}))
	wire[len(wire)-1] ^= 0xFF
	_, _, err := Parse(wire)
	if err != ErrChecksumMismatch {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
}

package ts

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name      string
		frameType uint8
		in        FrameInput
		freq      uint8
	}{
		{
			name:      "info frame",
			frameType: FrameInfo,
			in: FrameInput{
				RoverID: 1, Battery: 87.5, PosX: 10, PosY: 20, PosZ: 0,
				State: 2, ProcUse: 3, Storage: 4, Velocity: 1.5, Heading: 90,
				Sensors: 5, Progress: 42, DestX: 11, DestY: 21, DestZ: 0,
			},
			freq: 1,
		},
		{
			name:      "hello frame has no payload",
			frameType: FrameHello,
			in:        FrameInput{RoverID: 2, Battery: 100},
			freq:      0,
		},
		{
			name:      "saturating cast clamps above 255",
			frameType: FrameInfo,
			in:        FrameInput{RoverID: 3, Battery: 999, PosX: -10, Velocity: 400},
			freq:      1,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded := Encode(tc.frameType, tc.in, tc.freq)
			if len(encoded) < HeaderSize {
				t.Fatalf("encoded frame shorter than header: %d bytes", len(encoded))
			}

			header := encoded[:HeaderSize]
			payload := encoded[HeaderSize:]

			frame, err := Decode(header, payload)
			if err != nil {
				t.Fatalf("Decode returned error: %v", err)
			}

			if frame.Header.Type != tc.frameType {
				t.Errorf("Type = %d, want %d", frame.Header.Type, tc.frameType)
			}
			if frame.Header.RoverID != tc.in.RoverID {
				t.Errorf("RoverID = %d, want %d", frame.Header.RoverID, tc.in.RoverID)
			}
			if frame.Header.Battery != saturate(tc.in.Battery) || frame.Header.PosX != saturate(tc.in.PosX) {
				t.Errorf("Battery/PosX = %d/%d, want %d/%d", frame.Header.Battery, frame.Header.PosX, saturate(tc.in.Battery), saturate(tc.in.PosX))
			}
			if tc.frameType == FrameInfo && frame.Payload == nil {
				t.Fatalf("expected INFO payload, got nil")
			}
			if tc.frameType != FrameInfo && frame.Payload != nil {
				t.Errorf("expected no payload for frame type %d, got %+v", tc.frameType, frame.Payload)
			}
		})
	}
}

func TestSaturate(t *testing.T) {
	cases := []struct {
		in   float64
		want uint8
	}{
		{-5, 0},
		{0, 0},
		{254.9, 254},
		{255, 255},
		{1000, 255},
	}
	for _, c := range cases {
		if got := saturate(c.in); got != c.want {
			t.Errorf("saturate(%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestDecodeInvalidLength(t *testing.T) {
	in := FrameInput{RoverID: 1, Battery: 50}
	encoded := Encode(FrameInfo, in, 1)
	header := encoded[:HeaderSize]
	payload := encoded[HeaderSize:]

	_, err := Decode(header, payload[:len(payload)-1])
	if err != ErrInvalidLength {
		t.Errorf("expected ErrInvalidLength, got %v", err)
	}
}

func TestDecodeChecksumMismatch(t *testing.T) {
	in := FrameInput{RoverID: 1, Battery: 50, Velocity: 2}
	encoded := Encode(FrameInfo, in, 1)
	header := encoded[:HeaderSize]
	payload := make([]byte, len(encoded)-HeaderSize)
	copy(payload, encoded[HeaderSize:])
	payload[0] ^= 0xFF

	_, err := Decode(header, payload)
	if err != ErrChecksumMismatch {
		t.Errorf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestDecodeHeaderLengthRejected(t *testing.T) {
	_, err := Decode(make([]byte, HeaderSize-1), nil)
	if err != ErrInvalidLength {
		t.Errorf("expected ErrInvalidLength for short header, got %v", err)
	}
}

package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncode_Deterministic(t *testing.T) {
	f := Frame{Type: FrameCommand, Data: []byte{0x10, 0x20}}

	a, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	b, err := Encode(f)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("Encode() not deterministic: %x != %x", a, b)
	}

	got, err := Decode(a)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Type != FrameCommand || !bytes.Equal(got.Data, f.Data) {
		t.Errorf("Decode() = %+v, want %+v", got, f)
	}
}

func TestEncode_Errors(t *testing.T) {
	if _, err := Encode(Frame{}); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Encode(no type) error = %v, want ErrMalformedFrame", err)
	}
	if _, err := Command(nil); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Command(nil) error = %v, want ErrMalformedFrame", err)
	}
	if _, err := Decode([]byte{0xff, 0x00}); !errors.Is(err, ErrMalformedFrame) {
		t.Errorf("Decode(garbage) error = %v, want ErrMalformedFrame", err)
	}
}

func TestOwnerFrames(t *testing.T) {
	data, err := UserConnected(42)
	if err != nil {
		t.Fatalf("UserConnected() error = %v", err)
	}
	f, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if f.Type != FrameUserConnected || f.User != 42 {
		t.Errorf("frame = %+v, want user-connected for 42", f)
	}

	data, err = UserDisconnected()
	if err != nil {
		t.Fatalf("UserDisconnected() error = %v", err)
	}
	if f, _ := Decode(data); f.Type != FrameUserDisconnected {
		t.Errorf("frame type = %q, want %q", f.Type, FrameUserDisconnected)
	}
}

func TestChunkFirmware(t *testing.T) {
	image := bytes.Repeat([]byte{0xAB}, 10)

	tests := []struct {
		name      string
		size      int
		wantCount int
		wantLast  int
	}{
		{"exact multiple", 5, 2, 5},
		{"remainder", 4, 3, 2},
		{"single chunk", 64, 1, 10},
		{"one byte chunks", 1, 10, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := ChunkFirmware(7, image, tt.size)
			if err != nil {
				t.Fatalf("ChunkFirmware() error = %v", err)
			}
			if len(frames) != tt.wantCount {
				t.Fatalf("len(frames) = %d, want %d", len(frames), tt.wantCount)
			}

			var rebuilt []byte
			for i, data := range frames {
				f, err := Decode(data)
				if err != nil {
					t.Fatalf("Decode(chunk %d) error = %v", i, err)
				}
				if f.Type != FrameFirmwareChunk || f.Version != 7 || f.Seq != i+1 || f.Total != tt.wantCount {
					t.Errorf("chunk %d = {%s v%d %d/%d}", i, f.Type, f.Version, f.Seq, f.Total)
				}
				if i == len(frames)-1 && len(f.Data) != tt.wantLast {
					t.Errorf("last chunk size = %d, want %d", len(f.Data), tt.wantLast)
				}
				rebuilt = append(rebuilt, f.Data...)
			}
			if !bytes.Equal(rebuilt, image) {
				t.Error("reassembled image differs from input")
			}
		})
	}
}

func TestChunkFirmware_Errors(t *testing.T) {
	if _, err := ChunkFirmware(1, []byte{1}, 0); !errors.Is(err, ErrInvalidChunkSize) {
		t.Errorf("ChunkFirmware(size 0) error = %v, want ErrInvalidChunkSize", err)
	}
	if _, err := ChunkFirmware(1, nil, 16); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("ChunkFirmware(empty) error = %v, want ErrEmptyImage", err)
	}
}

package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Outbound frame types.
const (
	FrameUserConnected    = "user-connected"
	FrameUserDisconnected = "user-disconnected"
	FrameFirmwareChunk    = "firmware-chunk"
	FrameCommand          = "command"
)

// Frame is the binary envelope sent to devices.
type Frame struct {
	Type    string `cbor:"type"`
	Version int    `cbor:"version,omitempty"`
	User    int64  `cbor:"user,omitempty"`
	Data    []byte `cbor:"data,omitempty"`
	Seq     int    `cbor:"seq,omitempty"`
	Total   int    `cbor:"total,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

// Encode marshals f for the wire.
func Encode(f Frame) ([]byte, error) {
	if f.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	data, err := encMode.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", f.Type, err)
	}
	return data, nil
}

// Decode parses a binary frame. Devices never send these; it exists for
// tooling and tests.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := decMode.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return f, nil
}

// UserConnected tells a device that user now controls it.
func UserConnected(user int64) ([]byte, error) {
	return Encode(Frame{Type: FrameUserConnected, User: user})
}

// UserDisconnected tells a device it has no online user.
func UserDisconnected() ([]byte, error) {
	return Encode(Frame{Type: FrameUserDisconnected})
}

// Command wraps an opaque command buffer produced by the browser.
func Command(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrMalformedFrame)
	}
	return Encode(Frame{Type: FrameCommand, Data: payload})
}

// ChunkFirmware splits image into firmware-chunk frames of at most size
// bytes of image data each. Seq is 1-based.
func ChunkFirmware(version int, image []byte, size int) ([][]byte, error) {
	if size <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if len(image) == 0 {
		return nil, ErrEmptyImage
	}

	total := (len(image) + size - 1) / size
	frames := make([][]byte, 0, total)
	for i := range total {
		end := min((i+1)*size, len(image))
		frame, err := Encode(Frame{
			Type:    FrameFirmwareChunk,
			Version: version,
			Data:    image[i*size : end],
			Seq:     i + 1,
			Total:   total,
		})
		if err != nil {
			return nil, fmt.Errorf("chunk %d/%d: %w", i+1, total, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

package firmware

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstd.Encoder and zstd.Decoder are safe for concurrent EncodeAll and
// DecodeAll calls, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error

	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
	)
	if err != nil {
		panic("firmware: zstd encoder initialization failed: " + err.Error())
	}

	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("firmware: zstd decoder initialization failed: " + err.Error())
	}
}

func compressImage(image []byte) []byte {
	return zstdEncoder.EncodeAll(image, nil)
}

func decompressImage(compressed []byte, size int) ([]byte, error) {
	image, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(image) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(image), size)
	}
	return image, nil
}

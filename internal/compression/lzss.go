// Package compression implements the backward LZSS scheme applied to the
// .code section of an ExeFS. The compressed stream is walked from its end
// toward a stop index derived from the footer; the output image is built
// from its end as well. All cursor arithmetic is explicit and checked, so
// adversarial footers fail with a format error instead of reading out of
// bounds.
package compression

import (
	"encoding/binary"
	"fmt"

	"github.com/deploymenttheory/go-ncch/internal/types"
)

const footerSize = 8

// DecompressedSize returns the original byte size encoded in the trailing
// length field: the last 4 bytes hold the size delta over the compressed
// length.
func DecompressedSize(compressed []byte) (int, error) {
	if len(compressed) < footerSize {
		return 0, fmt.Errorf("%w: compressed stream too short: %d bytes", types.ErrInvalidFormat, len(compressed))
	}
	delta := binary.LittleEndian.Uint32(compressed[len(compressed)-4:])
	return int(delta) + len(compressed), nil
}

// Decompress reverses the backward LZSS compression and returns the
// original bytes. The input buffer is never modified; output is a distinct
// allocation zero-filled to the decoded size with the input copied into its
// head, matching the format's overlapped in-place layout.
func Decompress(compressed []byte) ([]byte, error) {
	size := len(compressed)
	decompressedSize, err := DecompressedSize(compressed)
	if err != nil {
		return nil, err
	}

	// Footer: low 24 bits give the stop index delta, high 8 bits the
	// initial read cursor delta, both measured back from the stream end.
	footer := binary.LittleEndian.Uint32(compressed[size-footerSize : size-4])
	index := size - int(footer>>24&0xFF)
	stopIndex := size - int(footer&0xFFFFFF)
	if index < 0 || stopIndex < 0 || stopIndex > index || index > size {
		return nil, fmt.Errorf("%w: compression footer out of range", types.ErrInvalidFormat)
	}

	decompressed := make([]byte, decompressedSize)
	copy(decompressed, compressed)

	out := decompressedSize
	for index > stopIndex {
		index--
		control := compressed[index]

		for i := 0; i < 8; i++ {
			if index <= stopIndex || index <= 0 || out <= 0 {
				break
			}

			if control&0x80 != 0 {
				if index < 2 {
					return nil, fmt.Errorf("%w: back-reference truncates compressed stream", types.ErrInvalidFormat)
				}
				index -= 2

				segment := int(compressed[index]) | int(compressed[index+1])<<8
				segmentSize := (segment>>12)&0xF + 3
				segmentOffset := segment&0xFFF + 2

				if out < segmentSize {
					return nil, fmt.Errorf("%w: back-reference underflows output", types.ErrInvalidFormat)
				}

				for j := 0; j < segmentSize; j++ {
					if out+segmentOffset >= decompressedSize {
						return nil, fmt.Errorf("%w: back-reference reads past output", types.ErrInvalidFormat)
					}
					data := decompressed[out+segmentOffset]
					out--
					decompressed[out] = data
				}
			} else {
				if out < 1 {
					return nil, fmt.Errorf("%w: literal underflows output", types.ErrInvalidFormat)
				}
				out--
				index--
				decompressed[out] = compressed[index]
			}
			control <<= 1
		}
	}

	return decompressed, nil
}

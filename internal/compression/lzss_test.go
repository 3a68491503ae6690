package compression

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ncch/internal/types"
)

// compress is a greedy reference encoder for the backward LZSS scheme. It
// encodes the whole input as one compressed region (stop index zero) and
// appends the 8-byte footer. The input must compress to at most its own
// size, since the trailing length field is an unsigned delta.
func compress(t *testing.T, data []byte) []byte {
	t.Helper()

	// Symbols in decoder read order: control byte first, then its up-to-8
	// symbols, back-reference pairs high byte first. Reversing at the end
	// yields ascending file order.
	var rev []byte
	out := len(data)
	for out > 0 {
		controlPos := len(rev)
		rev = append(rev, 0)
		var control byte
		for bit := 0; bit < 8 && out > 0; bit++ {
			length, dist := findMatch(data, out)
			if length >= 3 {
				control |= 0x80 >> bit
				pair := uint16(length-3)<<12 | uint16(dist-3)
				rev = append(rev, byte(pair>>8), byte(pair))
				out -= length
			} else {
				rev = append(rev, data[out-1])
				out--
			}
		}
		rev[controlPos] = control
	}

	stream := make([]byte, len(rev))
	for i, b := range rev {
		stream[len(rev)-1-i] = b
	}

	total := len(stream) + footerSize
	require.LessOrEqual(t, total, len(data), "reference encoder needs compressible input")

	compressed := make([]byte, total)
	copy(compressed, stream)
	binary.LittleEndian.PutUint32(compressed[total-footerSize:], uint32(total)&0xFFFFFF|uint32(footerSize)<<24)
	binary.LittleEndian.PutUint32(compressed[total-4:], uint32(len(data)-total))
	return compressed
}

// findMatch returns the longest back-reference usable at the given output
// cursor. Writing position t copies from t+dist, so a candidate needs
// data[t] == data[t+dist] across its length and every source inside the
// already-decoded tail.
func findMatch(data []byte, out int) (length, dist int) {
	maxDist := len(data) - out
	if maxDist > 0xFFF+3 {
		maxDist = 0xFFF + 3
	}
	for d := 3; d <= maxDist; d++ {
		l := 0
		for l < 18 && l < out && data[out-1-l] == data[out-1-l+d] {
			l++
		}
		if l > length {
			length, dist = l, d
		}
	}
	if length < 3 {
		return 0, 0
	}
	return length, dist
}

func repeatPattern(pattern []byte, size int) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = pattern[i%len(pattern)]
	}
	return data
}

func TestDecompressRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "all zero", data: make([]byte, 0x400)},
		{name: "short cycle", data: repeatPattern([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 0x200)},
		{name: "long cycle", data: repeatPattern([]byte("movs r0, #0; bx lr; "), 0x1000)},
		{name: "odd size", data: repeatPattern([]byte{1, 2, 3, 4, 5, 6, 7}, 0x3F5)},
		{name: "literal head", data: append([]byte{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}, make([]byte, 0x100)...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed := compress(t, tt.data)

			size, err := DecompressedSize(compressed)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), size)

			original := append([]byte(nil), compressed...)
			decompressed, err := Decompress(compressed)
			require.NoError(t, err)
			assert.Equal(t, tt.data, decompressed)
			assert.Equal(t, original, compressed, "input buffer must not be modified")
		})
	}
}

func TestDecompressEmptyWalk(t *testing.T) {
	// Stop index equal to the start index means nothing to decode: the
	// output is the input padded with zeros to the decoded size.
	compressed := make([]byte, footerSize)
	binary.LittleEndian.PutUint32(compressed[0:], uint32(footerSize)&0xFFFFFF|uint32(footerSize)<<24)
	binary.LittleEndian.PutUint32(compressed[4:], 4)

	decompressed, err := Decompress(compressed)
	require.NoError(t, err)
	assert.Equal(t, append(append([]byte(nil), compressed...), 0, 0, 0, 0), decompressed)
}

func TestDecompressedSizeTooShort(t *testing.T) {
	_, err := DecompressedSize([]byte{1, 2, 3})
	assert.ErrorIs(t, err, types.ErrInvalidFormat)
}

// buildStream assembles a payload plus footer with explicit cursor deltas,
// for exercising the decoder's bounds checks with hostile inputs.
func buildStream(payload []byte, stopDelta, readDelta uint32, sizeDelta uint32) []byte {
	stream := make([]byte, len(payload)+footerSize)
	copy(stream, payload)
	binary.LittleEndian.PutUint32(stream[len(payload):], stopDelta&0xFFFFFF|readDelta<<24)
	binary.LittleEndian.PutUint32(stream[len(payload)+4:], sizeDelta)
	return stream
}

func TestDecompressHostileInputs(t *testing.T) {
	tests := []struct {
		name   string
		stream []byte
	}{
		{
			name:   "read cursor before stream start",
			stream: buildStream(make([]byte, 8), 16, 0xFF, 0x100),
		},
		{
			name:   "stop index after read cursor",
			stream: buildStream(make([]byte, 8), 4, 16, 0x100),
		},
		{
			// Back-reference pair would need bytes below index 0.
			name:   "truncated back-reference",
			stream: buildStream([]byte{0xAA, 0x80}, 10, 8, 0x100),
		},
		{
			// 18-byte copy into an 11-byte output.
			name:   "back-reference underflows output",
			stream: buildStream([]byte{0x00, 0xF0, 0x80}, 11, 8, 0),
		},
		{
			// First source byte sits past the end of the output.
			name:   "back-reference reads past output",
			stream: buildStream([]byte{0x00, 0x00, 0x80}, 11, 8, 10),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decompressed, err := Decompress(tt.stream)
			require.ErrorIs(t, err, types.ErrInvalidFormat)
			assert.Nil(t, decompressed)
		})
	}
}

func TestDecompressCorruptedFooterNeverPanics(t *testing.T) {
	data := repeatPattern([]byte{0x11, 0x22, 0x33}, 0x120)
	good := compress(t, data)

	// Flip every byte of the cursor word through all values; every outcome
	// must be a clean success or a format error. The size field is left
	// alone so the output allocation stays small.
	for pos := len(good) - footerSize; pos < len(good)-4; pos++ {
		stream := append([]byte(nil), good...)
		for v := 0; v < 256; v++ {
			stream[pos] = byte(v)
			if _, err := Decompress(stream); err != nil {
				assert.ErrorIs(t, err, types.ErrInvalidFormat)
			}
		}
	}
}

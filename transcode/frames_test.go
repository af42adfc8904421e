package transcode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func grayDescriptor(rows, cols, frames, bits int) Descriptor {
	return Descriptor{
		Rows:                      rows,
		Columns:                   cols,
		BitsAllocated:             bits,
		BitsStored:                bits,
		HighBit:                   bits - 1,
		SamplesPerPixel:           1,
		PhotometricInterpretation: "MONOCHROME2",
		Frames:                    frames,
		RescaleSlope:              1,
	}
}

func TestNativeFrameRoundTrip(t *testing.T) {
	d := grayDescriptor(4, 4, 3, 8)
	bulk := make([]byte, d.FrameLength()*3)
	for i := range bulk {
		bulk[i] = byte(i)
	}
	frames, err := ExtractFrames(PixelSource{Bulk: bulk}, d, transfersyntax.ExplicitVRLittleEndian)
	require.NoError(t, err)
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Len(t, f, d.FrameLength(), "frame %d", i)
	}
	// extract-frame then pack-frames returns the original bulk bytes.
	assert.Equal(t, bulk, PackFrames(frames))
}

func TestNativeFrameShortBuffer(t *testing.T) {
	d := grayDescriptor(4, 4, 2, 8)
	_, err := ExtractFrames(PixelSource{Bulk: make([]byte, d.FrameLength())}, d,
		transfersyntax.ExplicitVRLittleEndian)
	require.Error(t, err)
}

func encapsulate(fragments ...[]byte) []byte {
	var buf bytes.Buffer
	item := func(element uint16, data []byte) {
		var header [8]byte
		binary.LittleEndian.PutUint16(header[0:2], 0xFFFE)
		binary.LittleEndian.PutUint16(header[2:4], element)
		binary.LittleEndian.PutUint32(header[4:8], uint32(len(data)))
		buf.Write(header[:])
		buf.Write(data)
	}
	item(0xE000, nil) // empty Basic Offset Table
	for _, f := range fragments {
		item(0xE000, f)
	}
	item(0xE0DD, nil)
	return buf.Bytes()
}

func jpegFragment(payload ...byte) []byte {
	return append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, payload...)
}

func TestParseEncapsulated(t *testing.T) {
	raw := encapsulate([]byte{1, 2}, []byte{3, 4, 5, 6})
	src, err := ParseEncapsulated(raw)
	require.NoError(t, err)
	require.Len(t, src.Fragments, 3) // BOT plus two fragments
	assert.Empty(t, src.Fragments[0])
	assert.Equal(t, []byte{1, 2}, src.Fragments[1])
}

func TestParseEncapsulatedRejectsBadItem(t *testing.T) {
	raw := encapsulate([]byte{1, 2})
	raw[2] = 0x99 // corrupt the item element
	_, err := ParseEncapsulated(raw)
	require.Error(t, err)
}

func TestSingleFrameTakesAllFragments(t *testing.T) {
	d := grayDescriptor(2, 2, 1, 8)
	src := PixelSource{Fragments: [][]byte{nil, {1, 2}, {3, 4}}}
	frames, err := ExtractFrames(src, d, transfersyntax.JPEGBaseline8Bit)
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, frames[0])
}

func TestRLEFragmentPerFrame(t *testing.T) {
	d := grayDescriptor(2, 2, 2, 8)
	src := PixelSource{Fragments: [][]byte{nil, {1}, {2}}}
	frames, err := ExtractFrames(src, d, transfersyntax.RLELossless)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	// Mismatched counts fail the mapping.
	src = PixelSource{Fragments: [][]byte{nil, {1}, {2}, {3}}}
	_, err = ExtractFrames(src, d, transfersyntax.RLELossless)
	assert.True(t, errors.Is(err, ErrFrameMappingFailed))
}

func TestJPEGFragmentDiscovery(t *testing.T) {
	d := grayDescriptor(2, 2, 2, 8)
	// Frame 0 spans two fragments; frame 1 is one fragment.
	src := PixelSource{Fragments: [][]byte{
		nil,
		jpegFragment(1),
		{0xAA, 0xBB, 0xCC, 0xDD}, // continuation, no SOI
		jpegFragment(2),
	}}
	frames, err := ExtractFrames(src, d, transfersyntax.JPEGBaseline8Bit)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, append(jpegFragment(1), 0xAA, 0xBB, 0xCC, 0xDD), frames[0])
	assert.Equal(t, jpegFragment(2), frames[1])
}

func TestJPEGFragmentDiscoveryMismatchFails(t *testing.T) {
	d := grayDescriptor(2, 2, 3, 8)
	src := PixelSource{Fragments: [][]byte{nil, jpegFragment(1), jpegFragment(2)}}
	_, err := ExtractFrames(src, d, transfersyntax.JPEGBaseline8Bit)
	assert.True(t, errors.Is(err, ErrFrameMappingFailed))
}

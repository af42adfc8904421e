package transcode

import (
	"image"
	"image/color"
	"testing"

	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdaptDowngrades16BitBaselineJPEG(t *testing.T) {
	d := grayDescriptor(8, 8, 1, 16)
	adapt := NewAdaptTransferSyntax(transfersyntax.ExplicitVRLittleEndian, transfersyntax.JPEGBaseline8Bit)
	dest := adapt.suitableFor(d)
	assert.Equal(t, transfersyntax.ExplicitVRLittleEndian, dest)
	assert.Equal(t, transfersyntax.ExplicitVRLittleEndian, adapt.Suitable)
}

func TestAdaptKeeps8BitBaselineJPEG(t *testing.T) {
	d := grayDescriptor(8, 8, 1, 8)
	adapt := NewAdaptTransferSyntax(transfersyntax.ExplicitVRLittleEndian, transfersyntax.JPEGBaseline8Bit)
	assert.Equal(t, transfersyntax.JPEGBaseline8Bit, adapt.suitableFor(d))
}

func TestTranscodePassthrough(t *testing.T) {
	d := grayDescriptor(4, 4, 2, 8)
	bulk := make([]byte, d.FrameLength()*2)
	for i := range bulk {
		bulk[i] = byte(i * 3)
	}
	adapt := NewAdaptTransferSyntax(transfersyntax.ExplicitVRLittleEndian, transfersyntax.ExplicitVRLittleEndian)
	res, err := Transcode(PixelSource{Bulk: bulk}, d, transfersyntax.ExplicitVRLittleEndian, adapt, nil)
	require.NoError(t, err)
	assert.False(t, res.Encapsulated)
	assert.Equal(t, bulk, res.PixelData)
}

func TestTranscodeNativeToJPEGBaseline(t *testing.T) {
	d := grayDescriptor(16, 16, 2, 8)
	bulk := make([]byte, d.FrameLength()*2)
	for i := range bulk {
		bulk[i] = byte(i % 251)
	}
	adapt := NewAdaptTransferSyntax(transfersyntax.ExplicitVRLittleEndian, transfersyntax.JPEGBaseline8Bit)
	adapt.JPEGQuality = 90
	res, err := Transcode(PixelSource{Bulk: bulk}, d, transfersyntax.ExplicitVRLittleEndian, adapt, nil)
	require.NoError(t, err)
	assert.True(t, res.Encapsulated)
	require.Len(t, res.Fragments, 2)
	for _, frag := range res.Fragments {
		// Each frame begins a JPEG stream.
		assert.True(t, isJPEGStart(frag))
	}
	assert.True(t, res.Lossy)
	assert.Greater(t, res.CompressionRatio, 0.0)
	assert.Equal(t, 8, res.BitsAllocated)
	assert.Equal(t, "MONOCHROME2", res.PhotometricInterpretation)
}

func TestTranscodeJPEGBaselineToNative(t *testing.T) {
	// Encode one gray frame as baseline JPEG, then decode it back through
	// the pipeline toward a native destination.
	d := grayDescriptor(8, 8, 1, 8)
	pixels := make([]byte, 64)
	for i := range pixels {
		pixels[i] = byte(i * 4)
	}
	codec := &jpegBaselineCodec{}
	frame, err := codec.Encode(&FrameBuffer{
		Rows: 8, Columns: 8, SamplesPerPixel: 1, BitsAllocated: 8, Data: pixels,
	}, d, 100)
	require.NoError(t, err)

	adapt := NewAdaptTransferSyntax(transfersyntax.JPEGBaseline8Bit, transfersyntax.ExplicitVRLittleEndian)
	res, err := Transcode(PixelSource{Fragments: [][]byte{nil, frame}}, d,
		transfersyntax.JPEGBaseline8Bit, adapt, nil)
	require.NoError(t, err)
	assert.False(t, res.Encapsulated)
	assert.Len(t, res.PixelData, 64)
	assert.False(t, res.Lossy)
}

func TestTranscodeRunsImageEditors(t *testing.T) {
	d := grayDescriptor(4, 4, 1, 8)
	bulk := make([]byte, 16)
	editor := func(img image.Image, d Descriptor) (image.Image, bool, error) {
		out := image.NewGray(img.Bounds())
		for y := 0; y < 4; y++ {
			for x := 0; x < 4; x++ {
				out.SetGray(x, y, color.Gray{Y: 0x7F})
			}
		}
		return out, true, nil
	}
	adapt := NewAdaptTransferSyntax(transfersyntax.ExplicitVRLittleEndian, transfersyntax.ExplicitVRLittleEndian)
	res, err := Transcode(PixelSource{Bulk: bulk}, d, transfersyntax.ExplicitVRLittleEndian, adapt,
		[]ImageEditor{editor})
	require.NoError(t, err)
	for _, b := range res.PixelData {
		assert.Equal(t, byte(0x7F), b)
	}
}

func TestEncapsulatedValueLayout(t *testing.T) {
	value := EncapsulatedValue([][]byte{{1, 2, 3}})
	// Empty BOT item, one padded fragment item, sequence delimiter.
	require.Len(t, value, 8+8+4+8)
	assert.Equal(t, []byte{0xFE, 0xFF, 0x00, 0xE0, 0, 0, 0, 0}, value[:8])
	assert.Equal(t, []byte{0xFE, 0xFF, 0x00, 0xE0, 4, 0, 0, 0}, value[8:16])
	assert.Equal(t, []byte{1, 2, 3, 0}, value[16:20])
	assert.Equal(t, []byte{0xFE, 0xFF, 0xDD, 0xE0, 0, 0, 0, 0}, value[20:])
}

func TestSeekableBuffer(t *testing.T) {
	b := NewSeekableBuffer()
	_, err := b.Write([]byte{1, 2, 3, 4})
	require.NoError(t, err)
	pos, err := b.Seek(1, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos)
	_, err = b.Write([]byte{9})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 9, 3, 4}, b.Bytes())
	require.NoError(t, b.Truncate(2))
	assert.Equal(t, 2, b.Len())
	// Growing seek pads with zeros.
	_, err = b.Seek(4, 0)
	require.NoError(t, err)
	_, err = b.Write([]byte{7})
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 9, 0, 0, 7}, b.Bytes())
	require.NoError(t, b.Close())
}

func TestModalityLutMemoized(t *testing.T) {
	p := LutParameters{Slope: 1, Intercept: -1024, BitsStored: 12, OutputBits: 8}
	first := GetModalityLut(p)
	second := GetModalityLut(p)
	assert.Same(t, first, second)

	other := GetModalityLut(LutParameters{Slope: 2, Intercept: 0, BitsStored: 12, OutputBits: 8})
	assert.NotSame(t, first, other)
	assert.Len(t, first.Table, 1<<12)
}

func TestModalityLutValues(t *testing.T) {
	lut := GetModalityLut(LutParameters{Slope: 1, Intercept: 0, BitsStored: 8, OutputBits: 8})
	assert.Equal(t, uint16(0), lut.Table[0])
	assert.Equal(t, uint16(255), lut.Table[255])

	inverse := GetModalityLut(LutParameters{Slope: 1, Intercept: 0, BitsStored: 8, OutputBits: 8, Inverse: true})
	assert.Equal(t, uint16(255), inverse.Table[0])
	assert.Equal(t, uint16(0), inverse.Table[255])
}

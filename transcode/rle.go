package transcode

// RLE Lossless codec. PS3.5 Annex G: each frame is a set of byte segments
// (one per sample byte plane), individually compressed with the PackBits
// scheme, preceded by a 64-byte header of segment offsets.

import (
	"encoding/binary"
	"fmt"

	"github.com/openpacs/go-dicomnet/transfersyntax"
)

type rleCodec struct{}

func (c *rleCodec) TransferSyntaxUID() string {
	return transfersyntax.RLELossless
}

func (c *rleCodec) Decode(frame []byte, d Descriptor) (*FrameBuffer, error) {
	if len(frame) < 64 {
		return nil, fmt.Errorf("RLE frame of %d bytes lacks the segment header", len(frame))
	}
	numSegments := int(binary.LittleEndian.Uint32(frame[0:4]))
	bytesPerSample := d.BitsAllocated / 8
	wantSegments := bytesPerSample * d.SamplesPerPixel
	if numSegments != wantSegments {
		return nil, fmt.Errorf("RLE frame holds %d segments, expected %d", numSegments, wantSegments)
	}
	if numSegments < 1 || numSegments > 15 {
		return nil, fmt.Errorf("invalid RLE segment count %d", numSegments)
	}
	offsets := make([]int, numSegments+1)
	for i := 0; i < numSegments; i++ {
		offsets[i] = int(binary.LittleEndian.Uint32(frame[4+i*4 : 8+i*4]))
		if offsets[i] < 64 || offsets[i] > len(frame) {
			return nil, fmt.Errorf("RLE segment %d offset %d out of range", i, offsets[i])
		}
	}
	offsets[numSegments] = len(frame)

	samples := d.Rows * d.Columns
	segments := make([][]byte, numSegments)
	for i := 0; i < numSegments; i++ {
		decoded, err := unpackBits(frame[offsets[i]:offsets[i+1]], samples)
		if err != nil {
			return nil, fmt.Errorf("RLE segment %d: %w", i, err)
		}
		segments[i] = decoded
	}

	// Re-interleave the byte planes. RLE stores the most significant byte
	// plane first; the buffer is little-endian.
	out := make([]byte, samples*d.SamplesPerPixel*bytesPerSample)
	for s := 0; s < d.SamplesPerPixel; s++ {
		for b := 0; b < bytesPerSample; b++ {
			segment := segments[s*bytesPerSample+b]
			outByte := bytesPerSample - 1 - b
			for p := 0; p < samples; p++ {
				idx := (p*d.SamplesPerPixel + s) * bytesPerSample
				out[idx+outByte] = segment[p]
			}
		}
	}
	return &FrameBuffer{
		Rows:            d.Rows,
		Columns:         d.Columns,
		SamplesPerPixel: d.SamplesPerPixel,
		BitsAllocated:   d.BitsAllocated,
		Signed:          d.Signed,
		Data:            out,
	}, nil
}

func (c *rleCodec) Encode(buf *FrameBuffer, d Descriptor, quality int) ([]byte, error) {
	bytesPerSample := buf.BitsAllocated / 8
	numSegments := bytesPerSample * buf.SamplesPerPixel
	if numSegments < 1 || numSegments > 15 {
		return nil, fmt.Errorf("cannot RLE-encode %d segments", numSegments)
	}
	samples := buf.Rows * buf.Columns
	segments := make([][]byte, 0, numSegments)
	for s := 0; s < buf.SamplesPerPixel; s++ {
		for b := 0; b < bytesPerSample; b++ {
			plane := make([]byte, samples)
			srcByte := bytesPerSample - 1 - b // MSB plane first
			for p := 0; p < samples; p++ {
				idx := (p*buf.SamplesPerPixel + s) * bytesPerSample
				plane[p] = buf.Data[idx+srcByte]
			}
			segments = append(segments, packBits(plane))
		}
	}
	header := make([]byte, 64)
	binary.LittleEndian.PutUint32(header[0:4], uint32(numSegments))
	offset := 64
	for i, seg := range segments {
		binary.LittleEndian.PutUint32(header[4+i*4:8+i*4], uint32(offset))
		offset += len(seg)
	}
	out := make([]byte, 0, offset)
	out = append(out, header...)
	for _, seg := range segments {
		out = append(out, seg...)
	}
	if len(out)%2 == 1 {
		out = append(out, 0)
	}
	return out, nil
}

// unpackBits expands one PackBits-compressed segment to exactly want bytes.
func unpackBits(data []byte, want int) ([]byte, error) {
	out := make([]byte, 0, want)
	i := 0
	for i < len(data) && len(out) < want {
		n := int8(data[i])
		i++
		switch {
		case n >= 0:
			count := int(n) + 1
			if i+count > len(data) {
				return nil, fmt.Errorf("literal run of %d bytes exceeds segment", count)
			}
			out = append(out, data[i:i+count]...)
			i += count
		case n >= -127:
			if i >= len(data) {
				return nil, fmt.Errorf("replicate run missing its byte")
			}
			count := int(-n) + 1
			for j := 0; j < count; j++ {
				out = append(out, data[i])
			}
			i++
		default:
			// -128 is a no-op.
		}
	}
	if len(out) < want {
		return nil, fmt.Errorf("segment decoded to %d bytes, expected %d", len(out), want)
	}
	return out[:want], nil
}

// packBits compresses one byte plane with the PackBits scheme.
func packBits(data []byte) []byte {
	var out []byte
	i := 0
	for i < len(data) {
		// Find a run of identical bytes.
		run := 1
		for i+run < len(data) && run < 128 && data[i+run] == data[i] {
			run++
		}
		if run >= 2 {
			out = append(out, byte(int8(-(run-1))), data[i])
			i += run
			continue
		}
		// Literal run: until the next 2-byte replicate or 128 bytes.
		start := i
		i++
		for i < len(data) && i-start < 128 {
			if i+1 < len(data) && data[i] == data[i+1] {
				break
			}
			i++
		}
		out = append(out, byte(i-start-1))
		out = append(out, data[start:i]...)
	}
	return out
}

func init() {
	RegisterCodec(&rleCodec{})
}

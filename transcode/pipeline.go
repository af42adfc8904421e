package transcode

// The per-object pipeline: extract frames, decode, apply editor-supplied
// image mutations, re-encode for the destination syntax, and report the
// dataset tag adaptations the new encoding requires.

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/sirupsen/logrus"
)

// ImageEditor mutates one decoded frame (masking, overlay burn-in). It
// returns the image to carry forward and whether anything changed.
type ImageEditor func(img image.Image, d Descriptor) (image.Image, bool, error)

// Result is the transcoded pixel data plus the attribute adaptations that
// must be applied to the outgoing dataset.
type Result struct {
	// TransferSyntaxUID is the destination actually produced; equal to the
	// adaptation's Suitable field after any downgrade.
	TransferSyntaxUID string

	// Encapsulated selects between the two output forms.
	Encapsulated bool
	// PixelData is the contiguous native value. Set iff !Encapsulated.
	PixelData []byte
	// Fragments holds one compressed frame per element. Set iff
	// Encapsulated.
	Fragments [][]byte

	// Adapted attribute values for the outgoing dataset.
	PhotometricInterpretation string
	PlanarConfiguration       int
	BitsAllocated             int
	BitsStored                int
	HighBit                   int
	SamplesPerPixel           int

	// Lossy is true when the destination encoding discarded information;
	// CompressionRatio is the estimate to record alongside.
	Lossy            bool
	CompressionRatio float64
}

// Transcode converts the pixel data of one object from sourceTS to the
// adaptation's requested syntax, downgrading adapt.Suitable when the
// request is unachievable. Editors run on every frame between decode and
// re-encode.
func Transcode(src PixelSource, d Descriptor, sourceTS string,
	adapt *AdaptTransferSyntax, editors []ImageEditor) (*Result, error) {
	destTS := adapt.suitableFor(d)

	frames, err := ExtractFrames(src, d, sourceTS)
	if err != nil {
		return nil, err
	}

	if destTS == sourceTS && len(editors) == 0 {
		// Nothing to re-encode; hand the frames back unchanged.
		return passthrough(frames, d, sourceTS)
	}

	decoder, err := CodecFor(sourceTS)
	if err != nil {
		return nil, err
	}
	encoder, err := CodecFor(destTS)
	if err != nil {
		// The destination has no encoder; fall back to native.
		adapt.downgrade(transfersyntax.ExplicitVRLittleEndian, err.Error())
		destTS = adapt.Suitable
		if encoder, err = CodecFor(destTS); err != nil {
			return nil, err
		}
	}

	destInfo, _ := transfersyntax.Lookup(destTS)
	res := &Result{
		TransferSyntaxUID: destTS,
		Encapsulated:      destInfo.Encoding != transfersyntax.PixelNative,
		Lossy:             destInfo.Lossy,
	}
	var srcBytes, dstBytes int
	for n, frameBytes := range frames {
		buf, err := decoder.Decode(frameBytes, d)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", n, err)
		}
		if buf, err = runEditors(buf, d, editors); err != nil {
			return nil, fmt.Errorf("frame %d: %w", n, err)
		}
		encoded, err := encoder.Encode(buf, d, adapt.JPEGQuality)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", n, err)
		}
		srcBytes += len(frameBytes)
		dstBytes += len(encoded)
		if res.Encapsulated {
			res.Fragments = append(res.Fragments, encoded)
		} else {
			res.PixelData = append(res.PixelData, encoded...)
		}
		if n == 0 {
			res.fillAdaptedAttributes(buf, d, destInfo)
		}
	}
	if !res.Encapsulated && len(res.PixelData)%2 == 1 {
		res.PixelData = append(res.PixelData, 0)
	}
	if res.Lossy && dstBytes > 0 {
		res.CompressionRatio = float64(srcBytes) / float64(dstBytes)
		if adapt.CompressionRatio > 0 {
			res.CompressionRatio = adapt.CompressionRatio
		}
	}
	logrus.WithFields(logrus.Fields{
		"component": "transcode",
		"frames":    len(frames),
		"from":      sourceTS,
		"to":        destTS,
	}).Debug("Transcoded pixel data")
	return res, nil
}

func passthrough(frames [][]byte, d Descriptor, ts string) (*Result, error) {
	info, _ := transfersyntax.Lookup(ts)
	res := &Result{
		TransferSyntaxUID:         ts,
		Encapsulated:              info.Encoding != transfersyntax.PixelNative,
		PhotometricInterpretation: d.PhotometricInterpretation,
		PlanarConfiguration:       d.PlanarConfiguration,
		BitsAllocated:             d.BitsAllocated,
		BitsStored:                d.BitsStored,
		HighBit:                   d.HighBit,
		SamplesPerPixel:           d.SamplesPerPixel,
		Lossy:                     info.Lossy,
	}
	if res.Encapsulated {
		res.Fragments = frames
	} else {
		res.PixelData = PackFrames(frames)
	}
	return res, nil
}

func runEditors(buf *FrameBuffer, d Descriptor, editors []ImageEditor) (*FrameBuffer, error) {
	if len(editors) == 0 {
		return buf, nil
	}
	img, err := BufferImage(buf)
	if err != nil {
		return nil, err
	}
	changed := false
	for _, edit := range editors {
		edited, didChange, err := edit(img, d)
		if err != nil {
			return nil, err
		}
		if didChange {
			img = edited
			changed = true
		}
	}
	if !changed {
		return buf, nil
	}
	return ImageBuffer(img, buf)
}

// fillAdaptedAttributes derives the outgoing image attributes from the
// first encoded frame.
func (res *Result) fillAdaptedAttributes(buf *FrameBuffer, d Descriptor, destInfo transfersyntax.Info) {
	res.SamplesPerPixel = buf.SamplesPerPixel
	res.BitsAllocated = buf.BitsAllocated
	res.BitsStored = buf.BitsAllocated
	if d.BitsStored <= buf.BitsAllocated {
		res.BitsStored = d.BitsStored
	}
	res.HighBit = res.BitsStored - 1
	res.PlanarConfiguration = 0
	switch {
	case buf.SamplesPerPixel == 1:
		res.PhotometricInterpretation = d.PhotometricInterpretation
		if !d.IsMonochrome() {
			res.PhotometricInterpretation = "MONOCHROME2"
		}
	case destInfo.Encoding == transfersyntax.PixelJPEG && destInfo.Lossy:
		// Baseline JPEG stores color subsampled YBR.
		res.PhotometricInterpretation = "YBR_FULL_422"
	default:
		res.PhotometricInterpretation = "RGB"
	}
}

// EncapsulatedValue assembles the raw element value of an encapsulated
// PixelData element: an empty Basic Offset Table item, one item per frame
// (padded to even length), and the sequence delimitation item.
func EncapsulatedValue(fragments [][]byte) []byte {
	buf := NewSeekableBuffer()
	writeItemHeader(buf, 0xE000, 0)
	for _, frag := range fragments {
		padded := len(frag) + len(frag)%2
		writeItemHeader(buf, 0xE000, uint32(padded))
		buf.Write(frag)
		if len(frag)%2 == 1 {
			buf.Write([]byte{0})
		}
	}
	writeItemHeader(buf, 0xE0DD, 0)
	return buf.Bytes()
}

func writeItemHeader(buf *SeekableBuffer, element uint16, length uint32) {
	var header [8]byte
	binary.LittleEndian.PutUint16(header[0:2], 0xFFFE)
	binary.LittleEndian.PutUint16(header[2:4], element)
	binary.LittleEndian.PutUint32(header[4:8], length)
	buf.Write(header[:])
}

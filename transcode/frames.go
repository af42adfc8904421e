package transcode

// Frame demultiplexing. PixelData arrives either as contiguous native bytes
// (one frame every FrameLength bytes) or as an encapsulated fragment
// sequence whose first item is the Basic Offset Table.

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/openpacs/go-dicomnet/transfersyntax"
)

// ErrFrameMappingFailed reports that the fragments could not be attributed
// to frames: the number of discovered frame starts does not match the
// declared frame count.
var ErrFrameMappingFailed = errors.New("frame mapping failed")

// PixelSource is the raw PixelData value of the source object.
type PixelSource struct {
	// Bulk holds contiguous native-format bytes. Exactly one of Bulk and
	// Fragments is set.
	Bulk []byte

	// Fragments is the encapsulated form: element 0 is the Basic Offset
	// Table, the rest are the pixel fragments.
	Fragments [][]byte
}

// ParseEncapsulated splits a raw undefined-length PixelData value into its
// items: (FFFE,E000) headers with explicit lengths, terminated by an
// optional (FFFE,E0DD) sequence delimiter. Item headers are always little
// endian.
func ParseEncapsulated(raw []byte) (PixelSource, error) {
	var src PixelSource
	pos := 0
	for pos+8 <= len(raw) {
		group := binary.LittleEndian.Uint16(raw[pos : pos+2])
		element := binary.LittleEndian.Uint16(raw[pos+2 : pos+4])
		length := binary.LittleEndian.Uint32(raw[pos+4 : pos+8])
		pos += 8
		switch {
		case group == 0xFFFE && element == 0xE000:
			if length == 0xFFFFFFFF {
				return src, fmt.Errorf("pixel item with undefined length at offset %d", pos-8)
			}
			if pos+int(length) > len(raw) {
				return src, fmt.Errorf("pixel item of %d bytes exceeds value at offset %d", length, pos-8)
			}
			src.Fragments = append(src.Fragments, raw[pos:pos+int(length)])
			pos += int(length)
		case group == 0xFFFE && element == 0xE0DD:
			return src, nil
		default:
			return src, fmt.Errorf("unexpected item tag (%04X,%04X) in encapsulated pixel data", group, element)
		}
	}
	if len(src.Fragments) == 0 {
		return src, fmt.Errorf("encapsulated pixel data holds no items")
	}
	return src, nil
}

// ExtractFrames produces the per-frame byte runs of the source object.
// For native data, frames are consecutive FrameLength runs. For
// encapsulated data the fragment-to-frame mapping is discovered per the
// source syntax: single-frame objects map all fragments to the one frame;
// RLE is one fragment per frame; JPEG-family syntaxes are mapped by
// sniffing fragment starts for a JPEG stream header.
func ExtractFrames(src PixelSource, d Descriptor, sourceTS string) ([][]byte, error) {
	if src.Bulk != nil {
		return extractNativeFrames(src.Bulk, d)
	}
	if len(src.Fragments) < 2 {
		return nil, fmt.Errorf("encapsulated pixel data holds no fragments beyond the offset table")
	}
	fragments := src.Fragments[1:] // element 0 is the Basic Offset Table
	if d.Frames <= 1 {
		// One frame: all fragments concatenate into it.
		return [][]byte{concat(fragments)}, nil
	}
	info, _ := transfersyntax.Lookup(sourceTS)
	if info.Encoding == transfersyntax.PixelRLE {
		// RLE Lossless is defined as one fragment per frame.
		if len(fragments) != d.Frames {
			return nil, fmt.Errorf("%w: RLE object declares %d frames but holds %d fragments",
				ErrFrameMappingFailed, d.Frames, len(fragments))
		}
		return fragments, nil
	}
	return mapJPEGFragments(fragments, d)
}

// mapJPEGFragments attributes fragments to frames by locating the
// fragments that begin a valid JPEG stream.
func mapJPEGFragments(fragments [][]byte, d Descriptor) ([][]byte, error) {
	var starts []int
	for i, frag := range fragments {
		if isJPEGStart(frag) {
			starts = append(starts, i)
		}
	}
	if len(starts) != d.Frames {
		return nil, fmt.Errorf("%w: discovered %d frame starts for %d declared frames",
			ErrFrameMappingFailed, len(starts), d.Frames)
	}
	frames := make([][]byte, d.Frames)
	for n, start := range starts {
		end := len(fragments)
		if n+1 < len(starts) {
			end = starts[n+1]
		}
		frames[n] = concat(fragments[start:end])
	}
	return frames, nil
}

// isJPEGStart reports whether the fragment begins a JPEG (or JPEG-LS /
// JPEG 2000 codestream) stream.
func isJPEGStart(frag []byte) bool {
	if len(frag) < 4 {
		return false
	}
	// SOI marker, followed by another marker byte.
	if frag[0] == 0xFF && frag[1] == 0xD8 && frag[2] == 0xFF {
		return true
	}
	// JPEG 2000 codestream SOC marker.
	if frag[0] == 0xFF && frag[1] == 0x4F && frag[2] == 0xFF && frag[3] == 0x51 {
		return true
	}
	return false
}

func extractNativeFrames(bulk []byte, d Descriptor) ([][]byte, error) {
	frameLen := d.FrameLength()
	if frameLen == 0 {
		return nil, fmt.Errorf("zero-length frames for %dx%d image", d.Columns, d.Rows)
	}
	if len(bulk) < frameLen*d.Frames {
		return nil, fmt.Errorf("pixel data of %d bytes cannot hold %d frames of %d bytes",
			len(bulk), d.Frames, frameLen)
	}
	frames := make([][]byte, d.Frames)
	for i := 0; i < d.Frames; i++ {
		frames[i] = bulk[i*frameLen : (i+1)*frameLen]
	}
	return frames, nil
}

// PackFrames is the inverse of native extraction: frames concatenate into
// one contiguous run, padded to even length.
func PackFrames(frames [][]byte) []byte {
	out := concat(frames)
	if len(out)%2 == 1 {
		out = append(out, 0)
	}
	return out
}

func concat(chunks [][]byte) []byte {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	out := make([]byte, 0, n)
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}

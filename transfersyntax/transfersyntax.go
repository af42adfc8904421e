// Package transfersyntax classifies DICOM transfer syntax UIDs: byte order,
// VR explicitness, and pixel-data encoding. It drives both the wire encoding
// of datasets and codec selection during transcoding.
package transfersyntax

import (
	"encoding/binary"
)

const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2"
	JPEGBaseline8Bit               = "1.2.840.10008.1.2.4.50"
	JPEGExtended12Bit              = "1.2.840.10008.1.2.4.51"
	JPEGLossless                   = "1.2.840.10008.1.2.4.57"
	JPEGLosslessSV1                = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless                 = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless             = "1.2.840.10008.1.2.4.81"
	JPEG2000Lossless               = "1.2.840.10008.1.2.4.90"
	JPEG2000                       = "1.2.840.10008.1.2.4.91"
	MPEG2MainProfile               = "1.2.840.10008.1.2.4.100"
	MPEG4AVCH264HighProfile        = "1.2.840.10008.1.2.4.102"
	RLELossless                    = "1.2.840.10008.1.2.5"
)

// PixelEncoding classifies how PixelData is stored under a syntax.
type PixelEncoding int

const (
	PixelNative PixelEncoding = iota
	PixelJPEG
	PixelJPEGLS
	PixelJPEG2000
	PixelRLE
	PixelMPEG
)

// Info describes the properties of one transfer syntax.
type Info struct {
	UID      string
	Name     string
	Explicit bool
	BigEndia bool
	Encoding PixelEncoding
	Lossy    bool
}

var registry = map[string]Info{
	ImplicitVRLittleEndian:         {ImplicitVRLittleEndian, "Implicit VR Little Endian", false, false, PixelNative, false},
	ExplicitVRLittleEndian:         {ExplicitVRLittleEndian, "Explicit VR Little Endian", true, false, PixelNative, false},
	DeflatedExplicitVRLittleEndian: {DeflatedExplicitVRLittleEndian, "Deflated Explicit VR Little Endian", true, false, PixelNative, false},
	ExplicitVRBigEndian:            {ExplicitVRBigEndian, "Explicit VR Big Endian", true, true, PixelNative, false},
	JPEGBaseline8Bit:               {JPEGBaseline8Bit, "JPEG Baseline (Process 1)", true, false, PixelJPEG, true},
	JPEGExtended12Bit:              {JPEGExtended12Bit, "JPEG Extended (Process 2 & 4)", true, false, PixelJPEG, true},
	JPEGLossless:                   {JPEGLossless, "JPEG Lossless (Process 14)", true, false, PixelJPEG, false},
	JPEGLosslessSV1:                {JPEGLosslessSV1, "JPEG Lossless SV1", true, false, PixelJPEG, false},
	JPEGLSLossless:                 {JPEGLSLossless, "JPEG-LS Lossless", true, false, PixelJPEGLS, false},
	JPEGLSNearLossless:             {JPEGLSNearLossless, "JPEG-LS Near-Lossless", true, false, PixelJPEGLS, true},
	JPEG2000Lossless:               {JPEG2000Lossless, "JPEG 2000 Lossless", true, false, PixelJPEG2000, false},
	JPEG2000:                       {JPEG2000, "JPEG 2000", true, false, PixelJPEG2000, true},
	MPEG2MainProfile:               {MPEG2MainProfile, "MPEG2 Main Profile", true, false, PixelMPEG, true},
	MPEG4AVCH264HighProfile:        {MPEG4AVCH264HighProfile, "MPEG-4 AVC/H.264 High Profile", true, false, PixelMPEG, true},
	RLELossless:                    {RLELossless, "RLE Lossless", true, false, PixelRLE, false},
}

// Lookup returns the properties of a transfer syntax UID.
func Lookup(uid string) (Info, bool) {
	info, ok := registry[uid]
	return info, ok
}

// IsEncapsulated reports whether PixelData is stored as a fragment sequence
// rather than contiguous native bytes.
func IsEncapsulated(uid string) bool {
	info, ok := registry[uid]
	return ok && info.Encoding != PixelNative
}

// IsExplicitVR reports whether datasets carry explicit VRs under this
// syntax. Unknown UIDs default to explicit, matching how encapsulated
// private syntaxes behave.
func IsExplicitVR(uid string) bool {
	if info, ok := registry[uid]; ok {
		return info.Explicit
	}
	return true
}

// ByteOrder returns the dataset byte order of the syntax.
func ByteOrder(uid string) binary.ByteOrder {
	if info, ok := registry[uid]; ok && info.BigEndia {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// IsLossy reports whether the syntax's pixel encoding discards information.
func IsLossy(uid string) bool {
	info, ok := registry[uid]
	return ok && info.Lossy
}

// StandardLittleEndianSyntaxes is the pair of uncompressed syntaxes every
// C-STORE proposal carries in addition to each file's source syntax.
var StandardLittleEndianSyntaxes = []string{
	ExplicitVRLittleEndian,
	ImplicitVRLittleEndian,
}

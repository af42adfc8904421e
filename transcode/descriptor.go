// Package transcode converts pixel data between DICOM transfer syntaxes:
// frame extraction from native or encapsulated form, decode through the
// codec facade, optional image edits, and re-encode with the dataset tag
// adaptations the destination syntax requires.
package transcode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

// Descriptor captures the image attributes the pipeline needs. It is
// derived once from the source dataset and carried through unchanged.
type Descriptor struct {
	Rows                      int
	Columns                   int
	BitsAllocated             int
	BitsStored                int
	HighBit                   int
	SamplesPerPixel           int
	PhotometricInterpretation string
	PlanarConfiguration       int
	Frames                    int
	Signed                    bool
	PixelPaddingValue         int
	HasPixelPadding           bool
	RescaleSlope              float64
	RescaleIntercept          float64
}

// NewDescriptor reads the image attributes from a parsed dataset.
func NewDescriptor(ds *dicom.Dataset) (Descriptor, error) {
	d := Descriptor{
		SamplesPerPixel:     1,
		PlanarConfiguration: 0,
		Frames:              1,
		RescaleSlope:        1,
	}
	var err error
	if d.Rows, err = intValue(ds, dicomtag.Rows); err != nil {
		return d, err
	}
	if d.Columns, err = intValue(ds, dicomtag.Columns); err != nil {
		return d, err
	}
	if d.BitsAllocated, err = intValue(ds, dicomtag.BitsAllocated); err != nil {
		return d, err
	}
	d.BitsStored = intValueOr(ds, dicomtag.BitsStored, d.BitsAllocated)
	d.HighBit = intValueOr(ds, dicomtag.HighBit, d.BitsStored-1)
	d.SamplesPerPixel = intValueOr(ds, dicomtag.SamplesPerPixel, 1)
	d.PlanarConfiguration = intValueOr(ds, dicomtag.PlanarConfiguration, 0)
	d.Signed = intValueOr(ds, dicomtag.PixelRepresentation, 0) == 1
	d.PhotometricInterpretation = stringValueOr(ds, dicomtag.PhotometricInterpretation, "MONOCHROME2")
	if padding, ok := optionalInt(ds, dicomtag.PixelPaddingValue); ok {
		d.PixelPaddingValue = padding
		d.HasPixelPadding = true
	}
	// NumberOfFrames is an IS string.
	if s := stringValueOr(ds, dicomtag.NumberOfFrames, ""); s != "" {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return d, fmt.Errorf("invalid NumberOfFrames %q: %v", s, err)
		}
		if n > 0 {
			d.Frames = n
		}
	}
	if s := stringValueOr(ds, dicomtag.RescaleSlope, ""); s != "" {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			d.RescaleSlope = v
		}
	}
	if s := stringValueOr(ds, dicomtag.RescaleIntercept, ""); s != "" {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			d.RescaleIntercept = v
		}
	}
	if d.Rows <= 0 || d.Columns <= 0 {
		return d, fmt.Errorf("invalid image geometry %dx%d", d.Columns, d.Rows)
	}
	switch d.BitsAllocated {
	case 1, 8, 16, 32:
	default:
		return d, fmt.Errorf("unsupported BitsAllocated %d", d.BitsAllocated)
	}
	return d, nil
}

// FrameLength returns the native byte length of one frame.
func (d Descriptor) FrameLength() int {
	bits := d.Rows * d.Columns * d.SamplesPerPixel * d.BitsAllocated
	return (bits + 7) / 8
}

// IsMonochrome reports a single-sample grayscale interpretation.
func (d Descriptor) IsMonochrome() bool {
	return strings.HasPrefix(d.PhotometricInterpretation, "MONOCHROME")
}

func intValue(ds *dicom.Dataset, t dicomtag.Tag) (int, error) {
	v, ok := optionalInt(ds, t)
	if !ok {
		return 0, fmt.Errorf("missing required attribute %s", t.String())
	}
	return v, nil
}

func intValueOr(ds *dicom.Dataset, t dicomtag.Tag, def int) int {
	if v, ok := optionalInt(ds, t); ok {
		return v
	}
	return def
}

func optionalInt(ds *dicom.Dataset, t dicomtag.Tag) (int, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return 0, false
	}
	if v, ok := elem.Value.GetValue().([]int); ok && len(v) > 0 {
		return v[0], true
	}
	return 0, false
}

func stringValueOr(ds *dicom.Dataset, t dicomtag.Tag, def string) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return def
	}
	if v, ok := elem.Value.GetValue().([]string); ok && len(v) > 0 {
		return strings.TrimSpace(v[0])
	}
	return def
}

package transcode

// Dataset plumbing around the pipeline: pulling the raw PixelData value out
// of a parsed dataset, and re-encoding the dataset for the wire with the
// transcoded pixels and adapted attributes.

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"

	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/dicomio"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

// ParseOptions returns the parse options a caller must use for datasets
// that will flow through the pipeline: pixel data is kept as raw bytes.
func ParseOptions() []dicom.ParseOption {
	return []dicom.ParseOption{dicom.SkipProcessingPixelDataValue()}
}

// ExtractPixelSource pulls the raw PixelData value from a dataset parsed
// with ParseOptions. The second return is false when the dataset has no
// pixel data.
func ExtractPixelSource(ds *dicom.Dataset, sourceTS string) (PixelSource, bool, error) {
	elem, err := ds.FindElementByTag(dicomtag.PixelData)
	if err != nil {
		return PixelSource{}, false, nil
	}
	info := dicom.MustGetPixelDataInfo(elem.Value)
	if !info.IntentionallyUnprocessed {
		return PixelSource{}, false, fmt.Errorf("dataset was not parsed with SkipProcessingPixelDataValue")
	}
	raw := info.UnprocessedValueData
	if transfersyntax.IsEncapsulated(sourceTS) {
		src, err := ParseEncapsulated(raw)
		if err != nil {
			return PixelSource{}, false, err
		}
		return src, true, nil
	}
	return PixelSource{Bulk: raw}, true, nil
}

// EncodeDataset serializes the dataset for the wire in the pipeline
// result's transfer syntax: every non-meta element re-encoded, the image
// attributes replaced with the adapted values, and the pixel data appended
// as a raw or encapsulated element.
func EncodeDataset(ds *dicom.Dataset, res *Result) ([]byte, error) {
	replacements, err := adaptedElements(res)
	if err != nil {
		return nil, err
	}
	var elems []*dicom.Element
	for _, elem := range ds.Elements {
		if elem.Tag.Group == 0x0002 || elem.Tag == dicomtag.PixelData {
			continue
		}
		if replacement, ok := replacements[elem.Tag]; ok {
			elems = append(elems, replacement)
			delete(replacements, elem.Tag)
			continue
		}
		elems = append(elems, elem)
	}
	for _, replacement := range replacements {
		elems = append(elems, replacement)
	}
	sort.Slice(elems, func(i, j int) bool {
		if elems[i].Tag.Group != elems[j].Tag.Group {
			return elems[i].Tag.Group < elems[j].Tag.Group
		}
		return elems[i].Tag.Element < elems[j].Tag.Element
	})

	var buf bytes.Buffer
	w, err := dicom.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	ts := res.TransferSyntaxUID
	w.SetTransferSyntax(transfersyntax.ByteOrder(ts), !transfersyntax.IsExplicitVR(ts))
	for _, elem := range elems {
		if err := w.WriteElement(elem); err != nil {
			return nil, fmt.Errorf("re-encoding %s: %w", elem.Tag.String(), err)
		}
	}
	if err := appendPixelDataElement(&buf, res); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeElementsOnly serializes a dataset that carries no pixel data:
// every non-meta element re-encoded with the target syntax.
func EncodeElementsOnly(ds *dicom.Dataset, transferSyntaxUID string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := dicom.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	w.SetTransferSyntax(transfersyntax.ByteOrder(transferSyntaxUID),
		!transfersyntax.IsExplicitVR(transferSyntaxUID))
	for _, elem := range ds.Elements {
		if elem.Tag.Group == 0x0002 || elem.Tag == dicomtag.PixelData {
			continue
		}
		if err := w.WriteElement(elem); err != nil {
			return nil, fmt.Errorf("re-encoding %s: %w", elem.Tag.String(), err)
		}
	}
	return buf.Bytes(), nil
}

// adaptedElements builds the replacement attribute elements the new pixel
// encoding requires.
func adaptedElements(res *Result) (map[dicomtag.Tag]*dicom.Element, error) {
	out := make(map[dicomtag.Tag]*dicom.Element)
	add := func(t dicomtag.Tag, value interface{}) error {
		elem, err := dicom.NewElement(t, value)
		if err != nil {
			return err
		}
		out[t] = elem
		return nil
	}
	if err := add(dicomtag.PhotometricInterpretation, []string{res.PhotometricInterpretation}); err != nil {
		return nil, err
	}
	if err := add(dicomtag.BitsAllocated, []int{res.BitsAllocated}); err != nil {
		return nil, err
	}
	if err := add(dicomtag.BitsStored, []int{res.BitsStored}); err != nil {
		return nil, err
	}
	if err := add(dicomtag.HighBit, []int{res.HighBit}); err != nil {
		return nil, err
	}
	if err := add(dicomtag.SamplesPerPixel, []int{res.SamplesPerPixel}); err != nil {
		return nil, err
	}
	if res.SamplesPerPixel > 1 {
		if err := add(dicomtag.PlanarConfiguration, []int{res.PlanarConfiguration}); err != nil {
			return nil, err
		}
	}
	if res.Lossy {
		if err := add(dicomtag.LossyImageCompression, []string{"01"}); err != nil {
			return nil, err
		}
		if res.CompressionRatio > 0 {
			ratio := strconv.FormatFloat(res.CompressionRatio, 'f', 2, 64)
			if err := add(dicomtag.LossyImageCompressionRatio, []string{ratio}); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

// appendPixelDataElement writes the PixelData element bytes: a raw OW
// element for native output, or an OB undefined-length element holding the
// fragment items for encapsulated output.
func appendPixelDataElement(buf *bytes.Buffer, res *Result) error {
	ts := res.TransferSyntaxUID
	w := dicomio.NewWriter(buf, transfersyntax.ByteOrder(ts), !transfersyntax.IsExplicitVR(ts))
	if err := w.WriteUInt16(dicomtag.PixelData.Group); err != nil {
		return err
	}
	if err := w.WriteUInt16(dicomtag.PixelData.Element); err != nil {
		return err
	}
	if res.Encapsulated {
		value := EncapsulatedValue(res.Fragments)
		if err := w.WriteString("OB"); err != nil {
			return err
		}
		if err := w.WriteZeros(2); err != nil {
			return err
		}
		if err := w.WriteUInt32(0xFFFFFFFF); err != nil { // undefined length
			return err
		}
		return w.WriteBytes(value)
	}
	vr := "OW"
	if res.BitsAllocated <= 8 {
		vr = "OB"
	}
	if transfersyntax.IsExplicitVR(ts) {
		if err := w.WriteString(vr); err != nil {
			return err
		}
		if err := w.WriteZeros(2); err != nil {
			return err
		}
	}
	if err := w.WriteUInt32(uint32(len(res.PixelData))); err != nil {
		return err
	}
	return w.WriteBytes(res.PixelData)
}

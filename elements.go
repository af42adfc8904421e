package dicomnet

// Helpers for moving dataset payloads between element lists and the raw
// byte form carried in P-DATA-TF PDVs.

import (
	"bytes"

	"github.com/openpacs/go-dicomnet/part10"
	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/suyashkumar/dicom"
)

// writeElementsToBytes serializes the elements with the given transfer
// syntax.
func writeElementsToBytes(elems []*dicom.Element, transferSyntaxUID string) ([]byte, error) {
	var buf bytes.Buffer
	w, err := dicom.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	w.SetTransferSyntax(transfersyntax.ByteOrder(transferSyntaxUID),
		!transfersyntax.IsExplicitVR(transferSyntaxUID))
	for _, elem := range elems {
		if err := w.WriteElement(elem); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// readElementsInBytes parses a headerless dataset payload received in the
// given transfer syntax. The payload is wrapped in a synthesized part-10
// envelope so the parser learns the syntax from the meta group; group-2
// elements are stripped from the result.
func readElementsInBytes(data []byte, transferSyntaxUID string) ([]*dicom.Element, error) {
	if len(data) == 0 {
		return nil, nil
	}
	blob, err := part10.WrapDataset(data, "1.2.840.10008.5.1.4.1.1.7", "0", transferSyntaxUID)
	if err != nil {
		return nil, err
	}
	ds, err := dicom.Parse(bytes.NewReader(blob), int64(len(blob)), nil, dicom.SkipPixelData())
	if err != nil {
		return nil, err
	}
	var elems []*dicom.Element
	for _, elem := range ds.Elements {
		if elem.Tag.Group == 0x0002 {
			continue
		}
		elems = append(elems, elem)
	}
	return elems, nil
}

// Package part10 writes the DICOM file format envelope (PS3.10): the
// 128-byte preamble, the "DICM" magic word and a synthesized group-2
// file-meta-information group. The storage SCP prepends it to the raw
// dataset bytes received over an association, and payload readers use it to
// hand headerless wire datasets to the dataset parser with their transfer
// syntax declared.
package part10

import (
	"bytes"
	"encoding/binary"
	"io"

	godicom "github.com/grailbio/go-dicom"
	"github.com/suyashkumar/dicom/pkg/dicomio"
)

// WriteFileMetaGroup writes the preamble, magic word and file-meta group,
// encoded with the explicit-VR little-endian syntax as the standard
// requires.
func WriteFileMetaGroup(out io.Writer, sopClassUID, sopInstanceUID, transferSyntaxUID string) error {
	var groupBuf bytes.Buffer
	gw := dicomio.NewWriter(&groupBuf, binary.LittleEndian, false)
	g := &gw
	if err := writeMetaOB(g, 0x0001, []byte{0x00, 0x01}); err != nil { // FileMetaInformationVersion
		return err
	}
	if err := writeMetaString(g, 0x0002, "UI", sopClassUID); err != nil { // MediaStorageSOPClassUID
		return err
	}
	if err := writeMetaString(g, 0x0003, "UI", sopInstanceUID); err != nil { // MediaStorageSOPInstanceUID
		return err
	}
	if err := writeMetaString(g, 0x0010, "UI", transferSyntaxUID); err != nil { // TransferSyntaxUID
		return err
	}
	if err := writeMetaString(g, 0x0012, "UI", godicom.DefaultImplementationClassUID); err != nil {
		return err
	}
	if err := writeMetaString(g, 0x0013, "SH", godicom.DefaultImplementationVersionName); err != nil {
		return err
	}

	ww := dicomio.NewWriter(out, binary.LittleEndian, false)
	w := &ww
	if err := w.WriteZeros(128); err != nil {
		return err
	}
	if err := w.WriteString("DICM"); err != nil {
		return err
	}
	// FileMetaInformationGroupLength covers everything after itself.
	if err := w.WriteUInt16(0x0002); err != nil {
		return err
	}
	if err := w.WriteUInt16(0x0000); err != nil {
		return err
	}
	if err := w.WriteString("UL"); err != nil {
		return err
	}
	if err := w.WriteUInt16(4); err != nil {
		return err
	}
	if err := w.WriteUInt32(uint32(groupBuf.Len())); err != nil {
		return err
	}
	return w.WriteBytes(groupBuf.Bytes())
}

// WrapDataset prepends a synthesized part-10 envelope to raw dataset
// bytes, declaring the transfer syntax they are encoded in.
func WrapDataset(data []byte, sopClassUID, sopInstanceUID, transferSyntaxUID string) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) + 256)
	if err := WriteFileMetaGroup(&buf, sopClassUID, sopInstanceUID, transferSyntaxUID); err != nil {
		return nil, err
	}
	buf.Write(data)
	return buf.Bytes(), nil
}

// writeMetaString writes one group-2 element with a short-form VR. UI
// values are padded with NUL, text VRs with space, to an even length.
func writeMetaString(w *dicomio.Writer, element uint16, vr, value string) error {
	if len(value)%2 == 1 {
		if vr == "UI" {
			value += "\x00"
		} else {
			value += " "
		}
	}
	if err := w.WriteUInt16(0x0002); err != nil {
		return err
	}
	if err := w.WriteUInt16(element); err != nil {
		return err
	}
	if err := w.WriteString(vr); err != nil {
		return err
	}
	if err := w.WriteUInt16(uint16(len(value))); err != nil {
		return err
	}
	return w.WriteString(value)
}

// writeMetaOB writes one group-2 element with the long-form OB VR.
func writeMetaOB(w *dicomio.Writer, element uint16, value []byte) error {
	if err := w.WriteUInt16(0x0002); err != nil {
		return err
	}
	if err := w.WriteUInt16(element); err != nil {
		return err
	}
	if err := w.WriteString("OB"); err != nil {
		return err
	}
	if err := w.WriteZeros(2); err != nil {
		return err
	}
	if err := w.WriteUInt32(uint32(len(value))); err != nil {
		return err
	}
	return w.WriteBytes(value)
}

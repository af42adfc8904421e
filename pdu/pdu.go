package pdu

// Implements the upper-layer PDU types defined in P3.8. It sits below the
// DIMSE layer.
//
// http://dicom.nema.org/medical/dicom/current/output/pdf/part08.pdf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/suyashkumar/dicom/pkg/dicomio"
)

// PDU is the interface for DUL messages like A-ASSOCIATE-AC and P-DATA-TF.
type PDU interface {
	fmt.Stringer

	// Read decodes the PDU payload (everything after the six-byte common
	// header) from the reader and returns a new PDU value.
	Read(d *dicomio.Reader) (PDU, error)

	// Write encodes the PDU payload, excluding the six-byte common header
	// added by EncodePDU.
	Write() ([]byte, error)
}

// Type defines the type byte of the PDU packet.
type Type byte

const (
	TypeAAssociateRQ Type = 1
	TypeAAssociateAC Type = 2
	TypeAAssociateRj Type = 3
	TypePDataTf      Type = 4
	TypeAReleaseRq   Type = 5
	TypeAReleaseRp   Type = 6
	TypeAAbort       Type = 7
)

const CurrentProtocolVersion uint16 = 1

// EncodePDU serializes "v" into the wire form: type, reserved byte, big
// endian 32-bit payload length, then the payload.
func EncodePDU(v PDU) ([]byte, error) {
	var pduType Type
	switch v.(type) {
	case *AAssociateRQ:
		pduType = TypeAAssociateRQ
	case *AAssociateAC:
		pduType = TypeAAssociateAC
	case *AAssociateRj:
		pduType = TypeAAssociateRj
	case *PDataTf:
		pduType = TypePDataTf
	case *AReleaseRq:
		pduType = TypeAReleaseRq
	case *AReleaseRp:
		pduType = TypeAReleaseRp
	case *AAbort:
		pduType = TypeAAbort
	default:
		return nil, fmt.Errorf("EncodePDU: unknown PDU %v", v)
	}
	payload, err := v.Write()
	if err != nil {
		return nil, err
	}
	var header [6]byte
	header[0] = byte(pduType)
	header[1] = 0 // Reserved.
	binary.BigEndian.PutUint32(header[2:6], uint32(len(payload)))
	return append(header[:], payload...), nil
}

// ReadPDU reads one PDU from the stream. maxPDUSize bounds the payload
// length accepted by the caller; a length far beyond it is treated as a
// framing violation.
func ReadPDU(in io.Reader, maxPDUSize int) (PDU, error) {
	var header [6]byte
	if _, err := io.ReadFull(in, header[:]); err != nil {
		return nil, err
	}
	pduType := Type(header[0])
	length := binary.BigEndian.Uint32(header[2:6])
	if length >= uint32(maxPDUSize)*2 {
		// *2 is an arbitrary slack over the negotiated maximum.
		return nil, fmt.Errorf("ReadPDU: PDU length %d exceeds max PDU size %d", length, maxPDUSize)
	}
	limited := io.LimitedReader{R: in, N: int64(length)}
	d, err := dicomio.NewReader(bufio.NewReader(&limited), binary.BigEndian, int64(length))
	if err != nil {
		return nil, err
	}
	var v PDU
	switch pduType {
	case TypeAAssociateRQ:
		v, err = AAssociateRQ{}.Read(d)
	case TypeAAssociateAC:
		v, err = AAssociateAC{}.Read(d)
	case TypeAAssociateRj:
		v, err = AAssociateRj{}.Read(d)
	case TypePDataTf:
		v, err = PDataTf{}.Read(d)
	case TypeAReleaseRq:
		v, err = AReleaseRq{}.Read(d)
	case TypeAReleaseRp:
		v, err = AReleaseRp{}.Read(d)
	case TypeAAbort:
		v, err = AAbort{}.Read(d)
	default:
		return nil, fmt.Errorf("ReadPDU: unknown PDU type 0x%x", byte(pduType))
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// PresentationDataValueItem is P3.8 9.3.5.1. A P-DATA-TF PDU carries one or
// more of these.
type PresentationDataValueItem struct {
	// Length: 2 + len(Value)
	ContextID byte

	// P3.8, E.2: the following two fields encode a single byte.
	Command bool // Bit 0: 1 means command, 0 means data
	Last    bool // Bit 1: 1 means last fragment of command or data

	// Payload, either command or data.
	Value []byte
}

// ReadPresentationDataValueItem decodes a single PDV from the reader.
func ReadPresentationDataValueItem(d *dicomio.Reader) (PresentationDataValueItem, error) {
	item := PresentationDataValueItem{}
	length, err := d.ReadUInt32()
	if err != nil {
		return item, err
	}
	if length < 2 {
		return item, fmt.Errorf("PresentationDataValueItem: invalid length %d", length)
	}
	if item.ContextID, err = d.ReadUInt8(); err != nil {
		return item, err
	}
	header, err := d.ReadUInt8()
	if err != nil {
		return item, err
	}
	item.Command = header&1 != 0
	item.Last = header&2 != 0
	item.Value = make([]byte, length-2) // remove contextID and header
	if _, err := io.ReadFull(d, item.Value); err != nil {
		return item, err
	}
	return item, nil
}

func (v *PresentationDataValueItem) Write(e *dicomio.Writer) error {
	var header byte
	if v.Command {
		header |= 1
	}
	if v.Last {
		header |= 2
	}
	if err := e.WriteUInt32(uint32(2 + len(v.Value))); err != nil {
		return err
	}
	if err := e.WriteByte(v.ContextID); err != nil {
		return err
	}
	if err := e.WriteByte(header); err != nil {
		return err
	}
	return e.WriteBytes(v.Value)
}

func (v *PresentationDataValueItem) String() string {
	return fmt.Sprintf("PresentationDataValue{context: %d, cmd:%v last:%v value: %d bytes}",
		v.ContextID, v.Command, v.Last, len(v.Value))
}

// PDataTf is P3.8 9.3.5.
type PDataTf struct {
	Items []PresentationDataValueItem
}

func (PDataTf) Read(d *dicomio.Reader) (PDU, error) {
	v := &PDataTf{}
	for !d.IsLimitExhausted() {
		item, err := ReadPresentationDataValueItem(d)
		if err != nil {
			return nil, err
		}
		v.Items = append(v.Items, item)
	}
	return v, nil
}

func (v *PDataTf) Write() ([]byte, error) {
	var buf bytes.Buffer
	e := dicomio.NewWriter(&buf, binary.BigEndian, false)
	for _, item := range v.Items {
		if err := item.Write(&e); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (v *PDataTf) String() string {
	buf := bytes.Buffer{}
	buf.WriteString("P_DATA_TF{items: [")
	for i, item := range v.Items {
		if i > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(item.String())
	}
	buf.WriteString("]}")
	return buf.String()
}

// AReleaseRq is P3.8 9.3.6.
type AReleaseRq struct {
}

func (AReleaseRq) Read(d *dicomio.Reader) (PDU, error) {
	if err := d.Skip(4); err != nil {
		return nil, err
	}
	return &AReleaseRq{}, nil
}

func (v *AReleaseRq) Write() ([]byte, error) {
	return []byte{0, 0, 0, 0}, nil
}

func (v *AReleaseRq) String() string {
	return "A_RELEASE_RQ{}"
}

// AReleaseRp is P3.8 9.3.7.
type AReleaseRp struct {
}

func (AReleaseRp) Read(d *dicomio.Reader) (PDU, error) {
	if err := d.Skip(4); err != nil {
		return nil, err
	}
	return &AReleaseRp{}, nil
}

func (v *AReleaseRp) Write() ([]byte, error) {
	return []byte{0, 0, 0, 0}, nil
}

func (v *AReleaseRp) String() string {
	return "A_RELEASE_RP{}"
}

// RejectResultType is the possible values for AAssociateRj.Result.
type RejectResultType byte

const (
	ResultRejectedPermanent RejectResultType = 1
	ResultRejectedTransient RejectResultType = 2
)

// RejectReasonType is the possible values for AAssociateRj.Reason.
type RejectReasonType byte

const (
	RejectReasonNone                               RejectReasonType = 1
	RejectReasonApplicationContextNameNotSupported RejectReasonType = 2
	RejectReasonCallingAETitleNotRecognized        RejectReasonType = 3
	RejectReasonCalledAETitleNotRecognized         RejectReasonType = 7
)

// SourceType is the source field of A-ASSOCIATE-RJ and A-ABORT.
type SourceType byte

const (
	SourceULServiceUser                 SourceType = 0
	SourceULServiceProviderACSE         SourceType = 1
	SourceULServiceProviderPresentation SourceType = 2
)

// AAssociateRj is P3.8 9.3.4.
type AAssociateRj struct {
	Result RejectResultType
	Source SourceType
	Reason RejectReasonType
}

func (AAssociateRj) Read(d *dicomio.Reader) (PDU, error) {
	v := &AAssociateRj{}
	if err := d.Skip(1); err != nil {
		return nil, err
	}
	result, err := d.ReadUInt8()
	if err != nil {
		return nil, err
	}
	v.Result = RejectResultType(result)
	source, err := d.ReadUInt8()
	if err != nil {
		return nil, err
	}
	v.Source = SourceType(source)
	reason, err := d.ReadUInt8()
	if err != nil {
		return nil, err
	}
	v.Reason = RejectReasonType(reason)
	return v, nil
}

func (v *AAssociateRj) Write() ([]byte, error) {
	return []byte{0, byte(v.Result), byte(v.Source), byte(v.Reason)}, nil
}

func (v *AAssociateRj) String() string {
	return fmt.Sprintf("A_ASSOCIATE_RJ{result: %v, source: %v, reason: %v}",
		v.Result, v.Source, v.Reason)
}

// AbortReasonType is the reason field of A-ABORT. P3.8 9.3.8.
type AbortReasonType byte

const (
	AbortReasonNotSpecified             AbortReasonType = 0
	AbortReasonUnexpectedPDU            AbortReasonType = 2
	AbortReasonUnrecognizedPDUParameter AbortReasonType = 3
	AbortReasonUnexpectedPDUParameter   AbortReasonType = 4
	AbortReasonInvalidPDUParameterValue AbortReasonType = 5
)

// AAbort is P3.8 9.3.8.
type AAbort struct {
	Source SourceType
	Reason AbortReasonType
}

func (AAbort) Read(d *dicomio.Reader) (PDU, error) {
	v := &AAbort{}
	if err := d.Skip(2); err != nil {
		return nil, err
	}
	source, err := d.ReadUInt8()
	if err != nil {
		return nil, err
	}
	v.Source = SourceType(source)
	reason, err := d.ReadUInt8()
	if err != nil {
		return nil, err
	}
	v.Reason = AbortReasonType(reason)
	return v, nil
}

func (v *AAbort) Write() ([]byte, error) {
	return []byte{0, 0, byte(v.Source), byte(v.Reason)}, nil
}

func (v *AAbort) String() string {
	return fmt.Sprintf("A_ABORT{source:%v reason:%v}", v.Source, v.Reason)
}

// fillString pads the string with " " up to 16 bytes, the fixed width of AE
// title fields.
func fillString(v string) string {
	if len(v) > 16 {
		return v[:16]
	}
	for len(v) < 16 {
		v += " "
	}
	return v
}

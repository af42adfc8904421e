package pdu_item

// Sub-items carried inside A-ASSOCIATE-RQ/AC PDUs. P3.8 9.3.2 and P3.7
// Annex D.
//
// http://dicom.nema.org/medical/dicom/current/output/pdf/part08.pdf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/suyashkumar/dicom/pkg/dicomio"
)

// SubItem is the interface for items nested inside an A-ASSOCIATE PDU, such
// as ApplicationContextItem and TransferSyntaxSubItem.
type SubItem interface {
	fmt.Stringer

	// Write serializes the item, including its four-byte header.
	Write(*dicomio.Writer) error
}

// Possible Type field values for SubItem.
const (
	ItemTypeApplicationContext           = 0x10
	ItemTypePresentationContextRequest   = 0x20
	ItemTypePresentationContextResponse  = 0x21
	ItemTypeAbstractSyntax               = 0x30
	ItemTypeTransferSyntax               = 0x40
	ItemTypeUserInformation              = 0x50
	ItemTypeUserInformationMaximumLength = 0x51
	ItemTypeImplementationClassUID       = 0x52
	ItemTypeAsynchronousOperationsWindow = 0x53
	ItemTypeRoleSelection                = 0x54
	ItemTypeImplementationVersionName    = 0x55
	ItemTypeSOPClassExtendedNegotiation  = 0x56
	ItemTypeCommonExtendedNegotiation    = 0x57
)

// The app context for DICOM. The first item in the A-ASSOCIATE-RQ.
const DICOMApplicationContextItemName = "1.2.840.10008.3.1.1.1"

// DecodeSubItem decodes a single sub-item from the reader.
func DecodeSubItem(d *dicomio.Reader) (SubItem, error) {
	itemType, err := d.ReadUInt8()
	if err != nil {
		return nil, err
	}
	if err := d.Skip(1); err != nil {
		return nil, err
	}
	length, err := d.ReadUInt16()
	if err != nil {
		return nil, err
	}
	switch itemType {
	case ItemTypeApplicationContext:
		return decodeApplicationContextItem(d, length)
	case ItemTypeAbstractSyntax:
		return decodeAbstractSyntaxSubItem(d, length)
	case ItemTypeTransferSyntax:
		return decodeTransferSyntaxSubItem(d, length)
	case ItemTypePresentationContextRequest, ItemTypePresentationContextResponse:
		return decodePresentationContextItem(d, itemType, length)
	case ItemTypeUserInformation:
		return decodeUserInformationItem(d, length)
	case ItemTypeUserInformationMaximumLength:
		return decodeUserInformationMaximumLengthItem(d, length)
	case ItemTypeImplementationClassUID:
		return decodeImplementationClassUIDSubItem(d, length)
	case ItemTypeAsynchronousOperationsWindow:
		return decodeAsynchronousOperationsWindowSubItem(d, length)
	case ItemTypeRoleSelection:
		return decodeRoleSelectionSubItem(d, length)
	case ItemTypeImplementationVersionName:
		return decodeImplementationVersionNameSubItem(d, length)
	case ItemTypeSOPClassExtendedNegotiation:
		return decodeSOPClassExtendedNegotiationSubItem(d, length)
	case ItemTypeCommonExtendedNegotiation:
		return decodeCommonExtendedNegotiationSubItem(d, length)
	default:
		data, err := readBytes(d, int(length))
		if err != nil {
			return nil, fmt.Errorf("DecodeSubItem: unknown item type 0x%x: %w", itemType, err)
		}
		return &SubItemUnsupported{Type: itemType, Data: data}, nil
	}
}

func readBytes(d *dicomio.Reader, n int) ([]byte, error) {
	data := make([]byte, n)
	if _, err := io.ReadFull(d, data); err != nil {
		return nil, err
	}
	return data, nil
}

func encodeSubItemHeader(e *dicomio.Writer, itemType byte, length uint16) error {
	if err := e.WriteByte(itemType); err != nil {
		return err
	}
	if err := e.WriteZeros(1); err != nil {
		return err
	}
	return e.WriteUInt16(length)
}

type subItemWithName struct {
	Name string
}

func encodeSubItemWithName(e *dicomio.Writer, itemType byte, name string) error {
	if err := encodeSubItemHeader(e, itemType, uint16(len(name))); err != nil {
		return err
	}
	return e.WriteString(name)
}

func decodeSubItemWithName(d *dicomio.Reader, length uint16) (string, error) {
	return d.ReadString(uint32(length))
}

// ApplicationContextItem is P3.8 9.3.2.1.
type ApplicationContextItem subItemWithName

func decodeApplicationContextItem(d *dicomio.Reader, length uint16) (*ApplicationContextItem, error) {
	name, err := decodeSubItemWithName(d, length)
	if err != nil {
		return nil, err
	}
	return &ApplicationContextItem{Name: name}, nil
}

func (v *ApplicationContextItem) Write(e *dicomio.Writer) error {
	return encodeSubItemWithName(e, ItemTypeApplicationContext, v.Name)
}

func (v *ApplicationContextItem) String() string {
	return fmt.Sprintf("ApplicationContext{name: %q}", v.Name)
}

// AbstractSyntaxSubItem is P3.8 9.3.2.2.1.
type AbstractSyntaxSubItem subItemWithName

func decodeAbstractSyntaxSubItem(d *dicomio.Reader, length uint16) (*AbstractSyntaxSubItem, error) {
	name, err := decodeSubItemWithName(d, length)
	if err != nil {
		return nil, err
	}
	return &AbstractSyntaxSubItem{Name: name}, nil
}

func (v *AbstractSyntaxSubItem) Write(e *dicomio.Writer) error {
	return encodeSubItemWithName(e, ItemTypeAbstractSyntax, v.Name)
}

func (v *AbstractSyntaxSubItem) String() string {
	return fmt.Sprintf("AbstractSyntax{name: %q}", v.Name)
}

// TransferSyntaxSubItem is P3.8 9.3.2.2.2.
type TransferSyntaxSubItem subItemWithName

func decodeTransferSyntaxSubItem(d *dicomio.Reader, length uint16) (*TransferSyntaxSubItem, error) {
	name, err := decodeSubItemWithName(d, length)
	if err != nil {
		return nil, err
	}
	return &TransferSyntaxSubItem{Name: name}, nil
}

func (v *TransferSyntaxSubItem) Write(e *dicomio.Writer) error {
	return encodeSubItemWithName(e, ItemTypeTransferSyntax, v.Name)
}

func (v *TransferSyntaxSubItem) String() string {
	return fmt.Sprintf("TransferSyntax{name: %q}", v.Name)
}

// PresentationContextResult is the abstractsyntax/transfersyntax handshake
// result during A-ACCEPT. P3.8 9.3.3.2, table 9-18.
type PresentationContextResult byte

const (
	PresentationContextAccepted                                    PresentationContextResult = 0
	PresentationContextUserRejection                               PresentationContextResult = 1
	PresentationContextProviderRejectionNoReason                   PresentationContextResult = 2
	PresentationContextProviderRejectionAbstractSyntaxNotSupported PresentationContextResult = 3
	PresentationContextProviderRejectionTransferSyntaxNotSupported PresentationContextResult = 4
)

// PresentationContextItem is P3.8 9.3.2.2, 9.3.3.2.
type PresentationContextItem struct {
	Type      byte // ItemTypePresentationContext*
	ContextID byte

	// Result is meaningful iff Type==ItemTypePresentationContextResponse,
	// zero otherwise.
	Result PresentationContextResult

	Items []SubItem // List of {Abstract,Transfer}SyntaxSubItem
}

func decodePresentationContextItem(d *dicomio.Reader, itemType byte, length uint16) (*PresentationContextItem, error) {
	v := &PresentationContextItem{Type: itemType}
	if err := d.PushLimit(int64(length)); err != nil {
		return nil, err
	}
	defer d.PopLimit()
	var err error
	if v.ContextID, err = d.ReadUInt8(); err != nil {
		return nil, err
	}
	if err := d.Skip(1); err != nil {
		return nil, err
	}
	result, err := d.ReadUInt8()
	if err != nil {
		return nil, err
	}
	v.Result = PresentationContextResult(result)
	if err := d.Skip(1); err != nil {
		return nil, err
	}
	for !d.IsLimitExhausted() {
		item, err := DecodeSubItem(d)
		if err != nil {
			return nil, err
		}
		v.Items = append(v.Items, item)
	}
	if v.ContextID%2 != 1 {
		return nil, fmt.Errorf("PresentationContextItem ID must be odd, found %d", v.ContextID)
	}
	return v, nil
}

func (v *PresentationContextItem) Write(e *dicomio.Writer) error {
	if v.Type != ItemTypePresentationContextRequest &&
		v.Type != ItemTypePresentationContextResponse {
		return fmt.Errorf("PresentationContextItem: invalid type 0x%x", v.Type)
	}
	var buf bytes.Buffer
	itemEncoder := dicomio.NewWriter(&buf, binary.BigEndian, false)
	for _, s := range v.Items {
		if err := s.Write(&itemEncoder); err != nil {
			return err
		}
	}
	itemBytes := buf.Bytes()
	if err := encodeSubItemHeader(e, v.Type, uint16(4+len(itemBytes))); err != nil {
		return err
	}
	if err := e.WriteByte(v.ContextID); err != nil {
		return err
	}
	if err := e.WriteZeros(1); err != nil {
		return err
	}
	if err := e.WriteByte(byte(v.Result)); err != nil {
		return err
	}
	if err := e.WriteZeros(1); err != nil {
		return err
	}
	return e.WriteBytes(itemBytes)
}

func (v *PresentationContextItem) String() string {
	itemType := "rq"
	if v.Type == ItemTypePresentationContextResponse {
		itemType = "ac"
	}
	return fmt.Sprintf("PresentationContext%s{id: %d result: %d, items:%s}",
		itemType, v.ContextID, v.Result, SubItemListString(v.Items))
}

// UserInformationItem is P3.8 9.3.2.3.
type UserInformationItem struct {
	Items []SubItem // P3.8, Annex D.
}

func decodeUserInformationItem(d *dicomio.Reader, length uint16) (*UserInformationItem, error) {
	v := &UserInformationItem{}
	if err := d.PushLimit(int64(length)); err != nil {
		return nil, err
	}
	defer d.PopLimit()
	for !d.IsLimitExhausted() {
		item, err := DecodeSubItem(d)
		if err != nil {
			return nil, err
		}
		v.Items = append(v.Items, item)
	}
	return v, nil
}

func (v *UserInformationItem) Write(e *dicomio.Writer) error {
	var buf bytes.Buffer
	itemEncoder := dicomio.NewWriter(&buf, binary.BigEndian, false)
	for _, s := range v.Items {
		if err := s.Write(&itemEncoder); err != nil {
			return err
		}
	}
	itemBytes := buf.Bytes()
	if err := encodeSubItemHeader(e, ItemTypeUserInformation, uint16(len(itemBytes))); err != nil {
		return err
	}
	return e.WriteBytes(itemBytes)
}

func (v *UserInformationItem) String() string {
	return fmt.Sprintf("UserInformationItem{items: %s}", SubItemListString(v.Items))
}

// UserInformationMaximumLengthItem is P3.8 Annex D.1. A value of zero means
// the sender can receive PDUs of unlimited size.
type UserInformationMaximumLengthItem struct {
	MaximumLengthReceived uint32
}

func decodeUserInformationMaximumLengthItem(d *dicomio.Reader, length uint16) (*UserInformationMaximumLengthItem, error) {
	if length != 4 {
		return nil, fmt.Errorf("UserInformationMaximumLengthItem must be 4 bytes, found %dB", length)
	}
	v, err := d.ReadUInt32()
	if err != nil {
		return nil, err
	}
	return &UserInformationMaximumLengthItem{MaximumLengthReceived: v}, nil
}

func (v *UserInformationMaximumLengthItem) Write(e *dicomio.Writer) error {
	if err := encodeSubItemHeader(e, ItemTypeUserInformationMaximumLength, 4); err != nil {
		return err
	}
	return e.WriteUInt32(v.MaximumLengthReceived)
}

func (v *UserInformationMaximumLengthItem) String() string {
	return fmt.Sprintf("UserInformationMaximumLengthItem{%d}", v.MaximumLengthReceived)
}

// ImplementationClassUIDSubItem is PS3.7 Annex D.3.3.2.1.
type ImplementationClassUIDSubItem subItemWithName

func decodeImplementationClassUIDSubItem(d *dicomio.Reader, length uint16) (*ImplementationClassUIDSubItem, error) {
	name, err := decodeSubItemWithName(d, length)
	if err != nil {
		return nil, err
	}
	return &ImplementationClassUIDSubItem{Name: name}, nil
}

func (v *ImplementationClassUIDSubItem) Write(e *dicomio.Writer) error {
	return encodeSubItemWithName(e, ItemTypeImplementationClassUID, v.Name)
}

func (v *ImplementationClassUIDSubItem) String() string {
	return fmt.Sprintf("ImplementationClassUID{name: %q}", v.Name)
}

// ImplementationVersionNameSubItem is PS3.7 Annex D.3.3.2.3.
type ImplementationVersionNameSubItem subItemWithName

func decodeImplementationVersionNameSubItem(d *dicomio.Reader, length uint16) (*ImplementationVersionNameSubItem, error) {
	name, err := decodeSubItemWithName(d, length)
	if err != nil {
		return nil, err
	}
	return &ImplementationVersionNameSubItem{Name: name}, nil
}

func (v *ImplementationVersionNameSubItem) Write(e *dicomio.Writer) error {
	return encodeSubItemWithName(e, ItemTypeImplementationVersionName, v.Name)
}

func (v *ImplementationVersionNameSubItem) String() string {
	return fmt.Sprintf("ImplementationVersionName{name: %q}", v.Name)
}

// AsynchronousOperationsWindowSubItem is PS3.7 Annex D.3.3.3.1.
type AsynchronousOperationsWindowSubItem struct {
	MaxOpsInvoked   uint16
	MaxOpsPerformed uint16
}

func decodeAsynchronousOperationsWindowSubItem(d *dicomio.Reader, length uint16) (*AsynchronousOperationsWindowSubItem, error) {
	invoked, err := d.ReadUInt16()
	if err != nil {
		return nil, err
	}
	performed, err := d.ReadUInt16()
	if err != nil {
		return nil, err
	}
	return &AsynchronousOperationsWindowSubItem{
		MaxOpsInvoked:   invoked,
		MaxOpsPerformed: performed,
	}, nil
}

func (v *AsynchronousOperationsWindowSubItem) Write(e *dicomio.Writer) error {
	if err := encodeSubItemHeader(e, ItemTypeAsynchronousOperationsWindow, 2*2); err != nil {
		return err
	}
	if err := e.WriteUInt16(v.MaxOpsInvoked); err != nil {
		return err
	}
	return e.WriteUInt16(v.MaxOpsPerformed)
}

func (v *AsynchronousOperationsWindowSubItem) String() string {
	return fmt.Sprintf("AsynchronousOpsWindow{invoked: %d performed: %d}",
		v.MaxOpsInvoked, v.MaxOpsPerformed)
}

// RoleSelectionSubItem is PS3.7 Annex D.3.3.4. It proposes or acknowledges
// SCU/SCP role reversal for one SOP class.
type RoleSelectionSubItem struct {
	SOPClassUID string
	SCURole     byte
	SCPRole     byte
}

func decodeRoleSelectionSubItem(d *dicomio.Reader, length uint16) (*RoleSelectionSubItem, error) {
	uidLen, err := d.ReadUInt16()
	if err != nil {
		return nil, err
	}
	sop, err := d.ReadString(uint32(uidLen))
	if err != nil {
		return nil, err
	}
	scu, err := d.ReadUInt8()
	if err != nil {
		return nil, err
	}
	scp, err := d.ReadUInt8()
	if err != nil {
		return nil, err
	}
	return &RoleSelectionSubItem{SOPClassUID: sop, SCURole: scu, SCPRole: scp}, nil
}

func (v *RoleSelectionSubItem) Write(e *dicomio.Writer) error {
	if err := encodeSubItemHeader(e, ItemTypeRoleSelection, uint16(2+len(v.SOPClassUID)+1*2)); err != nil {
		return err
	}
	if err := e.WriteUInt16(uint16(len(v.SOPClassUID))); err != nil {
		return err
	}
	if err := e.WriteString(v.SOPClassUID); err != nil {
		return err
	}
	if err := e.WriteByte(v.SCURole); err != nil {
		return err
	}
	return e.WriteByte(v.SCPRole)
}

func (v *RoleSelectionSubItem) String() string {
	return fmt.Sprintf("RoleSelection{sopclassuid: %v, scu: %v, scp: %v}",
		v.SOPClassUID, v.SCURole, v.SCPRole)
}

// SOPClassExtendedNegotiationSubItem is PS3.7 Annex D.3.3.5. The
// service-class application information is carried verbatim.
type SOPClassExtendedNegotiationSubItem struct {
	SOPClassUID string
	Info        []byte
}

func decodeSOPClassExtendedNegotiationSubItem(d *dicomio.Reader, length uint16) (*SOPClassExtendedNegotiationSubItem, error) {
	uidLen, err := d.ReadUInt16()
	if err != nil {
		return nil, err
	}
	sop, err := d.ReadString(uint32(uidLen))
	if err != nil {
		return nil, err
	}
	info, err := readBytes(d, int(length)-2-int(uidLen))
	if err != nil {
		return nil, err
	}
	return &SOPClassExtendedNegotiationSubItem{SOPClassUID: sop, Info: info}, nil
}

func (v *SOPClassExtendedNegotiationSubItem) Write(e *dicomio.Writer) error {
	if err := encodeSubItemHeader(e, ItemTypeSOPClassExtendedNegotiation, uint16(2+len(v.SOPClassUID)+len(v.Info))); err != nil {
		return err
	}
	if err := e.WriteUInt16(uint16(len(v.SOPClassUID))); err != nil {
		return err
	}
	if err := e.WriteString(v.SOPClassUID); err != nil {
		return err
	}
	return e.WriteBytes(v.Info)
}

func (v *SOPClassExtendedNegotiationSubItem) String() string {
	return fmt.Sprintf("SOPClassExtendedNegotiation{sopclassuid: %v, info: %d bytes}",
		v.SOPClassUID, len(v.Info))
}

// CommonExtendedNegotiationSubItem is PS3.7 Annex D.3.3.6. It relates a SOP
// class to its service class and related general SOP classes.
type CommonExtendedNegotiationSubItem struct {
	SOPClassUID                string
	ServiceClassUID            string
	RelatedGeneralSOPClassUIDs []string
}

func decodeCommonExtendedNegotiationSubItem(d *dicomio.Reader, length uint16) (*CommonExtendedNegotiationSubItem, error) {
	if err := d.PushLimit(int64(length)); err != nil {
		return nil, err
	}
	defer d.PopLimit()
	v := &CommonExtendedNegotiationSubItem{}
	uidLen, err := d.ReadUInt16()
	if err != nil {
		return nil, err
	}
	if v.SOPClassUID, err = d.ReadString(uint32(uidLen)); err != nil {
		return nil, err
	}
	if uidLen, err = d.ReadUInt16(); err != nil {
		return nil, err
	}
	if v.ServiceClassUID, err = d.ReadString(uint32(uidLen)); err != nil {
		return nil, err
	}
	relatedLen, err := d.ReadUInt16()
	if err != nil {
		return nil, err
	}
	if err := d.PushLimit(int64(relatedLen)); err != nil {
		return nil, err
	}
	defer d.PopLimit()
	for !d.IsLimitExhausted() {
		n, err := d.ReadUInt16()
		if err != nil {
			return nil, err
		}
		uid, err := d.ReadString(uint32(n))
		if err != nil {
			return nil, err
		}
		v.RelatedGeneralSOPClassUIDs = append(v.RelatedGeneralSOPClassUIDs, uid)
	}
	return v, nil
}

func (v *CommonExtendedNegotiationSubItem) Write(e *dicomio.Writer) error {
	relatedLen := 0
	for _, uid := range v.RelatedGeneralSOPClassUIDs {
		relatedLen += 2 + len(uid)
	}
	length := 2 + len(v.SOPClassUID) + 2 + len(v.ServiceClassUID) + 2 + relatedLen
	if err := encodeSubItemHeader(e, ItemTypeCommonExtendedNegotiation, uint16(length)); err != nil {
		return err
	}
	if err := e.WriteUInt16(uint16(len(v.SOPClassUID))); err != nil {
		return err
	}
	if err := e.WriteString(v.SOPClassUID); err != nil {
		return err
	}
	if err := e.WriteUInt16(uint16(len(v.ServiceClassUID))); err != nil {
		return err
	}
	if err := e.WriteString(v.ServiceClassUID); err != nil {
		return err
	}
	if err := e.WriteUInt16(uint16(relatedLen)); err != nil {
		return err
	}
	for _, uid := range v.RelatedGeneralSOPClassUIDs {
		if err := e.WriteUInt16(uint16(len(uid))); err != nil {
			return err
		}
		if err := e.WriteString(uid); err != nil {
			return err
		}
	}
	return nil
}

func (v *CommonExtendedNegotiationSubItem) String() string {
	return fmt.Sprintf("CommonExtendedNegotiation{sopclassuid: %v, serviceclassuid: %v, related: %v}",
		v.SOPClassUID, v.ServiceClassUID, v.RelatedGeneralSOPClassUIDs)
}

// SubItemUnsupported is a container for item types this package does not
// interpret. The payload survives a decode/encode round trip untouched.
type SubItemUnsupported struct {
	Type byte
	Data []byte
}

func (v *SubItemUnsupported) Write(e *dicomio.Writer) error {
	if err := encodeSubItemHeader(e, v.Type, uint16(len(v.Data))); err != nil {
		return err
	}
	return e.WriteBytes(v.Data)
}

func (v *SubItemUnsupported) String() string {
	return fmt.Sprintf("SubItemUnsupported{type: 0x%0x data: %dbytes}",
		v.Type, len(v.Data))
}

// SubItemListString formats a list of sub-items for logging.
func SubItemListString(items []SubItem) string {
	buf := bytes.Buffer{}
	buf.WriteString("[")
	for i, subitem := range items {
		if i > 0 {
			buf.WriteString("\n")
		}
		buf.WriteString(subitem.String())
	}
	buf.WriteString("]")
	return buf.String()
}

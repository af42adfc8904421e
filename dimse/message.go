package dimse

// DIMSE message types, P3.7 9. Command sets are always encoded with the
// implicit-VR little-endian syntax regardless of the presentation context
// (P3.7 6.3.1).

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/openpacs/go-dicomnet/commandset"
	"github.com/suyashkumar/dicom"
)

// Message defines the common interface for all DIMSE message types.
type Message interface {
	fmt.Stringer // Print human-readable description for debugging.
	Encode(io.Writer) error
	// GetMessageID extracts the message ID field: MessageID for requests,
	// MessageIDBeingRespondedTo for responses.
	GetMessageID() MessageID
	// CommandField returns the command field value of this message.
	CommandField() uint16
	// GetStatus returns the response status value. It is nil for request
	// message types, and non-nil for response message types.
	GetStatus() *Status
	// HasData is true if we expect P_DATA_TF packets after the command
	// packets.
	HasData() bool
}

const (
	CommandFieldCStoreRq  uint16 = 0x0001
	CommandFieldCStoreRsp uint16 = 0x8001
	CommandFieldCGetRq    uint16 = 0x0010
	CommandFieldCGetRsp   uint16 = 0x8010
	CommandFieldCFindRq   uint16 = 0x0020
	CommandFieldCFindRsp  uint16 = 0x8020
	CommandFieldCMoveRq   uint16 = 0x0021
	CommandFieldCMoveRsp  uint16 = 0x8021
	CommandFieldCEchoRq   uint16 = 0x0030
	CommandFieldCEchoRsp  uint16 = 0x8030
	CommandFieldCCancelRq uint16 = 0x0FFF
)

// MessageID is a 16-bit message identifier allocated by the requester.
type MessageID = uint16

// Priority values for request messages. P3.7 9.1.1.1.
const (
	PriorityLow    uint16 = 0x0002
	PriorityMedium uint16 = 0x0000
	PriorityHigh   uint16 = 0x0001
)

// SubOperationCounts carries the four sub-operation counters lifted from a
// C-MOVE or C-GET response command set.
type SubOperationCounts struct {
	Remaining uint16
	Completed uint16
	Failed    uint16
	Warning   uint16
}

// ReadMessage decodes a DIMSE message from the reassembled command-set
// bytes of a P-DATA-TF sequence.
func ReadMessage(raw []byte) (Message, error) {
	elements, err := decodeCommandSet(raw)
	if err != nil {
		return nil, fmt.Errorf("ReadMessage: failed to parse command set: %w", err)
	}
	mDecoder := MessageDecoder{elements: elements}
	commandField, err := mDecoder.GetUInt16(commandset.CommandField, RequiredElement)
	if err != nil {
		return nil, fmt.Errorf("ReadMessage: failed to get command field: %w", err)
	}
	return mDecoder.Decode(commandField)
}

// EncodeMessage serializes the given message, prefixed with the
// CommandGroupLength element covering the remainder of the group.
func EncodeMessage(out io.Writer, v Message) error {
	writer, err := dicom.NewWriter(out)
	if err != nil {
		return fmt.Errorf("EncodeMessage: error creating writer: %w", err)
	}
	subEncoderBuffer := bytes.Buffer{}
	if err := v.Encode(&subEncoderBuffer); err != nil {
		return fmt.Errorf("EncodeMessage: error encoding message: %w", err)
	}
	// DIMSE messages are always encoded Implicit+LE. See P3.7 6.3.1.
	writer.SetTransferSyntax(binary.LittleEndian, true)
	element, err := NewElement(commandset.CommandGroupLength, subEncoderBuffer.Len())
	if err != nil {
		return fmt.Errorf("EncodeMessage: failed to create CommandGroupLength element: %w", err)
	}
	if err := writer.WriteElement(element); err != nil {
		return fmt.Errorf("EncodeMessage: failed to write CommandGroupLength element: %w", err)
	}
	if _, err := out.Write(subEncoderBuffer.Bytes()); err != nil {
		return fmt.Errorf("EncodeMessage: failed to write command set: %w", err)
	}
	return nil
}

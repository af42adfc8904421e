package dimse

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/openpacs/go-dicomnet/commandset"
	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

// NewElement wraps dicom.NewElement, converting the scalar types used by
// DIMSE message structs into the slice forms the element model expects.
func NewElement(t dicomtag.Tag, v interface{}) (*dicom.Element, error) {
	switch x := v.(type) {
	case uint16:
		return dicom.NewElement(t, []int{int(x)})
	case uint32:
		return dicom.NewElement(t, []int{int(x)})
	case int:
		return dicom.NewElement(t, []int{x})
	case StatusCode:
		return dicom.NewElement(t, []int{int(x)})
	case CommandDataSetType:
		return dicom.NewElement(t, []int{int(x)})
	case string:
		return dicom.NewElement(t, []string{x})
	case []string:
		return dicom.NewElement(t, x)
	default:
		return nil, fmt.Errorf("NewElement: unsupported value type %T for tag %s", v, t.String())
	}
}

// EncodeElements writes the elements with the implicit-VR little-endian
// syntax mandated for command sets.
func EncodeElements(out io.Writer, elems []*dicom.Element) error {
	writer, err := dicom.NewWriter(out)
	if err != nil {
		return fmt.Errorf("EncodeElements: error creating writer: %w", err)
	}
	writer.SetTransferSyntax(binary.LittleEndian, true)
	for _, elem := range elems {
		if err := writer.WriteElement(elem); err != nil {
			return fmt.Errorf("EncodeElements: failed to write element %s: %w", elem.Tag.String(), err)
		}
	}
	return nil
}

// commandSetBuilder accumulates the elements of one outgoing command set.
// The first element-construction failure is latched and reported by encode,
// so message Encode methods stay free of per-field error plumbing.
type commandSetBuilder struct {
	elems []*dicom.Element
	err   error
}

// newCommandSet starts a command set with its CommandField element.
func newCommandSet(commandField uint16) *commandSetBuilder {
	b := &commandSetBuilder{}
	b.add(commandset.CommandField, commandField)
	return b
}

// add appends one element. Accepts the scalar forms NewElement handles.
func (b *commandSetBuilder) add(t dicomtag.Tag, value interface{}) {
	if b.err != nil {
		return
	}
	elem, err := NewElement(t, value)
	if err != nil {
		b.err = fmt.Errorf("command set element %s: %w", t.String(), err)
		return
	}
	b.elems = append(b.elems, elem)
}

// addNonZero appends a uint16 element only when the value is set. Used for
// the optional sub-operation counters and originator message ID.
func (b *commandSetBuilder) addNonZero(t dicomtag.Tag, value uint16) {
	if value != 0 {
		b.add(t, value)
	}
}

// addNonEmpty appends a string element only when the value is set.
func (b *commandSetBuilder) addNonEmpty(t dicomtag.Tag, value string) {
	if value != "" {
		b.add(t, value)
	}
}

// addStatus appends the status code and, when present, the error comment.
func (b *commandSetBuilder) addStatus(s Status) {
	b.add(commandset.Status, s.Status)
	b.addNonEmpty(commandset.ErrorComment, s.ErrorComment)
}

// addCounts appends the four sub-operation counters, omitting zeros.
func (b *commandSetBuilder) addCounts(c SubOperationCounts) {
	b.addNonZero(commandset.NumberOfRemainingSuboperations, c.Remaining)
	b.addNonZero(commandset.NumberOfCompletedSuboperations, c.Completed)
	b.addNonZero(commandset.NumberOfFailedSuboperations, c.Failed)
	b.addNonZero(commandset.NumberOfWarningSuboperations, c.Warning)
}

// encode writes the accumulated set plus any unparsed extra elements with
// the implicit-VR little-endian command syntax.
func (b *commandSetBuilder) encode(out io.Writer, extra []*dicom.Element) error {
	if b.err != nil {
		return b.err
	}
	return EncodeElements(out, append(b.elems, extra...))
}

// Command-set tags holding 16-bit binary values.
var uint16CommandTags = map[dicomtag.Tag]bool{
	commandset.CommandField:                   true,
	commandset.MessageID:                      true,
	commandset.MessageIDBeingRespondedTo:      true,
	commandset.Priority:                       true,
	commandset.CommandDataSetType:             true,
	commandset.Status:                         true,
	commandset.MoveOriginatorMessageID:        true,
	commandset.NumberOfRemainingSuboperations: true,
	commandset.NumberOfCompletedSuboperations: true,
	commandset.NumberOfFailedSuboperations:    true,
	commandset.NumberOfWarningSuboperations:   true,
}

// Command-set tags holding text values.
var stringCommandTags = map[dicomtag.Tag]bool{
	commandset.AffectedSOPClassUID:                  true,
	commandset.RequestedSOPClassUID:                 true,
	commandset.AffectedSOPInstanceUID:               true,
	commandset.RequestedSOPInstanceUID:              true,
	commandset.MoveDestination:                      true,
	commandset.MoveOriginatorApplicationEntityTitle: true,
	commandset.ErrorComment:                         true,
}

// decodeCommandSet parses a raw implicit-VR little-endian command set into
// typed elements. Each element is tag(2+2), length(4), value(length).
// CommandGroupLength and tags this package does not interpret are dropped.
func decodeCommandSet(raw []byte) (map[dicomtag.Tag]*dicom.Element, error) {
	elements := make(map[dicomtag.Tag]*dicom.Element)
	r := bytes.NewReader(raw)
	for r.Len() > 0 {
		var group, element uint16
		var length uint32
		if err := binary.Read(r, binary.LittleEndian, &group); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &element); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
			return nil, err
		}
		value := make([]byte, length)
		if _, err := io.ReadFull(r, value); err != nil {
			return nil, fmt.Errorf("decodeCommandSet: truncated value for (%04x,%04x): %w", group, element, err)
		}
		t := dicomtag.Tag{Group: group, Element: element}
		switch {
		case t == commandset.CommandGroupLength:
			// Recomputed on encode.
		case uint16CommandTags[t]:
			if len(value) < 2 {
				return nil, fmt.Errorf("decodeCommandSet: short binary value for %s", t.String())
			}
			elem, err := NewElement(t, binary.LittleEndian.Uint16(value[:2]))
			if err != nil {
				return nil, err
			}
			elements[t] = elem
		case stringCommandTags[t]:
			s := strings.TrimRight(string(value), " \x00")
			elem, err := NewElement(t, s)
			if err != nil {
				return nil, err
			}
			elements[t] = elem
		default:
			// Unknown command element; ignored.
		}
	}
	return elements, nil
}

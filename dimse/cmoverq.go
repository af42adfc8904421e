package dimse

import (
	"fmt"
	"io"

	"github.com/openpacs/go-dicomnet/commandset"
	"github.com/suyashkumar/dicom"
)

// CMoveRq asks the peer to transmit the matching objects to another AE over
// a separate association. P3.7 9.3.4.1.
type CMoveRq struct {
	AffectedSOPClassUID string
	MessageID           MessageID
	Priority            uint16
	MoveDestination     string
	CommandDataSetType  CommandDataSetType
	Extra               []*dicom.Element // unparsed elements
}

func (v *CMoveRq) Encode(out io.Writer) error {
	cs := newCommandSet(CommandFieldCMoveRq)
	cs.add(commandset.AffectedSOPClassUID, v.AffectedSOPClassUID)
	cs.add(commandset.MessageID, v.MessageID)
	cs.add(commandset.Priority, v.Priority)
	cs.add(commandset.MoveDestination, v.MoveDestination)
	cs.add(commandset.CommandDataSetType, uint16(v.CommandDataSetType))
	return cs.encode(out, v.Extra)
}

func (CMoveRq) decode(d *MessageDecoder) (*CMoveRq, error) {
	v := &CMoveRq{}
	var err error
	if v.AffectedSOPClassUID, err = d.GetString(commandset.AffectedSOPClassUID, RequiredElement); err != nil {
		return nil, err
	}
	if v.MessageID, err = d.GetUInt16(commandset.MessageID, RequiredElement); err != nil {
		return nil, err
	}
	if v.Priority, err = d.GetUInt16(commandset.Priority, RequiredElement); err != nil {
		return nil, err
	}
	if v.MoveDestination, err = d.GetString(commandset.MoveDestination, RequiredElement); err != nil {
		return nil, err
	}
	if v.CommandDataSetType, err = d.GetCommandDataSetType(); err != nil {
		return nil, err
	}
	v.Extra = d.UnparsedElements()
	return v, nil
}

func (v *CMoveRq) HasData() bool {
	return v.CommandDataSetType != CommandDataSetTypeNull
}

func (v *CMoveRq) CommandField() uint16 {
	return CommandFieldCMoveRq
}

func (v *CMoveRq) GetMessageID() MessageID {
	return v.MessageID
}

func (v *CMoveRq) GetStatus() *Status {
	return nil
}

func (v *CMoveRq) String() string {
	return fmt.Sprintf("C-MOVE-RQ{id:%d cuid:%s dest:%s prio:%d}",
		v.MessageID, v.AffectedSOPClassUID, v.MoveDestination, v.Priority)
}

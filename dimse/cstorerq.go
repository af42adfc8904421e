package dimse

import (
	"fmt"
	"io"

	"github.com/openpacs/go-dicomnet/commandset"
	"github.com/suyashkumar/dicom"
)

// CStoreRq asks the peer to store one composite object. The dataset follows
// in the data PDVs. The move-originator fields are set only when the store
// is a C-MOVE sub-operation. P3.7 9.3.1.1.
type CStoreRq struct {
	AffectedSOPClassUID                  string
	MessageID                            MessageID
	Priority                             uint16
	CommandDataSetType                   CommandDataSetType
	AffectedSOPInstanceUID               string
	MoveOriginatorApplicationEntityTitle string
	MoveOriginatorMessageID              MessageID
	Extra                                []*dicom.Element // unparsed elements
}

func (v *CStoreRq) Encode(out io.Writer) error {
	cs := newCommandSet(CommandFieldCStoreRq)
	cs.add(commandset.AffectedSOPClassUID, v.AffectedSOPClassUID)
	cs.add(commandset.MessageID, v.MessageID)
	cs.add(commandset.Priority, v.Priority)
	cs.add(commandset.CommandDataSetType, uint16(v.CommandDataSetType))
	cs.add(commandset.AffectedSOPInstanceUID, v.AffectedSOPInstanceUID)
	cs.addNonEmpty(commandset.MoveOriginatorApplicationEntityTitle, v.MoveOriginatorApplicationEntityTitle)
	cs.addNonZero(commandset.MoveOriginatorMessageID, v.MoveOriginatorMessageID)
	return cs.encode(out, v.Extra)
}

func (CStoreRq) decode(d *MessageDecoder) (*CStoreRq, error) {
	v := &CStoreRq{}
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
	if v.CommandDataSetType, err = d.GetCommandDataSetType(); err != nil {
		return nil, err
	}
	if v.AffectedSOPInstanceUID, err = d.GetString(commandset.AffectedSOPInstanceUID, RequiredElement); err != nil {
		return nil, err
	}
	if v.MoveOriginatorApplicationEntityTitle, err = d.GetString(commandset.MoveOriginatorApplicationEntityTitle, OptionalElement); err != nil {
		return nil, err
	}
	if v.MoveOriginatorMessageID, err = d.GetUInt16(commandset.MoveOriginatorMessageID, OptionalElement); err != nil {
		return nil, err
	}
	v.Extra = d.UnparsedElements()
	return v, nil
}

func (v *CStoreRq) HasData() bool {
	return v.CommandDataSetType != CommandDataSetTypeNull
}

func (v *CStoreRq) CommandField() uint16 {
	return CommandFieldCStoreRq
}

func (v *CStoreRq) GetMessageID() MessageID {
	return v.MessageID
}

func (v *CStoreRq) GetStatus() *Status {
	return nil
}

func (v *CStoreRq) String() string {
	s := fmt.Sprintf("C-STORE-RQ{id:%d cuid:%s iuid:%s prio:%d",
		v.MessageID, v.AffectedSOPClassUID, v.AffectedSOPInstanceUID, v.Priority)
	if v.MoveOriginatorApplicationEntityTitle != "" {
		s += fmt.Sprintf(" origin:%s/%d", v.MoveOriginatorApplicationEntityTitle, v.MoveOriginatorMessageID)
	}
	return s + "}"
}

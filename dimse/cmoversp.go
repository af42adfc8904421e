package dimse

import (
	"fmt"
	"io"

	"github.com/openpacs/go-dicomnet/commandset"
	"github.com/suyashkumar/dicom"
)

// CMoveRsp reports move progress, with the same counter conventions as
// CGetRsp. P3.7 9.3.4.2.
type CMoveRsp struct {
	AffectedSOPClassUID            string
	MessageIDBeingRespondedTo      MessageID
	CommandDataSetType             CommandDataSetType
	NumberOfRemainingSuboperations uint16
	NumberOfCompletedSuboperations uint16
	NumberOfFailedSuboperations    uint16
	NumberOfWarningSuboperations   uint16
	Status                         Status
	Extra                          []*dicom.Element // unparsed elements
}

func (v *CMoveRsp) Encode(out io.Writer) error {
	cs := newCommandSet(CommandFieldCMoveRsp)
	cs.add(commandset.AffectedSOPClassUID, v.AffectedSOPClassUID)
	cs.add(commandset.MessageIDBeingRespondedTo, v.MessageIDBeingRespondedTo)
	cs.add(commandset.CommandDataSetType, uint16(v.CommandDataSetType))
	cs.addCounts(v.Counts())
	cs.addStatus(v.Status)
	return cs.encode(out, v.Extra)
}

func (CMoveRsp) decode(d *MessageDecoder) (*CMoveRsp, error) {
	v := &CMoveRsp{}
	var err error
	if v.AffectedSOPClassUID, err = d.GetString(commandset.AffectedSOPClassUID, OptionalElement); err != nil {
		return nil, err
	}
	if v.MessageIDBeingRespondedTo, err = d.GetUInt16(commandset.MessageIDBeingRespondedTo, RequiredElement); err != nil {
		return nil, err
	}
	if v.CommandDataSetType, err = d.GetCommandDataSetType(); err != nil {
		return nil, err
	}
	if v.NumberOfRemainingSuboperations, err = d.GetUInt16(commandset.NumberOfRemainingSuboperations, OptionalElement); err != nil {
		return nil, err
	}
	if v.NumberOfCompletedSuboperations, err = d.GetUInt16(commandset.NumberOfCompletedSuboperations, OptionalElement); err != nil {
		return nil, err
	}
	if v.NumberOfFailedSuboperations, err = d.GetUInt16(commandset.NumberOfFailedSuboperations, OptionalElement); err != nil {
		return nil, err
	}
	if v.NumberOfWarningSuboperations, err = d.GetUInt16(commandset.NumberOfWarningSuboperations, OptionalElement); err != nil {
		return nil, err
	}
	if v.Status, err = d.GetStatus(); err != nil {
		return nil, err
	}
	v.Extra = d.UnparsedElements()
	return v, nil
}

func (v *CMoveRsp) HasData() bool {
	return v.CommandDataSetType != CommandDataSetTypeNull
}

func (v *CMoveRsp) CommandField() uint16 {
	return CommandFieldCMoveRsp
}

func (v *CMoveRsp) GetMessageID() MessageID {
	return v.MessageIDBeingRespondedTo
}

func (v *CMoveRsp) GetStatus() *Status {
	return &v.Status
}

func (v *CMoveRsp) String() string {
	c := v.Counts()
	return fmt.Sprintf("C-MOVE-RSP{id:%d remaining:%d completed:%d failed:%d warning:%d status:0x%04x}",
		v.MessageIDBeingRespondedTo, c.Remaining, c.Completed, c.Failed, c.Warning,
		uint16(v.Status.Status))
}

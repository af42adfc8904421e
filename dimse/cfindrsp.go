package dimse

import (
	"fmt"
	"io"

	"github.com/openpacs/go-dicomnet/commandset"
	"github.com/suyashkumar/dicom"
)

// CFindRsp carries one match while pending, and the final outcome once the
// query drains. P3.7 9.3.2.2.
type CFindRsp struct {
	AffectedSOPClassUID       string
	MessageIDBeingRespondedTo MessageID
	CommandDataSetType        CommandDataSetType
	Status                    Status
	Extra                     []*dicom.Element // unparsed elements
}

func (v *CFindRsp) Encode(out io.Writer) error {
	cs := newCommandSet(CommandFieldCFindRsp)
	cs.add(commandset.AffectedSOPClassUID, v.AffectedSOPClassUID)
	cs.add(commandset.MessageIDBeingRespondedTo, v.MessageIDBeingRespondedTo)
	cs.add(commandset.CommandDataSetType, uint16(v.CommandDataSetType))
	cs.addStatus(v.Status)
	return cs.encode(out, v.Extra)
}

func (CFindRsp) decode(d *MessageDecoder) (*CFindRsp, error) {
	v := &CFindRsp{}
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
	if v.Status, err = d.GetStatus(); err != nil {
		return nil, err
	}
	v.Extra = d.UnparsedElements()
	return v, nil
}

func (v *CFindRsp) HasData() bool {
	return v.CommandDataSetType != CommandDataSetTypeNull
}

func (v *CFindRsp) CommandField() uint16 {
	return CommandFieldCFindRsp
}

func (v *CFindRsp) GetMessageID() MessageID {
	return v.MessageIDBeingRespondedTo
}

func (v *CFindRsp) GetStatus() *Status {
	return &v.Status
}

func (v *CFindRsp) String() string {
	return fmt.Sprintf("C-FIND-RSP{id:%d status:0x%04x}",
		v.MessageIDBeingRespondedTo, uint16(v.Status.Status))
}

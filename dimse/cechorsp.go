package dimse

import (
	"fmt"
	"io"

	"github.com/openpacs/go-dicomnet/commandset"
	"github.com/suyashkumar/dicom"
)

// CEchoRsp is the verification response. P3.7 9.3.5.2.
type CEchoRsp struct {
	MessageIDBeingRespondedTo MessageID
	CommandDataSetType        CommandDataSetType
	Status                    Status
	Extra                     []*dicom.Element // unparsed elements
}

func (v *CEchoRsp) Encode(out io.Writer) error {
	cs := newCommandSet(CommandFieldCEchoRsp)
	cs.add(commandset.MessageIDBeingRespondedTo, v.MessageIDBeingRespondedTo)
	cs.add(commandset.CommandDataSetType, uint16(v.CommandDataSetType))
	cs.addStatus(v.Status)
	return cs.encode(out, v.Extra)
}

func (CEchoRsp) decode(d *MessageDecoder) (*CEchoRsp, error) {
	v := &CEchoRsp{}
	var err error
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

func (v *CEchoRsp) HasData() bool {
	return v.CommandDataSetType != CommandDataSetTypeNull
}

func (v *CEchoRsp) CommandField() uint16 {
	return CommandFieldCEchoRsp
}

func (v *CEchoRsp) GetMessageID() MessageID {
	return v.MessageIDBeingRespondedTo
}

func (v *CEchoRsp) GetStatus() *Status {
	return &v.Status
}

func (v *CEchoRsp) String() string {
	return fmt.Sprintf("C-ECHO-RSP{id:%d status:0x%04x}",
		v.MessageIDBeingRespondedTo, uint16(v.Status.Status))
}

package dimse

import (
	"fmt"
	"io"

	"github.com/openpacs/go-dicomnet/commandset"
	"github.com/suyashkumar/dicom"
)

// CEchoRq is the verification request. P3.7 9.3.5.1.
type CEchoRq struct {
	MessageID          MessageID
	CommandDataSetType CommandDataSetType
	Extra              []*dicom.Element // unparsed elements
}

func (v *CEchoRq) Encode(out io.Writer) error {
	cs := newCommandSet(CommandFieldCEchoRq)
	cs.add(commandset.MessageID, v.MessageID)
	cs.add(commandset.CommandDataSetType, uint16(v.CommandDataSetType))
	return cs.encode(out, v.Extra)
}

func (CEchoRq) decode(d *MessageDecoder) (*CEchoRq, error) {
	v := &CEchoRq{}
	var err error
	if v.MessageID, err = d.GetUInt16(commandset.MessageID, RequiredElement); err != nil {
		return nil, err
	}
	if v.CommandDataSetType, err = d.GetCommandDataSetType(); err != nil {
		return nil, err
	}
	v.Extra = d.UnparsedElements()
	return v, nil
}

func (v *CEchoRq) HasData() bool {
	return v.CommandDataSetType != CommandDataSetTypeNull
}

func (v *CEchoRq) CommandField() uint16 {
	return CommandFieldCEchoRq
}

func (v *CEchoRq) GetMessageID() MessageID {
	return v.MessageID
}

func (v *CEchoRq) GetStatus() *Status {
	return nil
}

func (v *CEchoRq) String() string {
	return fmt.Sprintf("C-ECHO-RQ{id:%d}", v.MessageID)
}

package dimse

import (
	"fmt"
	"io"

	"github.com/openpacs/go-dicomnet/commandset"
	"github.com/suyashkumar/dicom"
)

// CCancelRq asks the performer to stop producing pending responses for an
// outstanding C-FIND, C-GET or C-MOVE. It has no response of its own; the
// cancelled operation terminates with status 0xFE00. P3.7 9.3.2.3.
type CCancelRq struct {
	MessageIDBeingRespondedTo MessageID
	CommandDataSetType        CommandDataSetType
	Extra                     []*dicom.Element // unparsed elements
}

func (v *CCancelRq) Encode(out io.Writer) error {
	cs := newCommandSet(CommandFieldCCancelRq)
	cs.add(commandset.MessageIDBeingRespondedTo, v.MessageIDBeingRespondedTo)
	cs.add(commandset.CommandDataSetType, uint16(v.CommandDataSetType))
	return cs.encode(out, v.Extra)
}

func (CCancelRq) decode(d *MessageDecoder) (*CCancelRq, error) {
	v := &CCancelRq{}
	var err error
	if v.MessageIDBeingRespondedTo, err = d.GetUInt16(commandset.MessageIDBeingRespondedTo, RequiredElement); err != nil {
		return nil, err
	}
	if v.CommandDataSetType, err = d.GetCommandDataSetType(); err != nil {
		return nil, err
	}
	v.Extra = d.UnparsedElements()
	return v, nil
}

func (v *CCancelRq) HasData() bool {
	return v.CommandDataSetType != CommandDataSetTypeNull
}

func (v *CCancelRq) CommandField() uint16 {
	return CommandFieldCCancelRq
}

func (v *CCancelRq) GetMessageID() MessageID {
	return v.MessageIDBeingRespondedTo
}

func (v *CCancelRq) GetStatus() *Status {
	return nil
}

func (v *CCancelRq) String() string {
	return fmt.Sprintf("C-CANCEL-RQ{id:%d}", v.MessageIDBeingRespondedTo)
}

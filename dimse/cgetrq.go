package dimse

import (
	"fmt"
	"io"

	"github.com/openpacs/go-dicomnet/commandset"
	"github.com/suyashkumar/dicom"
)

// CGetRq asks the peer to push the matching objects back through this same
// association as C-STORE sub-operations. P3.7 9.3.3.1.
type CGetRq struct {
	AffectedSOPClassUID string
	MessageID           MessageID
	Priority            uint16
	CommandDataSetType  CommandDataSetType
	Extra               []*dicom.Element // unparsed elements
}

func (v *CGetRq) Encode(out io.Writer) error {
	cs := newCommandSet(CommandFieldCGetRq)
	cs.add(commandset.AffectedSOPClassUID, v.AffectedSOPClassUID)
	cs.add(commandset.MessageID, v.MessageID)
	cs.add(commandset.Priority, v.Priority)
	cs.add(commandset.CommandDataSetType, uint16(v.CommandDataSetType))
	return cs.encode(out, v.Extra)
}

func (CGetRq) decode(d *MessageDecoder) (*CGetRq, error) {
	v := &CGetRq{}
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
	v.Extra = d.UnparsedElements()
	return v, nil
}

func (v *CGetRq) HasData() bool {
	return v.CommandDataSetType != CommandDataSetTypeNull
}

func (v *CGetRq) CommandField() uint16 {
	return CommandFieldCGetRq
}

func (v *CGetRq) GetMessageID() MessageID {
	return v.MessageID
}

func (v *CGetRq) GetStatus() *Status {
	return nil
}

func (v *CGetRq) String() string {
	return fmt.Sprintf("C-GET-RQ{id:%d cuid:%s prio:%d}",
		v.MessageID, v.AffectedSOPClassUID, v.Priority)
}

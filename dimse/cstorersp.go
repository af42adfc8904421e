package dimse

import (
	"fmt"
	"io"

	"github.com/openpacs/go-dicomnet/commandset"
	"github.com/suyashkumar/dicom"
)

// CStoreRsp acknowledges one stored object. P3.7 9.3.1.2.
type CStoreRsp struct {
	AffectedSOPClassUID       string
	MessageIDBeingRespondedTo MessageID
	CommandDataSetType        CommandDataSetType
	AffectedSOPInstanceUID    string
	Status                    Status
	Extra                     []*dicom.Element // unparsed elements
}

func (v *CStoreRsp) Encode(out io.Writer) error {
	cs := newCommandSet(CommandFieldCStoreRsp)
	cs.add(commandset.AffectedSOPClassUID, v.AffectedSOPClassUID)
	cs.add(commandset.MessageIDBeingRespondedTo, v.MessageIDBeingRespondedTo)
	cs.add(commandset.CommandDataSetType, uint16(v.CommandDataSetType))
	cs.add(commandset.AffectedSOPInstanceUID, v.AffectedSOPInstanceUID)
	cs.addStatus(v.Status)
	return cs.encode(out, v.Extra)
}

func (CStoreRsp) decode(d *MessageDecoder) (*CStoreRsp, error) {
	v := &CStoreRsp{}
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
	if v.AffectedSOPInstanceUID, err = d.GetString(commandset.AffectedSOPInstanceUID, OptionalElement); err != nil {
		return nil, err
	}
	if v.Status, err = d.GetStatus(); err != nil {
		return nil, err
	}
	v.Extra = d.UnparsedElements()
	return v, nil
}

func (v *CStoreRsp) HasData() bool {
	return v.CommandDataSetType != CommandDataSetTypeNull
}

func (v *CStoreRsp) CommandField() uint16 {
	return CommandFieldCStoreRsp
}

func (v *CStoreRsp) GetMessageID() MessageID {
	return v.MessageIDBeingRespondedTo
}

func (v *CStoreRsp) GetStatus() *Status {
	return &v.Status
}

func (v *CStoreRsp) String() string {
	return fmt.Sprintf("C-STORE-RSP{id:%d iuid:%s status:0x%04x}",
		v.MessageIDBeingRespondedTo, v.AffectedSOPInstanceUID, uint16(v.Status.Status))
}

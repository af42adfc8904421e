package dimse

import (
	"fmt"

	"github.com/openpacs/go-dicomnet/pdu"
)

// CommandAssembler assembles a DIMSE command message and its data payload
// from a sequence of P-DATA-TF PDUs. Fragments for one message share a
// presentation context ID; the command stream ends before the data stream
// begins, and each stream is closed by a fragment with the Last bit set.
type CommandAssembler struct {
	contextID      byte
	commandBytes   []byte
	command        Message
	dataBytes      []byte
	readAllCommand bool
	readAllData    bool
}

// AddDataPDU is to be called for each P-DATA-TF PDU received from the
// network. Once the last fragment of the message has been consumed it
// returns <contextID, command, data, nil>. If more fragments are needed, it
// returns <0, nil, nil, nil>. On a framing violation it returns a non-nil
// error, which must abort the association.
func (a *CommandAssembler) AddDataPDU(v *pdu.PDataTf) (byte, Message, []byte, error) {
	for _, item := range v.Items {
		if a.contextID == 0 {
			a.contextID = item.ContextID
		} else if a.contextID != item.ContextID {
			return 0, nil, nil, fmt.Errorf("P_DATA_TF: mixed presentation context: %d, %d", a.contextID, item.ContextID)
		}
		if item.Command {
			if a.readAllCommand {
				return 0, nil, nil, fmt.Errorf("P_DATA_TF: command fragment after the last command fragment")
			}
			a.commandBytes = append(a.commandBytes, item.Value...)
			if item.Last {
				a.readAllCommand = true
			}
		} else {
			if !a.readAllCommand {
				return 0, nil, nil, fmt.Errorf("P_DATA_TF: data fragment before the command stream completed")
			}
			if a.readAllData {
				return 0, nil, nil, fmt.Errorf("P_DATA_TF: data fragment after the last data fragment")
			}
			a.dataBytes = append(a.dataBytes, item.Value...)
			if item.Last {
				a.readAllData = true
			}
		}
	}
	if !a.readAllCommand {
		return 0, nil, nil, nil
	}
	if a.command == nil {
		var err error
		a.command, err = ReadMessage(a.commandBytes)
		if err != nil {
			return 0, nil, nil, err
		}
	}
	if a.command.HasData() && !a.readAllData {
		return 0, nil, nil, nil
	}
	contextID := a.contextID
	command := a.command
	dataBytes := a.dataBytes
	*a = CommandAssembler{}
	return contextID, command, dataBytes, nil
}

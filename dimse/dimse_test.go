package dimse

import (
	"bytes"
	"testing"

	"github.com/openpacs/go-dicomnet/pdu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v Message) Message {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, EncodeMessage(&buf, v))
	decoded, err := ReadMessage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, v.String(), decoded.String())
	assert.Equal(t, v.CommandField(), decoded.CommandField())
	assert.Equal(t, v.GetMessageID(), decoded.GetMessageID())
	return decoded
}

func TestCEchoRoundTrip(t *testing.T) {
	roundTrip(t, &CEchoRq{MessageID: 0x1234, CommandDataSetType: CommandDataSetTypeNull})
	rsp := roundTrip(t, &CEchoRsp{
		MessageIDBeingRespondedTo: 0x1234,
		CommandDataSetType:        CommandDataSetTypeNull,
		Status:                    Success,
	})
	require.NotNil(t, rsp.GetStatus())
	assert.Equal(t, StatusSuccess, rsp.GetStatus().Status)
}

func TestCStoreRoundTrip(t *testing.T) {
	rq := roundTrip(t, &CStoreRq{
		AffectedSOPClassUID:                  "1.2.840.10008.5.1.4.1.1.2",
		MessageID:                            7,
		Priority:                             PriorityMedium,
		CommandDataSetType:                   CommandDataSetTypeNonNull,
		AffectedSOPInstanceUID:               "1.2.3.4.5",
		MoveOriginatorApplicationEntityTitle: "MOVE-SCU",
		MoveOriginatorMessageID:              9,
	})
	assert.True(t, rq.HasData())
	roundTrip(t, &CStoreRsp{
		AffectedSOPClassUID:       "1.2.840.10008.5.1.4.1.1.2",
		MessageIDBeingRespondedTo: 7,
		CommandDataSetType:        CommandDataSetTypeNull,
		AffectedSOPInstanceUID:    "1.2.3.4.5",
		Status:                    Status{Status: CStoreCoercionOfDataElements},
	})
}

func TestCFindRoundTrip(t *testing.T) {
	roundTrip(t, &CFindRq{
		AffectedSOPClassUID: "1.2.840.10008.5.1.4.1.2.2.1",
		MessageID:           2,
		Priority:            PriorityHigh,
		CommandDataSetType:  CommandDataSetTypeNonNull,
	})
	roundTrip(t, &CFindRsp{
		AffectedSOPClassUID:       "1.2.840.10008.5.1.4.1.2.2.1",
		MessageIDBeingRespondedTo: 2,
		CommandDataSetType:        CommandDataSetTypeNonNull,
		Status:                    Status{Status: StatusPending},
	})
}

func TestCMoveCGetRoundTrip(t *testing.T) {
	roundTrip(t, &CMoveRq{
		AffectedSOPClassUID: "1.2.840.10008.5.1.4.1.2.2.2",
		MessageID:           3,
		Priority:            PriorityMedium,
		MoveDestination:     "DEST-AE",
		CommandDataSetType:  CommandDataSetTypeNonNull,
	})
	rsp := roundTrip(t, &CMoveRsp{
		AffectedSOPClassUID:            "1.2.840.10008.5.1.4.1.2.2.2",
		MessageIDBeingRespondedTo:      3,
		CommandDataSetType:             CommandDataSetTypeNull,
		NumberOfRemainingSuboperations: 5,
		NumberOfCompletedSuboperations: 2,
		NumberOfFailedSuboperations:    1,
		NumberOfWarningSuboperations:   1,
		Status:                         Status{Status: StatusPending},
	})
	counts := rsp.(*CMoveRsp).Counts()
	assert.Equal(t, SubOperationCounts{Remaining: 5, Completed: 2, Failed: 1, Warning: 1}, counts)

	roundTrip(t, &CGetRq{
		AffectedSOPClassUID: "1.2.840.10008.5.1.4.1.2.2.3",
		MessageID:           4,
		Priority:            PriorityMedium,
		CommandDataSetType:  CommandDataSetTypeNonNull,
	})
	roundTrip(t, &CGetRsp{
		AffectedSOPClassUID:            "1.2.840.10008.5.1.4.1.2.2.3",
		MessageIDBeingRespondedTo:      4,
		CommandDataSetType:             CommandDataSetTypeNull,
		NumberOfCompletedSuboperations: 5,
		Status:                         Success,
	})
}

func TestCCancelRoundTrip(t *testing.T) {
	roundTrip(t, &CCancelRq{
		MessageIDBeingRespondedTo: 11,
		CommandDataSetType:        CommandDataSetTypeNull,
	})
}

func TestStatusErrorComment(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, EncodeMessage(&buf, &CEchoRsp{
		MessageIDBeingRespondedTo: 1,
		CommandDataSetType:        CommandDataSetTypeNull,
		Status:                    Status{Status: StatusNotAuthorized, ErrorComment: "not on the list"},
	}))
	decoded, err := ReadMessage(buf.Bytes())
	require.NoError(t, err)
	status := decoded.GetStatus()
	require.NotNil(t, status)
	assert.Equal(t, StatusNotAuthorized, status.Status)
	assert.Equal(t, "not on the list", status.ErrorComment)
}

func TestStatusClassification(t *testing.T) {
	assert.True(t, StatusPending.IsPending())
	assert.True(t, StatusPendingAttributeListError.IsPending())
	assert.False(t, StatusSuccess.IsPending())
	assert.True(t, CStoreCoercionOfDataElements.IsWarning())
	assert.True(t, CStoreElementsDiscarded.IsWarning())
	assert.True(t, CStoreDataSetDoesNotMatchSOPClassW.IsWarning())
	assert.False(t, StatusSuccess.IsWarning())
	assert.False(t, StatusCancel.IsWarning())
}

func encodeToPDVs(t *testing.T, msg Message, data []byte, contextID byte, chunk int) []pdu.PDataTf {
	t.Helper()
	var cmdBuf bytes.Buffer
	require.NoError(t, EncodeMessage(&cmdBuf, msg))
	var pdus []pdu.PDataTf
	split := func(payload []byte, command bool) {
		for len(payload) > 0 {
			n := len(payload)
			if n > chunk {
				n = chunk
			}
			item := pdu.PresentationDataValueItem{
				ContextID: contextID,
				Command:   command,
				Last:      n == len(payload),
				Value:     payload[:n],
			}
			payload = payload[n:]
			pdus = append(pdus, pdu.PDataTf{Items: []pdu.PresentationDataValueItem{item}})
		}
	}
	split(cmdBuf.Bytes(), true)
	if msg.HasData() {
		split(data, false)
	}
	return pdus
}

func TestCommandAssemblerFragmented(t *testing.T) {
	msg := &CStoreRq{
		AffectedSOPClassUID:    "1.2.840.10008.5.1.4.1.1.2",
		MessageID:              1,
		Priority:               PriorityMedium,
		CommandDataSetType:     CommandDataSetTypeNonNull,
		AffectedSOPInstanceUID: "1.2.3",
	}
	payload := bytes.Repeat([]byte{0xAB}, 97)
	var assembler CommandAssembler
	pdus := encodeToPDVs(t, msg, payload, 5, 16)
	for i, p := range pdus {
		p := p
		contextID, command, data, err := assembler.AddDataPDU(&p)
		require.NoError(t, err)
		if i < len(pdus)-1 {
			assert.Nil(t, command, "message completed early at PDU %d", i)
			continue
		}
		require.NotNil(t, command)
		assert.Equal(t, byte(5), contextID)
		assert.Equal(t, msg.String(), command.String())
		assert.Equal(t, payload, data)
	}
}

func TestCommandAssemblerRejectsMixedContexts(t *testing.T) {
	var assembler CommandAssembler
	_, _, _, err := assembler.AddDataPDU(&pdu.PDataTf{Items: []pdu.PresentationDataValueItem{
		{ContextID: 1, Command: true, Last: false, Value: []byte{1}},
		{ContextID: 3, Command: true, Last: true, Value: []byte{2}},
	}})
	require.Error(t, err)
}

func TestCommandAssemblerRejectsDataBeforeCommand(t *testing.T) {
	var assembler CommandAssembler
	_, _, _, err := assembler.AddDataPDU(&pdu.PDataTf{Items: []pdu.PresentationDataValueItem{
		{ContextID: 1, Command: false, Last: true, Value: []byte{1}},
	}})
	require.Error(t, err)
}

func TestCommandAssemblerRejectsCommandAfterLast(t *testing.T) {
	msg := &CEchoRq{MessageID: 1, CommandDataSetType: CommandDataSetTypeNull}
	var cmdBuf bytes.Buffer
	require.NoError(t, EncodeMessage(&cmdBuf, msg))
	var assembler CommandAssembler
	// A full command in one PDV, plus a spurious trailing command PDV in
	// the same PDU.
	_, _, _, err := assembler.AddDataPDU(&pdu.PDataTf{Items: []pdu.PresentationDataValueItem{
		{ContextID: 1, Command: true, Last: true, Value: cmdBuf.Bytes()},
		{ContextID: 1, Command: true, Last: true, Value: []byte{0}},
	}})
	require.Error(t, err)
}

package pdu_test

import (
	"bytes"
	"testing"

	"github.com/openpacs/go-dicomnet/pdu"
	"github.com/openpacs/go-dicomnet/pdu/pdu_item"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMaxPDUSize = 4 << 20

func encodeDecode(t *testing.T, v pdu.PDU) pdu.PDU {
	t.Helper()
	data, err := pdu.EncodePDU(v)
	require.NoError(t, err)
	decoded, err := pdu.ReadPDU(bytes.NewReader(data), testMaxPDUSize)
	require.NoError(t, err)
	assert.Equal(t, v.String(), decoded.String())
	return decoded
}

func TestAAssociateRQRoundTrip(t *testing.T) {
	rq := &pdu.AAssociateRQ{
		ProtocolVersion: pdu.CurrentProtocolVersion,
		CalledAETitle:   "ARCHIVE",
		CallingAETitle:  "SCANNER",
		Items: []pdu_item.SubItem{
			&pdu_item.ApplicationContextItem{Name: pdu_item.DICOMApplicationContextItemName},
			&pdu_item.PresentationContextItem{
				Type:      pdu_item.ItemTypePresentationContextRequest,
				ContextID: 1,
				Items: []pdu_item.SubItem{
					&pdu_item.AbstractSyntaxSubItem{Name: "1.2.840.10008.5.1.4.1.1.2"},
					&pdu_item.TransferSyntaxSubItem{Name: "1.2.840.10008.1.2.1"},
					&pdu_item.TransferSyntaxSubItem{Name: "1.2.840.10008.1.2"},
				},
			},
			&pdu_item.UserInformationItem{
				Items: []pdu_item.SubItem{
					&pdu_item.UserInformationMaximumLengthItem{MaximumLengthReceived: 16384},
					&pdu_item.ImplementationClassUIDSubItem{Name: "1.2.3.4"},
					&pdu_item.ImplementationVersionNameSubItem{Name: "TEST_1"},
					&pdu_item.AsynchronousOperationsWindowSubItem{MaxOpsInvoked: 3, MaxOpsPerformed: 5},
					&pdu_item.RoleSelectionSubItem{
						SOPClassUID: "1.2.840.10008.5.1.4.1.1.2",
						SCURole:     0,
						SCPRole:     1,
					},
					&pdu_item.SOPClassExtendedNegotiationSubItem{
						SOPClassUID: "1.2.840.10008.5.1.4.1.2.2.1",
						Info:        []byte{1, 1, 1},
					},
					&pdu_item.CommonExtendedNegotiationSubItem{
						SOPClassUID:                "1.2.840.10008.5.1.4.1.1.2.1",
						ServiceClassUID:            "1.2.840.10008.4.2",
						RelatedGeneralSOPClassUIDs: []string{"1.2.840.10008.5.1.4.1.1.2"},
					},
				},
			},
		},
	}
	decoded := encodeDecode(t, rq).(*pdu.AAssociateRQ)
	assert.Equal(t, "ARCHIVE", decoded.CalledAETitle)
	assert.Equal(t, "SCANNER", decoded.CallingAETitle)
	assert.Len(t, decoded.Items, len(rq.Items))
}

func TestAAssociateACRoundTrip(t *testing.T) {
	ac := &pdu.AAssociateAC{
		ProtocolVersion: pdu.CurrentProtocolVersion,
		CalledAETitle:   "ARCHIVE",
		CallingAETitle:  "SCANNER",
		Items: []pdu_item.SubItem{
			&pdu_item.ApplicationContextItem{Name: pdu_item.DICOMApplicationContextItemName},
			&pdu_item.PresentationContextItem{
				Type:      pdu_item.ItemTypePresentationContextResponse,
				ContextID: 1,
				Result:    pdu_item.PresentationContextAccepted,
				Items: []pdu_item.SubItem{
					&pdu_item.TransferSyntaxSubItem{Name: "1.2.840.10008.1.2.1"},
				},
			},
			&pdu_item.PresentationContextItem{
				Type:      pdu_item.ItemTypePresentationContextResponse,
				ContextID: 3,
				Result:    pdu_item.PresentationContextProviderRejectionAbstractSyntaxNotSupported,
			},
			&pdu_item.UserInformationItem{
				Items: []pdu_item.SubItem{
					&pdu_item.UserInformationMaximumLengthItem{MaximumLengthReceived: 0},
				},
			},
		},
	}
	encodeDecode(t, ac)
}

func TestControlPDURoundTrips(t *testing.T) {
	encodeDecode(t, &pdu.AReleaseRq{})
	encodeDecode(t, &pdu.AReleaseRp{})
	encodeDecode(t, &pdu.AAssociateRj{
		Result: pdu.ResultRejectedPermanent,
		Source: pdu.SourceULServiceProviderACSE,
		Reason: pdu.RejectReasonCalledAETitleNotRecognized,
	})
	encodeDecode(t, &pdu.AAbort{
		Source: pdu.SourceULServiceUser,
		Reason: pdu.AbortReasonUnexpectedPDU,
	})
}

func TestPDataTfRoundTrip(t *testing.T) {
	v := &pdu.PDataTf{Items: []pdu.PresentationDataValueItem{
		{ContextID: 1, Command: true, Last: false, Value: []byte{1, 2, 3}},
		{ContextID: 1, Command: false, Last: true, Value: bytes.Repeat([]byte{0xCC}, 1024)},
	}}
	decoded := encodeDecode(t, v).(*pdu.PDataTf)
	require.Len(t, decoded.Items, 2)
	assert.True(t, decoded.Items[0].Command)
	assert.False(t, decoded.Items[0].Last)
	assert.False(t, decoded.Items[1].Command)
	assert.True(t, decoded.Items[1].Last)
	assert.Equal(t, v.Items[1].Value, decoded.Items[1].Value)
}

func TestReadPDURejectsOversizedLength(t *testing.T) {
	data, err := pdu.EncodePDU(&pdu.AReleaseRq{})
	require.NoError(t, err)
	_, err = pdu.ReadPDU(bytes.NewReader(data), 1)
	require.Error(t, err)
}

func TestReadPDURejectsUnknownType(t *testing.T) {
	raw := []byte{0x99, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, err := pdu.ReadPDU(bytes.NewReader(raw), testMaxPDUSize)
	require.Error(t, err)
}

func TestSubItemUnsupportedRoundTrip(t *testing.T) {
	rq := &pdu.AAssociateRQ{
		ProtocolVersion: pdu.CurrentProtocolVersion,
		CalledAETitle:   "A",
		CallingAETitle:  "B",
		Items: []pdu_item.SubItem{
			&pdu_item.SubItemUnsupported{Type: 0x60, Data: []byte{9, 9, 9}},
		},
	}
	decoded := encodeDecode(t, rq).(*pdu.AAssociateRQ)
	require.Len(t, decoded.Items, 1)
	unknown, ok := decoded.Items[0].(*pdu_item.SubItemUnsupported)
	require.True(t, ok)
	assert.Equal(t, []byte{9, 9, 9}, unknown.Data)
}

package dicomnet

import (
	"errors"
	"testing"

	"github.com/openpacs/go-dicomnet/sopclass"
	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func negotiate(t *testing.T, params ServiceUserParams, capabilities map[string][]string) (requestor, acceptor *contextManager) {
	t.Helper()
	requestor = newContextManager("rq")
	acceptor = newContextManager("ac")
	request := requestor.generateAssociateRequest(params)
	responses, err := acceptor.onAssociateRequest(request, capabilities, DefaultMaxPDUSize)
	require.NoError(t, err)
	require.NoError(t, requestor.onAssociateResponse(responses))
	return requestor, acceptor
}

func TestNegotiationAcceptsOneSyntaxPerContext(t *testing.T) {
	params := ServiceUserParams{
		CalledAETitle:  "B",
		CallingAETitle: "A",
		SOPClasses:     sopclass.VerificationClasses,
		TransferSyntaxes: []string{
			transfersyntax.ExplicitVRLittleEndian,
			transfersyntax.ImplicitVRLittleEndian,
		},
		MaxPDUSize: DefaultMaxPDUSize,
	}
	requestor, acceptor := negotiate(t, params, nil)
	entry, err := requestor.lookupByAbstractSyntaxUID(sopclass.Verification)
	require.NoError(t, err)
	assert.Equal(t, byte(1), entry.contextID)
	assert.Equal(t, transfersyntax.ExplicitVRLittleEndian, entry.transferSyntaxUID)

	// The acceptor holds the mirror image under the same context ID.
	accepted, err := acceptor.lookupByContextID(1)
	require.NoError(t, err)
	assert.Equal(t, sopclass.Verification, accepted.abstractSyntaxUID)
	assert.Equal(t, transfersyntax.ExplicitVRLittleEndian, accepted.transferSyntaxUID)
}

func TestNegotiationHonorsTransferCapabilities(t *testing.T) {
	cuid := "1.2.840.10008.5.1.4.1.1.2"
	params := ServiceUserParams{
		CalledAETitle:  "B",
		CallingAETitle: "A",
		ContextOffers: []ContextOffer{
			{AbstractSyntaxUID: cuid, TransferSyntaxUIDs: []string{
				transfersyntax.JPEGBaseline8Bit,
				transfersyntax.ExplicitVRLittleEndian,
			}},
			{AbstractSyntaxUID: "1.2.3.999", TransferSyntaxUIDs: []string{
				transfersyntax.ExplicitVRLittleEndian,
			}},
		},
		MaxPDUSize: DefaultMaxPDUSize,
	}
	capabilities := map[string][]string{
		cuid: {transfersyntax.ExplicitVRLittleEndian},
	}
	requestor, _ := negotiate(t, params, capabilities)

	// The capability list filtered the JPEG proposal down to explicit LE.
	entry, err := requestor.lookupByAbstractSyntaxUID(cuid)
	require.NoError(t, err)
	assert.Equal(t, transfersyntax.ExplicitVRLittleEndian, entry.transferSyntaxUID)

	// The unknown class was rejected entirely.
	_, err = requestor.lookupByAbstractSyntaxUID("1.2.3.999")
	assert.True(t, errors.Is(err, ErrNoAcceptedContext))
	_, err = requestor.lookupByContextID(3)
	assert.Error(t, err)
}

func TestSelectTransferSyntax(t *testing.T) {
	cuid := "1.2.840.10008.5.1.4.1.1.2"
	params := ServiceUserParams{
		CalledAETitle:  "B",
		CallingAETitle: "A",
		ContextOffers: []ContextOffer{
			{AbstractSyntaxUID: cuid, TransferSyntaxUIDs: []string{transfersyntax.ExplicitVRLittleEndian}},
			{AbstractSyntaxUID: cuid, TransferSyntaxUIDs: []string{transfersyntax.JPEGBaseline8Bit}},
		},
		MaxPDUSize: DefaultMaxPDUSize,
	}
	requestor, _ := negotiate(t, params, nil)

	// Source syntax accepted: picked as-is.
	entry, err := requestor.selectTransferSyntax(cuid, transfersyntax.JPEGBaseline8Bit)
	require.NoError(t, err)
	assert.Equal(t, transfersyntax.JPEGBaseline8Bit, entry.transferSyntaxUID)

	// Source syntax not accepted: first accepted syntax wins.
	entry, err = requestor.selectTransferSyntax(cuid, transfersyntax.RLELossless)
	require.NoError(t, err)
	assert.Equal(t, transfersyntax.ExplicitVRLittleEndian, entry.transferSyntaxUID)

	// Unknown SOP class.
	_, err = requestor.selectTransferSyntax("9.9.9", transfersyntax.ExplicitVRLittleEndian)
	assert.True(t, errors.Is(err, ErrNoAcceptedContext))
}

func TestNegotiationRoleSelection(t *testing.T) {
	cuid := "1.2.840.10008.5.1.4.1.1.2"
	params := ServiceUserParams{
		CalledAETitle:  "B",
		CallingAETitle: "A",
		ContextOffers: []ContextOffer{
			{AbstractSyntaxUID: cuid, TransferSyntaxUIDs: []string{transfersyntax.ExplicitVRLittleEndian}},
		},
		RoleSelections: []RoleSelection{
			{SOPClassUID: cuid, SCU: false, SCP: true},
		},
		MaxPDUSize: DefaultMaxPDUSize,
	}
	requestor, acceptor := negotiate(t, params, nil)

	entry, err := requestor.lookupByAbstractSyntaxUID(cuid)
	require.NoError(t, err)
	assert.False(t, entry.scuRole)
	assert.True(t, entry.scpRole)

	// Role selection is accepted as sent, so the acceptor records it too.
	accepted, err := acceptor.lookupByAbstractSyntaxUID(cuid)
	require.NoError(t, err)
	assert.False(t, accepted.scuRole)
	assert.True(t, accepted.scpRole)
}

func TestPeerMaxPDUSizeZeroMeansUnlimited(t *testing.T) {
	m := newContextManager("test")
	m.peerMaxPDUSize = 0
	assert.Equal(t, unlimitedChunkSize, m.effectivePeerMaxPDUSize())
	m.peerMaxPDUSize = 8192
	assert.Equal(t, 8192, m.effectivePeerMaxPDUSize())
}

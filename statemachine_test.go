package dicomnet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDataIntoPDUsFragmentation(t *testing.T) {
	sm := &stateMachine{
		label:          "test",
		contextManager: newContextManager("test"),
	}
	sm.contextManager.peerMaxPDUSize = 100
	data := bytes.Repeat([]byte{0x5A}, 1000)
	pdus := splitDataIntoPDUs(sm, 1, false, data)

	chunk := 100 - 6 // PDV framing overhead inside the PDU payload
	wantFragments := (len(data) + chunk - 1) / chunk
	require.Len(t, pdus, wantFragments)

	var reassembled []byte
	for i, p := range pdus {
		require.Len(t, p.Items, 1)
		item := p.Items[0]
		assert.Equal(t, byte(1), item.ContextID)
		assert.False(t, item.Command)
		assert.LessOrEqual(t, len(item.Value), chunk)
		assert.Equal(t, i == len(pdus)-1, item.Last)
		reassembled = append(reassembled, item.Value...)
	}
	assert.Equal(t, data, reassembled)
}

func TestSplitDataIntoPDUsUnlimitedPeer(t *testing.T) {
	sm := &stateMachine{
		label:          "test",
		contextManager: newContextManager("test"),
	}
	// A peer advertising zero means unlimited; the sender caps chunks
	// itself.
	sm.contextManager.peerMaxPDUSize = 0
	data := bytes.Repeat([]byte{1}, unlimitedChunkSize)
	pdus := splitDataIntoPDUs(sm, 3, true, data)
	require.Len(t, pdus, 2)
	assert.Equal(t, unlimitedChunkSize-6, len(pdus[0].Items[0].Value))
	assert.True(t, pdus[1].Items[0].Last)
}

package storage

import (
	"bytes"
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

const (
	testCUID = "1.2.840.10008.5.1.4.1.1.2"
	testIUID = "1.2.840.1.111.9"
)

// encodeTestDataset produces raw explicit-VR-LE dataset bytes the way they
// arrive in data PDVs.
func encodeTestDataset(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := dicom.NewWriter(&buf)
	require.NoError(t, err)
	w.SetTransferSyntax(binary.LittleEndian, false)
	for _, pair := range []struct {
		tag   dicomtag.Tag
		value []string
	}{
		{dicomtag.StudyDate, []string{"20240105"}},
		{dicomtag.SOPClassUID, []string{testCUID}},
		{dicomtag.SOPInstanceUID, []string{testIUID}},
		{dicomtag.StudyInstanceUID, []string{"1.2.840.1.111"}},
		{dicomtag.PatientID, []string{"P123"}},
	} {
		elem, err := dicom.NewElement(pair.tag, pair.value)
		require.NoError(t, err)
		require.NoError(t, w.WriteElement(elem))
	}
	return buf.Bytes()
}

func testConnInfo() dicomnet.ConnectionInfo {
	return dicomnet.ConnectionInfo{
		CalledAETitle:  "STORE-SCP",
		CallingAETitle: "STORE-SCU",
		RemoteAddr:     &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000},
	}
}

func TestStoreWritesObjectAtomically(t *testing.T) {
	dir := t.TempDir()
	scp, err := New(Config{Directory: dir}, nil)
	require.NoError(t, err)

	data := encodeTestDataset(t)
	status := scp.CStore(testConnInfo(), transfersyntax.ExplicitVRLittleEndian, testCUID, testIUID, data)
	require.Equal(t, dimse.StatusSuccess, status.Status)

	// The primary directory holds the complete object, the temp directory
	// nothing.
	finalPath := filepath.Join(dir, testIUID)
	content, err := os.ReadFile(finalPath)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(content, data), "dataset bytes must be stored unmodified")
	entries, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)

	// The synthesized header parses back with the right identifiers.
	ds, err := dicom.ParseFile(finalPath, nil)
	require.NoError(t, err)
	elem, err := ds.FindElementByTag(dicomtag.MediaStorageSOPInstanceUID)
	require.NoError(t, err)
	assert.Equal(t, []string{testIUID}, elem.Value.GetValue().([]string))
	elem, err = ds.FindElementByTag(dicomtag.TransferSyntaxUID)
	require.NoError(t, err)
	assert.Equal(t, []string{transfersyntax.ExplicitVRLittleEndian}, elem.Value.GetValue().([]string))

	assert.Equal(t, 1, scp.Progress().Completed())
	assert.Equal(t, finalPath, scp.Progress().ProcessedPath())
}

func TestStoreResolvesFilenamePattern(t *testing.T) {
	dir := t.TempDir()
	scp, err := New(Config{
		Directory:       dir,
		FilenamePattern: "{00080020,date,yyyy/MM/dd}/{00080018}.dcm",
	}, nil)
	require.NoError(t, err)

	status := scp.CStore(testConnInfo(), transfersyntax.ExplicitVRLittleEndian, testCUID, testIUID, encodeTestDataset(t))
	require.Equal(t, dimse.StatusSuccess, status.Status)
	_, err = os.Stat(filepath.Join(dir, "2024", "01", "05", testIUID+".dcm"))
	assert.NoError(t, err)
}

func TestStoreRejectsUnauthorizedCaller(t *testing.T) {
	dir := t.TempDir()
	scp, err := New(Config{
		Directory:         dir,
		AuthorizedCallers: []Caller{{AETitle: "FRIEND"}},
	}, nil)
	require.NoError(t, err)

	status := scp.CStore(testConnInfo(), transfersyntax.ExplicitVRLittleEndian, testCUID, testIUID, encodeTestDataset(t))
	assert.Equal(t, dimse.StatusNotAuthorized, status.Status)
	_, err = os.Stat(filepath.Join(dir, testIUID))
	assert.True(t, os.IsNotExist(err))
}

func TestStoreAuthorizedCallerMatches(t *testing.T) {
	dir := t.TempDir()
	scp, err := New(Config{
		Directory:         dir,
		AuthorizedCallers: []Caller{{AETitle: "STORE-SCU"}},
	}, nil)
	require.NoError(t, err)
	status := scp.CStore(testConnInfo(), transfersyntax.ExplicitVRLittleEndian, testCUID, testIUID, encodeTestDataset(t))
	assert.Equal(t, dimse.StatusSuccess, status.Status)
}

func TestStoreFailureUnlinksTempFile(t *testing.T) {
	dir := t.TempDir()
	scp, err := New(Config{
		Directory:       dir,
		FilenamePattern: "{00080018}.dcm",
	}, nil)
	require.NoError(t, err)

	// Garbage bytes defeat the re-parse required by the pattern.
	status := scp.CStore(testConnInfo(), transfersyntax.ExplicitVRLittleEndian, testCUID, testIUID,
		[]byte{0xDE, 0xAD, 0xBE, 0xEF})
	assert.Equal(t, dimse.CStoreCannotUnderstand, status.Status)
	entries, err := os.ReadDir(filepath.Join(dir, "tmp"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

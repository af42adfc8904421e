package scan

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/part10"
	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

func writeTestObject(t *testing.T, path, cuid, iuid, tsuid string) {
	t.Helper()
	var data bytes.Buffer
	w, err := dicom.NewWriter(&data)
	require.NoError(t, err)
	w.SetTransferSyntax(binary.LittleEndian, false)
	for _, pair := range []struct {
		tag   dicomtag.Tag
		value []string
	}{
		{dicomtag.SOPClassUID, []string{cuid}},
		{dicomtag.SOPInstanceUID, []string{iuid}},
	} {
		elem, err := dicom.NewElement(pair.tag, pair.value)
		require.NoError(t, err)
		require.NoError(t, w.WriteElement(elem))
	}
	blob, err := part10.WrapDataset(data.Bytes(), cuid, iuid, tsuid)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, blob, 0o644))
}

func TestScanBuildsManifestAndOffers(t *testing.T) {
	root := t.TempDir()
	ct := "1.2.840.10008.5.1.4.1.1.2"
	mr := "1.2.840.10008.5.1.4.1.1.4"
	writeTestObject(t, filepath.Join(root, "a", "ct1.dcm"), ct, "1.1.1", transfersyntax.ExplicitVRLittleEndian)
	writeTestObject(t, filepath.Join(root, "a", "ct2.dcm"), ct, "1.1.2", transfersyntax.ExplicitVRLittleEndian)
	writeTestObject(t, filepath.Join(root, "b", "mr1.dcm"), mr, "1.2.1", transfersyntax.ExplicitVRLittleEndian)
	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("not dicom"), 0o644))

	var printout strings.Builder
	res, err := Scan([]string{root}, Options{Printout: true, Out: &printout})
	require.NoError(t, err)
	defer os.Remove(res.ManifestPath)

	require.Len(t, res.Entries, 3)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, strings.Count(printout.String(), "."), 3)
	assert.Equal(t, strings.Count(printout.String(), "I"), 1)

	for _, e := range res.Entries {
		assert.NotEmpty(t, e.SOPInstanceUID)
		assert.Equal(t, transfersyntax.ExplicitVRLittleEndian, e.TransferSyntaxUID)
		assert.Greater(t, e.FileMetaEnd, int64(132))
		assert.Greater(t, e.Size, int64(0))
	}

	// One offer per SOP class, carrying the source syntax plus the two
	// uncompressed little-endian syntaxes.
	require.Len(t, res.ContextOffers, 2)
	for _, offer := range res.ContextOffers {
		assert.Contains(t, offer.TransferSyntaxUIDs, transfersyntax.ExplicitVRLittleEndian)
		assert.Contains(t, offer.TransferSyntaxUIDs, transfersyntax.ImplicitVRLittleEndian)
	}

	// The manifest holds one tab-separated row per entry.
	manifest, err := os.ReadFile(res.ManifestPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(manifest)), "\n")
	require.Len(t, lines, 3)
	fields := strings.Split(lines[0], "\t")
	require.Len(t, fields, 5)
}

func TestScanFileMetaEndMatchesDatasetStart(t *testing.T) {
	root := t.TempDir()
	ct := "1.2.840.10008.5.1.4.1.1.2"
	path := filepath.Join(root, "ct.dcm")
	writeTestObject(t, path, ct, "1.1.1", transfersyntax.ExplicitVRLittleEndian)

	res, err := Scan([]string{root}, Options{})
	require.NoError(t, err)
	defer os.Remove(res.ManifestPath)
	require.Len(t, res.Entries, 1)
	entry := res.Entries[0]

	// The bytes at FileMetaEnd are the first dataset element: group 0008
	// little endian.
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, int64(len(content)), entry.FileMetaEnd)
	assert.Equal(t, uint16(0x0008), binary.LittleEndian.Uint16(content[entry.FileMetaEnd:entry.FileMetaEnd+2]))
}

func TestScanHeaderlessFileSynthesizesMeta(t *testing.T) {
	root := t.TempDir()
	ct := "1.2.840.10008.5.1.4.1.1.2"
	// A bare implicit-VR-LE dataset with no preamble, magic word or
	// file-meta group.
	var data bytes.Buffer
	w, err := dicom.NewWriter(&data)
	require.NoError(t, err)
	w.SetTransferSyntax(binary.LittleEndian, true)
	for _, pair := range []struct {
		tag   dicomtag.Tag
		value []string
	}{
		{dicomtag.SOPClassUID, []string{ct}},
		{dicomtag.SOPInstanceUID, []string{"3.3.3"}},
	} {
		elem, err := dicom.NewElement(pair.tag, pair.value)
		require.NoError(t, err)
		require.NoError(t, w.WriteElement(elem))
	}
	path := filepath.Join(root, "raw.dcm")
	require.NoError(t, os.WriteFile(path, data.Bytes(), 0o644))

	res, err := Scan([]string{root}, Options{})
	require.NoError(t, err)
	defer os.Remove(res.ManifestPath)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, 0, res.Skipped)
	entry := res.Entries[0]
	assert.Equal(t, ct, entry.SOPClassUID)
	assert.Equal(t, "3.3.3", entry.SOPInstanceUID)
	// Missing file meta is synthesized with the inferred syntax; the
	// dataset starts at offset zero.
	assert.Equal(t, transfersyntax.ImplicitVRLittleEndian, entry.TransferSyntaxUID)
	assert.Equal(t, int64(0), entry.FileMetaEnd)
}

func TestScanXMLDataset(t *testing.T) {
	root := t.TempDir()
	xml := `<?xml version="1.0"?>
<NativeDicomModel>
  <DicomAttribute tag="00080016" vr="UI" keyword="SOPClassUID">
    <Value number="1">1.2.840.10008.5.1.4.1.1.2</Value>
  </DicomAttribute>
  <DicomAttribute tag="00080018" vr="UI" keyword="SOPInstanceUID">
    <Value number="1">9.8.7</Value>
  </DicomAttribute>
</NativeDicomModel>`
	require.NoError(t, os.WriteFile(filepath.Join(root, "object.xml"), []byte(xml), 0o644))

	res, err := Scan([]string{root}, Options{})
	require.NoError(t, err)
	defer os.Remove(res.ManifestPath)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "9.8.7", res.Entries[0].SOPInstanceUID)
	assert.Equal(t, transfersyntax.ExplicitVRLittleEndian, res.Entries[0].TransferSyntaxUID)
}

func TestScanExtendedNegotiationPerNewClass(t *testing.T) {
	root := t.TempDir()
	ct := "1.2.840.10008.5.1.4.1.1.2"
	writeTestObject(t, filepath.Join(root, "ct1.dcm"), ct, "1.1.1", transfersyntax.ExplicitVRLittleEndian)
	writeTestObject(t, filepath.Join(root, "ct2.dcm"), ct, "1.1.2", transfersyntax.ExplicitVRLittleEndian)

	res, err := Scan([]string{root}, Options{
		ExtendedNegotiations: map[string]dicomnet.ExtendedNegotiation{
			ct: {SOPClassUID: ct, ServiceClassUID: "1.2.840.10008.4.2"},
		},
	})
	require.NoError(t, err)
	defer os.Remove(res.ManifestPath)
	// Added once despite two objects of the class.
	require.Len(t, res.ExtendedNegotiations, 1)
	assert.Equal(t, ct, res.ExtendedNegotiations[0].SOPClassUID)
}

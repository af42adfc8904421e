package export

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

func matchElements(t *testing.T, patientID string) []*dicom.Element {
	t.Helper()
	elem, err := dicom.NewElement(dicomtag.PatientID, []string{patientID})
	require.NoError(t, err)
	return []*dicom.Element{elem}
}

func TestCounterPattern(t *testing.T) {
	w := &Writer{opts: Options{Pattern: "out/rsp-000.dcm"}}
	assert.Equal(t, "out/rsp-000.dcm", w.path(0))
	assert.Equal(t, "out/rsp-007.dcm", w.path(7))
	assert.Equal(t, "out/rsp-123.dcm", w.path(123))

	w = &Writer{opts: Options{Pattern: "rsp-###.xml"}}
	assert.Equal(t, "rsp-042.xml", w.path(42))

	w = &Writer{opts: Options{Pattern: "rsp.dcm"}}
	assert.Equal(t, "rsp-3.dcm", w.path(3))
}

func TestWriteDICOMMatches(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(Options{Pattern: filepath.Join(dir, "rsp-00.dcm")})
	require.NoError(t, err)
	require.NoError(t, w.Write(matchElements(t, "P1")))
	require.NoError(t, w.Write(matchElements(t, "P2")))
	require.NoError(t, w.Close())
	assert.Equal(t, 2, w.Count())

	for i, wantID := range []string{"P1", "P2"} {
		path := filepath.Join(dir, "rsp-0"+string(rune('0'+i))+".dcm")
		ds, err := dicom.ParseFile(path, nil)
		require.NoError(t, err, path)
		elem, err := ds.FindElementByTag(dicomtag.PatientID)
		require.NoError(t, err)
		assert.Equal(t, []string{wantID}, elem.Value.GetValue().([]string))
	}
}

func TestWriteXMLMatches(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(Options{Pattern: filepath.Join(dir, "rsp-0.xml"), Format: FormatXML})
	require.NoError(t, err)
	require.NoError(t, w.Write(matchElements(t, "P1")))
	require.NoError(t, w.Close())

	content, err := os.ReadFile(filepath.Join(dir, "rsp-0.xml"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "NativeDicomModel")
	assert.Contains(t, string(content), `tag="00100020"`)
	assert.Contains(t, string(content), "P1")
}

func TestWriteConcatenated(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(Options{
		Pattern:     filepath.Join(dir, "all-0.xml"),
		Format:      FormatXML,
		Concatenate: true,
	})
	require.NoError(t, err)
	require.NoError(t, w.Write(matchElements(t, "P1")))
	require.NoError(t, w.Write(matchElements(t, "P2")))
	require.NoError(t, w.Close())

	content, err := os.ReadFile(filepath.Join(dir, "all-0.xml"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(content), "<NativeDicomModel>"))
}

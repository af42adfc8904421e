package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

func testDataset(t *testing.T) *dicom.Dataset {
	t.Helper()
	var elems []*dicom.Element
	add := func(tg dicomtag.Tag, value interface{}) {
		elem, err := dicom.NewElement(tg, value)
		require.NoError(t, err)
		elems = append(elems, elem)
	}
	add(dicomtag.StudyDate, []string{"20240105"})
	add(dicomtag.StudyInstanceUID, []string{"1.2.840.1.111"})
	add(dicomtag.SOPInstanceUID, []string{"1.2.840.1.111.9"})
	add(dicomtag.PatientID, []string{"P/123"})
	return &dicom.Dataset{Elements: elems}
}

func TestPatternDatePathAndHash(t *testing.T) {
	p, err := CompilePattern("{00080020,date,yyyy/MM/dd}/{0020000D,hash}/{00080018}.dcm")
	require.NoError(t, err)
	got, err := p.Format(testDataset(t))
	require.NoError(t, err)
	assert.Regexp(t, `^2024/01/05/[0-9a-f]{8}/1\.2\.840\.1\.111\.9\.dcm$`, got)

	// Equal input hashes equally.
	again, err := p.Format(testDataset(t))
	require.NoError(t, err)
	assert.Equal(t, got, again)
}

func TestPatternSanitizesValues(t *testing.T) {
	p, err := CompilePattern("{00100020}/x.dcm")
	require.NoError(t, err)
	got, err := p.Format(testDataset(t))
	require.NoError(t, err)
	assert.Equal(t, "P_123/x.dcm", got)
}

func TestPatternMissingAttribute(t *testing.T) {
	p, err := CompilePattern("{00080060}.dcm")
	require.NoError(t, err)
	got, err := p.Format(testDataset(t))
	require.NoError(t, err)
	assert.Equal(t, "__.dcm", got)
}

func TestPatternErrors(t *testing.T) {
	_, err := CompilePattern("{0008}")
	assert.Error(t, err)
	_, err = CompilePattern("{00080020,frobnicate}")
	assert.Error(t, err)
	_, err = CompilePattern("{00080020")
	assert.Error(t, err)

	p, err := CompilePattern("")
	require.NoError(t, err)
	assert.Nil(t, p)
}

package hangingprotocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

func ctDataset(t *testing.T) *dicom.Dataset {
	t.Helper()
	modality, err := dicom.NewElement(dicomtag.Modality, []string{"CT"})
	require.NoError(t, err)
	bodyPart, err := dicom.NewElement(dicomtag.BodyPartExamined, []string{"CHEST"})
	require.NoError(t, err)
	return &dicom.Dataset{Elements: []*dicom.Element{modality, bodyPart}}
}

func TestSelectorMatching(t *testing.T) {
	ds := ctDataset(t)
	match := Selector{Tag: dicomtag.Modality, Values: []string{"CT", "MR"}}
	assert.True(t, match.Matches(ds))

	noMatch := Selector{Tag: dicomtag.Modality, Usage: UsageNoMatch, Values: []string{"US"}}
	assert.True(t, noMatch.Matches(ds))

	absent := Selector{Tag: dicomtag.PatientID, Values: []string{"X"}}
	assert.False(t, absent.Matches(ds))

	valueNumber := Selector{Tag: dicomtag.Modality, ValueNumber: 2, Values: []string{"CT"}}
	assert.False(t, valueNumber.Matches(ds), "value number beyond multiplicity must not match")
}

func TestImageSetMatchesAllSelectors(t *testing.T) {
	is := &ImageSet{Selectors: []Selector{
		{Tag: dicomtag.Modality, Values: []string{"CT"}},
		{Tag: dicomtag.BodyPartExamined, Values: []string{"CHEST"}},
	}}
	assert.True(t, is.Matches(ctDataset(t)))

	is.Selectors = append(is.Selectors, Selector{Tag: dicomtag.Modality, Usage: UsageNoMatch, Values: []string{"CT"}})
	assert.False(t, is.Matches(ctDataset(t)))
}

func buildProtocol(t *testing.T) (*Protocol, []*DisplaySet) {
	t.Helper()
	p := &Protocol{Name: "chest-ct"}
	n1 := p.AddImageSet(&ImageSet{Label: "current"})
	n2 := p.AddImageSet(&ImageSet{Label: "prior"})
	assert.Equal(t, 1, n1)
	assert.Equal(t, 2, n2)

	sets := []*DisplaySet{
		{Label: "left", ImageSetNumber: 1, PresentationGroup: 1},
		{Label: "right", ImageSetNumber: 2, PresentationGroup: 1},
		{Label: "aux", ImageSetNumber: 1, PresentationGroup: 2},
	}
	for _, ds := range sets {
		require.NoError(t, p.AddDisplaySet(ds))
	}
	p.ScrollingGroups = []*ScrollingGroup{{DisplaySets: []*DisplaySet{sets[0], sets[1]}}}
	p.NavigationGroups = []*NavigationGroup{{Reference: sets[0], DisplaySets: []*DisplaySet{sets[2]}}}
	require.NoError(t, p.Validate())
	return p, sets
}

func TestAddDisplaySetValidation(t *testing.T) {
	p := &Protocol{}
	p.AddImageSet(&ImageSet{})
	assert.Error(t, p.AddDisplaySet(&DisplaySet{ImageSetNumber: 2, PresentationGroup: 1}))
	assert.Error(t, p.AddDisplaySet(&DisplaySet{ImageSetNumber: 1, PresentationGroup: 0}))
	assert.NoError(t, p.AddDisplaySet(&DisplaySet{ImageSetNumber: 1, PresentationGroup: 1}))
}

func TestRemoveDisplaySetCascades(t *testing.T) {
	p, sets := buildProtocol(t)

	// Removing a scrolling-group member dissolves the two-member group.
	p.RemoveDisplaySet(sets[1])
	assert.Len(t, p.DisplaySets, 2)
	assert.Empty(t, p.ScrollingGroups)
	require.NoError(t, p.Validate())

	// Removing the navigation reference dissolves the navigation group.
	p.RemoveDisplaySet(sets[0])
	assert.Empty(t, p.NavigationGroups)
	require.NoError(t, p.Validate())
}

func TestValidateDetectsDanglingReference(t *testing.T) {
	p, sets := buildProtocol(t)
	// Bypass RemoveDisplaySet to simulate a stale reference.
	p.DisplaySets = []*DisplaySet{sets[0], sets[2]}
	assert.Error(t, p.Validate())
}

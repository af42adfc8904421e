// Package hangingprotocol models the Hanging Protocol information object:
// how retrieved images are grouped into image sets and laid out on screens.
// It is a data model with referential invariants, not a renderer.
package hangingprotocol

import (
	"fmt"
	"strings"

	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

// SelectorUsage states whether a selector must match or must not match.
type SelectorUsage int

const (
	UsageMatch SelectorUsage = iota
	UsageNoMatch
)

// Selector is one predicate over a DICOM attribute.
type Selector struct {
	Tag         dicomtag.Tag
	ValueNumber int // 1-based index into the attribute's values; 0 means any
	Usage       SelectorUsage
	Values      []string
}

// Matches evaluates the selector against a dataset.
func (s Selector) Matches(ds *dicom.Dataset) bool {
	matched := s.valueMatches(ds)
	if s.Usage == UsageNoMatch {
		return !matched
	}
	return matched
}

func (s Selector) valueMatches(ds *dicom.Dataset) bool {
	elem, err := ds.FindElementByTag(s.Tag)
	if err != nil || elem.Value == nil {
		return false
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok {
		return false
	}
	candidates := values
	if s.ValueNumber > 0 {
		if s.ValueNumber > len(values) {
			return false
		}
		candidates = values[s.ValueNumber-1 : s.ValueNumber]
	}
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		for _, want := range s.Values {
			if candidate == want {
				return true
			}
		}
	}
	return false
}

// TimeBasedSelector restricts an image set to a relative time window,
// counted back from the most recent study.
type TimeBasedSelector struct {
	Units  string // "SECONDS", "DAYS", "WEEKS", ...
	Amount int
}

// Definition states which studies a protocol applies to.
type Definition struct {
	Modality                    string
	Laterality                  string
	AnatomicRegion              string
	ProcedureCode               string
	ReasonForRequestedProcedure string
}

// ScreenDefinition describes one physical display environment.
type ScreenDefinition struct {
	Rows             int
	Columns          int
	BitDepth         int
	ColorSupported   bool
	DiagonalDistance float64 // millimetres
}

// ImageSet selects a group of images by its selector list plus an optional
// time-based sub-list.
type ImageSet struct {
	Selectors []Selector
	TimeBased []TimeBasedSelector
	Label     string
}

// Matches reports whether a dataset belongs to the image set: every
// selector predicate must hold.
func (is *ImageSet) Matches(ds *dicom.Dataset) bool {
	for _, sel := range is.Selectors {
		if !sel.Matches(ds) {
			return false
		}
	}
	return true
}

// DisplaySet places one image set into a layout box.
type DisplaySet struct {
	Label             string
	ImageSetNumber    int // position+1 of the referenced image set
	PresentationGroup int // >= 1
	Rows              int
	Columns           int
}

// ScrollingGroup scrolls its display sets in lockstep.
type ScrollingGroup struct {
	DisplaySets []*DisplaySet
}

// NavigationGroup navigates its display sets from a reference set.
type NavigationGroup struct {
	Reference   *DisplaySet
	DisplaySets []*DisplaySet
}

// Protocol is the root hanging-protocol object. All lists are ordered;
// image sets are referenced by their position+1.
type Protocol struct {
	Name              string
	Definitions       []Definition
	ScreenDefinitions []ScreenDefinition
	ImageSets         []*ImageSet
	DisplaySets       []*DisplaySet
	ScrollingGroups   []*ScrollingGroup
	NavigationGroups  []*NavigationGroup
}

// AddImageSet appends an image set and returns its number (position+1).
func (p *Protocol) AddImageSet(is *ImageSet) int {
	p.ImageSets = append(p.ImageSets, is)
	return len(p.ImageSets)
}

// AddDisplaySet appends a display set referencing imageSetNumber.
func (p *Protocol) AddDisplaySet(ds *DisplaySet) error {
	if ds.ImageSetNumber < 1 || ds.ImageSetNumber > len(p.ImageSets) {
		return fmt.Errorf("display set %q references image set %d of %d",
			ds.Label, ds.ImageSetNumber, len(p.ImageSets))
	}
	if ds.PresentationGroup < 1 {
		return fmt.Errorf("display set %q: presentation group must be >= 1, got %d",
			ds.Label, ds.PresentationGroup)
	}
	p.DisplaySets = append(p.DisplaySets, ds)
	return nil
}

// RemoveDisplaySet removes a display set. References held by scrolling and
// navigation groups cascade: the display set is dropped from every group,
// and groups left with fewer than two members dissolve.
func (p *Protocol) RemoveDisplaySet(ds *DisplaySet) {
	p.DisplaySets = removeDisplaySet(p.DisplaySets, ds)
	var scrolling []*ScrollingGroup
	for _, g := range p.ScrollingGroups {
		g.DisplaySets = removeDisplaySet(g.DisplaySets, ds)
		if len(g.DisplaySets) >= 2 {
			scrolling = append(scrolling, g)
		}
	}
	p.ScrollingGroups = scrolling
	var navigation []*NavigationGroup
	for _, g := range p.NavigationGroups {
		if g.Reference == ds {
			continue
		}
		g.DisplaySets = removeDisplaySet(g.DisplaySets, ds)
		if len(g.DisplaySets) >= 1 {
			navigation = append(navigation, g)
		}
	}
	p.NavigationGroups = navigation
}

func removeDisplaySet(sets []*DisplaySet, ds *DisplaySet) []*DisplaySet {
	out := sets[:0]
	for _, s := range sets {
		if s != ds {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the cross-reference invariants: display-set image-set
// numbers are in range, presentation groups are positive, and every group
// member is a live display set.
func (p *Protocol) Validate() error {
	live := make(map[*DisplaySet]bool, len(p.DisplaySets))
	for _, ds := range p.DisplaySets {
		if ds.ImageSetNumber < 1 || ds.ImageSetNumber > len(p.ImageSets) {
			return fmt.Errorf("display set %q references image set %d of %d",
				ds.Label, ds.ImageSetNumber, len(p.ImageSets))
		}
		if ds.PresentationGroup < 1 {
			return fmt.Errorf("display set %q: presentation group %d", ds.Label, ds.PresentationGroup)
		}
		live[ds] = true
	}
	for i, g := range p.ScrollingGroups {
		for _, ds := range g.DisplaySets {
			if !live[ds] {
				return fmt.Errorf("scrolling group %d references a removed display set", i)
			}
		}
	}
	for i, g := range p.NavigationGroups {
		if g.Reference != nil && !live[g.Reference] {
			return fmt.Errorf("navigation group %d references a removed display set", i)
		}
		for _, ds := range g.DisplaySets {
			if !live[ds] {
				return fmt.Errorf("navigation group %d references a removed display set", i)
			}
		}
	}
	return nil
}

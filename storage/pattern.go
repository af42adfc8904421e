package storage

// Filename-format patterns: a string template over DICOM tags, e.g.
// "{00080020,date,yyyy/MM/dd}/{0020000D,hash}/{00080018}.dcm". Each
// placeholder names a tag in hex, optionally followed by a formatter and
// its argument.

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
)

// PathPattern is a compiled filename-format template.
type PathPattern struct {
	raw      string
	segments []patternSegment
}

type patternSegment struct {
	literal string // set when tag is zero
	tag     dicomtag.Tag
	format  string // "", "date", "hash"
	arg     string // formatter argument (date layout)
}

// CompilePattern parses a filename-format template. An empty pattern yields
// a nil PathPattern, which formats to the SOP instance UID.
func CompilePattern(pattern string) (*PathPattern, error) {
	if pattern == "" {
		return nil, nil
	}
	p := &PathPattern{raw: pattern}
	rest := pattern
	for len(rest) > 0 {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			p.segments = append(p.segments, patternSegment{literal: rest})
			break
		}
		if open > 0 {
			p.segments = append(p.segments, patternSegment{literal: rest[:open]})
		}
		closing := strings.IndexByte(rest[open:], '}')
		if closing < 0 {
			return nil, fmt.Errorf("pattern %q: unterminated placeholder", pattern)
		}
		placeholder := rest[open+1 : open+closing]
		rest = rest[open+closing+1:]
		seg, err := parsePlaceholder(placeholder)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		p.segments = append(p.segments, seg)
	}
	return p, nil
}

func parsePlaceholder(s string) (patternSegment, error) {
	parts := strings.SplitN(s, ",", 3)
	if len(parts[0]) != 8 {
		return patternSegment{}, fmt.Errorf("placeholder %q: tag must be 8 hex digits", s)
	}
	group, err := strconv.ParseUint(parts[0][:4], 16, 16)
	if err != nil {
		return patternSegment{}, fmt.Errorf("placeholder %q: %v", s, err)
	}
	element, err := strconv.ParseUint(parts[0][4:], 16, 16)
	if err != nil {
		return patternSegment{}, fmt.Errorf("placeholder %q: %v", s, err)
	}
	seg := patternSegment{tag: dicomtag.Tag{Group: uint16(group), Element: uint16(element)}}
	if len(parts) > 1 {
		seg.format = parts[1]
		switch seg.format {
		case "date", "hash":
		default:
			return patternSegment{}, fmt.Errorf("placeholder %q: unknown formatter %q", s, seg.format)
		}
	}
	if len(parts) > 2 {
		seg.arg = parts[2]
	}
	return seg, nil
}

// Format renders the relative path for one dataset. A missing attribute
// renders as "__" in a placeholder without a formatter; a "hash"
// placeholder hashes the empty string and a "date" placeholder renders the
// zero date (0001/01/01 in the default layout).
func (p *PathPattern) Format(ds *dicom.Dataset) (string, error) {
	var b strings.Builder
	for _, seg := range p.segments {
		if seg.tag == (dicomtag.Tag{}) {
			b.WriteString(seg.literal)
			continue
		}
		value := elementString(ds, seg.tag)
		switch seg.format {
		case "":
			if value == "" {
				value = "__"
			}
			b.WriteString(sanitize(value))
		case "hash":
			h := fnv.New32a()
			h.Write([]byte(value))
			fmt.Fprintf(&b, "%08x", h.Sum32())
		case "date":
			formatted, err := formatDate(value, seg.arg)
			if err != nil {
				return "", err
			}
			b.WriteString(formatted)
		}
	}
	return b.String(), nil
}

func elementString(ds *dicom.Dataset, t dicomtag.Tag) string {
	elem, err := ds.FindElementByTag(t)
	if err != nil || elem.Value == nil {
		return ""
	}
	switch v := elem.Value.GetValue().(type) {
	case []string:
		if len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
	case []int:
		if len(v) > 0 {
			return strconv.Itoa(v[0])
		}
	}
	return ""
}

// formatDate renders a DA value (yyyyMMdd) with a layout written in
// DICOM-style tokens: yyyy, MM, dd, HH, mm, ss.
func formatDate(value, layout string) (string, error) {
	if layout == "" {
		layout = "yyyy/MM/dd"
	}
	t := time.Time{}
	if len(value) >= 8 {
		parsed, err := time.Parse("20060102", value[:8])
		if err != nil {
			return "", fmt.Errorf("invalid DA value %q: %v", value, err)
		}
		t = parsed
	}
	goLayout := strings.NewReplacer(
		"yyyy", "2006",
		"MM", "01",
		"dd", "02",
		"HH", "15",
		"mm", "04",
		"ss", "05",
	).Replace(layout)
	return t.Format(goLayout), nil
}

// sanitize strips path separators and characters unsafe in file names from
// an attribute value.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, s)
}

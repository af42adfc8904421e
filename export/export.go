// Package export writes C-FIND matches to disk, one file per match or one
// concatenated file, as DICOM datasets or Native DICOM Model XML.
package export

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openpacs/go-dicomnet/part10"
	"github.com/openpacs/go-dicomnet/transfersyntax"
	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
)

// Format selects the on-disk representation of a match.
type Format int

const (
	FormatDICOM Format = iota
	FormatXML
)

// Options configures a match writer.
type Options struct {
	// Pattern is the output path template. A run of '0' or '#' characters
	// is replaced by the zero-padded match counter, e.g.
	// "matches/rsp-000.dcm" yields rsp-000.dcm, rsp-001.dcm, ...
	// A pattern without a counter run gets "-N" (the match counter)
	// inserted before the extension, e.g. "rsp.dcm" yields rsp-3.dcm.
	Pattern string

	Format Format

	// Concatenate writes all matches into a single file (the pattern with
	// the counter fixed at zero).
	Concatenate bool

	// SOPClassUID names the query SOP class recorded in the synthesized
	// file meta of DICOM output.
	SOPClassUID string
}

// Writer persists a sequence of matches.
type Writer struct {
	opts    Options
	counter int
	file    *os.File // open only in concatenate mode
	log     *logrus.Entry
}

// NewWriter builds a match writer and creates the target directory.
func NewWriter(opts Options) (*Writer, error) {
	if opts.Pattern == "" {
		return nil, fmt.Errorf("export: pattern must be set")
	}
	if dir := filepath.Dir(opts.Pattern); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &Writer{
		opts: opts,
		log:  logrus.WithField("component", "export"),
	}, nil
}

// Write persists one match.
func (w *Writer) Write(elems []*dicom.Element) error {
	data, err := w.encode(elems)
	if err != nil {
		return err
	}
	if w.opts.Concatenate {
		if w.file == nil {
			w.file, err = os.Create(w.path(0))
			if err != nil {
				return err
			}
		}
		_, err = w.file.Write(data)
		w.counter++
		return err
	}
	path := w.path(w.counter)
	w.counter++
	w.log.WithField("path", path).Debug("Writing match")
	return os.WriteFile(path, data, 0o644)
}

// Count returns the number of matches written.
func (w *Writer) Count() int { return w.counter }

// Close flushes the concatenated file, if any.
func (w *Writer) Close() error {
	if w.file != nil {
		err := w.file.Close()
		w.file = nil
		return err
	}
	return nil
}

func (w *Writer) encode(elems []*dicom.Element) ([]byte, error) {
	switch w.opts.Format {
	case FormatXML:
		return encodeXML(elems)
	default:
		return w.encodeDICOM(elems)
	}
}

func (w *Writer) encodeDICOM(elems []*dicom.Element) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := dicom.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	writer.SetTransferSyntax(transfersyntax.ByteOrder(transfersyntax.ExplicitVRLittleEndian), false)
	for _, elem := range elems {
		if err := writer.WriteElement(elem); err != nil {
			return nil, err
		}
	}
	cuid := w.opts.SOPClassUID
	if cuid == "" {
		cuid = "1.2.840.10008.5.1.4.1.2.2.1"
	}
	iuid := fmt.Sprintf("0.0.%d", w.counter)
	return part10.WrapDataset(buf.Bytes(), cuid, iuid, transfersyntax.ExplicitVRLittleEndian)
}

// nativeAttribute is one DicomAttribute row of the Native DICOM Model.
type nativeAttribute struct {
	XMLName xml.Name `xml:"DicomAttribute"`
	Tag     string   `xml:"tag,attr"`
	VR      string   `xml:"vr,attr"`
	Values  []nativeValue
}

type nativeValue struct {
	XMLName xml.Name `xml:"Value"`
	Number  int      `xml:"number,attr"`
	Value   string   `xml:",chardata"`
}

type nativeModel struct {
	XMLName    xml.Name `xml:"NativeDicomModel"`
	Attributes []nativeAttribute
}

func encodeXML(elems []*dicom.Element) ([]byte, error) {
	model := nativeModel{}
	for _, elem := range elems {
		attr := nativeAttribute{
			Tag: fmt.Sprintf("%04X%04X", elem.Tag.Group, elem.Tag.Element),
			VR:  elem.RawValueRepresentation,
		}
		if elem.Value != nil {
			switch values := elem.Value.GetValue().(type) {
			case []string:
				for i, v := range values {
					attr.Values = append(attr.Values, nativeValue{Number: i + 1, Value: v})
				}
			case []int:
				for i, v := range values {
					attr.Values = append(attr.Values, nativeValue{Number: i + 1, Value: fmt.Sprint(v)})
				}
			}
		}
		model.Attributes = append(model.Attributes, attr)
	}
	out, err := xml.MarshalIndent(model, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

// path renders the counter pattern for match n.
func (w *Writer) path(n int) string {
	pattern := w.opts.Pattern
	start, end := counterRun(pattern)
	if start < 0 {
		// No counter run: number before the extension.
		ext := filepath.Ext(pattern)
		return fmt.Sprintf("%s-%d%s", strings.TrimSuffix(pattern, ext), n, ext)
	}
	width := end - start
	return fmt.Sprintf("%s%0*d%s", pattern[:start], width, n, pattern[end:])
}

// counterRun locates the last run of '0' or '#' placeholder characters.
func counterRun(pattern string) (int, int) {
	end := -1
	for i := len(pattern) - 1; i >= 0; i-- {
		c := pattern[i]
		if c == '0' || c == '#' {
			if end < 0 {
				end = i + 1
			}
			continue
		}
		if end >= 0 {
			return i + 1, end
		}
	}
	if end >= 0 {
		return 0, end
	}
	return -1, -1
}

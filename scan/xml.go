package scan

// Datasets may also arrive as Native DICOM Model XML (PS3.19 A.1). They are
// recognized by extension and read with a streaming decoder, pulling out
// only the identifiers the manifest needs.

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/openpacs/go-dicomnet/transfersyntax"
)

const (
	xmlTagSOPClassUID       = "00080016"
	xmlTagSOPInstanceUID    = "00080018"
	xmlTagTransferSyntaxUID = "00020010"
)

func scanXMLFile(path string, size int64) (Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return Entry{}, err
	}
	defer f.Close()
	entry := Entry{Path: path, Size: size}
	dec := xml.NewDecoder(f)
	var currentTag string
	var inValue bool
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Entry{}, fmt.Errorf("%s: %w", path, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "DicomAttribute":
				currentTag = ""
				for _, attr := range t.Attr {
					if attr.Name.Local == "tag" {
						currentTag = strings.ToUpper(attr.Value)
					}
				}
			case "Value":
				inValue = true
			}
		case xml.EndElement:
			if t.Name.Local == "Value" {
				inValue = false
			}
		case xml.CharData:
			if !inValue {
				continue
			}
			value := strings.TrimSpace(string(t))
			switch currentTag {
			case xmlTagSOPClassUID:
				entry.SOPClassUID = value
			case xmlTagSOPInstanceUID:
				entry.SOPInstanceUID = value
			case xmlTagTransferSyntaxUID:
				entry.TransferSyntaxUID = value
			}
		}
	}
	if entry.SOPClassUID == "" || entry.SOPInstanceUID == "" {
		return Entry{}, fmt.Errorf("%s: XML dataset lacks SOP identifiers", path)
	}
	if entry.TransferSyntaxUID == "" {
		entry.TransferSyntaxUID = transfersyntax.ExplicitVRLittleEndian
	}
	return entry, nil
}

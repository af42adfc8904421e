// Package cli wires the command-line commands around the library: every
// DIMSE verb, the storage SCP, and the forwarding proxy.
package cli

import (
	"fmt"
	"strings"

	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/sopclass"
	"github.com/sirupsen/logrus"
	"github.com/suyashkumar/dicom"
	dicomtag "github.com/suyashkumar/dicom/pkg/tag"
	"github.com/urfave/cli/v2"
)

func peerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "host",
			Usage: "peer host address",
			Value: "localhost",
		},
		&cli.IntFlag{
			Name:  "port",
			Usage: "peer port",
			Value: dicomnet.DefaultPortAlternate,
		},
		&cli.StringFlag{
			Name:  "calling",
			Usage: "calling AE title (this side)",
			Value: "DICOMNET",
		},
		&cli.StringFlag{
			Name:  "called",
			Usage: "called AE title (the peer)",
			Value: "ANY-SCP",
		},
		&cli.IntFlag{
			Name:  "timeout",
			Usage: "connection timeout in seconds",
			Value: 30,
		},
	}
}

func peerFromFlags(c *cli.Context) (dicomnet.Node, error) {
	return dicomnet.NewNode(c.String("called"), c.String("host"), c.Int("port"))
}

// SetupLogging applies the global log level flag.
func SetupLogging(level string) error {
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logrus.SetLevel(parsed)
	return nil
}

// parseQueryKeys turns "-k 0010,0010=DOE^JOHN" style arguments into
// dataset elements.
func parseQueryKeys(keys []string) ([]*dicom.Element, error) {
	var elems []*dicom.Element
	for _, key := range keys {
		parts := strings.SplitN(key, "=", 2)
		t, err := parseTag(parts[0])
		if err != nil {
			return nil, err
		}
		value := ""
		if len(parts) > 1 {
			value = parts[1]
		}
		elem, err := dicom.NewElement(t, []string{value})
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		elems = append(elems, elem)
	}
	return elems, nil
}

func parseTag(s string) (dicomtag.Tag, error) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if len(s) != 8 {
		return dicomtag.Tag{}, fmt.Errorf("tag %q must be 8 hex digits", s)
	}
	var group, element uint16
	if _, err := fmt.Sscanf(s[:4], "%04x", &group); err != nil {
		return dicomtag.Tag{}, err
	}
	if _, err := fmt.Sscanf(s[4:], "%04x", &element); err != nil {
		return dicomtag.Tag{}, err
	}
	return dicomtag.Tag{Group: group, Element: element}, nil
}

func modelByName(name string) (sopclass.InformationModel, error) {
	switch strings.ToLower(name) {
	case "patient", "patient-root":
		return sopclass.PatientRoot, nil
	case "study", "study-root":
		return sopclass.StudyRoot, nil
	case "patient-study", "patient-study-only":
		return sopclass.PatientStudyOnly, nil
	case "worklist", "modality-worklist":
		return sopclass.ModalityWorklist, nil
	case "ups", "unified-procedure-step":
		return sopclass.UnifiedProcedureStep, nil
	case "hanging-protocol":
		return sopclass.HangingProtocol, nil
	case "color-palette":
		return sopclass.ColorPalette, nil
	}
	return sopclass.InformationModel{}, fmt.Errorf("unknown information model %q", name)
}

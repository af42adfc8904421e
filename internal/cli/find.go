package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/export"
	"github.com/openpacs/go-dicomnet/sopclass"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// FindCommand returns the C-FIND command.
func FindCommand() *cli.Command {
	return &cli.Command{
		Name:  "find",
		Usage: "Send a C-FIND query and print the matches",
		Flags: append(peerFlags(),
			&cli.StringFlag{
				Name:  "model",
				Usage: "information model: patient-root, study-root, patient-study-only, worklist, ups, hanging-protocol, color-palette",
				Value: "study-root",
			},
			&cli.StringSliceFlag{
				Name:    "key",
				Aliases: []string{"k"},
				Usage:   "query key GGGGEEEE=value (repeatable); empty value requests the attribute",
			},
			&cli.IntFlag{
				Name:  "cancel-after",
				Usage: "issue C-CANCEL after this many matches",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "write matches to files named by this counter pattern, e.g. rsp-000.dcm",
			},
			&cli.BoolFlag{
				Name:  "xml",
				Usage: "write matches as Native DICOM Model XML instead of DICOM",
			},
			&cli.BoolFlag{
				Name:  "concatenate",
				Usage: "write all matches into a single output file",
			},
		),
		Action: findAction,
	}
}

func findAction(c *cli.Context) error {
	peer, err := peerFromFlags(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	model, err := modelByName(c.String("model"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	keys, err := parseQueryKeys(c.StringSlice("key"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	params, err := dicomnet.NewQueryParams(
		peer.AET(), c.String("calling"), []sopclass.InformationModel{model}, nil)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	su := dicomnet.NewServiceUser(params)
	defer su.Release()
	su.Connect(peer.Addr())

	var writer *export.Writer
	if pattern := c.String("out"); pattern != "" {
		format := export.FormatDICOM
		if c.Bool("xml") {
			format = export.FormatXML
		}
		writer, err = export.NewWriter(export.Options{
			Pattern:     pattern,
			Format:      format,
			Concatenate: c.Bool("concatenate"),
			SOPClassUID: model.Find,
		})
		if err != nil {
			return cli.Exit(err.Error(), 2)
		}
		defer writer.Close()
	}

	matches := 0
	var lastErr error
	for result := range su.CFind(model, keys, dicomnet.CFindOptions{CancelAfter: c.Int("cancel-after")}) {
		if result.Err != nil {
			lastErr = result.Err
			continue
		}
		matches++
		if writer != nil {
			if err := writer.Write(result.Elements); err != nil {
				lastErr = err
			}
			continue
		}
		fmt.Fprintf(os.Stdout, "--- match %d ---\n", matches)
		for _, elem := range result.Elements {
			fmt.Fprintf(os.Stdout, "%s %v\n", elem.Tag.String(), elem.Value)
		}
	}
	logrus.Infof("C-FIND finished with %d matches", matches)
	if lastErr != nil && !errors.Is(lastErr, dicomnet.ErrCancelled) {
		return cli.Exit("C-FIND failed: "+lastErr.Error(), 1)
	}
	return nil
}

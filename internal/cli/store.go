package cli

import (
	"fmt"
	"os"

	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/progress"
	"github.com/openpacs/go-dicomnet/sender"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// StoreCommand returns the bulk C-STORE command.
func StoreCommand() *cli.Command {
	return &cli.Command{
		Name:      "store",
		Usage:     "Scan directories and C-STORE every DICOM object to a peer",
		ArgsUsage: "DIR [DIR...]",
		Flags: append(peerFlags(),
			&cli.StringFlag{
				Name:  "transfer-syntax",
				Usage: "force this destination transfer syntax UID",
			},
			&cli.IntFlag{
				Name:  "jpeg-quality",
				Usage: "baseline JPEG quality for lossy transcoding",
			},
			&cli.BoolFlag{
				Name:  "progress",
				Usage: "print one character per scanned file",
			},
		),
		Action: storeAction,
	}
}

func storeAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("store: at least one directory argument is required", 2)
	}
	peer, err := peerFromFlags(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	s := sender.New(c.String("calling"), peer, sender.Options{
		RequestedTransferSyntax: c.String("transfer-syntax"),
		JPEGQuality:             c.Int("jpeg-quality"),
		Printout:                c.Bool("progress"),
		Out:                     os.Stdout,
	})
	st := progress.NewState()
	err = s.Send(c.Args().Slice(), st)
	prog := st.Progress()
	logrus.WithFields(logrus.Fields{
		"completed": prog.Completed(),
		"warning":   prog.Warning(),
		"failed":    prog.Failed(),
		"bytes":     prog.TotalSize(),
	}).Info("Store finished")
	if err != nil {
		return cli.Exit("store failed: "+err.Error(), 1)
	}
	if st.Status() != int(dimse.StatusSuccess) {
		return cli.Exit(fmt.Sprintf("store finished with status 0x%04X", st.Status()), 1)
	}
	return nil
}

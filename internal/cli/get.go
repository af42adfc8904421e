package cli

import (
	"fmt"

	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/progress"
	"github.com/openpacs/go-dicomnet/sopclass"
	"github.com/openpacs/go-dicomnet/storage"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// GetCommand returns the C-GET command.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "get",
		Usage: "C-GET matching objects onto this association and store them locally",
		Flags: append(peerFlags(),
			&cli.StringFlag{
				Name:     "directory",
				Aliases:  []string{"d"},
				Usage:    "directory receiving the objects",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "model",
				Usage: "information model",
				Value: "study-root",
			},
			&cli.StringSliceFlag{
				Name:    "key",
				Aliases: []string{"k"},
				Usage:   "query key GGGGEEEE=value (repeatable)",
			},
			&cli.StringFlag{
				Name:  "pattern",
				Usage: "filename pattern over DICOM tags",
			},
		),
		Action: getAction,
	}
}

func getAction(c *cli.Context) error {
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
	params, err := dicomnet.NewServiceUserParams(
		peer.AET(), c.String("calling"), sopclass.QRGetClasses, nil)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	// The retriever is also the storage receiver: offer every storage
	// class with reversed roles so the peer can C-STORE back on this
	// association.
	params.SOPClasses = append(params.SOPClasses, sopclass.StorageClasses...)
	for _, sop := range sopclass.StorageClasses {
		params.RoleSelections = append(params.RoleSelections, dicomnet.RoleSelection{
			SOPClassUID: sop.UID,
			SCU:         false,
			SCP:         true,
		})
	}

	scp, err := storage.New(storage.Config{
		Directory:       c.String("directory"),
		FilenamePattern: c.String("pattern"),
	}, nil)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	su := dicomnet.NewServiceUser(params)
	defer su.Release()
	su.Connect(peer.Addr())

	st := progress.NewState()
	err = su.CGet(model, keys, st,
		func(transferSyntaxUID, sopClassUID, sopInstanceUID string, data []byte) dimse.Status {
			return scp.CStore(dicomnet.ConnectionInfo{
				CalledAETitle:  c.String("calling"),
				CallingAETitle: peer.AET(),
			}, transferSyntaxUID, sopClassUID, sopInstanceUID, data)
		}, dicomnet.CGetOptions{})
	prog := st.Progress()
	logrus.WithFields(logrus.Fields{
		"completed": prog.Completed(),
		"failed":    prog.Failed(),
	}).Info("C-GET finished")
	if err != nil {
		return cli.Exit("C-GET failed: "+err.Error(), 1)
	}
	if st.Status() != int(dimse.StatusSuccess) {
		return cli.Exit(fmt.Sprintf("C-GET finished with status 0x%04X", st.Status()), 1)
	}
	return nil
}

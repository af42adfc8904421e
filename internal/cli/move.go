package cli

import (
	"fmt"

	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/progress"
	"github.com/openpacs/go-dicomnet/sopclass"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// MoveCommand returns the C-MOVE command.
func MoveCommand() *cli.Command {
	return &cli.Command{
		Name:  "move",
		Usage: "Ask a peer to C-MOVE matching objects to a destination AE",
		Flags: append(peerFlags(),
			&cli.StringFlag{
				Name:     "destination",
				Usage:    "destination AE title",
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
			&cli.IntFlag{
				Name:  "cancel-after",
				Usage: "issue C-CANCEL after this many pending responses",
			},
		),
		Action: moveAction,
	}
}

func moveAction(c *cli.Context) error {
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
		peer.AET(), c.String("calling"), sopclass.QRMoveClasses, nil)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	su := dicomnet.NewServiceUser(params)
	defer su.Release()
	su.Connect(peer.Addr())

	st := progress.NewState()
	st.Progress().AddListener(func(p *progress.Progress) {
		logrus.Debugf("C-MOVE progress: remaining=%d completed=%d failed=%d warning=%d",
			p.Remaining(), p.Completed(), p.Failed(), p.Warning())
	})
	err = su.CMove(model, c.String("destination"), keys, st, dicomnet.CMoveOptions{
		CancelAfter: c.Int("cancel-after"),
	})
	prog := st.Progress()
	logrus.WithFields(logrus.Fields{
		"completed": prog.Completed(),
		"failed":    prog.Failed(),
		"warning":   prog.Warning(),
	}).Info("C-MOVE finished")
	if err != nil {
		return cli.Exit("C-MOVE failed: "+err.Error(), 1)
	}
	if st.Status() != int(dimse.StatusSuccess) {
		return cli.Exit(fmt.Sprintf("C-MOVE finished with status 0x%04X", st.Status()), 1)
	}
	return nil
}

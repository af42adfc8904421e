package cli

import (
	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/sopclass"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// EchoCommand returns the C-ECHO command.
func EchoCommand() *cli.Command {
	return &cli.Command{
		Name:   "echo",
		Usage:  "Send a C-ECHO request to a peer",
		Flags:  peerFlags(),
		Action: echoAction,
	}
}

func echoAction(c *cli.Context) error {
	peer, err := peerFromFlags(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	logrus.Infof("Sending C-ECHO to %s (calling: %s)", peer, c.String("calling"))
	params, err := dicomnet.NewServiceUserParams(
		peer.AET(), c.String("calling"), sopclass.VerificationClasses, nil)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	su := dicomnet.NewServiceUser(params)
	defer su.Release()
	su.Connect(peer.Addr())
	if err := su.CEcho(); err != nil {
		return cli.Exit("C-ECHO failed: "+err.Error(), 1)
	}
	logrus.Info("C-ECHO completed successfully")
	return nil
}

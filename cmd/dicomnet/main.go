package main

import (
	"os"

	"github.com/openpacs/go-dicomnet/internal/cli"
	"github.com/sirupsen/logrus"
	urfavecli "github.com/urfave/cli/v2"
)

func main() {
	app := &urfavecli.App{
		Name:  "dicomnet",
		Usage: "DICOM network tools: echo, store, find, move, get, serve, forward",
		Flags: []urfavecli.Flag{
			&urfavecli.StringFlag{
				Name:  "log-level",
				Usage: "trace, debug, info, warn, error",
				Value: "info",
			},
		},
		Before: func(c *urfavecli.Context) error {
			return cli.SetupLogging(c.String("log-level"))
		},
		Commands: []*urfavecli.Command{
			cli.EchoCommand(),
			cli.StoreCommand(),
			cli.FindCommand(),
			cli.MoveCommand(),
			cli.GetCommand(),
			cli.ServeCommand(),
			cli.ForwardCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		logrus.Error(err)
		// urfave/cli carries the exit code for cli.Exit errors; Run has
		// already applied it via its ExitErrHandler, so reaching here
		// means a plain error.
		os.Exit(1)
	}
}

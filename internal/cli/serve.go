package cli

import (
	"fmt"
	"strings"

	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/config"
	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/storage"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// ServeCommand returns the storage SCP server command.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run a storage SCP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "listen address",
				Value: fmt.Sprintf(":%d", dicomnet.DefaultPortAlternate),
			},
			&cli.StringFlag{
				Name:  "aet",
				Usage: "AE title of this provider",
				Value: "DICOMNET",
			},
			&cli.StringFlag{
				Name:     "directory",
				Aliases:  []string{"d"},
				Usage:    "storage directory",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "pattern",
				Usage: "filename pattern over DICOM tags",
			},
			&cli.StringSliceFlag{
				Name:  "accept-aet",
				Usage: "authorized calling AE title, optionally AET@host (repeatable; empty allows all)",
			},
			&cli.StringFlag{
				Name:  "transfer-capabilities",
				Usage: "properties file mapping SOP class UID to accepted transfer syntaxes",
			},
		},
		Action: serveAction,
	}
}

func serveAction(c *cli.Context) error {
	var callers []storage.Caller
	for _, spec := range c.StringSlice("accept-aet") {
		caller := storage.Caller{AETitle: spec}
		if at := strings.IndexByte(spec, '@'); at >= 0 {
			caller.AETitle = spec[:at]
			caller.Hostname = spec[at+1:]
		}
		callers = append(callers, caller)
	}
	scp, err := storage.New(storage.Config{
		Directory:         c.String("directory"),
		FilenamePattern:   c.String("pattern"),
		AuthorizedCallers: callers,
	}, nil)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	var capabilities map[string][]string
	if path := c.String("transfer-capabilities"); path != "" {
		if capabilities, err = config.LoadTransferCapabilities(path); err != nil {
			return cli.Exit(err.Error(), 2)
		}
	}
	sp := dicomnet.NewServiceProvider(dicomnet.ServiceProviderParams{
		AETitle:              c.String("aet"),
		TransferCapabilities: capabilities,
		CEcho: func(ci dicomnet.ConnectionInfo) dimse.Status {
			return dimse.Success
		},
		CStore: scp.CStore,
	})
	logrus.Infof("Storage SCP %s listening on %s, storing under %s",
		c.String("aet"), c.String("listen"), c.String("directory"))
	return sp.Run(c.String("listen"))
}

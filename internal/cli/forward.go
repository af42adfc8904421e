package cli

import (
	"fmt"

	"github.com/openpacs/go-dicomnet"
	"github.com/openpacs/go-dicomnet/dimse"
	"github.com/openpacs/go-dicomnet/forward"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

// ForwardCommand returns the forwarding-proxy command: a storage SCP whose
// objects are re-stored to a destination AE.
func ForwardCommand() *cli.Command {
	return &cli.Command{
		Name:  "forward",
		Usage: "Run a storage SCP that forwards every received object to another AE",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "listen",
				Usage: "listen address",
				Value: fmt.Sprintf(":%d", dicomnet.DefaultPortAlternate),
			},
			&cli.StringFlag{
				Name:  "aet",
				Usage: "AE title of this proxy",
				Value: "DICOMFWD",
			},
			&cli.StringFlag{
				Name:     "dest-aet",
				Usage:    "destination AE title",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "dest-host",
				Usage:    "destination host",
				Required: true,
			},
			&cli.IntFlag{
				Name:  "dest-port",
				Usage: "destination port",
				Value: dicomnet.DefaultPortAlternate,
			},
		},
		Action: forwardAction,
	}
}

func forwardAction(c *cli.Context) error {
	dest, err := dicomnet.NewNode(c.String("dest-aet"), c.String("dest-host"), c.Int("dest-port"))
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	source, err := dicomnet.NewNode(c.String("aet"), "", 1)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	proxy := forward.NewProxy(c.String("aet"), source, dest, nil, nil)
	defer proxy.Close()
	sp := dicomnet.NewServiceProvider(dicomnet.ServiceProviderParams{
		AETitle: c.String("aet"),
		CEcho: func(ci dicomnet.ConnectionInfo) dimse.Status {
			return dimse.Success
		},
		CStore: proxy.CStore,
	})
	logrus.Infof("Forwarding proxy %s listening on %s, destination %s",
		c.String("aet"), c.String("listen"), dest)
	return sp.Run(c.String("listen"))
}

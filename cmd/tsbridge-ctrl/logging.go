package main

import (
	"github.com/urfave/cli/v2"
	"github.com/usnistgov/tsbridge/mgmt/logmgmt"
)

func init() {
	defineCommand(&cli.Command{
		Category: "logging",
		Name:     "list-log-levels",
		Usage:    "List log levels of service packages",
		Action: func(c *cli.Context) error {
			return clientDoPrint("Logging.List", struct{}{}, &[]logmgmt.Level{})
		},
	})
}

func init() {
	var arg logmgmt.Level
	defineCommand(&cli.Command{
		Category: "logging",
		Name:     "set-log-level",
		Usage:    "Change log level of a service package",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "package",
				Usage:       "package `NAME`",
				Destination: &arg.Package,
				Required:    true,
			},
			&cli.StringFlag{
				Name:        "level",
				Usage:       "log `LEVEL`: V, D, I, W, E, F",
				Destination: &arg.Level,
				Required:    true,
			},
		},
		Action: func(c *cli.Context) error {
			return client.Call("Logging.Set", arg, &struct{}{})
		},
	})
}

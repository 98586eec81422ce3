package main

import (
	"strconv"

	"github.com/urfave/cli/v2"
	"github.com/usnistgov/tsbridge/mgmt/redirmgmt"
)

func init() {
	defineCommand(&cli.Command{
		Category:  "redirect",
		Name:      "redirect",
		Usage:     "Connect an input to the output of a port, or disconnect the port with input 08",
		ArgsUsage: "II PP",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return cli.Exit("expect two hexadecimal tokens", 2)
			}
			arg := redirmgmt.SetArg{Redirect: c.Args().Get(0) + " " + c.Args().Get(1)}
			return client.Call("Redirect.Set", arg, &struct{}{})
		},
	})
}

func init() {
	var port string
	defineCommand(&cli.Command{
		Category: "redirect",
		Name:     "unredirect",
		Usage:    "Disconnect the output of a port",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "port",
				Usage:       "hexadecimal port `TOKEN`",
				Destination: &port,
				Required:    true,
			},
		},
		Action: func(c *cli.Context) error {
			tok, e := strconv.ParseUint(port, 16, 32)
			if e != nil {
				return cli.Exit(e, 2)
			}
			return client.Call("Redirect.Unset", redirmgmt.PortArg{Port: uint32(tok)}, &struct{}{})
		},
	})
}

func init() {
	defineCommand(&cli.Command{
		Category: "redirect",
		Name:     "list-redirect",
		Aliases:  []string{"list-redirects"},
		Usage:    "List redirects",
		Action: func(c *cli.Context) error {
			return clientDoPrint("Redirect.List", struct{}{}, &[]redirmgmt.Edge{})
		},
	})
}

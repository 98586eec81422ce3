package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"github.com/usnistgov/tsbridge/mgmt/demuxmgmt"
)

func init() {
	defineCommand(&cli.Command{
		Category: "demux",
		Name:     "list-demux",
		Aliases:  []string{"list-demuxes"},
		Usage:    "List software demux counters",
		Action: func(c *cli.Context) error {
			return clientDoPrint("Demux.List", struct{}{}, &[]demuxmgmt.DemuxInfo{})
		},
	})
}

func init() {
	var input string
	var table bool
	defineCommand(&cli.Command{
		Category: "demux",
		Name:     "get-demux",
		Usage:    "Retrieve software demux counters of an input, including per-PID counters",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Usage:       "hexadecimal input `TOKEN`",
				Destination: &input,
				Required:    true,
			},
			&cli.BoolFlag{
				Name:        "table",
				Usage:       "print PIDs as a table",
				Destination: &table,
			},
		},
		Action: func(c *cli.Context) error {
			tok, e := strconv.ParseUint(input, 16, 32)
			if e != nil {
				return cli.Exit(e, 2)
			}
			arg := demuxmgmt.InputArg{Input: uint32(tok)}
			if !table {
				return clientDoPrint("Demux.Get", arg, &demuxmgmt.DemuxInfo{})
			}

			var info demuxmgmt.DemuxInfo
			if e := client.Call("Demux.Get", arg, &info); e != nil {
				return e
			}
			fmt.Printf("input %02x packets=%s null=%s dropped=%s resync=%d skipped=%s raw=%s\n",
				info.Input, humanize.Comma(int64(info.NPackets)), humanize.Comma(int64(info.NNull)),
				humanize.Comma(int64(info.NDropped)), info.NResync,
				humanize.IBytes(info.NSkipped), humanize.IBytes(info.NRawBytes))
			for _, p := range info.PIDs {
				fmt.Printf("  pid %04x packets=%s cc-errors=%d tei=%d\n",
					p.PID, humanize.Comma(int64(p.NPackets)), p.NContinuityErrors, p.NTransportErrors)
			}
			return nil
		},
	})
}

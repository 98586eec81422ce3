package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"
	"github.com/usnistgov/tsbridge/mgmt/devmgmt"
)

func init() {
	defineCommand(&cli.Command{
		Category: "device",
		Name:     "list-device",
		Aliases:  []string{"list-devices"},
		Usage:    "List cards",
		Action: func(c *cli.Context) error {
			return clientDoPrint("Device.List", struct{}{}, &[]devmgmt.BasicInfo{})
		},
	})
}

func init() {
	var id int
	var table bool
	defineCommand(&cli.Command{
		Category: "device",
		Name:     "get-device",
		Usage:    "Retrieve card information and ring counters",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "id",
				Usage:       "card `ID`",
				Destination: &id,
				Required:    true,
			},
			&cli.BoolFlag{
				Name:        "table",
				Usage:       "print rings as a table",
				Destination: &table,
			},
		},
		Action: func(c *cli.Context) error {
			if !table {
				return clientDoPrint("Device.Get", devmgmt.IDArg{ID: id}, &devmgmt.DeviceInfo{})
			}
			var info devmgmt.DeviceInfo
			if e := client.Call("Device.Get", devmgmt.IDArg{ID: id}, &info); e != nil {
				return e
			}
			printDevice(os.Stdout, info)
			return nil
		},
	})
}

func formatToken(tok *uint32) string {
	if tok == nil {
		return "-"
	}
	return fmt.Sprintf("%02x", *tok)
}

func printRing(w io.Writer, ri devmgmt.RingInfo) {
	fmt.Fprintf(w, "%-20s redi=%s redo=%s", ri.Name, formatToken(ri.Redi), formatToken(ri.Redo))
	if ri.Demux {
		fmt.Fprint(w, " demux")
	}
	cnt := ri.Counters
	if cnt == nil {
		fmt.Fprintln(w, " no-dma")
		return
	}
	state := "stopped"
	if cnt.Running {
		state = "running"
	}
	fmt.Fprintf(w, " %s %d×%s cursor=%s stat=%s irq=%d×%s runs=%s",
		state, cnt.Buffers, humanize.IBytes(uint64(cnt.BufferSize)), cnt.Cursor, cnt.Stat,
		ri.IRQ, humanize.Comma(int64(ri.IRQCount)), humanize.Comma(int64(cnt.Runs)))
	if cnt.PacketLoss != 0 || cnt.Overflows != 0 || cnt.Stalls != 0 {
		fmt.Fprintf(w, " loss=%s overflows=%s stalls=%s",
			humanize.Comma(int64(cnt.PacketLoss)), humanize.Comma(int64(cnt.Overflows)), humanize.Comma(int64(cnt.Stalls)))
	}
	if cnt.Unaligned {
		fmt.Fprint(w, " unaligned")
	}
	fmt.Fprintln(w)
}

func printDevice(w io.Writer, info devmgmt.DeviceInfo) {
	fmt.Fprintf(w, "dev%d %s irq=%s regmap=%05x ports=%d unknown-irqs=%d\n",
		info.ID, info.Type, info.IRQ, info.RegMapID, info.NPorts, info.UnknownIRQs)
	for _, ri := range info.Inputs {
		printRing(w, ri)
	}
	for _, ri := range info.Outputs {
		printRing(w, ri)
	}
}

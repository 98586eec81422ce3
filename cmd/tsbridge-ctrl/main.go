// Command tsbridge-ctrl controls the TS bridge service.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"reflect"
	"sort"

	"github.com/powerman/rpc-codec/jsonrpc2"
	"github.com/urfave/cli/v2"
	"github.com/usnistgov/tsbridge/core/version"
	"github.com/usnistgov/tsbridge/mgmt"
)

var (
	mgmtListen string
	client     *jsonrpc2.Client
)

// clientDoPrint invokes a method and prints the reply as JSON, one line per element if the
// reply is a slice.
func clientDoPrint(method string, args, reply any) error {
	if e := client.Call(method, args, reply); e != nil {
		return e
	}

	if val := reflect.Indirect(reflect.ValueOf(reply)); val.Kind() == reflect.Slice {
		for i := range val.Len() {
			j, _ := json.Marshal(val.Index(i).Interface())
			fmt.Println(string(j))
		}
	} else {
		j, _ := json.Marshal(val.Interface())
		fmt.Println(string(j))
	}
	return nil
}

var app = &cli.App{
	Version: version.V.String(),
	Usage:   "Control TS bridge service.",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:        "mgmt",
			Usage:       "management API `URL` of TS bridge service",
			EnvVars:     []string{"TSBRIDGE_MGMT"},
			Value:       mgmt.DefaultListen,
			Destination: &mgmtListen,
		},
	},
	Before: func(c *cli.Context) (e error) {
		client, e = mgmt.Dial(mgmtListen)
		return e
	},
	After: func(c *cli.Context) error {
		if client != nil {
			return client.Close()
		}
		return nil
	},
}

func defineCommand(command *cli.Command) {
	app.Commands = append(app.Commands, command)
}

func init() {
	defineCommand(&cli.Command{
		Name:  "show-version",
		Usage: "Show version of TS bridge service",
		Action: func(c *cli.Context) error {
			return clientDoPrint("Version.Get", struct{}{}, &version.Version{})
		},
	})
}

func main() {
	sort.Sort(cli.CommandsByName(app.Commands))
	e := app.Run(os.Args)
	if e != nil {
		if se := jsonrpc2.ServerError(e); se != nil && se.Code < 0 && se.Code > -4096 {
			log.Fatalf("%s (errno %d)", se.Message, -se.Code)
		}
		log.Fatal(e)
	}
}

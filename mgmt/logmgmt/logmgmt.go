// Package logmgmt provides the Logging management service.
package logmgmt

import (
	"fmt"

	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/core/logging"
	"github.com/usnistgov/tsbridge/mgmt"
)

// Level is the log level of a package.
type Level struct {
	Package string
	Level   string
}

// LoggingMgmt reads and changes log levels.
type LoggingMgmt struct{}

// List returns log levels of all packages.
func (LoggingMgmt) List(args struct{}, reply *[]Level) error {
	for _, pl := range logging.ListLevels() {
		*reply = append(*reply, Level{Package: pl.Package(), Level: string(pl.Level())})
	}
	return nil
}

// Set changes log level of a package.
func (LoggingMgmt) Set(args Level, reply *struct{}) error {
	if e := logging.Adjust(args.Package, args.Level); e != nil {
		return mgmt.Error(fmt.Errorf("%w: %w", bridge.ErrInvalid, e))
	}
	return nil
}

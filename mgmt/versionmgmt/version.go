// Package versionmgmt provides the Version management service.
package versionmgmt

import (
	"github.com/usnistgov/tsbridge/core/version"
)

// VersionMgmt reports the daemon version.
type VersionMgmt struct{}

// Get returns version information of the running daemon.
func (VersionMgmt) Get(args struct{}, reply *version.Version) error {
	*reply = version.V
	return nil
}

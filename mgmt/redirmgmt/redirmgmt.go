// Package redirmgmt provides the Redirect management service.
package redirmgmt

import (
	"fmt"

	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/mgmt"
)

// RedirectMgmt reads and changes the redirect graph.
type RedirectMgmt struct {
	Registry *bridge.Registry
}

// SetArg contains arguments of RedirectMgmt.Set.
// Either Redirect or both Input and Port should be given.
type SetArg struct {
	// Redirect is the administrative string "II PP", both hexadecimal.
	Redirect string `json:",omitempty"`

	Input *uint32 `json:",omitempty"`
	Port  *uint32 `json:",omitempty"`
}

// PortArg selects a port by its token.
type PortArg struct {
	Port uint32
}

// Edge is a redirect: the output of port Port mirrors input Input.
type Edge struct {
	Input uint32
	Port  uint32
	Name  string
}

// Set connects an input to the output of a port, or disconnects the port when the input token
// is bridge.DisconnectToken.
func (mg RedirectMgmt) Set(args SetArg, reply *struct{}) error {
	if args.Redirect != "" {
		return mgmt.Error(mg.Registry.RedirectString(args.Redirect))
	}
	if args.Input == nil || args.Port == nil {
		return mgmt.Error(fmt.Errorf("%w: Input and Port are required", bridge.ErrInvalid))
	}
	return mgmt.Error(mg.Registry.Redirect(*args.Input, *args.Port))
}

// Unset disconnects the output of a port.
func (mg RedirectMgmt) Unset(args PortArg, reply *struct{}) error {
	port := mg.Registry.PortByToken(args.Port)
	if port == nil {
		return mgmt.Error(fmt.Errorf("%w: port %02x does not exist", bridge.ErrInvalid, args.Port))
	}
	return mgmt.Error(mg.Registry.Unredirect(port))
}

// List lists redirects.
func (mg RedirectMgmt) List(args struct{}, reply *[]Edge) error {
	list := []Edge{}
	for _, dev := range mg.Registry.Devices() {
		for _, out := range dev.Outputs() {
			if in := out.Redi(); in != nil {
				list = append(list, Edge{
					Input: in.Token(),
					Port:  out.Token(),
					Name:  fmt.Sprintf("%s => %s", in, out),
				})
			}
		}
	}
	*reply = list
	return nil
}

// Package mgmt provides the JSON-RPC 2.0 management API.
//
// Each service is a struct whose type name, minus a "Mgmt" suffix, becomes the method prefix.
// For example, RedirectMgmt.Set is invoked as "Redirect.Set".
package mgmt

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/url"
	"os"
	"reflect"
	"strings"
	"sync"

	"github.com/powerman/rpc-codec/jsonrpc2"
	"github.com/usnistgov/tsbridge/bridge"
	"github.com/usnistgov/tsbridge/core/logging"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var logger = logging.New("mgmt")

// DefaultListen is the default listen URL of the management socket.
const DefaultListen = "unix:///run/tsbridge-mgmt.sock"

// ParseListen parses a listen URL: unix:///path or tcp://host:port.
func ParseListen(listen string) (network, addr string, e error) {
	u, e := url.Parse(listen)
	if e != nil {
		return "", "", fmt.Errorf("listen URL %q: %w", listen, e)
	}

	switch u.Scheme {
	case "unix":
		return u.Scheme, u.Path, nil
	case "tcp", "tcp4", "tcp6":
		return u.Scheme, u.Host, nil
	}
	return "", "", fmt.Errorf("unsupported listen scheme %q", u.Scheme)
}

// Server is a JSON-RPC 2.0 server.
type Server struct {
	rpc *rpc.Server

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[net.Conn]struct{}
	wg        sync.WaitGroup
}

// NewServer creates a Server.
func NewServer() *Server {
	return &Server{
		rpc:   rpc.NewServer(),
		conns: map[net.Conn]struct{}{},
	}
}

// Register adds a service.
func (s *Server) Register(mg any) error {
	typeName := reflect.Indirect(reflect.ValueOf(mg)).Type().Name()
	name := strings.TrimSuffix(typeName, "Mgmt")
	return s.rpc.RegisterName(name, mg)
}

// Listen starts accepting connections on a listen URL.
// An existing unix socket file is replaced.
func (s *Server) Listen(listen string) error {
	network, addr, e := ParseListen(listen)
	if e != nil {
		return e
	}
	if network == "unix" {
		os.Remove(addr)
	}

	l, e := net.Listen(network, addr)
	if e != nil {
		return fmt.Errorf("cannot listen on %s: %w", listen, e)
	}
	logger.Info("listening", zap.Stringer("addr", l.Addr()))
	s.Serve(l)
	return nil
}

// Serve starts accepting connections on a listener.
// The listener is closed by Close.
func (s *Server) Serve(l net.Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(l)
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()
	for {
		conn, e := l.Accept()
		if e != nil {
			if !errors.Is(e, net.ErrClosed) {
				logger.Warn("accept error", zap.Error(e))
			}
			return
		}
		s.ServeConn(conn)
	}
}

// ServeConn serves one connection in the background.
func (s *Server) ServeConn(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.rpc.ServeCodec(jsonrpc2.NewServerCodec(conn, s.rpc))
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()
}

// Close stops listening, closes every connection and waits for them to finish.
func (s *Server) Close() (e error) {
	s.mu.Lock()
	for _, l := range s.listeners {
		e = multierr.Append(e, l.Close())
	}
	s.listeners = nil
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	return e
}

// Dial connects to a management server.
func Dial(listen string) (*jsonrpc2.Client, error) {
	network, addr, e := ParseListen(listen)
	if e != nil {
		return nil, e
	}
	return jsonrpc2.Dial(network, addr)
}

// Error converts a bridge error to a JSON-RPC error whose code is the negative errno.
func Error(e error) error {
	if e == nil {
		return nil
	}
	return jsonrpc2.NewError(bridge.Errno(e), e.Error())
}

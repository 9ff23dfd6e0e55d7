package remote

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
)

// Client is a connection to one remote qudi instance's Server. Each Client
// serializes its requests over a single connection; concurrent callers are
// queued behind an internal mutex since the framed protocol has no request
// ID to demultiplex overlapping calls.
type Client struct {
	mu   sync.Mutex
	conn net.Conn
}

// Dial connects to a remote server at addr. tlsConfig may be nil for a
// plaintext connection.
func Dial(addr string, tlsConfig *tls.Config) (*Client, error) {
	var conn net.Conn
	var err error
	if tlsConfig != nil {
		conn, err = tls.Dial("tcp", addr, tlsConfig)
	} else {
		conn, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransport, addr, err)
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) roundTrip(req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := writeFrame(c.conn, req, nil); err != nil {
		return Response{}, err
	}
	var resp Response
	if err := readFrame(c.conn, &resp); err != nil {
		return Response{}, err
	}
	if !resp.OK {
		return Response{}, fmt.Errorf("%w: %s", ErrTransport, resp.Error)
	}
	return resp, nil
}

// ListRemotable asks the server which modules are currently exportable.
func (c *Client) ListRemotable() ([]string, error) {
	resp, err := c.roundTrip(Request{Op: OpListRemotable})
	if err != nil {
		return nil, err
	}
	return resp.Modules, nil
}

// Acquire opens a handle to a named remote module, the prerequisite for any
// Call/GetAttr/SetAttr against it. The handle must eventually be passed to
// Release or the server-side reference leaks for the life of the
// connection.
func (c *Client) Acquire(moduleName string) (*ModuleProxy, error) {
	resp, err := c.roundTrip(Request{Op: OpAcquire, Module: moduleName})
	if err != nil {
		return nil, err
	}
	return &ModuleProxy{client: c, handle: resp.Handle}, nil
}

// ModuleProxy is a transparent call-by-value stand-in for an activated
// module on a remote qudi instance, matching spec §4.6's "transparent
// object proxy" requirement: calling code uses it exactly like a local
// module reference, oblivious to the network hop underneath.
type ModuleProxy struct {
	client *Client
	handle string
}

// Release gives up this proxy's handle on the server.
func (p *ModuleProxy) Release() error {
	_, err := p.client.roundTrip(Request{Op: OpRelease, Handle: p.handle})
	return err
}

// Call invokes a method on the remote module by name, passing args by
// value and returning the result by value.
func (p *ModuleProxy) Call(method string, args ...any) (any, error) {
	resp, err := p.client.roundTrip(Request{Op: OpCall, Handle: p.handle, Method: method, Args: args})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// GetAttr reads a field on the remote module by value.
func (p *ModuleProxy) GetAttr(name string) (any, error) {
	resp, err := p.client.roundTrip(Request{Op: OpGetAttr, Handle: p.handle, Attr: name})
	if err != nil {
		return nil, err
	}
	return resp.Value, nil
}

// SetAttr writes a field on the remote module by value.
func (p *ModuleProxy) SetAttr(name string, value any) error {
	_, err := p.client.roundTrip(Request{Op: OpSetAttr, Handle: p.handle, Attr: name, Args: []any{value}})
	return err
}

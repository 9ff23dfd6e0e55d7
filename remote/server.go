package remote

import (
	"crypto/tls"
	"fmt"
	"net"
	"reflect"
	"sync"

	"github.com/google/uuid"
)

// ModuleHost is the narrow view of the module manager that the remote
// server needs: list which modules may be exported, look one up by name,
// and drive the shared-exporter activation policy of spec §4.6/§8 scenario
// 4 (acquire activates an inactive module on demand; release deactivates it
// once no remote handle or local connector still holds it). Defining it
// here, rather than importing the root qudicore package, is what lets
// remote stay a leaf package with no import-cycle risk. The root package's
// *Application satisfies it by delegating to its *Manager (whose own Lookup
// returns Module rather than any).
type ModuleHost interface {
	RemotableModules() []string
	Lookup(name string) (any, error)
	AcquireRemote(name string) error
	ReleaseRemote(name string) error
}

// SessionHook is notified when a client connects or disconnects, so the
// owning Application can emit EventTypeRemoteSessionOpened/Closed.
type SessionHook interface {
	OnSessionOpened(remoteAddr string)
	OnSessionClosed(remoteAddr string)
}

// Server accepts remote module connections. Call semantics are
// call-by-value at the boundary (spec §4.6): arguments and return values
// are YAML round-tripped, never live references, so a remote caller can
// never mutate the exporting process's state except through the exported
// module's own methods.
type Server struct {
	host  ModuleHost
	hooks SessionHook

	mu      sync.Mutex
	handles map[string]handleEntry // handle -> live module value held open by a client

	listener net.Listener
}

// handleEntry pairs an acquired handle's live target with the module name
// it came from, so release can drive ModuleHost.ReleaseRemote for the
// right module.
type handleEntry struct {
	moduleName string
	target     any
}

// NewServer constructs a server exporting whatever host.RemotableModules
// lists at the time of each "list-remotable" call, so newly registered
// remotable modules become visible without restarting the server.
func NewServer(host ModuleHost, hooks SessionHook) *Server {
	return &Server{host: host, hooks: hooks, handles: make(map[string]handleEntry)}
}

// Serve listens on addr and blocks accepting connections until the
// listener is closed. tlsConfig may be nil for a plaintext listener, e.g.
// during development, though spec §4.6 expects production deployments to
// set certfile/keyfile.
func (s *Server) Serve(addr string, tlsConfig *tls.Config) error {
	var ln net.Listener
	var err error
	if tlsConfig != nil {
		ln, err = tls.Listen("tcp", addr, tlsConfig)
	} else {
		ln, err = net.Listen("tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrTransport, addr, err)
	}
	s.listener = ln

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil // listener closed
		}
		go s.serveConn(conn)
	}
}

// Close stops accepting new connections. Connections already accepted are
// not closed: they keep being served until the client disconnects.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	addr := conn.RemoteAddr().String()
	if s.hooks != nil {
		s.hooks.OnSessionOpened(addr)
		defer s.hooks.OnSessionClosed(addr)
	}

	// ownHandles tracks every handle this connection acquired and never
	// explicitly released, so a client that disconnects mid-session (crash,
	// network drop) still releases its exporters instead of holding them
	// open forever.
	ownHandles := make(map[string]bool)
	defer func() {
		for h := range ownHandles {
			s.release(h)
		}
	}()

	for {
		var req Request
		if err := readFrame(conn, &req); err != nil {
			return
		}
		resp := s.handle(req)
		switch req.Op {
		case OpAcquire:
			if resp.OK {
				ownHandles[resp.Handle] = true
			}
		case OpRelease:
			delete(ownHandles, req.Handle)
		}
		_ = writeFrame(conn, resp, nil)
	}
}

func (s *Server) handle(req Request) Response {
	switch req.Op {
	case OpListRemotable:
		return Response{OK: true, Modules: s.host.RemotableModules()}

	case OpAcquire:
		mod, err := s.acquire(req.Module)
		if err != nil {
			return errResp(err)
		}
		return Response{OK: true, Handle: mod}

	case OpRelease:
		s.release(req.Handle)
		return Response{OK: true}

	case OpCall:
		target, err := s.resolve(req.Handle)
		if err != nil {
			return errResp(err)
		}
		result, err := callByName(target, req.Method, req.Args)
		if err != nil {
			return errResp(err)
		}
		return Response{OK: true, Value: result}

	case OpGetAttr:
		target, err := s.resolve(req.Handle)
		if err != nil {
			return errResp(err)
		}
		v, err := getAttr(target, req.Attr)
		if err != nil {
			return errResp(err)
		}
		return Response{OK: true, Value: v}

	case OpSetAttr:
		target, err := s.resolve(req.Handle)
		if err != nil {
			return errResp(err)
		}
		var arg any
		if len(req.Args) > 0 {
			arg = req.Args[0]
		}
		if err := setAttr(target, req.Attr, arg); err != nil {
			return errResp(err)
		}
		return Response{OK: true}

	default:
		return errResp(fmt.Errorf("%w: unknown op %q", ErrTransport, req.Op))
	}
}

// acquire allocates a fresh opaque handle bound to a remotable module. Per
// spec §4.6/§8 scenario 4's shared-exporter policy, acquiring a module that
// isn't already idle activates it first via ModuleHost.AcquireRemote,
// which also bumps a refcount on the manager side distinct from any local
// connector's; release/disconnect give that refcount back and the manager
// deactivates the module once it reaches zero with no local dependent
// bound either.
func (s *Server) acquire(moduleName string) (string, error) {
	allowed := false
	for _, m := range s.host.RemotableModules() {
		if m == moduleName {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("%s: %w", moduleName, ErrModuleNotRemotable)
	}
	if err := s.host.AcquireRemote(moduleName); err != nil {
		return "", err
	}
	target, err := s.host.Lookup(moduleName)
	if err != nil {
		_ = s.host.ReleaseRemote(moduleName)
		return "", err
	}
	handle := uuid.NewString()
	s.mu.Lock()
	s.handles[handle] = handleEntry{moduleName: moduleName, target: target}
	s.mu.Unlock()
	return handle, nil
}

func (s *Server) release(handle string) {
	s.mu.Lock()
	entry, ok := s.handles[handle]
	delete(s.handles, handle)
	s.mu.Unlock()
	if ok {
		_ = s.host.ReleaseRemote(entry.moduleName)
	}
}

func (s *Server) resolve(handle string) (any, error) {
	s.mu.Lock()
	entry, ok := s.handles[handle]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", handle, ErrHandleUnknown)
	}
	return entry.target, nil
}

func errResp(err error) Response { return Response{OK: false, Error: err.Error()} }

// callByName invokes method by name on target via reflection, the
// equivalent of Python's getattr(module, method)(*args) boundary. Args are
// already plain YAML-decoded values (strings, ints, floats, bools, slices,
// maps); no attempt is made to coerce them to the target method's exact
// parameter types beyond reflect's own assignability rules, since qudi
// module APIs are expected to accept the same loosely-typed values a local
// Python caller would pass.
func callByName(target any, method string, args []any) (any, error) {
	v := reflect.ValueOf(target)
	m := v.MethodByName(method)
	if !m.IsValid() {
		return nil, fmt.Errorf("%w: no such method %q", ErrTransport, method)
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		in[i] = reflect.ValueOf(a)
	}
	out := m.Call(in)
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0].Interface(), nil
	default:
		vals := make([]any, len(out))
		for i, o := range out {
			vals[i] = o.Interface()
		}
		return vals, nil
	}
}

func getAttr(target any, name string) (any, error) {
	v := reflect.ValueOf(target)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	f := v.FieldByName(name)
	if !f.IsValid() {
		return nil, fmt.Errorf("%w: no such attribute %q", ErrTransport, name)
	}
	return f.Interface(), nil
}

func setAttr(target any, name string, value any) error {
	v := reflect.ValueOf(target)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	f := v.FieldByName(name)
	if !f.IsValid() || !f.CanSet() {
		return fmt.Errorf("%w: cannot set attribute %q", ErrTransport, name)
	}
	f.Set(reflect.ValueOf(value))
	return nil
}

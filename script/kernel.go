// Package script embeds an interactive JavaScript kernel that exposes
// every activated module as a global object, the in-process stand-in for
// qudi's Jupyter-kernel console. Kernel install/uninstall plumbing (the
// machinery that registers this as a system-wide Jupyter kernelspec) is
// explicitly out of scope per spec's Non-goals; this package only runs
// scripts against already-activated modules within the current process.
package script

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
)

// ModuleHost is the narrow view of the module manager the kernel needs:
// look up an activated module by name to expose as a global. Defined here
// rather than imported from the root package to keep script a leaf
// package.
type ModuleHost interface {
	Lookup(name string) (any, error)
}

// Kernel is one interactive script session. It is not safe for concurrent
// Eval calls; callers serialize access the same way a single Jupyter
// kernel processes one cell at a time.
type Kernel struct {
	mu   sync.Mutex
	vm   *goja.Runtime
	host ModuleHost
}

// New constructs a kernel. Every module name passed to Expose becomes a
// global binding in the runtime, re-evaluated fresh from host.Lookup each
// time so a reloaded module's new instance is visible without restarting
// the kernel.
func New(host ModuleHost) *Kernel {
	return &Kernel{vm: goja.New(), host: host}
}

// Expose binds the named activated module into the runtime as a global of
// the same name, mirroring qudi's namespace injection into the Jupyter
// kernel on module activation.
func (k *Kernel) Expose(name string) error {
	mod, err := k.host.Lookup(name)
	if err != nil {
		return err
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.vm.Set(name, mod)
}

// Unexpose removes a module's global binding, mirroring the namespace
// cleanup qudi performs on module deactivation.
func (k *Kernel) Unexpose(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	_ = k.vm.GlobalObject().Delete(name)
}

// Eval runs one script against the current global bindings and returns its
// result rendered as a Go value.
func (k *Kernel) Eval(source string) (any, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, err := k.vm.RunString(source)
	if err != nil {
		return nil, fmt.Errorf("script evaluation failed: %w", err)
	}
	if v == nil {
		return nil, nil
	}
	return v.Export(), nil
}

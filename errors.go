package qudicore

import "errors"

// Error taxonomy per spec §7. Each class is a sentinel that concrete errors
// wrap with fmt.Errorf("...: %w", ...) so callers can classify failures with
// errors.Is without string matching.
var (
	// ErrValidation covers malformed configuration. Fails fast at startup,
	// never silently.
	ErrValidation = errors.New("validation error")

	// ErrResolution covers an implementation_ref the loader could not turn
	// into a constructible module class. Application.Start returns it and
	// the application does not start; the module is not registered, so it
	// has no row in the manager snapshot.
	ErrResolution = errors.New("module resolution error")

	// ErrDescriptor covers a missing required Option, a failed Option
	// checker, a non-YAMLable Status value, or an unresolvable required
	// Connector. Activation aborts and the module stays deactivated.
	ErrDescriptor = errors.New("descriptor error")

	// ErrHook covers an exception raised from a module's OnActivate or
	// OnDeactivate implementation.
	ErrHook = errors.New("module hook error")

	// ErrTransport covers a remote disconnect mid-call or any other
	// networking failure on the remote server/client boundary.
	ErrTransport = errors.New("transport error")

	// ErrInvariant covers state-machine misuse and lifetime misuse, e.g. an
	// external caller attempting to set the locked state, or access to a
	// module after it has deactivated.
	ErrInvariant = errors.New("invariant violation")
)

// Sentinel leaf errors used throughout the runtime. They are returned
// wrapped with context only; a leaf error is not wrapped in one of the
// taxonomy classes above, so errors.Is matches the leaf, not a class.
var (
	ErrModuleNotFound       = errors.New("module not found")
	ErrModuleAlreadyExists  = errors.New("module already registered")
	ErrCyclicConnectors     = errors.New("cyclic connector graph")
	ErrDuplicateModuleName  = errors.New("duplicate module name across kinds")
	ErrConnectorUnbound     = errors.New("connector is not bound to a target")
	ErrConnectorTypeMismatch = errors.New("connector target does not satisfy interface")
	ErrOptionImmutable      = errors.New("option value is immutable after construction")
	ErrOptionMissing        = errors.New("required option has no value and no default")
	ErrStateTransition      = errors.New("illegal module state transition")
	ErrLockDiscipline       = errors.New("locked state may only be entered or left by the module itself")
	ErrModuleNotRemotable   = errors.New("module is not configured with allow_remote")
	ErrRemoteHandleUnknown  = errors.New("unknown or expired remote handle")
	ErrWorkerStopped        = errors.New("worker thread has been stopped")
	ErrDispatchTimeout      = errors.New("dispatch timed out")
)

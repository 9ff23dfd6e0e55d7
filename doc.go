// Package qudicore is the runtime for a modular measurement-application
// framework. A single running Application hosts a dynamic set of
// user-defined Modules (hardware drivers, measurement logic, graphical
// interfaces), wires them together from a declarative configuration file,
// runs each in a suitable thread, persists per-module state across
// restarts, and exposes any activated module to an embedded script kernel
// and to remote peer instances over the network.
//
// The package owns five concerns: the module meta-object system (Option,
// Status, Connector descriptors), the module lifecycle state machine, the
// module manager that is the sole authority over module state, the remote
// module server/client, and the configuration loader/validator that feeds
// all of the above. Concrete hardware drivers, GUI toolkits and the
// interactive script-kernel install/uninstall plumbing are collaborators
// reached only through interfaces defined here.
package qudicore

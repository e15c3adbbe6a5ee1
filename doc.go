// Package odal provides one uniform file-operation contract across storage
// systems with fundamentally different native semantics: local directories,
// flat object stores with prefix-derived folders, remote filesystems reached
// over a stateful network session, and hierarchical-namespace cloud stores.
//
// The core pieces are the Backend contract (implemented per storage system
// under backend/), the capability model that declares what each backend can
// do, a flat normalized error taxonomy, and the Store façade that scopes all
// operations to a root path and pre-checks capabilities before any I/O.
package odal

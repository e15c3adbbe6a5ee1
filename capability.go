package odal

import "sort"

// Capability is one declared, independently gateable operation category.
type Capability string

// The closed set of capabilities a backend may declare.
const (
	CapRead          Capability = "read"
	CapWrite         Capability = "write"
	CapDelete        Capability = "delete"
	CapList          Capability = "list"
	CapMove          Capability = "move"
	CapCopy          Capability = "copy"
	CapAtomicWrite   Capability = "atomic_write"
	CapGlob          Capability = "glob"
	CapRecursiveList Capability = "recursive_list"
	CapMetadata      Capability = "metadata"
)

var allCapabilities = []Capability{
	CapRead, CapWrite, CapDelete, CapList, CapMove, CapCopy,
	CapAtomicWrite, CapGlob, CapRecursiveList, CapMetadata,
}

// CapabilitySet is an immutable set of capabilities fixed at backend
// construction. Membership testing and iteration are the only operations.
type CapabilitySet struct {
	caps map[Capability]struct{}
}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	m := make(map[Capability]struct{}, len(caps))
	for _, c := range caps {
		m[c] = struct{}{}
	}
	return CapabilitySet{caps: m}
}

// AllCapabilities returns a set containing every capability.
func AllCapabilities() CapabilitySet {
	return NewCapabilitySet(allCapabilities...)
}

// AllCapabilitiesExcept returns the full set minus the given capabilities.
func AllCapabilitiesExcept(exclude ...Capability) CapabilitySet {
	s := AllCapabilities()
	for _, c := range exclude {
		delete(s.caps, c)
	}
	return s
}

// Supports reports whether c is in the set.
func (s CapabilitySet) Supports(c Capability) bool {
	_, ok := s.caps[c]
	return ok
}

// Require returns a CapabilityNotSupported error when c is absent.
func (s CapabilitySet) Require(backend string, c Capability) error {
	if !s.Supports(c) {
		return NewCapabilityNotSupported(backend, c)
	}
	return nil
}

// List returns the capabilities in sorted order.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s.caps))
	for c := range s.caps {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Len returns the number of capabilities in the set.
func (s CapabilitySet) Len() int { return len(s.caps) }

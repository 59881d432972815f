package framework

// Capabilities is a list of strings representing optional features declared by the test
// framework adapter running inside the hosted client. The harness never looks inside the
// adapter; it only consults these declarations.
type Capabilities []string

const (
	// CapabilityMethodCanIgnore means the adapter reports ignored test methods.
	CapabilityMethodCanIgnore = "method-can-ignore"

	// CapabilityMethodCanHaveTimeout means the adapter enforces per-method timeouts, reporting
	// overruns with the Timeout outcome.
	CapabilityMethodCanHaveTimeout = "method-can-have-timeout"

	// CapabilityClassCanIgnore means whole test classes can be marked as ignored.
	CapabilityClassCanIgnore = "class-can-ignore"

	// CapabilityTagFilter means the adapter honors the tag filter in the client configuration.
	CapabilityTagFilter = "tag-filter"
)

// AllCapabilities lists every capability the harness knows how to take advantage of.
func AllCapabilities() Capabilities {
	return Capabilities{
		CapabilityMethodCanIgnore,
		CapabilityMethodCanHaveTimeout,
		CapabilityClassCanIgnore,
		CapabilityTagFilter,
	}
}

// Has returns true if the specified string appears in the list.
func (cs Capabilities) Has(name string) bool {
	for _, c := range cs {
		if c == name {
			return true
		}
	}
	return false
}

// HasAny returns true if at least one of the specified strings appears in the list.
func (cs Capabilities) HasAny(names ...string) bool {
	for _, n := range names {
		if cs.Has(n) {
			return true
		}
	}
	return false
}

// Missing returns the members of wanted that do not appear in the list, in order.
func (cs Capabilities) Missing(wanted Capabilities) Capabilities {
	var ret Capabilities
	for _, w := range wanted {
		if !cs.Has(w) {
			ret = append(ret, w)
		}
	}
	return ret
}

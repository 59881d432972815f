// Package runconfig describes what a test run executes. A RunConfiguration is validated when
// it is constructed and cannot be changed afterward; components that need method filtering or
// host sharding are given one explicitly.
package runconfig

import (
	"fmt"
	"hash/fnv"
	"strings"

	"golang.org/x/exp/slices"
)

// ProviderType identifies the unit test framework the test assembly was written against.
type ProviderType string

const (
	ProviderUndefined  ProviderType = ""
	ProviderMSTest     ProviderType = "MSTest"
	ProviderNUnit      ProviderType = "NUnit"
	ProviderXUnit      ProviderType = "XUnit"
	ProviderUnitDriven ProviderType = "UnitDriven"
	ProviderMSpec      ProviderType = "MSpec"
)

// BrowserType identifies how the hosted client is hosted.
type BrowserType string

const (
	BrowserSelfHosted BrowserType = "SelfHosted"
	BrowserFirefox    BrowserType = "Firefox"
	BrowserChrome     BrowserType = "Chrome"
)

// WindowState is the initial state of the hosting window.
type WindowState string

const (
	WindowNormal    WindowState = "Normal"
	WindowMinimized WindowState = "Minimized"
	WindowMaximized WindowState = "Maximized"
)

// WindowGeometry is the size and state of the window that hosts the client.
type WindowGeometry struct {
	State  WindowState `json:"state,omitempty"`
	Width  int         `json:"width,omitempty"`
	Height int         `json:"height,omitempty"`
}

// DefaultWindowGeometry is used when no geometry is specified.
func DefaultWindowGeometry() WindowGeometry {
	return WindowGeometry{State: WindowMinimized, Width: 800, Height: 600}
}

// String formats the geometry as "WIDTHxHEIGHT" followed by the state, e.g. "800x600 Minimized".
func (g WindowGeometry) String() string {
	return fmt.Sprintf("%dx%d %s", g.Width, g.Height, g.State)
}

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("invalid run configuration: %s %s", e.Field, e.Reason)
}

// Params are the inputs to New. Params can be built from command-line options or loaded from
// a file with LoadFile.
type Params struct {
	Name               string         `json:"name,omitempty"`
	Provider           ProviderType   `json:"provider"`
	MethodsToTest      []string       `json:"methodsToTest,omitempty"`
	TagFilter          string         `json:"tagFilter,omitempty"`
	HostCount          int            `json:"hostCount"`
	Browser            BrowserType    `json:"browser,omitempty"`
	EntryPointAssembly string         `json:"entryPointAssembly"`
	AssemblyNames      []string       `json:"assemblyNames,omitempty"`
	Window             WindowGeometry `json:"window,omitempty"`
}

// RunConfiguration is an immutable description of one run.
type RunConfiguration struct {
	name               string
	provider           ProviderType
	methodsToTest      []string
	tagFilter          string
	hostCount          int
	browser            BrowserType
	entryPointAssembly string
	assemblyNames      []string
	window             WindowGeometry
}

// New validates the parameters and builds a RunConfiguration.
func New(p Params) (*RunConfiguration, error) {
	switch p.Provider {
	case ProviderUndefined:
		return nil, ConfigError{Field: "provider", Reason: "must be defined"}
	case ProviderMSTest, ProviderNUnit, ProviderXUnit, ProviderUnitDriven, ProviderMSpec:
	default:
		return nil, ConfigError{Field: "provider", Reason: fmt.Sprintf("%q is not a known provider", p.Provider)}
	}
	if p.HostCount <= 0 {
		return nil, ConfigError{Field: "hostCount", Reason: "must be greater than 0"}
	}
	if p.EntryPointAssembly == "" {
		return nil, ConfigError{Field: "entryPointAssembly", Reason: "is required"}
	}
	browser := p.Browser
	switch browser {
	case "":
		browser = BrowserSelfHosted
	case BrowserSelfHosted, BrowserFirefox, BrowserChrome:
	default:
		return nil, ConfigError{Field: "browser", Reason: fmt.Sprintf("%q is not a known browser", p.Browser)}
	}
	window := p.Window
	if window == (WindowGeometry{}) {
		window = DefaultWindowGeometry()
	}
	if window.Width < 0 || window.Height < 0 {
		return nil, ConfigError{Field: "window", Reason: "dimensions cannot be negative"}
	}
	name := p.Name
	if name == "" {
		name = p.EntryPointAssembly
	}
	return &RunConfiguration{
		name:               name,
		provider:           p.Provider,
		methodsToTest:      slices.Clone(p.MethodsToTest),
		tagFilter:          p.TagFilter,
		hostCount:          p.HostCount,
		browser:            browser,
		entryPointAssembly: p.EntryPointAssembly,
		assemblyNames:      slices.Clone(p.AssemblyNames),
		window:             window,
	}, nil
}

func (c *RunConfiguration) Name() string                   { return c.name }
func (c *RunConfiguration) Provider() ProviderType         { return c.provider }
func (c *RunConfiguration) TagFilter() string              { return c.tagFilter }
func (c *RunConfiguration) HostCount() int                 { return c.hostCount }
func (c *RunConfiguration) Browser() BrowserType           { return c.browser }
func (c *RunConfiguration) EntryPointAssembly() string     { return c.entryPointAssembly }
func (c *RunConfiguration) WindowGeometry() WindowGeometry { return c.window }

// MethodsToTest returns a copy of the method filter. An empty filter means every method.
func (c *RunConfiguration) MethodsToTest() []string { return slices.Clone(c.methodsToTest) }

// AssemblyNames returns a copy of the formal names of the test assemblies.
func (c *RunConfiguration) AssemblyNames() []string { return slices.Clone(c.assemblyNames) }

// Params returns parameters that would reproduce this configuration.
func (c *RunConfiguration) Params() Params {
	return Params{
		Name:               c.name,
		Provider:           c.provider,
		MethodsToTest:      c.MethodsToTest(),
		TagFilter:          c.tagFilter,
		HostCount:          c.hostCount,
		Browser:            c.browser,
		EntryPointAssembly: c.entryPointAssembly,
		AssemblyNames:      c.AssemblyNames(),
		Window:             c.window,
	}
}

// ContainsMethod reports whether a fully qualified method name is in the method filter.
// Comparison is case-insensitive.
func (c *RunConfiguration) ContainsMethod(fullMethodName string) bool {
	return slices.ContainsFunc(c.methodsToTest, func(m string) bool {
		return strings.EqualFold(m, fullMethodName)
	})
}

// IsExplicit reports whether the method was singled out: it is the only entry in the filter.
// Test frameworks run explicit methods even when they are marked to be skipped.
func (c *RunConfiguration) IsExplicit(fullMethodName string) bool {
	return len(c.methodsToTest) == 1 && c.ContainsMethod(fullMethodName)
}

// ShouldRun decides whether the host instance with the given zero-based index runs a method.
// With a method filter, exactly the listed methods run, on every instance. Without one,
// methods are sharded across instances by a stable hash of the name.
func (c *RunConfiguration) ShouldRun(fullMethodName string, instance int) bool {
	if len(c.methodsToTest) > 0 {
		return c.ContainsMethod(fullMethodName)
	}
	return c.InstanceFor(fullMethodName) == instance
}

// InstanceFor returns the zero-based index of the host instance that runs a method when the
// tests are sharded.
func (c *RunConfiguration) InstanceFor(fullMethodName string) int {
	if c.hostCount <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(fullMethodName))
	return int(h.Sum32() % uint32(c.hostCount))
}

package servicedef

import "github.com/statlight/harness/framework"

// StatusRep is the response of the test service to GET on its root URL.
type StatusRep struct {
	// Name describes the test service, such as "silverlight-browser-host".
	Name string `json:"name"`

	// Capabilities are the capabilities of the unit test framework adapter.
	Capabilities framework.Capabilities `json:"capabilities"`

	// ClientVersion is the version of the hosted-client runtime, if known.
	ClientVersion string `json:"clientVersion,omitempty"`
}

// CreateClientParams is the body of a POST to the test service's root URL, asking it to
// start one hosted-client instance.
type CreateClientParams struct {
	// HarnessURL is the base URL of the harness transport that the client reports to.
	HarnessURL string `json:"harnessUrl"`

	// Instance is the zero-based index of this client among HostCount instances.
	Instance int `json:"instance"`

	HostCount          int            `json:"hostCount"`
	Browser            string         `json:"browser"`
	EntryPointAssembly string         `json:"entryPointAssembly"`
	Window             WindowGeometry `json:"window"`
}

// WindowGeometry is the window size and state requested for a hosted client.
type WindowGeometry struct {
	State  string `json:"state"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Package servicedef contains definitions for the REST protocols spoken by the harness: the
// protocol a test service implements so that the harness can start and stop hosted clients,
// and the protocol a hosted client uses to fetch its configuration and report results back
// to the harness.
//
// The package is used by the harness, but can also be imported by any Go-based test service
// or hosted-client bridge.
package servicedef

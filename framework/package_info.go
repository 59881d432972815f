// Package framework contains the low-level infrastructure of the test harness that is shared
// by every other component. The base package contains shared types such as Logger and
// Capabilities; the components are in subpackages.
//
// The general model is:
//
// 1. A hosted client (a packaged test assembly running inside a browser or window host) is
// started by the harness through a remote test service (package harness).
//
// 2. The hosted client streams test outcomes back to the harness's HTTP transport, which
// publishes them as events (package events) on an in-process event bus (package eventbus).
//
// 3. The result aggregator (package aggregator) turns the event stream into test reports
// (package results), while run controllers (package runner) block until a run completes.
//
// 4. Finished reports, or the live event stream, are handed to emitters: TeamCity service
// messages (package teamcity), XML reports (package xmlreport) and the console.
package framework

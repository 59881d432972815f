package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/statlight/harness/framework/runconfig"
	"github.com/statlight/harness/framework/runner"

	"github.com/urfave/cli/v2"
)

const EnvVarPrefix = "STATLIGHT"

func prefixEnvVar(name string) []string {
	return []string{EnvVarPrefix + "_" + name}
}

var (
	serviceURLFlag = &cli.StringFlag{
		Name:    "url",
		EnvVars: prefixEnvVar("URL"),
		Usage:   "test service URL",
	}
	hostFlag = &cli.StringFlag{
		Name:    "host",
		Value:   "localhost",
		EnvVars: prefixEnvVar("HOST"),
		Usage:   "external hostname of the test harness",
	}
	portFlag = &cli.IntFlag{
		Name:    "port",
		Value:   defaultPort,
		EnvVars: prefixEnvVar("PORT"),
		Usage:   "port that the test harness will listen on",
	}
	providerFlag = &cli.StringFlag{
		Name:    "provider",
		Value:   string(runconfig.ProviderMSTest),
		EnvVars: prefixEnvVar("PROVIDER"),
		Usage:   "unit test framework of the test assembly (MSTest, NUnit, XUnit, UnitDriven, MSpec)",
	}
	methodFlag = &cli.StringSliceFlag{
		Name:  "method",
		Usage: "fully qualified test method to run; may be repeated (default: all methods)",
	}
	tagFlag = &cli.StringFlag{
		Name:    "tag",
		EnvVars: prefixEnvVar("TAG"),
		Usage:   "only run tests with this tag",
	}
	hostsFlag = &cli.IntFlag{
		Name:    "hosts",
		Value:   1,
		EnvVars: prefixEnvVar("HOSTS"),
		Usage:   "number of hosted-client instances to shard the tests across",
	}
	browserFlag = &cli.StringFlag{
		Name:    "browser",
		Value:   string(runconfig.BrowserSelfHosted),
		EnvVars: prefixEnvVar("BROWSER"),
		Usage:   "how the client is hosted (SelfHosted, Firefox, Chrome)",
	}
	windowFlag = &cli.StringFlag{
		Name:    "window",
		EnvVars: prefixEnvVar("WINDOW"),
		Usage:   `host window geometry, e.g. "1024x768" or "1024x768 Normal"`,
	}
	assemblyFlag = &cli.StringFlag{
		Name:    "assembly",
		EnvVars: prefixEnvVar("ASSEMBLY"),
		Usage:   "path of the test package entry-point assembly",
	}
	configFlag = &cli.StringFlag{
		Name:    "config",
		EnvVars: prefixEnvVar("CONFIG"),
		Usage:   "JSON or YAML run configuration file; explicit flags take precedence over it",
	}
	modeFlag = &cli.StringFlag{
		Name:    "mode",
		Value:   string(runner.ModeOneShot),
		EnvVars: prefixEnvVar("MODE"),
		Usage:   "run mode (oneshot, continuous, teamcity)",
	}
	watchFlag = &cli.StringFlag{
		Name:    "watch",
		EnvVars: prefixEnvVar("WATCH"),
		Usage:   "file to watch for rebuilds in continuous mode (default: the assembly)",
	}
	msGenericFlag = &cli.StringFlag{
		Name:    "msgeneric",
		EnvVars: prefixEnvVar("MSGENERIC"),
		Usage:   "write an MSTest generic-test XML report to the specified path",
	}
	jUnitFlag = &cli.StringFlag{
		Name:    "junit",
		EnvVars: prefixEnvVar("JUNIT"),
		Usage:   "write JUnit XML output to the specified path",
	}
	teamCityFlag = &cli.BoolFlag{
		Name:    "teamcity",
		EnvVars: prefixEnvVar("TEAMCITY"),
		Usage:   "shorthand for --mode teamcity",
	}
	redisFlag = &cli.StringFlag{
		Name:    "redis",
		EnvVars: prefixEnvVar("REDIS"),
		Usage:   "redis:// URL of a server that keeps a history of test reports",
	}
	stopServiceAtEndFlag = &cli.BoolFlag{
		Name:    "stop-service-at-end",
		EnvVars: prefixEnvVar("STOP_SERVICE_AT_END"),
		Usage:   "tell test service to exit after the test run",
	}
	debugFlag = &cli.BoolFlag{
		Name:    "debug",
		EnvVars: prefixEnvVar("DEBUG"),
		Usage:   "enable debug logging and verbose test output",
	}
)

var flags = []cli.Flag{
	serviceURLFlag,
	hostFlag,
	portFlag,
	providerFlag,
	methodFlag,
	tagFlag,
	hostsFlag,
	browserFlag,
	windowFlag,
	assemblyFlag,
	configFlag,
	modeFlag,
	watchFlag,
	msGenericFlag,
	jUnitFlag,
	teamCityFlag,
	redisFlag,
	stopServiceAtEndFlag,
	debugFlag,
}

type commandParams struct {
	serviceURL       string
	host             string
	port             int
	run              runconfig.Params
	mode             runner.Mode
	watchPath        string
	msGenericFile    string
	jUnitFile        string
	redisURL         string
	stopServiceAtEnd bool
	debug            bool
}

func readParams(c *cli.Context) (commandParams, error) {
	p := commandParams{
		serviceURL:       c.String(serviceURLFlag.Name),
		host:             c.String(hostFlag.Name),
		port:             c.Int(portFlag.Name),
		watchPath:        c.String(watchFlag.Name),
		msGenericFile:    c.String(msGenericFlag.Name),
		jUnitFile:        c.String(jUnitFlag.Name),
		redisURL:         c.String(redisFlag.Name),
		stopServiceAtEnd: c.Bool(stopServiceAtEndFlag.Name),
		debug:            c.Bool(debugFlag.Name),
	}
	if p.serviceURL == "" {
		return p, fmt.Errorf("--%s is required", serviceURLFlag.Name)
	}

	mode, err := runner.ParseMode(c.String(modeFlag.Name))
	if err != nil {
		return p, err
	}
	if c.Bool(teamCityFlag.Name) {
		if c.IsSet(modeFlag.Name) && mode != runner.ModeTeamCity {
			return p, fmt.Errorf("--%s conflicts with --%s %s", teamCityFlag.Name, modeFlag.Name, mode)
		}
		mode = runner.ModeTeamCity
	}
	p.mode = mode

	if path := c.String(configFlag.Name); path != "" {
		if p.run, err = runconfig.LoadFile(path, p.run); err != nil {
			return p, err
		}
	}
	// Values from a config file only yield to flags that were given explicitly; otherwise the
	// flag defaults fill in whatever the file left empty.
	override := func(name string, empty bool) bool { return c.IsSet(name) || empty }
	if override(providerFlag.Name, p.run.Provider == runconfig.ProviderUndefined) {
		p.run.Provider = runconfig.ProviderType(c.String(providerFlag.Name))
	}
	if override(browserFlag.Name, p.run.Browser == "") {
		p.run.Browser = runconfig.BrowserType(c.String(browserFlag.Name))
	}
	if override(hostsFlag.Name, p.run.HostCount == 0) {
		p.run.HostCount = c.Int(hostsFlag.Name)
	}
	if c.IsSet(tagFlag.Name) {
		p.run.TagFilter = c.String(tagFlag.Name)
	}
	if c.IsSet(assemblyFlag.Name) {
		p.run.EntryPointAssembly = c.String(assemblyFlag.Name)
	}
	if c.IsSet(methodFlag.Name) {
		p.run.MethodsToTest = c.StringSlice(methodFlag.Name)
	}
	if c.IsSet(windowFlag.Name) {
		if p.run.Window, err = parseWindowGeometry(c.String(windowFlag.Name)); err != nil {
			return p, err
		}
	}

	if p.mode == runner.ModeContinuous && p.watchPath == "" {
		p.watchPath = p.run.EntryPointAssembly
	}
	return p, nil
}

// parseWindowGeometry accepts "WIDTHxHEIGHT", optionally followed by a window state, which is
// the same format that WindowGeometry.String produces. A state by itself keeps the default size.
func parseWindowGeometry(s string) (runconfig.WindowGeometry, error) {
	g := runconfig.DefaultWindowGeometry()
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields) > 2 {
		return g, fmt.Errorf("invalid window geometry %q", s)
	}
	if len(fields) == 1 {
		if state, ok := parseWindowState(fields[0]); ok {
			g.State = state
			return g, nil
		}
	}
	width, height, found := strings.Cut(strings.ToLower(fields[0]), "x")
	if !found {
		return g, fmt.Errorf("invalid window geometry %q", s)
	}
	var err error
	if g.Width, err = strconv.Atoi(width); err != nil || g.Width < 0 {
		return g, fmt.Errorf("invalid window width in %q", s)
	}
	if g.Height, err = strconv.Atoi(height); err != nil || g.Height < 0 {
		return g, fmt.Errorf("invalid window height in %q", s)
	}
	if len(fields) == 2 {
		state, ok := parseWindowState(fields[1])
		if !ok {
			return g, fmt.Errorf("unknown window state %q", fields[1])
		}
		g.State = state
	}
	return g, nil
}

func parseWindowState(s string) (runconfig.WindowState, bool) {
	for _, state := range []runconfig.WindowState{
		runconfig.WindowNormal, runconfig.WindowMinimized, runconfig.WindowMaximized,
	} {
		if strings.EqualFold(s, string(state)) {
			return state, true
		}
	}
	return "", false
}

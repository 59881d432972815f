package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/framework/aggregator"
	"github.com/statlight/harness/framework/archive"
	"github.com/statlight/harness/framework/console"
	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/harness"
	"github.com/statlight/harness/framework/metrics"
	"github.com/statlight/harness/framework/results"
	"github.com/statlight/harness/framework/runconfig"
	"github.com/statlight/harness/framework/runner"
	"github.com/statlight/harness/framework/teamcity"
	"github.com/statlight/harness/framework/watch"
	"github.com/statlight/harness/framework/xmlreport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
)

const defaultPort = 8111
const statusQueryTimeout = time.Second * 10

var Version = "v0.1.0"

func main() {
	app := cli.NewApp()
	app.Name = "statlight-harness"
	app.Version = Version
	app.Usage = "Runs in-browser unit test packages and reports their results"
	app.Flags = flags
	app.Action = func(c *cli.Context) error {
		params, err := readParams(c)
		if err != nil {
			return err
		}
		state, err := run(c.Context, params)
		if err != nil {
			return err
		}
		if state == results.Failure {
			return cli.Exit("", 1)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.RunContext(ctx, os.Args)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, params commandParams) (results.RunCompletedState, error) {
	config, err := runconfig.New(params.run)
	if err != nil {
		return results.Failure, err
	}

	mainDebugLogger := framework.NullLogger()
	if params.debug {
		mainDebugLogger = log.New(os.Stdout, "", log.LstdFlags)
	}
	teamCity := params.mode == runner.ModeTeamCity

	bus := eventbus.New(mainDebugLogger)

	// The aggregator has to be subscribed before anything that waits for sealed reports.
	agg := aggregator.New(bus, config.Name(), framework.LoggerWithPrefix(mainDebugLogger, "[aggregator] "))
	defer agg.Close()

	registry := prometheus.NewRegistry()
	defer metrics.New(registry).Attach(bus)()

	server, err := harness.NewServer(
		config,
		bus,
		harness.ServerHost(params.host),
		harness.ServerPort(params.port),
		harness.ServerMetrics(registry),
		harness.ServerLogger(framework.LoggerWithPrefix(mainDebugLogger, "[transport] ")),
	)
	if err != nil {
		return results.Failure, err
	}
	defer func() { _ = server.Close() }()

	launcher, err := harness.NewClientLauncher(
		params.serviceURL,
		config,
		server.URL,
		harness.LauncherStatusTimeout(statusQueryTimeout),
		harness.LauncherOutput(progressOutput(teamCity)),
		harness.LauncherLogger(framework.LoggerWithPrefix(mainDebugLogger, "[launcher] ")),
		harness.LauncherStopServiceAtEnd(params.stopServiceAtEnd),
	)
	if err != nil {
		return results.Failure, err
	}
	defer func() {
		if err := launcher.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to close test service clients: %s\n", err)
		}
	}()

	info, err := launcher.ServiceInfo(ctx)
	if err != nil {
		return results.Failure, err
	}
	if !teamCity {
		fmt.Printf("Connected to test service: %s\n", info.Name)
		console.PrintCapabilityDescription(os.Stdout, info.Capabilities, config.TagFilter())
		defer console.NewHandler(os.Stdout, params.debug).Attach(bus)()
	}

	var history reportHistory
	if params.redisURL != "" {
		redisHistory, err := archive.NewRedis(params.redisURL, 0, framework.LoggerWithPrefix(mainDebugLogger, "[archive] "))
		if err != nil {
			return results.Failure, err
		}
		defer func() { _ = redisHistory.Close() }()
		if err := redisHistory.Ping(ctx); err != nil {
			return results.Failure, fmt.Errorf("cannot connect to %s: %w", redisHistory.DSN(), err)
		}
		defer redisHistory.Attach(bus)()
		history = redisHistory
	}

	deps := runner.Dependencies{
		Bus:       bus,
		Name:      config.Name(),
		Transport: server,
		Launcher:  launcher,
		Filter:    server,
		Logger:    framework.LoggerWithPrefix(mainDebugLogger, "[runner] "),
	}
	switch params.mode {
	case runner.ModeContinuous:
		monitor, err := watch.New(params.watchPath, watch.Logger(framework.LoggerWithPrefix(mainDebugLogger, "[watch] ")))
		if err != nil {
			return results.Failure, err
		}
		defer func() { _ = monitor.Close() }()
		deps.Monitor = monitor
	case runner.ModeTeamCity:
		deps.Emitter = teamcity.NewEmitter(os.Stdout)
	}

	r, err := runner.New(params.mode, deps)
	if err != nil {
		return results.Failure, err
	}
	if c, ok := r.(*runner.Continuous); ok {
		fmt.Printf("Watching %s for changes. %s\n", params.watchPath, commandHelp)
		if history != nil {
			fmt.Println(historyHelp)
		}
		go readCommands(ctx, os.Stdin, c, history, os.Stdout)
	}
	_, runErr := r.Run(ctx)
	closeErr := r.Close()
	if runErr != nil {
		return results.Failure, runErr
	}
	if closeErr != nil {
		fmt.Fprintf(os.Stderr, "Error while shutting down: %s\n", closeErr)
	}

	reports := agg.AllReports()
	if len(reports) == 0 {
		return results.Failure, fmt.Errorf("no test runs completed")
	}
	if err := writeReports(params, config, info, reports); err != nil {
		return results.Failure, err
	}
	if !teamCity {
		fmt.Println()
		console.PrintSummary(os.Stdout, reports)
	}
	return reports.FinalResult(), nil
}

// progressOutput is where the launcher reports its progress. In TeamCity mode stdout carries
// only service messages.
func progressOutput(teamCity bool) io.Writer {
	if teamCity {
		return os.Stderr
	}
	return os.Stdout
}

func writeReports(
	params commandParams,
	config *runconfig.RunConfiguration,
	info harness.ServiceInfo,
	reports results.TestReportCollection,
) error {
	if params.msGenericFile != "" {
		report, err := xmlreport.NewMSGenericReport(reports)
		if err != nil {
			return err
		}
		if err := report.WriteFile(params.msGenericFile); err != nil {
			return err
		}
	}
	if params.jUnitFile != "" {
		properties := map[string]string{
			"provider":    string(config.Provider()),
			"browser":     string(config.Browser()),
			"hostCount":   fmt.Sprint(config.HostCount()),
			"serviceName": info.Name,
		}
		if config.TagFilter() != "" {
			properties["tagFilter"] = config.TagFilter()
		}
		if info.ClientVersion != "" {
			properties["clientVersion"] = info.ClientVersion
		}
		report, err := xmlreport.NewJUnitReport(reports, properties)
		if err != nil {
			return err
		}
		if err := report.WriteFile(params.jUnitFile); err != nil {
			return err
		}
	}
	return nil
}

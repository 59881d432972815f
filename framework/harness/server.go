// Package harness connects the harness process to the hosted clients: Server is the HTTP
// endpoint they report to, and ClientLauncher asks the remote test service to start them.
package harness

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/statlight/harness/framework"
	"github.com/statlight/harness/framework/eventbus"
	"github.com/statlight/harness/framework/events"
	"github.com/statlight/harness/framework/helpers"
	"github.com/statlight/harness/framework/results"
	"github.com/statlight/harness/framework/runconfig"
	"github.com/statlight/harness/servicedef"

	"github.com/gorilla/mux"
	"github.com/launchdarkly/eventsource"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	eventsChannel        = "run"
	serverShutdownPeriod = time.Second * 2
)

// Server is the transport between the harness and the hosted clients. Hosted clients fetch
// their configuration from it and post their results to it; it turns those requests into
// events on the bus. It also serves a live feed of those events to any observer, and
// Prometheus metrics if a gatherer was configured.
//
// Server also owns the persistent tag filter that is handed to each newly started client.
// Reports that carry the ID of a run other than the current one are rejected with 409.
type Server struct {
	config      *runconfig.RunConfiguration
	bus         *eventbus.Bus
	host        string
	port        int
	gatherer    prometheus.Gatherer
	logger      framework.Logger
	router      *mux.Router
	tokens      []eventbus.Token
	httpServer  *http.Server
	streams     *eventsource.Server
	baseURL     string
	tagFilter   string
	runID       string
	completed   map[int]bool
	runDone     bool
	lock        sync.Mutex
	publishLock sync.Mutex
}

type ServerOption helpers.ConfigOption[Server]

type serverOptionHost string

func (o serverOptionHost) Configure(s *Server) error {
	s.host = string(o)
	return nil
}

// ServerHost sets the hostname that hosted clients use to reach the harness. The default is
// "localhost".
func ServerHost(host string) ServerOption { return serverOptionHost(host) }

type serverOptionPort int

func (o serverOptionPort) Configure(s *Server) error {
	if o < 0 {
		return fmt.Errorf("invalid port %d", int(o))
	}
	s.port = int(o)
	return nil
}

// ServerPort sets the port to listen on. Zero, the default, picks any free port.
func ServerPort(port int) ServerOption { return serverOptionPort(port) }

type serverOptionGatherer struct{ g prometheus.Gatherer }

func (o serverOptionGatherer) Configure(s *Server) error {
	s.gatherer = o.g
	return nil
}

// ServerMetrics exposes the metrics of the gatherer at /metrics.
func ServerMetrics(g prometheus.Gatherer) ServerOption { return serverOptionGatherer{g} }

type serverOptionLogger struct{ logger framework.Logger }

func (o serverOptionLogger) Configure(s *Server) error {
	s.logger = framework.OrNullLogger(o.logger)
	return nil
}

// ServerLogger sets the debug logger.
func ServerLogger(logger framework.Logger) ServerOption { return serverOptionLogger{logger} }

// NewServer creates a Server for the configuration. It does not listen until Start is called.
func NewServer(
	config *runconfig.RunConfiguration,
	bus *eventbus.Bus,
	options ...ServerOption,
) (*Server, error) {
	if config == nil {
		return nil, errors.New("run configuration is required")
	}
	s := &Server{
		config:    config,
		bus:       bus,
		host:      "localhost",
		logger:    framework.NullLogger(),
		tagFilter: config.TagFilter(),
		completed: make(map[int]bool),
	}
	if err := helpers.ApplyOptions(s, options...); err != nil {
		return nil, err
	}
	s.router = s.makeRouter()
	s.tokens = []eventbus.Token{
		eventbus.Subscribe(bus, s.onRunStarting),
		eventbus.Subscribe(bus, func(e events.TestCaseCompleted) { s.forward("caseCompleted", caseResultRep(e.Result)) }),
		eventbus.Subscribe(bus, func(e events.OtherMessage) {
			s.forward("otherMessage", servicedef.OtherMessageParams{Message: e.Message, IsIgnore: e.IsIgnore})
		}),
		eventbus.Subscribe(bus, func(events.TestRunCompleted) { s.forward("runCompleted", struct{}{}) }),
		eventbus.Subscribe(bus, func(e events.ReportSealed) { s.forward("reportSealed", e.Report) }),
	}
	return s, nil
}

// Handler returns the HTTP handler for all of the server's routes.
func (s *Server) Handler() http.Handler { return s.router }

// URL returns the base URL of the server. It is only known after Start.
func (s *Server) URL() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.baseURL
}

// TagFilter returns the tag filter that newly started clients will use.
func (s *Server) TagFilter() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.tagFilter
}

// SetTagFilter changes the tag filter that newly started clients will use.
func (s *Server) SetTagFilter(tagFilter string) {
	s.lock.Lock()
	s.tagFilter = tagFilter
	s.lock.Unlock()
	s.logger.Printf("Tag filter set to %q", tagFilter)
}

// Start begins listening for requests from hosted clients.
func (s *Server) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.httpServer != nil {
		return errors.New("transport is already started")
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("cannot listen on port %d: %w", s.port, err)
	}
	port := listener.Addr().(*net.TCPAddr).Port
	s.baseURL = fmt.Sprintf("http://%s:%d", s.host, port)

	streams := eventsource.NewServer()
	streams.Logger = s.logger
	s.streams = streams

	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second, // arbitrary but non-infinite timeout to avoid Slowloris Attack
	}
	s.httpServer = server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Transport listener on port %d failed: %s", port, err)
		}
	}()
	s.logger.Printf("Transport listening at %s", s.baseURL)
	return nil
}

// Stop stops listening. Open event feeds are closed.
func (s *Server) Stop() error {
	s.lock.Lock()
	server, streams := s.httpServer, s.streams
	s.httpServer, s.streams = nil, nil
	s.lock.Unlock()
	if server == nil {
		return nil
	}
	streams.Close()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownPeriod)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		_ = server.Close()
		return fmt.Errorf("stopping transport: %w", err)
	}
	s.logger.Printf("Transport stopped")
	return nil
}

// Close stops the server if necessary and unsubscribes it from the bus.
func (s *Server) Close() error {
	for _, t := range s.tokens {
		t.Unsubscribe()
	}
	return s.Stop()
}

func (s *Server) makeRouter() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/", s.getStatus).Methods("GET", "HEAD")
	router.HandleFunc(servicedef.PathConfig, s.getConfig).Methods("GET")
	router.HandleFunc(servicedef.PathAssignment, s.getAssignment).Methods("GET")
	router.HandleFunc(servicedef.PathCaseResult, s.postCaseResult).Methods("POST")
	router.HandleFunc(servicedef.PathOtherMessage, s.postOtherMessage).Methods("POST")
	router.HandleFunc(servicedef.PathRunCompleted, s.postRunCompleted).Methods("POST")
	router.HandleFunc(servicedef.PathEvents, s.getEvents).Methods("GET")
	router.HandleFunc(servicedef.PathMetrics, s.getMetrics).Methods("GET")
	return router
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method == "HEAD" {
		w.WriteHeader(http.StatusOK) // used to test whether our own listener is active
		return
	}
	writeJSON(w, map[string]interface{}{
		"name":      s.config.Name(),
		"tagFilter": s.TagFilter(),
		"run":       s.config.Params(),
	})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	instance, ok := s.instanceParam(w, r)
	if !ok {
		return
	}
	s.lock.Lock()
	runID := s.runID
	s.lock.Unlock()
	writeJSON(w, servicedef.ClientConfig{
		RunID:              runID,
		Provider:           string(s.config.Provider()),
		MethodsToTest:      s.config.MethodsToTest(),
		TagFilter:          s.TagFilter(),
		HostCount:          s.config.HostCount(),
		Instance:           instance,
		EntryPointAssembly: s.config.EntryPointAssembly(),
		AssemblyNames:      s.config.AssemblyNames(),
	})
}

func (s *Server) getAssignment(w http.ResponseWriter, r *http.Request) {
	instance, ok := s.instanceParam(w, r)
	if !ok {
		return
	}
	method := r.URL.Query().Get(servicedef.QueryParamMethod)
	if method == "" {
		http.Error(w, "method is required", http.StatusBadRequest)
		return
	}
	writeJSON(w, servicedef.AssignmentRep{
		Method:    method,
		ShouldRun: s.config.ShouldRun(method, instance),
		Explicit:  s.config.IsExplicit(method),
		Instance:  s.config.InstanceFor(method),
	})
}

// instanceParam reads the optional instance query parameter, which defaults to 0.
func (s *Server) instanceParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	value := r.URL.Query().Get(servicedef.QueryParamInstance)
	if value == "" {
		return 0, true
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 || n >= s.config.HostCount() {
		http.Error(w, fmt.Sprintf("invalid instance %q", value), http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

func (s *Server) postCaseResult(w http.ResponseWriter, r *http.Request) {
	var params servicedef.CaseResultParams
	if !s.readJSON(w, r, &params) || !s.checkRunID(w, params.RunID) {
		return
	}
	result, err := caseResultFromParams(params)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.publish(events.TestCaseCompleted{Result: result})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) postOtherMessage(w http.ResponseWriter, r *http.Request) {
	var params servicedef.OtherMessageParams
	if !s.readJSON(w, r, &params) || !s.checkRunID(w, params.RunID) {
		return
	}
	s.publish(events.OtherMessage{Message: params.Message, IsIgnore: params.IsIgnore})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) postRunCompleted(w http.ResponseWriter, r *http.Request) {
	var params servicedef.RunCompletedParams
	if !s.readJSON(w, r, &params) || !s.checkRunID(w, params.RunID) {
		return
	}
	if params.Instance < 0 || params.Instance >= s.config.HostCount() {
		http.Error(w, fmt.Sprintf("invalid instance %d", params.Instance), http.StatusBadRequest)
		return
	}

	// Hold the publish lock so that no case result can be dispatched between the decision
	// that the run is complete and the completion event itself.
	s.publishLock.Lock()
	defer s.publishLock.Unlock()

	s.lock.Lock()
	duplicate := s.runDone || s.completed[params.Instance]
	s.completed[params.Instance] = true
	allDone := !duplicate && len(s.completed) >= s.config.HostCount()
	if allDone {
		s.runDone = true
	}
	s.lock.Unlock()

	switch {
	case duplicate:
		s.logger.Printf("Ignoring repeated completion from instance %d", params.Instance)
	case allDone:
		s.logger.Printf("All %d host instances completed", s.config.HostCount())
		s.dispatch(events.TestRunCompleted{})
	default:
		s.logger.Printf("Instance %d completed; waiting for %d more", params.Instance,
			s.config.HostCount()-len(s.completed))
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getEvents(w http.ResponseWriter, r *http.Request) {
	s.lock.Lock()
	streams := s.streams
	s.lock.Unlock()
	if streams == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	streams.Handler(eventsChannel)(w, r)
}

func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) {
	if s.gatherer == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func (s *Server) onRunStarting(e events.TestRunStarting) {
	s.lock.Lock()
	s.runID = e.RunID
	s.completed = make(map[int]bool)
	s.runDone = false
	s.lock.Unlock()
	s.forward("runStarting", map[string]interface{}{"runId": e.RunID, "name": e.Name, "tagFilter": e.TagFilter})
}

// checkRunID rejects a report from a client that was started for a different run. Clients
// that do not send a run ID are trusted.
func (s *Server) checkRunID(w http.ResponseWriter, runID string) bool {
	if runID == "" {
		return true
	}
	s.lock.Lock()
	current := s.runID
	s.lock.Unlock()
	if runID != current {
		s.logger.Printf("Rejecting report for run %s; the current run is %s", runID, current)
		http.Error(w, fmt.Sprintf("run %s is not in progress", runID), http.StatusConflict)
		return false
	}
	return true
}

// publish serializes dispatch of events that arrive concurrently from several clients, so
// that listeners see a single ordered stream.
func (s *Server) publish(event interface{}) {
	s.publishLock.Lock()
	defer s.publishLock.Unlock()
	s.dispatch(event)
}

func (s *Server) dispatch(event interface{}) {
	if err := s.bus.Publish(event); err != nil {
		s.logger.Printf("Error while dispatching %T: %s", event, err)
	}
}

// forward copies an event to the live feed, if anyone could be listening.
func (s *Server) forward(name string, data interface{}) {
	s.lock.Lock()
	streams := s.streams
	s.lock.Unlock()
	if streams == nil {
		return
	}
	streams.Publish([]string{eventsChannel}, feedEvent{name: name, data: data})
}

func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			s.logger.Printf("Unexpected error trying to read request body: %s", err)
			w.WriteHeader(http.StatusInternalServerError)
			return false
		}
		body = data
	}
	s.logger.Printf("Got %s %s %s", r.Method, r.URL.Path, string(body))
	if err := json.Unmarshal(body, target); err != nil {
		http.Error(w, fmt.Sprintf("malformed request body: %s", err), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(data)
}

func caseResultFromParams(p servicedef.CaseResultParams) (results.TestCaseResult, error) {
	if p.MethodName == "" {
		return results.TestCaseResult{}, errors.New("methodName is required")
	}
	outcome, err := results.ParseOutcomeKind(p.Outcome)
	if err != nil {
		return results.TestCaseResult{}, err
	}
	if p.DurationMs < 0 {
		return results.TestCaseResult{}, fmt.Errorf("negative duration %d", p.DurationMs)
	}
	result := results.TestCaseResult{
		ClassName:  p.ClassName,
		MethodName: p.MethodName,
		Outcome:    outcome,
		Duration:   time.Duration(p.DurationMs) * time.Millisecond,
		OtherInfo:  p.OtherInfo,
	}
	if result.Started, err = parseOptionalTime(p.Started); err != nil {
		return results.TestCaseResult{}, err
	}
	if result.Finished, err = parseOptionalTime(p.Finished); err != nil {
		return results.TestCaseResult{}, err
	}
	if p.Exception != nil {
		result.Exception = &results.ExceptionInfo{
			Message:     p.Exception.Message,
			FullMessage: p.Exception.FullMessage,
			StackTrace:  p.Exception.StackTrace,
		}
	}
	return result, nil
}

func caseResultRep(r results.TestCaseResult) servicedef.CaseResultParams {
	p := servicedef.CaseResultParams{
		ClassName:  r.ClassName,
		MethodName: r.MethodName,
		Outcome:    string(r.Outcome),
		DurationMs: r.Duration.Milliseconds(),
		OtherInfo:  r.OtherInfo,
	}
	if r.Exception != nil {
		p.Exception = &servicedef.ExceptionParams{
			Message:     r.Exception.Message,
			FullMessage: r.Exception.FullMessage,
			StackTrace:  r.Exception.StackTrace,
		}
	}
	return p
}

func parseOptionalTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

type feedEvent struct {
	name string
	data interface{}
}

func (e feedEvent) Event() string { return e.name }
func (e feedEvent) Id() string    { return "" } //nolint:stylecheck
func (e feedEvent) Data() string {
	bytes, _ := json.Marshal(e.data)
	return string(bytes)
}

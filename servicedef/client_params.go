package servicedef

// Paths of the harness transport, relative to its base URL.
const (
	PathConfig         = "/config"
	PathAssignment     = "/config/assignment"
	PathCaseResult     = "/results/case"
	PathOtherMessage   = "/results/message"
	PathRunCompleted   = "/results/completed"
	PathEvents         = "/events"
	PathMetrics        = "/metrics"
	QueryParamInstance = "instance"
	QueryParamMethod   = "method"
)

// ClientConfig is the response to GET /config. It tells a hosted client which tests to run.
type ClientConfig struct {
	// RunID identifies the run the client was started for. The client echoes it in everything
	// it posts, so that late reports from an earlier run can be told apart.
	RunID string `json:"runId,omitempty"`

	Provider           string   `json:"provider"`
	MethodsToTest      []string `json:"methodsToTest"`
	TagFilter          string   `json:"tagFilter"`
	HostCount          int      `json:"hostCount"`
	Instance           int      `json:"instance"`
	EntryPointAssembly string   `json:"entryPointAssembly"`
	AssemblyNames      []string `json:"assemblyNames"`
}

// AssignmentRep is the response to GET /config/assignment. Test methods are divided among
// the host instances by the harness, so a client asks it about each method it discovers.
type AssignmentRep struct {
	Method string `json:"method"`

	// ShouldRun is true if the requesting instance runs the method.
	ShouldRun bool `json:"shouldRun"`

	// Explicit is true if the method was singled out by name, in which case it runs even if it
	// is marked to be ignored.
	Explicit bool `json:"explicit"`

	// Instance is the instance that runs the method when the tests are divided by hash.
	Instance int `json:"instance"`
}

// ExceptionParams describes an exception thrown by a test method.
type ExceptionParams struct {
	Message     string `json:"message"`
	FullMessage string `json:"fullMessage,omitempty"`
	StackTrace  string `json:"stackTrace,omitempty"`
}

// CaseResultParams is the body of POST /results/case.
type CaseResultParams struct {
	RunID      string           `json:"runId,omitempty"`
	ClassName  string           `json:"className"`
	MethodName string           `json:"methodName"`
	Outcome    string           `json:"outcome"`
	Started    string           `json:"started,omitempty"`
	Finished   string           `json:"finished,omitempty"`
	DurationMs int64            `json:"durationMs"`
	Exception  *ExceptionParams `json:"exception,omitempty"`
	OtherInfo  string           `json:"otherInfo,omitempty"`
}

// OtherMessageParams is the body of POST /results/message.
type OtherMessageParams struct {
	RunID    string `json:"runId,omitempty"`
	Message  string `json:"message"`
	IsIgnore bool   `json:"isIgnore"`
}

// RunCompletedParams is the body of POST /results/completed.
type RunCompletedParams struct {
	RunID    string `json:"runId,omitempty"`
	Instance int    `json:"instance"`
}

package results

import (
	"strings"
	"time"
)

// ExceptionInfo describes an exception raised by a test method inside the hosted client.
type ExceptionInfo struct {
	Message     string `json:"message"`
	FullMessage string `json:"fullMessage"`
	StackTrace  string `json:"stackTrace,omitempty"`
}

// Text returns the most complete description available.
func (e *ExceptionInfo) Text() string {
	if e == nil {
		return ""
	}
	if e.FullMessage != "" {
		return e.FullMessage
	}
	return e.Message
}

// TestCaseResult is the outcome of one test method.
type TestCaseResult struct {
	ClassName  string         `json:"className"`
	MethodName string         `json:"methodName"`
	Outcome    OutcomeKind    `json:"outcome"`
	Duration   time.Duration  `json:"duration"`
	Started    time.Time      `json:"started"`
	Finished   time.Time      `json:"finished"`
	Exception  *ExceptionInfo `json:"exception,omitempty"`
	OtherInfo  string         `json:"otherInfo,omitempty"`
}

// FullName is the "{className}.{methodName}" identity of the test.
func (r TestCaseResult) FullName() string {
	if r.ClassName == "" {
		return r.MethodName
	}
	return r.ClassName + "." + r.MethodName
}

// TraceMessage is the free-form diagnostic text for the result: the exception text followed
// by any other information, separated by a newline.
func (r TestCaseResult) TraceMessage() string {
	var parts []string
	if text := r.Exception.Text(); text != "" {
		parts = append(parts, text)
	}
	if r.OtherInfo != "" {
		parts = append(parts, r.OtherInfo)
	}
	return strings.Join(parts, "\n")
}

// normalized returns a copy whose duration is never negative.
func (r TestCaseResult) normalized() TestCaseResult {
	if r.Duration < 0 {
		r.Duration = 0
	}
	if r.Exception != nil {
		e := *r.Exception
		r.Exception = &e
	}
	return r
}

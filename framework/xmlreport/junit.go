package xmlreport

import (
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/statlight/harness/framework/results"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Struct definitions for the JUnit XML schema - see https://github.com/jstemmer/go-junit-report

type jUnitXMLDocument struct {
	XMLName xml.Name            `xml:"testsuites"`
	Suites  []jUnitXMLTestSuite `xml:"testsuite"`
}

type jUnitXMLTestSuite struct {
	XMLName    xml.Name           `xml:"testsuite"`
	Tests      int                `xml:"tests,attr"`
	Failures   int                `xml:"failures,attr"`
	Skipped    int                `xml:"skipped,attr"`
	Time       string             `xml:"time,attr"`
	Name       string             `xml:"name,attr"`
	Timestamp  string             `xml:"timestamp,attr,omitempty"`
	Properties []jUnitXMLProperty `xml:"properties>property,omitempty"`
	TestCases  []jUnitXMLTestCase `xml:"testcase"`
}

type jUnitXMLTestCase struct {
	XMLName     xml.Name             `xml:"testcase"`
	Classname   string               `xml:"classname,attr"`
	Name        string               `xml:"name,attr"`
	Time        string               `xml:"time,attr"`
	SkipMessage *jUnitXMLSkipMessage `xml:"skipped,omitempty"`
	Failure     *jUnitXMLFailure     `xml:"failure,omitempty"`
}

type jUnitXMLSkipMessage struct {
	Message string `xml:"message,attr"`
}

type jUnitXMLProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type jUnitXMLFailure struct {
	Message  string `xml:"message,attr"`
	Type     string `xml:"type,attr"`
	Contents string `xml:",chardata"`
}

// JUnitReport renders a report collection as JUnit XML, with one testsuite per report.
type JUnitReport struct {
	reports    results.TestReportCollection
	properties map[string]string
}

// NewJUnitReport creates a generator for a collection with at least one report. The
// properties are copied into every suite; the run ID is always included.
func NewJUnitReport(reports results.TestReportCollection, properties map[string]string) (*JUnitReport, error) {
	if reports.First() == nil {
		return nil, errors.New("no test reports to render")
	}
	return &JUnitReport{reports: reports, properties: properties}, nil
}

// Render returns the XML document.
func (j *JUnitReport) Render() ([]byte, error) {
	var doc jUnitXMLDocument
	for _, report := range j.reports {
		if report == nil {
			continue
		}
		suite := jUnitXMLTestSuite{
			Name:     report.Name,
			Tests:    report.Total(),
			Failures: report.Failed(),
			Skipped:  report.Ignored(),
			Time:     jUnitDurationString(report.Duration),
		}
		if !report.StartTime.IsZero() {
			suite.Timestamp = report.StartTime.UTC().Format(time.RFC3339)
		}
		suite.Properties = append(suite.Properties, jUnitXMLProperty{Name: "run.id", Value: report.RunID})
		for _, name := range sortedKeys(j.properties) {
			suite.Properties = append(suite.Properties, jUnitXMLProperty{Name: name, Value: j.properties[name]})
		}
		for _, c := range report.Results() {
			testCase := jUnitXMLTestCase{
				Classname: c.ClassName,
				Name:      c.MethodName,
				Time:      jUnitDurationString(c.Duration),
			}
			switch {
			case c.Outcome.IsNotExecuted():
				testCase.SkipMessage = &jUnitXMLSkipMessage{Message: c.TraceMessage()}
			case c.Outcome.IsNonPassing():
				testCase.Failure = &jUnitXMLFailure{
					Message:  failureSummary(c),
					Type:     string(c.Outcome),
					Contents: failureDetails(c),
				}
			}
			suite.TestCases = append(suite.TestCases, testCase)
		}
		doc.Suites = append(doc.Suites, suite)
	}

	bytes, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(bytes, '\n'), nil
}

// WriteFile writes the document to path, replacing any existing file.
func (j *JUnitReport) WriteFile(path string) error {
	return WriteFile(path, j)
}

func failureSummary(c results.TestCaseResult) string {
	if c.Exception != nil && c.Exception.Message != "" {
		return c.Exception.Message
	}
	return fmt.Sprintf("test outcome was %s", c.Outcome)
}

func failureDetails(c results.TestCaseResult) string {
	details := c.TraceMessage()
	if c.Exception != nil && c.Exception.StackTrace != "" {
		details = strings.TrimSpace(details + "\n  Stacktrace:\n" + c.Exception.StackTrace)
	}
	return details
}

func jUnitDurationString(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

func sortedKeys(m map[string]string) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}

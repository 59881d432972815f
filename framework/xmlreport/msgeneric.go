package xmlreport

import (
	"encoding/xml"
	"errors"

	"github.com/statlight/harness/framework/results"
)

// SummaryTestName is the name given to the root of the generic test result document.
const SummaryTestName = "StatLight Tests"

// TestResultType is the three-way result used by the generic test result format.
type TestResultType string

const (
	ResultPassed      TestResultType = "Passed"
	ResultNotExecuted TestResultType = "NotExecuted"
	ResultFailed      TestResultType = "Failed"
)

type summaryResultXML struct {
	XMLName    xml.Name       `xml:"SummaryResult"`
	TestName   string         `xml:"TestName"`
	TestResult TestResultType `xml:"TestResult"`
	InnerTests []innerTestXML `xml:"InnerTests>InnerTest"`
}

type innerTestXML struct {
	TestName     string         `xml:"TestName"`
	TestResult   TestResultType `xml:"TestResult"`
	ErrorMessage *string        `xml:"ErrorMessage,omitempty"`
}

// MSGenericReport renders a report collection in the generic test result format: a
// SummaryResult root whose InnerTests hold one entry per test case. Cases of every report in
// the collection are included, in order.
type MSGenericReport struct {
	reports results.TestReportCollection
}

// NewMSGenericReport creates a generator for a collection with at least one report.
func NewMSGenericReport(reports results.TestReportCollection) (*MSGenericReport, error) {
	if reports.First() == nil {
		return nil, errors.New("no test reports to render")
	}
	return &MSGenericReport{reports: reports}, nil
}

// Render returns the XML document.
func (r *MSGenericReport) Render() ([]byte, error) {
	doc := summaryResultXML{
		TestName:   SummaryTestName,
		TestResult: ResultPassed,
	}
	if r.reports.FinalResult() == results.Failure {
		doc.TestResult = ResultFailed
	}
	for _, report := range r.reports {
		if report == nil {
			continue
		}
		for _, c := range report.Results() {
			inner := innerTestXML{
				TestName:   c.FullName(),
				TestResult: ResultTypeOf(c.Outcome),
			}
			if message := c.TraceMessage(); message != "" {
				inner.ErrorMessage = &message
			}
			doc.InnerTests = append(doc.InnerTests, inner)
		}
	}
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), append(data, '\n')...), nil
}

// WriteFile writes the document to path, replacing any existing file.
func (r *MSGenericReport) WriteFile(path string) error {
	return WriteFile(path, r)
}

// ResultTypeOf maps an outcome to the generic format: Ignored is NotExecuted, Passed is
// Passed, and everything else is Failed.
func ResultTypeOf(outcome results.OutcomeKind) TestResultType {
	switch outcome {
	case results.Passed:
		return ResultPassed
	case results.Ignored:
		return ResultNotExecuted
	default:
		return ResultFailed
	}
}

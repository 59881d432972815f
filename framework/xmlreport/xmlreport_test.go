package xmlreport

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/statlight/harness/framework/results"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeReport(name string, cases ...results.TestCaseResult) *results.TestReport {
	r := results.NewTestReport(name, "run-"+name, time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	for _, c := range cases {
		r.Add(c)
	}
	r.Duration = 2500 * time.Millisecond
	return r
}

func parseMSGeneric(t *testing.T, data []byte) summaryResultXML {
	var doc summaryResultXML
	require.NoError(t, xml.Unmarshal(data, &doc))
	return doc
}

func TestMSGenericRootResult(t *testing.T) {
	passing := makeReport("a", results.TestCaseResult{ClassName: "C", MethodName: "M", Outcome: results.Passed})
	failing := makeReport("b", results.TestCaseResult{ClassName: "C", MethodName: "N", Outcome: results.Inconclusive})

	r, err := NewMSGenericReport(results.TestReportCollection{passing})
	require.NoError(t, err)
	data, err := r.Render()
	require.NoError(t, err)
	doc := parseMSGeneric(t, data)
	assert.Equal(t, SummaryTestName, doc.TestName)
	assert.Equal(t, ResultPassed, doc.TestResult)

	r, err = NewMSGenericReport(results.TestReportCollection{passing, failing})
	require.NoError(t, err)
	data, err = r.Render()
	require.NoError(t, err)
	doc = parseMSGeneric(t, data)
	assert.Equal(t, ResultFailed, doc.TestResult)
	require.Len(t, doc.InnerTests, 2, "cases of every report are rendered")
	assert.Equal(t, "C.M", doc.InnerTests[0].TestName)
	assert.Equal(t, "C.N", doc.InnerTests[1].TestName)
}

func TestMSGenericCaseResults(t *testing.T) {
	report := makeReport("a",
		results.TestCaseResult{ClassName: "C", MethodName: "Passes", Outcome: results.Passed},
		results.TestCaseResult{ClassName: "C", MethodName: "Skipped", Outcome: results.Ignored,
			Exception: &results.ExceptionInfo{Message: "ignored for now"}},
		results.TestCaseResult{ClassName: "C", MethodName: "Fails", Outcome: results.Failed,
			Exception: &results.ExceptionInfo{Message: "short", FullMessage: "Assert.AreEqual failed"},
			OtherInfo: "more"},
		results.TestCaseResult{ClassName: "C", MethodName: "Hangs", Outcome: results.Timeout},
	)
	r, err := NewMSGenericReport(results.TestReportCollection{report})
	require.NoError(t, err)
	data, err := r.Render()
	require.NoError(t, err)

	doc := parseMSGeneric(t, data)
	require.Len(t, doc.InnerTests, 4)
	assert.Equal(t, ResultPassed, doc.InnerTests[0].TestResult)
	assert.Nil(t, doc.InnerTests[0].ErrorMessage)
	assert.Equal(t, ResultNotExecuted, doc.InnerTests[1].TestResult)
	assert.Equal(t, ResultFailed, doc.InnerTests[2].TestResult)
	require.NotNil(t, doc.InnerTests[2].ErrorMessage)
	assert.Equal(t, "Assert.AreEqual failed\nmore", *doc.InnerTests[2].ErrorMessage)
	assert.Equal(t, ResultFailed, doc.InnerTests[3].TestResult)
	assert.Nil(t, doc.InnerTests[3].ErrorMessage)

	assert.NotContains(t, string(data), "<ErrorMessage></ErrorMessage>")
}

func TestResultTypeOf(t *testing.T) {
	for _, outcome := range results.AllOutcomeKinds() {
		expected := ResultFailed
		switch outcome {
		case results.Passed:
			expected = ResultPassed
		case results.Ignored:
			expected = ResultNotExecuted
		}
		assert.Equal(t, expected, ResultTypeOf(outcome), outcome.String())
	}
}

func TestEmptyCollectionIsRejected(t *testing.T) {
	_, err := NewMSGenericReport(nil)
	assert.Error(t, err)
	_, err = NewJUnitReport(results.TestReportCollection{}, nil)
	assert.Error(t, err)
}

func TestJUnitReport(t *testing.T) {
	report := makeReport("Tests.xap",
		results.TestCaseResult{ClassName: "C", MethodName: "Passes", Outcome: results.Passed, Duration: time.Second},
		results.TestCaseResult{ClassName: "C", MethodName: "Skipped", Outcome: results.Ignored},
		results.TestCaseResult{ClassName: "C", MethodName: "Fails", Outcome: results.Error,
			Exception: &results.ExceptionInfo{Message: "boom", StackTrace: "at C.Fails()"}},
	)
	j, err := NewJUnitReport(results.TestReportCollection{report}, map[string]string{"provider": "MSTest"})
	require.NoError(t, err)
	data, err := j.Render()
	require.NoError(t, err)

	var doc jUnitXMLDocument
	require.NoError(t, xml.Unmarshal(data, &doc))
	require.Len(t, doc.Suites, 1)
	suite := doc.Suites[0]
	assert.Equal(t, "Tests.xap", suite.Name)
	assert.Equal(t, 3, suite.Tests)
	assert.Equal(t, 1, suite.Failures)
	assert.Equal(t, 1, suite.Skipped)
	assert.Equal(t, "2.500", suite.Time)
	assert.Equal(t, "2024-05-06T07:08:09Z", suite.Timestamp)
	assert.Equal(t, []jUnitXMLProperty{
		{Name: "run.id", Value: "run-Tests.xap"},
		{Name: "provider", Value: "MSTest"},
	}, suite.Properties)

	require.Len(t, suite.TestCases, 3)
	assert.Equal(t, "1.000", suite.TestCases[0].Time)
	assert.Nil(t, suite.TestCases[0].Failure)
	assert.NotNil(t, suite.TestCases[1].SkipMessage)
	require.NotNil(t, suite.TestCases[2].Failure)
	assert.Equal(t, "boom", suite.TestCases[2].Failure.Message)
	assert.Equal(t, "Error", suite.TestCases[2].Failure.Type)
	assert.Contains(t, suite.TestCases[2].Failure.Contents, "at C.Fails()")
}

func TestWriteFileReplacesExistingContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "results.xml")
	require.NoError(t, os.WriteFile(path, []byte(strings50k()), 0600))

	report := makeReport("a", results.TestCaseResult{ClassName: "C", MethodName: "M", Outcome: results.Passed})
	r, err := NewMSGenericReport(results.TestReportCollection{report})
	require.NoError(t, err)
	require.NoError(t, r.WriteFile(path))

	expected, err := r.Render()
	require.NoError(t, err)
	actual, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(expected), string(actual))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temporary files are left behind")
}

func TestWriteFileReportsFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "results.xml")
	report := makeReport("a", results.TestCaseResult{ClassName: "C", MethodName: "M", Outcome: results.Passed})
	j, err := NewJUnitReport(results.TestReportCollection{report}, nil)
	require.NoError(t, err)

	err = j.WriteFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), path)

	data, err := j.Render()
	require.NoError(t, err, "report can still be rendered after a failed write")
	assert.NotEmpty(t, data)
}

func strings50k() string {
	b := make([]byte, 50000)
	for i := range b {
		b[i] = 'x'
	}
	return string(b)
}

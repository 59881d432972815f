package results

import (
	"encoding/json"
	"time"
)

type testReportRep struct {
	Name      string           `json:"name"`
	RunID     string           `json:"runId"`
	StartTime time.Time        `json:"startTime"`
	Duration  time.Duration    `json:"duration"`
	Result    string           `json:"result"`
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Ignored   int              `json:"ignored"`
	Results   []TestCaseResult `json:"results"`
}

// MarshalJSON includes the computed counts and final result, for the benefit of readers
// that are not Go programs.
func (r *TestReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(testReportRep{
		Name:      r.Name,
		RunID:     r.RunID,
		StartTime: r.StartTime,
		Duration:  r.Duration,
		Result:    r.FinalResult().String(),
		Total:     r.Total(),
		Passed:    r.Passed(),
		Failed:    r.Failed(),
		Ignored:   r.Ignored(),
		Results:   r.results,
	})
}

// UnmarshalJSON rebuilds the report from its results; the serialized counts are ignored
// and recomputed.
func (r *TestReport) UnmarshalJSON(data []byte) error {
	var rep testReportRep
	if err := json.Unmarshal(data, &rep); err != nil {
		return err
	}
	*r = TestReport{Name: rep.Name, RunID: rep.RunID, StartTime: rep.StartTime, Duration: rep.Duration}
	for _, result := range rep.Results {
		r.Add(result)
	}
	return nil
}

package judge

import jsoniter "github.com/json-iterator/go"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Outcome is what a submission resolves to once it has been executed and
// graded.
type Outcome struct {
	Success bool
	// Passed is nil when the query did not execute.
	Passed *bool

	Results [][]string
	Columns []string

	RowsAffected int64
	Message      string
	Error        string

	Expected        [][]string
	ExpectedColumns []string

	Verdict Status
}

func (o *Outcome) IsPassed() bool {
	return o.Passed != nil && *o.Passed
}

// ReviewerMessage is the text stored next to the submission status.
func (o *Outcome) ReviewerMessage() string {
	if o.Error != "" {
		return o.Error
	}
	return o.Message
}

// MarshalJSON leaves out the fields that do not apply to the outcome, so
// write statements carry no results and failed ones no pass flag.
func (o *Outcome) MarshalJSON() ([]byte, error) {
	m := map[string]interface{}{
		"success": o.Success,
		"verdict": o.Verdict,
	}
	if o.Passed != nil {
		m["passed"] = *o.Passed
	}
	if o.Results != nil {
		m["results"] = o.Results
		m["columns"] = o.Columns
	} else if o.Success {
		m["rows_affected"] = o.RowsAffected
	}
	if o.Message != "" {
		m["message"] = o.Message
	}
	if o.Error != "" {
		m["error"] = o.Error
	}
	if o.Expected != nil {
		m["expected"] = o.Expected
		m["expected_column_names"] = o.ExpectedColumns
	}
	return json.Marshal(m)
}

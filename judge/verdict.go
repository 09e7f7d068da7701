package judge

// Status is a submission status id as stored in the main database.
type Status int

const (
	Unknown Status = iota
	PendingReview
	OnReview
	Accepted
	ExecutionError
	RestrictionViolated
	IncorrectContent
	IncorrectOrder
	SystemError
)

var statusNames = map[Status]string{
	PendingReview:       "PendingReview",
	OnReview:            "OnReview",
	Accepted:            "Accepted",
	ExecutionError:      "ExecutionError",
	RestrictionViolated: "RestrictionViolated",
	IncorrectContent:    "IncorrectContent",
	IncorrectOrder:      "IncorrectOrder",
	SystemError:         "SystemError",
}

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return "Unknown"
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type Verdict struct {
	SubmissionID       int64
	SubmissionStatusID Status
	Passed             *bool
	ReviewerMessage    string
}

func (v Verdict) passedValue() interface{} {
	if v.Passed == nil {
		return nil
	}
	if *v.Passed {
		return 1
	}
	return 0
}

package judge

type SubmissionJob struct {
	SubmissionID int64
	ChallengeID  int
	UserID       string
	Query        string
}

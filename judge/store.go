package judge

import (
	"context"
	"database/sql"
	"github.com/elmanelman/sql-judge/config"
	"github.com/elmanelman/sql-judge/templates"
	"github.com/jmoiron/sqlx"
	"time"
)

// Store is the submissions table of the main database.
type Store struct {
	db *sqlx.DB
}

// OpenStore connects to the main database and creates the submissions table
// when it is missing.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	db, err := connectDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Submit queues a query for review and returns the submission id.
func (s *Store) Submit(ctx context.Context, challengeID int, userID, query string) (int64, error) {
	args := []interface{}{challengeID, userID, query, int(PendingReview), time.Now().UTC()}

	// postgres drivers do not report the last insert id
	if s.db.DriverName() == config.DriverPgx {
		var id int64
		err := s.db.QueryRowxContext(ctx, s.db.Rebind(templates.InsertSubmission+" RETURNING id"), args...).Scan(&id)
		return id, err
	}

	res, err := s.db.ExecContext(ctx, s.db.Rebind(templates.InsertSubmission), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// FetchPending returns up to limit submissions waiting for review, oldest
// first.
func (s *Store) FetchPending(ctx context.Context, limit int) ([]SubmissionJob, error) {
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(templates.FetchPendingSubmissions), int(PendingReview))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []SubmissionJob
	for len(jobs) < limit && rows.Next() {
		var job SubmissionJob
		if err := rows.Scan(&job.SubmissionID, &job.ChallengeID, &job.UserID, &job.Query); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Claim moves a pending submission on review. It reports false when another
// judge got there first.
func (s *Store) Claim(ctx context.Context, submissionID int64) (bool, error) {
	res, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(templates.ClaimSubmission),
		int(OnReview), submissionID, int(PendingReview),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Requeue puts submissions left on review without a verdict back in the
// queue and returns how many there were.
func (s *Store) Requeue(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(templates.RequeueUnreviewedSubmissions),
		int(PendingReview), int(OnReview),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) UpdateReviewInfo(ctx context.Context, v Verdict) error {
	_, err := s.db.ExecContext(
		ctx,
		s.db.Rebind(templates.UpdateSubmissionReviewInfo),
		int(v.SubmissionStatusID), v.passedValue(), v.ReviewerMessage, time.Now().UTC(), v.SubmissionID,
	)
	return err
}

// Status returns the current status and reviewer message of a submission.
func (s *Store) Status(ctx context.Context, submissionID int64) (Status, string, error) {
	var (
		status  int
		message sql.NullString
	)
	row := s.db.QueryRowxContext(ctx, s.db.Rebind(templates.FetchSubmissionStatus), submissionID)
	if err := row.Scan(&status, &message); err != nil {
		return Unknown, "", err
	}
	return Status(status), message.String, nil
}

// Solved returns the ids of the challenges the user has an accepted
// submission for.
func (s *Store) Solved(ctx context.Context, userID string) (map[int]bool, error) {
	var ids []int
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(templates.FetchSolvedChallenges), userID, int(Accepted)); err != nil {
		return nil, err
	}
	solved := make(map[int]bool, len(ids))
	for _, id := range ids {
		solved[id] = true
	}
	return solved, nil
}

package templates

// Queries against the main database use ? placeholders and are rebound for
// the driver in use.
const (
	ProbeSubmissions = `SELECT 1 FROM submissions WHERE 1 = 0`

	FetchPendingSubmissions = `
SELECT id, challenge_id, user_id, query
FROM submissions
WHERE status_id = ?
ORDER BY id`

	ClaimSubmission = `
UPDATE submissions
SET status_id = ?
WHERE id = ? AND status_id = ?`

	RequeueUnreviewedSubmissions = `
UPDATE submissions
SET status_id = ?
WHERE status_id = ? AND reviewed_at IS NULL`

	UpdateSubmissionReviewInfo = `
UPDATE submissions
SET status_id = ?, passed = ?, reviewer_message = ?, reviewed_at = ?
WHERE id = ?`

	InsertSubmission = `
INSERT INTO submissions (challenge_id, user_id, query, status_id, submitted_at)
VALUES (?, ?, ?, ?, ?)`

	FetchSolvedChallenges = `
SELECT DISTINCT challenge_id
FROM submissions
WHERE user_id = ? AND status_id = ?`

	FetchSubmissionStatus = `
SELECT status_id, reviewer_message
FROM submissions
WHERE id = ?`
)

// CreateSubmissionsTable holds the submissions table definition per driver.
var CreateSubmissionsTable = map[string]string{
	"sqlite3": `
CREATE TABLE submissions (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  challenge_id INTEGER NOT NULL,
  user_id TEXT NOT NULL,
  query TEXT NOT NULL,
  status_id INTEGER NOT NULL,
  passed INTEGER,
  reviewer_message TEXT,
  submitted_at TIMESTAMP NOT NULL,
  reviewed_at TIMESTAMP
)`,
	"pgx": `
CREATE TABLE submissions (
  id BIGSERIAL PRIMARY KEY,
  challenge_id INTEGER NOT NULL,
  user_id TEXT NOT NULL,
  query TEXT NOT NULL,
  status_id INTEGER NOT NULL,
  passed SMALLINT,
  reviewer_message TEXT,
  submitted_at TIMESTAMP NOT NULL,
  reviewed_at TIMESTAMP
)`,
	"mysql": `
CREATE TABLE submissions (
  id BIGINT AUTO_INCREMENT PRIMARY KEY,
  challenge_id INT NOT NULL,
  user_id VARCHAR(255) NOT NULL,
  query TEXT NOT NULL,
  status_id INT NOT NULL,
  passed TINYINT,
  reviewer_message TEXT,
  submitted_at DATETIME(6) NOT NULL,
  reviewed_at DATETIME(6)
)`,
	"godror": `
CREATE TABLE submissions (
  id NUMBER GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
  challenge_id NUMBER NOT NULL,
  user_id VARCHAR2(255) NOT NULL,
  query CLOB NOT NULL,
  status_id NUMBER NOT NULL,
  passed NUMBER(1),
  reviewer_message VARCHAR2(4000),
  submitted_at TIMESTAMP NOT NULL,
  reviewed_at TIMESTAMP
)`,
}

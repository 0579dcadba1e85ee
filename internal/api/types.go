package api

import (
	"encoding/json"
	"time"
)

// JobStatus is the processing state of an analysis job.
type JobStatus string

// Job statuses. Done and Error are terminal.
const (
	StatusCreated    JobStatus = "created"
	StatusProcessing JobStatus = "processing"
	StatusDone       JobStatus = "done"
	StatusError      JobStatus = "error"
)

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

func (s JobStatus) String() string {
	return string(s)
}

// Job is the client-side mirror of a server-tracked analysis job. Result is
// only set when Status is Done; Error only when Status is Error.
type Job struct {
	ID        string
	UserID    string
	FileURL   string
	Status    JobStatus
	Result    *JobResult
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobResult is the structured analysis payload of a finished job. Raw holds
// the payload as returned by the server; IsolationForest is filled when the
// payload carries an isolation forest section.
type JobResult struct {
	Raw             json.RawMessage
	IsolationForest *IsolationForest
}

// IsolationForest is the per-sample output of the isolation forest model.
type IsolationForest struct {
	AnomalyScores []float64
	Anomalies     []bool
}

// AnomalyCount returns how many samples were flagged.
func (f *IsolationForest) AnomalyCount() int {
	n := 0

	for _, a := range f.Anomalies {
		if a {
			n++
		}
	}

	return n
}

// User is the authenticated account, as returned by the "who am I" call.
type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// APIToken is a long-lived API token issued to the user.
type APIToken struct {
	ID        string
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

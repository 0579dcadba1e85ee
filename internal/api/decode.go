package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// jobResponse mirrors the history record JSON. Callers use Job
// via toJob() validation.
type jobResponse struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	FileURL   string          `json:"file_url"`
	Status    *string         `json:"status"`
	Result    json.RawMessage `json:"result"`
	Error     *string         `json:"error"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

// resultResponse mirrors the known sections of an analysis result.
type resultResponse struct {
	IsolationForest *struct {
		AnomalyScores []float64 `json:"anomaly_scores"`
		Anomalies     []bool    `json:"anomalies"`
	} `json:"isolation_forest"`
}

type userResponse struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type tokenResponse struct {
	ID        string `json:"id"`
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ExpiresAt string `json:"expires_at"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// DecodeJob decodes a single job record. Any deviation from the fixed
// schema fails with ErrDecode.
func DecodeJob(data []byte) (Job, error) {
	var r jobResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return Job{}, fmt.Errorf("%w: job: %w", ErrDecode, err)
	}

	return r.toJob()
}

// DecodeJobs decodes an array of job records.
func DecodeJobs(data []byte) ([]Job, error) {
	var rs []jobResponse
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("%w: job list: %w", ErrDecode, err)
	}

	jobs := make([]Job, 0, len(rs))

	for i := range rs {
		j, err := rs[i].toJob()
		if err != nil {
			return nil, fmt.Errorf("job %d: %w", i, err)
		}

		jobs = append(jobs, j)
	}

	return jobs, nil
}

func (r *jobResponse) toJob() (Job, error) {
	id, err := parseID("job id", r.ID)
	if err != nil {
		return Job{}, err
	}

	if r.Status == nil {
		return Job{}, fmt.Errorf("%w: job %s: missing status", ErrDecode, id)
	}

	status, err := ParseStatus(*r.Status)
	if err != nil {
		return Job{}, err
	}

	j := Job{
		ID:      id,
		UserID:  r.UserID,
		FileURL: r.FileURL,
		Status:  status,
	}

	if j.CreatedAt, err = parseTimestamp(r.CreatedAt); err != nil {
		return Job{}, fmt.Errorf("%w: job %s: created_at: %w", ErrDecode, id, err)
	}

	if j.UpdatedAt, err = parseTimestamp(r.UpdatedAt); err != nil {
		return Job{}, fmt.Errorf("%w: job %s: updated_at: %w", ErrDecode, id, err)
	}

	if hasValue(r.Result) {
		if status != StatusDone {
			return Job{}, fmt.Errorf("%w: job %s: result present with status %s", ErrDecode, id, status)
		}

		res, resErr := DecodeResult(r.Result)
		if resErr != nil {
			return Job{}, fmt.Errorf("%w: job %s: result: %w", ErrDecode, id, resErr)
		}

		j.Result = res
	}

	if status == StatusError && r.Error != nil {
		j.Error = *r.Error
	}

	return j, nil
}

// DecodeResult decodes an analysis result payload. The payload is kept
// verbatim in Raw.
func DecodeResult(raw json.RawMessage) (*JobResult, error) {
	var r resultResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, err
	}

	res := &JobResult{Raw: append(json.RawMessage(nil), raw...)}

	if r.IsolationForest != nil {
		res.IsolationForest = &IsolationForest{
			AnomalyScores: r.IsolationForest.AnomalyScores,
			Anomalies:     r.IsolationForest.Anomalies,
		}
	}

	return res, nil
}

// DecodeUser decodes the "who am I" response.
func DecodeUser(data []byte) (User, error) {
	var r userResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return User{}, fmt.Errorf("%w: user: %w", ErrDecode, err)
	}

	id, err := parseID("user id", r.ID)
	if err != nil {
		return User{}, err
	}

	if r.Username == "" {
		return User{}, fmt.Errorf("%w: user %s: missing username", ErrDecode, id)
	}

	u := User{ID: id, Username: r.Username}

	if u.CreatedAt, err = parseTimestamp(r.CreatedAt); err != nil {
		return User{}, fmt.Errorf("%w: user: created_at: %w", ErrDecode, err)
	}

	if u.UpdatedAt, err = parseTimestamp(r.UpdatedAt); err != nil {
		return User{}, fmt.Errorf("%w: user: updated_at: %w", ErrDecode, err)
	}

	return u, nil
}

// DecodeToken decodes a single API token record.
func DecodeToken(data []byte) (APIToken, error) {
	var r tokenResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return APIToken{}, fmt.Errorf("%w: token: %w", ErrDecode, err)
	}

	return r.toToken()
}

// DecodeTokens decodes an array of API token records.
func DecodeTokens(data []byte) ([]APIToken, error) {
	var rs []tokenResponse
	if err := json.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("%w: token list: %w", ErrDecode, err)
	}

	tokens := make([]APIToken, 0, len(rs))

	for i := range rs {
		t, err := rs[i].toToken()
		if err != nil {
			return nil, err
		}

		tokens = append(tokens, t)
	}

	return tokens, nil
}

func (r *tokenResponse) toToken() (APIToken, error) {
	id, err := parseID("token id", r.ID)
	if err != nil {
		return APIToken{}, err
	}

	t := APIToken{ID: id, Token: r.Token, UserID: r.UserID}

	if t.ExpiresAt, err = parseTimestamp(r.ExpiresAt); err != nil {
		return APIToken{}, fmt.Errorf("%w: token %s: expires_at: %w", ErrDecode, id, err)
	}

	if t.CreatedAt, err = parseTimestamp(r.CreatedAt); err != nil {
		return APIToken{}, fmt.Errorf("%w: token %s: created_at: %w", ErrDecode, id, err)
	}

	if t.UpdatedAt, err = parseTimestamp(r.UpdatedAt); err != nil {
		return APIToken{}, fmt.Errorf("%w: token %s: updated_at: %w", ErrDecode, id, err)
	}

	return t, nil
}

// ParseStatus converts the server's status text (upper or lower case) into
// a JobStatus.
func ParseStatus(s string) (JobStatus, error) {
	switch st := JobStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusCreated, StatusProcessing, StatusDone, StatusError:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown job status %q", ErrDecode, s)
	}
}

// parseID validates a record identifier and returns it in canonical form.
func parseID(what, s string) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: missing %s", ErrDecode, what)
	}

	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("%w: %s %q: %w", ErrDecode, what, s, err)
	}

	return id.String(), nil
}

// timestampLayouts are tried in order. The service emits ISO 8601 with or
// without a zone offset; zone-less values are taken as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp parses an optional timestamp. Empty means zero time.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	var firstErr error

	for _, layout := range timestampLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}

		if firstErr == nil {
			firstErr = err
		}
	}

	return time.Time{}, firstErr
}

// hasValue reports whether a raw JSON field is present and not null.
func hasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
)

// Endpoint paths, relative to the API root.
const (
	pathSubmit  = "forward"
	pathHistory = "history"
)

// uploadField is the multipart form field the service reads the capture from.
const uploadField = "pcap"

// statusRequest is the body of the batched status call. A nil IDs slice is
// encoded as null, which the service reads as "every job of the caller".
type statusRequest struct {
	IDs []string `json:"ids"`
}

// SubmitJob uploads a capture file for analysis and returns the created job.
// The whole file is buffered so the request can be resent on recovery.
func (c *Client) SubmitJob(ctx context.Context, filename string, r io.Reader) (*Job, error) {
	var buf bytes.Buffer

	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile(uploadField, filename)
	if err != nil {
		return nil, fmt.Errorf("api: creating multipart part: %w", err)
	}

	n, err := io.Copy(part, r)
	if err != nil {
		return nil, fmt.Errorf("api: reading %s: %w", filename, err)
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("api: finishing multipart body: %w", err)
	}

	c.logger.Info("submitting capture",
		slog.String("file", filename),
		slog.Int64("size", n),
	)

	resp, err := c.Do(ctx, http.MethodPost, pathSubmit, &Body{
		ContentType: mw.FormDataContentType(),
		Data:        buf.Bytes(),
	})
	if err != nil {
		return nil, fmt.Errorf("submitting %s: %w", filename, err)
	}

	job, err := DecodeJob(resp.Body)
	if err != nil {
		return nil, err
	}

	c.logger.Info("capture submitted",
		slog.String("file", filename),
		slog.String("job_id", job.ID),
		slog.String("status", job.Status.String()),
	)

	return &job, nil
}

// JobStatuses fetches the current state of the given jobs in one request.
// nil ids returns every job of the caller.
func (c *Client) JobStatuses(ctx context.Context, ids []string) ([]Job, error) {
	data, err := json.Marshal(statusRequest{IDs: ids})
	if err != nil {
		return nil, fmt.Errorf("api: encoding status request: %w", err)
	}

	resp, err := c.Do(ctx, http.MethodPost, pathHistory, &Body{ContentType: contentTypeJSON, Data: data})
	if err != nil {
		return nil, fmt.Errorf("fetching job statuses: %w", err)
	}

	jobs, err := DecodeJobs(resp.Body)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("job statuses fetched",
		slog.Int("requested", len(ids)),
		slog.Int("returned", len(jobs)),
	)

	return jobs, nil
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tonimelisma/netanalyzer-go/internal/poller"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// Statusf prints a status message to stderr unless quiet mode is set.
// Method form of statusf; avoids threading `quiet bool` through call chains.
func (cc *CLIContext) Statusf(format string, args ...any) {
	statusf(cc.Flags.Quiet, format, args...)
}

// Size unit constants for human-readable formatting.
const (
	sizeKB = 1024
	sizeMB = 1024 * 1024
	sizeGB = 1024 * 1024 * 1024
)

// formatSize returns a human-readable size string (e.g. "1.2 MB").
func formatSize(bytes int64) string {
	switch {
	case bytes >= sizeGB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(sizeGB))
	case bytes >= sizeMB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(sizeMB))
	case bytes >= sizeKB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(sizeKB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// formatTime returns a compact timestamp for display.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}

	t = t.Local()

	// Same calendar year: show "Jan  2 15:04"
	if t.Year() == time.Now().Year() {
		return t.Format("Jan _2 15:04")
	}

	// Different year: show "Jan  2  2006"
	return t.Format("Jan _2  2006")
}

// printTable writes aligned columns to the given writer.
// headers and each row must have the same length.
func printTable(w io.Writer, headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}

	for _, row := range rows {
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow(w, headers, widths)

	for _, row := range rows {
		printRow(w, row, widths)
	}
}

// printRow writes a single padded row.
func printRow(w io.Writer, cells []string, widths []int) {
	parts := make([]string, len(cells))
	for i, cell := range cells {
		parts[i] = fmt.Sprintf("%-*s", widths[i], cell)
	}

	fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

// jobOutput is the JSON schema for a job in every job-listing command.
type jobOutput struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Anomalies *int            `json:"anomalies,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newJobOutput(j poller.Job) jobOutput {
	out := jobOutput{
		ID:        j.ID,
		Name:      j.Name,
		Status:    j.Status.String(),
		Error:     j.Error,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}

	if j.Result != nil {
		out.Result = j.Result.Raw

		if j.Result.IsolationForest != nil {
			n := j.Result.IsolationForest.AnomalyCount()
			out.Anomalies = &n
		}
	}

	return out
}

func jobOutputs(jobs []poller.Job) []jobOutput {
	out := make([]jobOutput, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, newJobOutput(j))
	}

	return out
}

// printJobs writes jobs as a table, or as JSON when asJSON is set.
func printJobs(w io.Writer, jobs []poller.Job, asJSON bool) error {
	if asJSON {
		return printJSON(w, jobOutputs(jobs))
	}

	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs.")
		return nil
	}

	rows := make([][]string, 0, len(jobs))
	for _, j := range jobs {
		rows = append(rows, []string{j.ID, displayName(j), j.Status.String(), jobDetail(j), formatTime(j.UpdatedAt)})
	}

	printTable(w, []string{"ID", "NAME", "STATUS", "DETAIL", "UPDATED"}, rows)

	return nil
}

func displayName(j poller.Job) string {
	if j.Name == "" {
		return "-"
	}

	return j.Name
}

// jobDetail summarizes the outcome: the anomaly count of a finished job or
// the error text of a failed one.
func jobDetail(j poller.Job) string {
	switch {
	case j.Error != "":
		return j.Error
	case j.Result != nil && j.Result.IsolationForest != nil:
		return strconv.Itoa(j.Result.IsolationForest.AnomalyCount()) + " anomalies"
	case j.Result != nil:
		return "result available"
	default:
		return ""
	}
}

// Package client provides an HTTP client for the document upload API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/raphaelgruber/ingestor/internal/ingest"
	"github.com/raphaelgruber/ingestor/internal/models"
)

const defaultBaseURL = "http://localhost:5001"

// maxErrorBody limits how much of an error response is kept for messages.
const maxErrorBody = 512

// Client talks to the upload and status endpoints.
// It implements ingest.BatchPoster and ingest.StatusFetcher.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a new upload client.
// If baseURL is empty, uses INGESTOR_SERVER_URL env var or defaults to localhost:5001.
// The overall request timeout can be set via INGESTOR_CLIENT_TIMEOUT (default 10m); per-call
// deadlines come from the caller's context.
func New(baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("INGESTOR_SERVER_URL")
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}

	timeout := 10 * time.Minute
	if t := os.Getenv("INGESTOR_CLIENT_TIMEOUT"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: NewLoggingTransport(http.DefaultTransport, logger),
		},
		logger: logger,
	}
}

// BaseURL returns the server address the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// uploadResponse covers the response shapes of the upload endpoint.
type uploadResponse struct {
	JobIDs     []string    `json:"job_ids"`
	JobID      string      `json:"job_id"`
	Jobs       []uploadJob `json:"jobs"`
	Busy       bool        `json:"busy"`
	RetryAfter float64     `json:"retry_after"` // Seconds
	Error      string      `json:"error,omitempty"`
}

type uploadJob struct {
	JobID    string `json:"job_id"`
	ID       string `json:"id"`
	Filename string `json:"filename"`
}

// PostBatch uploads all items of the batch in one multipart request.
// File contents are streamed from disk.
func (c *Client) PostBatch(ctx context.Context, batch models.Batch, opts ingest.SubmitOptions) (*ingest.BatchReceipt, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/upload", pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	go func() {
		pw.CloseWithError(writeBatch(mw, batch, opts))
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return nil, fmt.Errorf("%w: upload batch: %w", ingest.ErrTransportFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ingest.ErrTransportFailure, err)
	}

	var parsed uploadResponse
	parseErr := json.Unmarshal(body, &parsed)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		if parseErr != nil && retryAfter == 0 {
			return nil, fmt.Errorf("%w: server error: %s - %s", ingest.ErrTransportFailure, resp.Status, snippet(body))
		}
		receipt := parsed.receipt()
		receipt.Busy = true
		receipt.RetryAfter = max(receipt.RetryAfter, retryAfter)
		return receipt, nil

	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("%w: server error: %s - %s", ingest.ErrTransportFailure, resp.Status, snippet(body))

	case parseErr != nil:
		return nil, fmt.Errorf("%w: unmarshal response: %w", ingest.ErrTransportFailure, parseErr)
	}

	receipt := parsed.receipt()
	if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > receipt.RetryAfter {
		receipt.RetryAfter = ra
	}
	return receipt, nil
}

func writeBatch(mw *multipart.Writer, batch models.Batch, opts ingest.SubmitOptions) error {
	if err := mw.WriteField("source", opts.SourceTag.WireValue()); err != nil {
		return err
	}
	if err := mw.WriteField("redaction", strconv.FormatBool(opts.RedactionRequested)); err != nil {
		return err
	}
	for _, item := range batch.Items {
		if err := writeFile(mw, item); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeFile(mw *multipart.Writer, item models.IngestionItem) error {
	if item.LocalPath == "" {
		return fmt.Errorf("item %s has no local path", item.RelativePath)
	}
	f, err := os.Open(item.LocalPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", item.RelativePath, err)
	}
	defer f.Close()

	part, err := mw.CreateFormFile("files", item.RelativePath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("copy %s: %w", item.RelativePath, err)
	}
	return nil
}

func (r uploadResponse) receipt() *ingest.BatchReceipt {
	receipt := &ingest.BatchReceipt{
		Busy:       r.Busy,
		RetryAfter: time.Duration(r.RetryAfter * float64(time.Second)),
	}

	seen := make(map[string]bool)
	add := func(id, name string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		receipt.Jobs = append(receipt.Jobs, ingest.AcceptedJob{ID: id, Name: name})
	}

	for _, j := range r.Jobs {
		id := j.JobID
		if id == "" {
			id = j.ID
		}
		add(id, j.Filename)
	}
	for _, id := range r.JobIDs {
		add(id, "")
	}
	add(r.JobID, "")
	return receipt
}

// parseRetryAfter accepts delay seconds or an HTTP date.
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return max(time.Until(t), 0)
	}
	return 0
}

// FetchStatus queries the raw status label of several jobs in one request.
// Ids missing from the response are left out of the result.
func (c *Client) FetchStatus(ctx context.Context, ids []string) (map[string]string, error) {
	q := url.Values{}
	for _, id := range ids {
		q.Add("job_id", id)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/upload/status?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch status: %w", ingest.ErrTransportFailure, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", ingest.ErrTransportFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: server error: %s - %s", ingest.ErrTransportFailure, resp.Status, snippet(body))
	}

	labels, err := decodeStatus(body, c.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal status: %w", ingest.ErrTransportFailure, err)
	}
	return labels, nil
}

// decodeStatus reads an id -> status map. Values may be bare labels or objects with a
// state, status or stage field. A "data" or "statuses" object is unwrapped, and keys beside it
// such as "ok" or "meta" are ignored. An entry that is neither a string nor an object gets an
// empty label, so one odd value does not fail the other ids.
func decodeStatus(body []byte, logger *slog.Logger) (map[string]string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	for _, key := range []string{"data", "statuses"} {
		if inner, ok := raw[key]; ok && isObject(inner) {
			return decodeStatus(inner, logger)
		}
	}

	labels := make(map[string]string, len(raw))
	for id, v := range raw {
		label, err := decodeLabel(v)
		if err != nil {
			logger.Debug("unreadable job status", "job_id", id, "value", snippet(v), "error", err)
		}
		labels[id] = label
	}
	return labels, nil
}

func isObject(v json.RawMessage) bool {
	trimmed := bytes.TrimSpace(v)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func decodeLabel(v json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s, nil
	}

	var obj struct {
		State  string `json:"state"`
		Status string `json:"status"`
		Stage  string `json:"stage"`
	}
	if err := json.Unmarshal(v, &obj); err != nil {
		return "", errors.New("status is neither a string nor an object")
	}
	for _, label := range []string{obj.State, obj.Status, obj.Stage} {
		if label != "" {
			return label, nil
		}
	}
	return "", nil
}

func snippet(body []byte) string {
	return truncate(strings.TrimSpace(string(body)), maxErrorBody)
}

// Package recordclient talks to the fractal record service over HTTP.
//
// Status codes are mapped onto domain errors: 404 is ErrRecordNotFound, 409 is
// ErrRecordExists on create and ErrRecordFinalized on update, 400 is a
// permanent rejection. Transport failures and 5xx answers come back wrapped in
// domain.RetryableError.
package recordclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/fractal-pipeline/internal/api/dto"
	"github.com/cuongbtq/fractal-pipeline/internal/domain"
)

const defaultTimeout = 30 * time.Second

type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Register creates the pending record for a job
func (c *Client) Register(ctx context.Context, job domain.Job) error {
	req := dto.CreateFractalRequest{
		UUID:       job.ID,
		Width:      job.Width,
		Height:     job.Height,
		Iterations: job.Iterations,
		XA:         &job.XA,
		XB:         &job.XB,
		YA:         &job.YA,
		YB:         &job.YB,
	}

	status, body, err := c.do(ctx, http.MethodPost, "/v1/fractal", req)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusCreated, http.StatusOK:
		return nil
	case http.StatusConflict:
		return fmt.Errorf("register %s: %w", job.ID, domain.ErrRecordExists)
	case http.StatusBadRequest:
		return fmt.Errorf("register %s: %w: %s", job.ID, domain.ErrInvalidJob, body)
	default:
		return statusError("register", job.ID, status, body)
	}
}

// Complete writes a render result onto the job's record
func (c *Client) Complete(ctx context.Context, result domain.RenderResult) error {
	req := dto.UpdateFractalRequest{
		Checksum:    result.Checksum,
		Duration:    ptr(result.DurationSeconds()),
		Image:       result.Image,
		GeneratedBy: result.GeneratedBy,
	}
	if result.Size > 0 {
		req.Size = ptr(result.Size)
	}

	status, body, err := c.do(ctx, http.MethodPut, "/v1/fractal/"+result.JobID, req)
	if err != nil {
		return err
	}

	switch status {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("complete %s: %w", result.JobID, domain.ErrRecordNotFound)
	case http.StatusConflict:
		return fmt.Errorf("complete %s: %w", result.JobID, domain.ErrRecordFinalized)
	case http.StatusBadRequest:
		return fmt.Errorf("complete %s: %w: %s", result.JobID, domain.ErrInvalidPayload, body)
	default:
		return statusError("complete", result.JobID, status, body)
	}
}

// Get fetches a record
func (c *Client) Get(ctx context.Context, id string) (*dto.FractalDTO, error) {
	status, body, err := c.do(ctx, http.MethodGet, "/v1/fractal/"+id, nil)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("get %s: %w", id, domain.ErrRecordNotFound)
	default:
		return nil, statusError("get", id, status, body)
	}

	var fractal dto.FractalDTO
	if err := json.Unmarshal(body, &fractal); err != nil {
		return nil, fmt.Errorf("failed to decode fractal %s: %w", id, err)
	}
	return &fractal, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return 0, nil, domain.NewRetryableError(fmt.Errorf("record service %s %s: %w", method, path, err))
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return 0, nil, domain.NewRetryableError(fmt.Errorf("failed to read record service response: %w", err))
	}

	return res.StatusCode, body, nil
}

func statusError(op, id string, status int, body []byte) error {
	err := fmt.Errorf("%s %s: record service returned %d: %s", op, id, status, strings.TrimSpace(string(body)))
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return domain.NewRetryableError(err)
	}
	return err
}

func ptr[T any](v T) *T {
	return &v
}

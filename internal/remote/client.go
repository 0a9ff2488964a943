// Package remote speaks the JSON contract of the analysis/workload
// service. It owns nothing of the orchestration: requests in, decoded
// responses out.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/diagnostiq/tracker/internal/model"
)

const (
	workloadPath = "api/v1/workloads"
	analysisPath = "api/v1/analyses"
	diagnosePath = "api/v1/diagnose"
)

type Client struct {
	baseURL *url.URL
	token   string
	client  *http.Client
}

type Option func(*Client)

// WithToken sets a static bearer token on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient overrides the underlying http.Client, mostly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

func NewClient(serverURL string, opts ...Option) (*Client, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")

	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the server url with a scheme and without path, e.g. `http://some-url.com`")
	}

	c := &Client{
		baseURL: parsedURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// workloadRequest is the action-tagged body of every workload call.
type workloadRequest struct {
	Action     string `json:"action"`
	WorkloadID string `json:"workloadId,omitempty"`
}

type StartResponse struct {
	Success    bool   `json:"success"`
	WorkloadID string `json:"workloadId"`
	NextStep   string `json:"nextStep"`
	TotalSteps int    `json:"totalSteps"`
	Error      string `json:"error,omitempty"`
}

type StepResponse struct {
	Success  bool   `json:"success"`
	Complete bool   `json:"complete"`
	Error    string `json:"error,omitempty"`
}

type StatusResponse struct {
	Success           bool              `json:"success"`
	Status            string            `json:"status"`
	CurrentStep       string            `json:"currentStep"`
	StepIndex         int               `json:"stepIndex"`
	TotalSteps        int               `json:"totalSteps"`
	Progress          float64           `json:"progress"`
	Message           string            `json:"message"`
	Results           []json.RawMessage `json:"results,omitempty"`
	FeedbackSubmitted bool              `json:"feedbackSubmitted,omitempty"`
	Summary           string            `json:"summary,omitempty"`
	Error             string            `json:"error,omitempty"`
}

// Workload converts a status response into the domain shape.
func (r StatusResponse) Workload(id string) model.Workload {
	return model.Workload{
		ID:          id,
		StepIndex:   r.StepIndex,
		TotalSteps:  r.TotalSteps,
		CurrentStep: r.CurrentStep,
		Progress:    r.Progress,
		Message:     r.Message,
		Results:     r.Results,
		Summary:     r.Summary,
	}
}

// StartWorkload asks the service to create a new multi-step workload.
func (c *Client) StartWorkload(ctx context.Context) (StartResponse, error) {
	var out StartResponse
	err := c.post(ctx, workloadPath, workloadRequest{Action: "start"}, &out)
	if err != nil {
		return StartResponse{}, err
	}
	if !out.Success {
		return StartResponse{}, fmt.Errorf("starting workload: %s", orUnknown(out.Error))
	}
	return out, nil
}

// Step advances the workload by exactly one step. Callers must not retry
// a failed step blindly, the remote side may have executed it already.
func (c *Client) Step(ctx context.Context, workloadID string) (StepResponse, error) {
	var out StepResponse
	err := c.post(ctx, workloadPath, workloadRequest{Action: "step", WorkloadID: workloadID}, &out)
	if err != nil {
		return StepResponse{}, err
	}
	if !out.Success {
		return StepResponse{}, fmt.Errorf("advancing workload %s: %s", workloadID, orUnknown(out.Error))
	}
	return out, nil
}

// Status fetches the workload status without advancing it. Any number of
// viewers may call this concurrently with the initiator stepping.
func (c *Client) Status(ctx context.Context, workloadID string) (StatusResponse, error) {
	var out StatusResponse
	err := c.post(ctx, workloadPath, workloadRequest{Action: "status", WorkloadID: workloadID}, &out)
	if err != nil {
		return StatusResponse{}, err
	}
	if !out.Success {
		return StatusResponse{}, fmt.Errorf("fetching workload %s status: %s", workloadID, orUnknown(out.Error))
	}
	return out, nil
}

// analysisResponse is the wire record of the analysis endpoint family.
// The error field is overloaded with lifecycle sentinels, so a non-empty
// value is NOT an error here: disambiguation belongs to internal/status.
type analysisResponse struct {
	ID        string          `json:"id"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	SaveError string          `json:"saveError,omitempty"`
}

func (r analysisResponse) record(submittedAt time.Time) model.JobRecord {
	return model.JobRecord{
		ID:          r.ID,
		RawStatus:   r.Error,
		SubmittedAt: submittedAt,
		Payload:     r.Data,
		SaveError:   r.SaveError,
	}
}

// SubmitAnalysis creates a remote analysis job for one submission and
// returns its initial record. The submission id is generated client-side
// and echoed back by the service.
func (c *Client) SubmitAnalysis(ctx context.Context, sub model.Submission) (model.JobRecord, error) {
	submittedAt := time.Now().UTC()
	var out analysisResponse
	err := c.post(ctx, analysisPath, sub, &out)
	if err != nil {
		return model.JobRecord{}, err
	}
	if out.ID == "" {
		out.ID = sub.ID
	}
	return out.record(submittedAt), nil
}

// FetchRecord re-reads the current record of a submitted analysis job.
// This is the poll fetch: the returned record keeps its original
// SubmittedAt only on the caller's side, the wire does not echo it.
func (c *Client) FetchRecord(ctx context.Context, jobID string) (model.JobRecord, error) {
	u := c.url(analysisPath + "/" + url.PathEscape(jobID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.JobRecord{}, err
	}
	var out analysisResponse
	if err := c.do(req, &out); err != nil {
		return model.JobRecord{}, err
	}
	if out.ID == "" {
		out.ID = jobID
	}
	return out.record(time.Time{}), nil
}

type DiagnoseRequest struct {
	FunctionName string `json:"functionName"`
	CustomQuery  string `json:"customQuery,omitempty"`
}

type DiagnoseResponse struct {
	CollectionStatus string   `json:"collectionStatus,omitempty"`
	Issues           []string `json:"issues,omitempty"`
	Recommendations  []string `json:"recommendations,omitempty"`
	Logs             []string `json:"logs,omitempty"`
	Error            bool     `json:"error,omitempty"`
	Message          string   `json:"message,omitempty"`
}

// Diagnose runs one remote diagnostic function, optionally with a custom
// query.
func (c *Client) Diagnose(ctx context.Context, dr DiagnoseRequest) (DiagnoseResponse, error) {
	var out DiagnoseResponse
	err := c.post(ctx, diagnosePath, dr, &out)
	if err != nil {
		return DiagnoseResponse{}, err
	}
	if out.Error {
		return DiagnoseResponse{}, fmt.Errorf("diagnose %s: %s", dr.FunctionName, orUnknown(out.Message))
	}
	return out, nil
}

func (c *Client) url(path string) string {
	u := *c.baseURL
	u.Path = path
	return u.String()
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("failed to parse response content type header: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		if contentType != "application/json" {
			return fmt.Errorf("expected `application/json` content type, got: %s", contentType)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decoding json response failed: %w", err)
		}
		return nil

	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict, http.StatusUnsupportedMediaType:
		if contentType == "application/problem+json" || contentType == "application/json" {
			var problemDetail struct {
				Detail  string `json:"detail"`
				Message string `json:"message"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&problemDetail); err != nil {
				return fmt.Errorf("decoding json response failed: %w", err)
			}
			detail := problemDetail.Detail
			if detail == "" {
				detail = problemDetail.Message
			}
			return fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, detail)
		}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}

func orUnknown(msg string) string {
	if msg == "" {
		return "unknown error"
	}
	return msg
}

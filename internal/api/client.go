package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hooksbot/client/internal/model"
)

// Upload is one input artifact to be sent with a submission.
type Upload struct {
	FileName string
	Content  io.Reader
}

// SubmitRequest carries everything the job-creation endpoint needs. TaskID
// is minted by the caller; the server never assigns ids.
type SubmitRequest struct {
	TaskID   string
	Script   Upload
	InputCSV Upload
	Videos   []Upload
	Params   model.Parameters
}

// JobService is the REST surface of the hooks processing service.
type JobService interface {
	SubmitJob(ctx context.Context, req *SubmitRequest) error
	CancelTask(ctx context.Context, taskID string) (string, error)
	DeleteTempFiles(ctx context.Context, taskID string) (string, error)
	DownloadOutput(ctx context.Context, zipPath string, dst io.Writer) error
	DownloadAll(ctx context.Context, videoPaths []string, dst io.Writer) error
}

// RejectionError is a synchronous server rejection of a submission: the
// transfer itself succeeded but the response body carried an error flag.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "submission rejected: " + e.Reason
}

// Client implements JobService against a real server.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a job service client. The timeout applies to the small
// JSON round trips; submissions and downloads run on the request context
// alone since transfer time scales with payload size.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: baseURL,
	}
}

// SubmitJob streams the input artifacts and parameters to POST /process.
// The request is aborted by cancelling ctx. A nil error means the job was
// accepted for background processing, not that it finished.
func (c *Client) SubmitJob(ctx context.Context, req *SubmitRequest) error {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeSubmitForm(mw, req))
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", pr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	log.Printf("[hooks API] -> POST /process task=%s videos=%d", req.TaskID, len(req.Videos))

	// No client-level timeout: upload duration depends on artifact size.
	resp, err := (&http.Client{}).Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("process endpoint error (status %d): %s", resp.StatusCode, string(body))
	}

	var accepted struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &accepted); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if accepted.Error != "" {
		return &RejectionError{Reason: accepted.Error}
	}

	log.Printf("[hooks API] <- accepted task=%s", req.TaskID)
	return nil
}

// writeSubmitForm assembles the multipart body. Field names match the
// service's form contract exactly.
func writeSubmitForm(mw *multipart.Writer, req *SubmitRequest) error {
	if err := mw.WriteField("task_id", req.TaskID); err != nil {
		return err
	}
	if err := mw.WriteField("voice_id", req.Params.VoiceID); err != nil {
		return err
	}
	if err := mw.WriteField("api_key", req.Params.APIKey); err != nil {
		return err
	}
	if err := mw.WriteField("parallel_processing", strconv.Itoa(req.Params.ParallelProcessing)); err != nil {
		return err
	}

	files := []struct {
		field string
		up    Upload
	}{
		{"script", req.Script},
		{"input_csv", req.InputCSV},
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.field, f.up.FileName)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, f.up.Content); err != nil {
			return fmt.Errorf("failed to copy %s: %w", f.field, err)
		}
	}
	for _, v := range req.Videos {
		part, err := mw.CreateFormFile("video", v.FileName)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, v.Content); err != nil {
			return fmt.Errorf("failed to copy video %s: %w", v.FileName, err)
		}
	}

	return mw.Close()
}

// CancelTask asks the server to stop a running task. The returned message is
// a human-readable acknowledgement; it does not guarantee the task stopped.
func (c *Client) CancelTask(ctx context.Context, taskID string) (string, error) {
	return c.postTaskID(ctx, "/cancel_task", taskID)
}

// DeleteTempFiles removes the server-side scratch space of a finished task.
func (c *Client) DeleteTempFiles(ctx context.Context, taskID string) (string, error) {
	return c.postTaskID(ctx, "/delete_temp_files", taskID)
}

func (c *Client) postTaskID(ctx context.Context, endpoint, taskID string) (string, error) {
	payload, err := json.Marshal(map[string]string{"task_id": taskID})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	log.Printf("[hooks API] -> POST %s task=%s", endpoint, taskID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%s error (status %d): %s", endpoint, resp.StatusCode, string(body))
	}

	var ack struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &ack); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}

	log.Printf("[hooks API] <- %s task=%s: %s", endpoint, taskID, ack.Message)
	return ack.Message, nil
}

// DownloadOutput streams the completed bundle at zipPath into dst.
func (c *Client) DownloadOutput(ctx context.Context, zipPath string, dst io.Writer) error {
	u := c.baseURL + "/download_output?zip_path=" + url.QueryEscape(zipPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return c.streamTo(req, dst)
}

// DownloadAll streams a server-built archive of the named outputs into dst.
func (c *Client) DownloadAll(ctx context.Context, videoPaths []string, dst io.Writer) error {
	payload, err := json.Marshal(map[string][]string{"video_paths": videoPaths})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/download_all", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.streamTo(req, dst)
}

func (c *Client) streamTo(req *http.Request, dst io.Writer) error {
	log.Printf("[hooks API] -> %s %s", req.Method, req.URL.Path)

	// Download duration depends on bundle size, skip the client timeout.
	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("download error (status %d): %s", resp.StatusCode, string(body))
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("failed to read bundle stream: %w", err)
	}
	return nil
}

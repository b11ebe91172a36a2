package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/roadguardian/api/internal/config"
	"github.com/roadguardian/api/internal/model"
)

// Analyzer defines the interface to the remote video analysis service
type Analyzer interface {
	Analyze(ctx context.Context, filename string, file io.Reader) (*model.AnalyzeResult, error)
	DeleteArtifact(ctx context.Context, filename string) error
}

// AnalyzerClient talks to the Python analysis microservice
type AnalyzerClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewAnalyzerClient creates a new analyzer client
func NewAnalyzerClient(cfg *config.AnalyzerConfig) *AnalyzerClient {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &AnalyzerClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
	}
}

// IsConfigured returns true if the client has a real endpoint to call
func (c *AnalyzerClient) IsConfigured() bool {
	return c.baseURL != ""
}

// Analyze uploads a video and runs the full analysis as a single request
func (c *AnalyzerClient) Analyze(ctx context.Context, filename string, file io.Reader) (*model.AnalyzeResult, error) {
	if !c.IsConfigured() {
		return c.mockAnalyze(ctx, filename)
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/analyze-video", &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analyzer error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result model.AnalyzeResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if result.Filename == "" {
		result.Filename = filename
	}

	return &result, nil
}

// DeleteArtifact asks the analysis service to remove an uploaded video.
// Callers treat any error as non-fatal.
func (c *AnalyzerClient) DeleteArtifact(ctx context.Context, filename string) error {
	if !c.IsConfigured() {
		return nil
	}

	u := fmt.Sprintf("%s/api/delete-video?filename=%s", c.baseURL, url.QueryEscape(filename))
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete request failed (status %d)", resp.StatusCode)
	}
	return nil
}

// mockAnalyze returns a canned detection so the service runs end-to-end
// without the analysis backend.
func (c *AnalyzerClient) mockAnalyze(ctx context.Context, filename string) (*model.AnalyzeResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(2 * time.Second):
	}

	return &model.AnalyzeResult{
		Result:   "신호위반(적색신호)",
		Plate:    "12가3456",
		Time:     time.Now().Format("2006-01-02 15:04:05"),
		Filename: filename,
	}, nil
}

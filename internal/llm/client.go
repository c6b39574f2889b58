package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client talks to an OpenAI-compatible API
// Thread-safe for concurrent use
//
// config: Configuration for the LLM API
// httpClient: HTTP client for API requests
// baseURL: Base URL for the LLM API
type Client struct {
	config     *Config
	httpClient *http.Client
	baseURL    string
}

// NewClient creates a new LLM client with the given configuration
//
// Returns a new Client instance or an error if configuration is invalid
// Example:
//
//	client, err := llm.NewClient(&llm.Config{APIKey: key, APIURL: url, Model: "gpt-5-mini", Timeout: 90})
//	if err != nil {
//		log.Fatal(err)
//	}
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	client := &Client{
		config:  config,
		baseURL: strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}

	return client, nil
}

// UploadFile uploads one image with purpose "vision"
//
// # Returns the provider file object whose ID can be referenced by input_image parts
func (c *Client) UploadFile(ctx context.Context, file File) (*FileObject, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("purpose", "vision"); err != nil {
		return nil, fmt.Errorf("failed to write purpose field: %w", err)
	}
	if err := file.ToMultipart(writer, "file"); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	var out FileObject
	if err := c.do(ctx, http.MethodPost, "/files", writer.FormDataContentType(), &buf, &out); err != nil {
		return nil, fmt.Errorf("upload file %s failed: %w", file.Name, err)
	}
	if out.ID == "" {
		return nil, fmt.Errorf("upload file %s returned no id", file.Name)
	}
	return &out, nil
}

// DeleteFile removes an uploaded file
func (c *Client) DeleteFile(ctx context.Context, fileID string) error {
	path := "/files/" + url.PathEscape(fileID)
	if err := c.do(ctx, http.MethodDelete, path, "", nil, nil); err != nil {
		return fmt.Errorf("delete file failed: %w", err)
	}
	return nil
}

// CreateResponse calls POST /responses
//
// # Returns the decoded response or an error; a response with an error object is an error
func (c *Client) CreateResponse(ctx context.Context, request *ResponseRequest) (*Response, error) {
	if request.Model == "" {
		request.Model = c.config.Model
	}
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out Response
	if err := c.do(ctx, http.MethodPost, "/responses", "application/json", bytes.NewReader(jsonData), &out); err != nil {
		return nil, fmt.Errorf("create response failed: %w", err)
	}
	if out.Error != nil && out.Error.Message != "" {
		return &out, out.Error
	}
	return &out, nil
}

// do makes a raw HTTP request and decodes a JSON body into out when out is non-nil
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	for key, value := range c.config.GetHeaders() {
		req.Header.Set(key, value)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return fmt.Errorf("request timed out: %w", err)
		}
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(responseBody)}
		var envelope struct {
			Error *Error `json:"error"`
		}
		if json.Unmarshal(responseBody, &envelope) == nil {
			apiErr.Detail = envelope.Error
		}
		return apiErr
	}

	if out == nil || len(bytes.TrimSpace(responseBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(responseBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

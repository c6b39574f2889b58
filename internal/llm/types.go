package llm

import (
	"fmt"
	"mime/multipart"
	"net/textproto"
	"path/filepath"
	"strings"
)

// File represents an image to upload
//
// Name: Original file name
// ContentType: MIME type of the file
// Content: File content as bytes
type File struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"-"`
}

// FileObject is the provider's record of an uploaded file
type FileObject struct {
	ID       string `json:"id"`
	Object   string `json:"object"`
	Bytes    int64  `json:"bytes"`
	Filename string `json:"filename"`
	Purpose  string `json:"purpose"`
}

// ContentPart is one element of an input message
//
// Type: "input_text" or "input_image"
// Text: Set for input_text
// FileID: Set for input_image, refers to an uploaded file
type ContentPart struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	FileID string `json:"file_id,omitempty"`
}

type InputMessage struct {
	Role    string        `json:"role"`
	Content []ContentPart `json:"content"`
}

// TextFormat requests structured output
type TextFormat struct {
	Type   string         `json:"type"`
	Name   string         `json:"name,omitempty"`
	Schema map[string]any `json:"schema,omitempty"`
	Strict bool           `json:"strict,omitempty"`
}

type TextConfig struct {
	Format    *TextFormat `json:"format,omitempty"`
	Verbosity string      `json:"verbosity,omitempty"`
}

type ReasoningConfig struct {
	Effort string `json:"effort,omitempty"`
}

// ResponseRequest is the body of POST /responses
type ResponseRequest struct {
	Model        string           `json:"model"`
	Instructions string           `json:"instructions,omitempty"`
	Input        []InputMessage   `json:"input"`
	Text         *TextConfig      `json:"text,omitempty"`
	Reasoning    *ReasoningConfig `json:"reasoning,omitempty"`
}

// Response is the body returned by POST /responses
//
// Status values: "completed", "incomplete", "failed", "in_progress"
type Response struct {
	ID     string       `json:"id"`
	Object string       `json:"object"`
	Status string       `json:"status"`
	Model  string       `json:"model"`
	Output []OutputItem `json:"output"`
	Error  *Error       `json:"error,omitempty"`
}

type OutputItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content []OutputContent `json:"content,omitempty"`
}

type OutputContent struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// OutputText concatenates every output_text part of message items
func (r *Response) OutputText() string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	for _, item := range r.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				b.WriteString(part.Text)
			}
		}
	}
	return strings.TrimSpace(b.String())
}

// Error represents an API error
//
// Message: Error message
// Type: Error type
// Param: Parameter that caused the error
// Code: Error code
type Error struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("LLM API Error: %s (type: %s, code: %s)", e.Message, e.Type, e.Code)
}

// APIError is returned for any non-2xx HTTP status
type APIError struct {
	StatusCode int
	Body       string
	Detail     *Error
}

func (e *APIError) Error() string {
	if e.Detail != nil && e.Detail.Message != "" {
		return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Detail.Message)
	}
	return fmt.Sprintf("API request failed with status %d: %s", e.StatusCode, e.Body)
}

// ToMultipart writes the file as a form part carrying its own content type
func (f *File) ToMultipart(writer *multipart.Writer, fieldName string) error {
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, fieldName, f.Name))
	header.Set("Content-Type", f.contentType())

	part, err := writer.CreatePart(header)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}

	_, err = part.Write(f.Content)
	return err
}

func (f *File) contentType() string {
	if f.ContentType != "" {
		return f.ContentType
	}
	return getContentTypeFromExtension(f.Name)
}

func getContentTypeFromExtension(filePath string) string {
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	case ".heic":
		return "image/heic"
	default:
		return "application/octet-stream"
	}
}

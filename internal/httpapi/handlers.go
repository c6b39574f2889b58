package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/MimeLyc/menulens/internal/apperr"
	"github.com/MimeLyc/menulens/internal/llm"
	"github.com/MimeLyc/menulens/internal/menu"
	"github.com/MimeLyc/menulens/pkg/log"
)

type createSessionRequest struct {
	FileIDs      []string `json:"file_ids"`
	Filenames    []string `json:"filenames"`
	ContentTypes []string `json:"content_types"`
}

type retryRequest struct {
	Language string `json:"language"`
}

type publishShareRequest struct {
	Template *menu.Template `json:"template"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var req createSessionRequest
	uploaded := false
	if mediaType == "multipart/form-data" {
		if s.uploader == nil {
			writeError(w, http.StatusNotImplemented, "image upload is not configured")
			return
		}
		ids, files, err := s.uploadImages(w, r)
		if err != nil {
			writeAppError(w, err)
			return
		}
		req.FileIDs = ids
		for _, f := range files {
			req.Filenames = append(req.Filenames, f.Name)
			req.ContentTypes = append(req.ContentTypes, f.ContentType)
		}
		uploaded = true
	} else if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	info, err := s.sessions.CreateSession(r.Context(), req.FileIDs, req.Filenames, req.ContentTypes)
	if err != nil {
		if uploaded {
			s.releaseUploads(r.Context(), req.FileIDs)
		}
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) uploadImages(w http.ResponseWriter, r *http.Request) ([]string, []llm.File, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return nil, nil, apperr.Wrap(err, apperr.ErrValidation, "invalid multipart body")
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		return nil, nil, apperr.New(apperr.ErrValidation, "at least one file is required in field \"files\"")
	}

	files := make([]llm.File, 0, len(headers))
	for _, h := range headers {
		f, err := h.Open()
		if err != nil {
			return nil, nil, apperr.Wrap(err, apperr.ErrValidation, "unreadable upload")
		}
		content, err := io.ReadAll(f)
		_ = f.Close()
		if err != nil {
			return nil, nil, apperr.Wrap(err, apperr.ErrValidation, "unreadable upload")
		}
		files = append(files, llm.File{
			Name:        h.Filename,
			ContentType: h.Header.Get("Content-Type"),
			Content:     content,
		})
	}

	ids, err := s.uploader.UploadImages(r.Context(), files)
	if err != nil {
		return nil, nil, err
	}
	return ids, files, nil
}

func (s *Server) releaseUploads(ctx context.Context, ids []string) {
	ctx = context.WithoutCancel(ctx)
	for _, id := range ids {
		if err := s.uploader.Release(ctx, id); err != nil {
			log.Warn("Failed to release upload %s after session error: %v", id, err)
		}
	}
}

// handleSession serves /api/sessions/{token} and /api/sessions/{token}/retry.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	tok, action, _ := strings.Cut(rest, "/")
	tok = unescape(tok)
	if tok == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			info, err := s.sessions.DescribeSession(r.Context(), tok)
			if err != nil {
				writeAppError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, info)
		case http.MethodDelete:
			if err := s.sessions.DeleteSession(r.Context(), tok); err != nil {
				writeAppError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		}
	case "retry":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		var req retryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
		tpl, err := s.sessions.RetrySession(r.Context(), tok, req.Language)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tpl)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) handleShares(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req publishShareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.Template == nil {
		writeError(w, http.StatusBadRequest, "template is required")
		return
	}
	share, err := s.sessions.PublishShare(r.Context(), req.Template)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, share)
}

func (s *Server) handleShare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	tok := unescape(strings.TrimPrefix(r.URL.Path, "/api/shares/"))
	if tok == "" || strings.Contains(tok, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	tpl, err := s.sessions.ResolveShare(r.Context(), tok)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report, err := s.sessions.Sweep(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func unescape(s string) string {
	if decoded, err := url.PathUnescape(s); err == nil {
		return decoded
	}
	return s
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(t apperr.ErrorType) int {
	switch t {
	case apperr.ErrNotFound:
		return http.StatusNotFound
	case apperr.ErrConflict, apperr.ErrBusy:
		return http.StatusConflict
	case apperr.ErrValidation:
		return http.StatusBadRequest
	case apperr.ErrRetryable:
		return http.StatusServiceUnavailable
	case apperr.ErrRetryExhausted:
		return http.StatusTooManyRequests
	case apperr.ErrPermanent:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeAppError(w http.ResponseWriter, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var appErr *apperr.Error
		if !errors.As(err, &appErr) {
			writeError(w, http.StatusServiceUnavailable, "request cancelled")
			return
		}
	}

	errType := apperr.TypeOf(err)
	status := statusFor(errType)
	msg := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		msg = appErr.Message
	}
	if status == http.StatusInternalServerError {
		log.Error("Request failed: %v", err)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
		"type":  errType.String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

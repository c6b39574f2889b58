package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MimeLyc/menulens/internal/apperr"
	"github.com/MimeLyc/menulens/internal/lifecycle"
	"github.com/MimeLyc/menulens/internal/llm"
	"github.com/MimeLyc/menulens/internal/menu"
	"github.com/MimeLyc/menulens/internal/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTranslator struct {
	mu        sync.Mutex
	submitErr error
	uploadErr error
	released  []string
	uploaded  []llm.File
}

func (s *stubTranslator) Submit(_ context.Context, _ []string, hint string) (*menu.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &menu.Template{
		Status:           menu.StatusCompleted,
		OriginalLanguage: "ja",
		Sections: []menu.Section{{
			Title:  "Ramen",
			Dishes: []menu.Dish{{OriginalName: "醤油ラーメン", TranslatedName: "Soy ramen (" + hint + ")", Description: "Noodles in soy broth"}},
		}},
	}, nil
}

func (s *stubTranslator) Release(_ context.Context, fileID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, fileID)
	return nil
}

func (s *stubTranslator) UploadImages(_ context.Context, files []llm.File) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.uploadErr != nil {
		return nil, s.uploadErr
	}
	s.uploaded = append(s.uploaded, files...)
	ids := make([]string, len(files))
	for i, f := range files {
		ids[i] = "id-" + f.Name
	}
	return ids, nil
}

func (s *stubTranslator) releasedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.released...)
}

type testEnv struct {
	handler    http.Handler
	translator *stubTranslator
	now        time.Time
	clockMu    sync.Mutex
}

func (e *testEnv) clock() time.Time {
	e.clockMu.Lock()
	defer e.clockMu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.clockMu.Lock()
	e.now = e.now.Add(d)
	e.clockMu.Unlock()
}

func newTestEnv(t *testing.T, opts ...lifecycle.Option) *testEnv {
	t.Helper()
	env := &testEnv{
		translator: &stubTranslator{},
		now:        time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	opts = append([]lifecycle.Option{lifecycle.WithClock(env.clock)}, opts...)
	manager := lifecycle.NewManager(persistence.NewMemoryStore(), env.translator, opts...)
	env.handler = NewServer(manager, WithUploader(env.translator)).Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createSession(t *testing.T) string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/sessions", createSessionRequest{
		FileIDs:      []string{"file-a"},
		Filenames:    []string{"menu.jpg"},
		ContentTypes: []string{"image/jpeg"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var info lifecycle.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.NotEmpty(t, info.Token)
	return info.Token
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServer_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tok := env.createSession(t)

	rec := env.do(t, http.MethodGet, "/api/sessions/"+tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info lifecycle.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 1, info.FileCount)
	assert.Equal(t, 1800, info.TTLSeconds)
	assert.Equal(t, []string{"menu.jpg"}, info.Filenames)

	rec = env.do(t, http.MethodPost, "/api/sessions/"+tok+"/retry", retryRequest{Language: "fr"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tpl menu.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tpl))
	assert.Equal(t, "Soy ramen (fr)", tpl.Sections[0].Dishes[0].TranslatedName)

	rec = env.do(t, http.MethodDelete, "/api/sessions/"+tok, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []string{"file-a"}, env.translator.releasedIDs())

	rec = env.do(t, http.MethodDelete, "/api/sessions/"+tok, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sessions/"+tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NotFound", decodeError(t, rec)["type"])
}

func TestServer_RetryWithoutBodyUsesDefaultLanguage(t *testing.T) {
	env := newTestEnv(t, lifecycle.WithDefaultLanguage("de"))
	tok := env.createSession(t)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions/"+tok+"/retry", nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Soy ramen (de)")
}

func TestServer_RetryErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		submitErr error
		want      int
	}{
		{name: "transient", submitErr: apperr.New(apperr.ErrRetryable, "rate limited"), want: http.StatusServiceUnavailable},
		{name: "permanent", submitErr: apperr.New(apperr.ErrPermanent, "unreadable image"), want: http.StatusUnprocessableEntity},
		{name: "unknown", submitErr: errors.New("boom"), want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.translator.submitErr = tt.submitErr
			tok := env.createSession(t)

			rec := env.do(t, http.MethodPost, "/api/sessions/"+tok+"/retry", retryRequest{})
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestServer_RetryExhausted(t *testing.T) {
	env := newTestEnv(t, lifecycle.WithMaxRetries(1))
	env.translator.submitErr = apperr.New(apperr.ErrRetryable, "rate limited")
	tok := env.createSession(t)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+tok+"/retry", retryRequest{})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/sessions/"+tok+"/retry", retryRequest{})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RetryExhausted", decodeError(t, rec)["type"])
}

func TestServer_RetryInvalidLanguage(t *testing.T) {
	env := newTestEnv(t)
	tok := env.createSession(t)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+tok+"/retry", retryRequest{Language: "not a tag!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ExpiredSessionIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	tok := env.createSession(t)
	env.advance(31 * time.Minute)

	rec := env.do(t, http.MethodPost, "/api/sessions/"+tok+"/retry", retryRequest{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CreateSessionValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/sessions", createSessionRequest{
		FileIDs:   []string{"a", "b"},
		Filenames: []string{"a.jpg"},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/sessions", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func multipartRequest(t *testing.T, names ...string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for _, name := range names {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		header.Set("Content-Type", "image/jpeg")
		part, err := writer.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write([]byte("jpeg-bytes"))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestServer_CreateSessionMultipart(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, multipartRequest(t, "front.jpg", "back.jpg"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var info lifecycle.SessionInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 2, info.FileCount)
	assert.Equal(t, []string{"front.jpg", "back.jpg"}, info.Filenames)
	require.Len(t, env.translator.uploaded, 2)
	assert.Equal(t, "image/jpeg", env.translator.uploaded[0].ContentType)
	assert.Equal(t, []byte("jpeg-bytes"), env.translator.uploaded[0].Content)

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, multipartRequest(t))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_CreateSessionMultipartUploadFailure(t *testing.T) {
	env := newTestEnv(t)
	env.translator.uploadErr = apperr.New(apperr.ErrPermanent, "unsupported image")

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, multipartRequest(t, "front.jpg"))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestServer_CreateSessionMultipartWithoutUploader(t *testing.T) {
	manager := lifecycle.NewManager(persistence.NewMemoryStore(), &stubTranslator{})
	handler := NewServer(manager).Handler()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartRequest(t, "front.jpg"))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestServer_Shares(t *testing.T) {
	env := newTestEnv(t)
	tpl := &menu.Template{
		Status: menu.StatusCompleted,
		Sections: []menu.Section{{
			Title:  "Primi",
			Dishes: []menu.Dish{{OriginalName: "Cacio e pepe", TranslatedName: "Cheese and pepper pasta", Description: "Pecorino and black pepper"}},
		}},
	}

	rec := env.do(t, http.MethodPost, "/api/shares", publishShareRequest{Template: tpl})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var share lifecycle.Share
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &share))
	assert.Equal(t, 86400, share.ExpiresInSeconds)

	rec = env.do(t, http.MethodGet, "/api/shares/"+share.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got menu.Template
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, *tpl, got)

	env.advance(24 * time.Hour)
	rec = env.do(t, http.MethodGet, "/api/shares/"+share.Token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/shares/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_PublishRejectsIncompleteTemplate(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/api/shares", publishShareRequest{Template: &menu.Template{Status: "processing"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/shares", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/shares", publishShareRequest{Template: &menu.Template{Status: menu.StatusCompleted}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_Sweep(t *testing.T) {
	env := newTestEnv(t)
	env.createSession(t)
	env.advance(time.Hour)

	rec := env.do(t, http.MethodPost, "/api/maintenance/sweep", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report lifecycle.SweepReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.SessionsReaped)
	assert.Equal(t, []string{"file-a"}, env.translator.releasedIDs())
}

func TestServer_RequestID(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Len(t, rec.Header().Get(requestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, "given-id")
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "given-id", rec.Header().Get(requestIDHeader))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusConflict, statusFor(apperr.ErrBusy))
	assert.Equal(t, http.StatusConflict, statusFor(apperr.ErrConflict))
	assert.Equal(t, http.StatusInternalServerError, statusFor(apperr.ErrInternal))
}

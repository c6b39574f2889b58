package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/MimeLyc/menulens/internal/lifecycle"
	"github.com/MimeLyc/menulens/internal/llm"
	"github.com/MimeLyc/menulens/internal/menu"
	"github.com/MimeLyc/menulens/pkg/log"
	"github.com/google/uuid"
)

const defaultMaxUploadBytes = 32 << 20

type sessionService interface {
	CreateSession(ctx context.Context, fileIDs, filenames, contentTypes []string) (*lifecycle.SessionInfo, error)
	DescribeSession(ctx context.Context, token string) (*lifecycle.SessionInfo, error)
	RetrySession(ctx context.Context, token, languageHint string) (*menu.Template, error)
	DeleteSession(ctx context.Context, token string) error
	PublishShare(ctx context.Context, tpl *menu.Template) (*lifecycle.Share, error)
	ResolveShare(ctx context.Context, token string) (*menu.Template, error)
	Sweep(ctx context.Context) (lifecycle.SweepReport, error)
}

// imageUploader sends raw menu photos to the translation service.
type imageUploader interface {
	UploadImages(ctx context.Context, files []llm.File) ([]string, error)
	Release(ctx context.Context, fileID string) error
}

type Server struct {
	sessions sessionService
	uploader imageUploader

	maxUploadBytes int64

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

// WithUploader enables multipart image uploads on POST /api/sessions.
func WithUploader(uploader imageUploader) Option {
	return func(s *Server) {
		s.uploader = uploader
	}
}

func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

func NewServer(sessions sessionService, opts ...Option) *Server {
	s := &Server{
		sessions:       sessions,
		maxUploadBytes: defaultMaxUploadBytes,
		mux:            http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return withRequestLog(s.mux)
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/sessions", s.handleSessions)
	s.mux.HandleFunc("/api/sessions/", s.handleSession)
	s.mux.HandleFunc("/api/shares", s.handleShares)
	s.mux.HandleFunc("/api/shares/", s.handleShare)
	s.mux.HandleFunc("/api/maintenance/sweep", s.handleSweep)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

const requestIDHeader = "X-Request-ID"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withRequestLog tags every request with an id and logs its outcome.
func withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info("[%s] %s %s %d %s", id, r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

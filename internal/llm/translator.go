package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/MimeLyc/menulens/internal/apperr"
	"github.com/MimeLyc/menulens/internal/menu"
	"github.com/MimeLyc/menulens/pkg/log"
	"golang.org/x/sync/errgroup"
)

const uploadConcurrency = 4

// MenuTranslator turns uploaded menu photos into menu templates.
type MenuTranslator struct {
	client *Client
}

func NewMenuTranslator(client *Client) *MenuTranslator {
	return &MenuTranslator{client: client}
}

// Submit asks the model to extract and translate the menu in the referenced files.
// When a quick model is configured, a short recommendation is requested alongside;
// it never fails the submission and is abandoned if extraction fails.
// Errors are typed apperr.ErrRetryable or apperr.ErrPermanent.
func (t *MenuTranslator) Submit(ctx context.Context, fileIDs []string, languageHint string) (*menu.Template, error) {
	if len(fileIDs) == 0 {
		return nil, apperr.New(apperr.ErrPermanent, "at least one file id is required")
	}

	quickCtx, cancelQuick := context.WithCancel(ctx)
	defer cancelQuick()

	var suggestion string
	var g errgroup.Group
	if t.client.config.QuickModel != "" {
		g.Go(func() error {
			suggestion = t.quickSuggestion(quickCtx, fileIDs, languageHint)
			return nil
		})
	}

	tpl, err := t.extract(ctx, fileIDs, languageHint)
	if err != nil {
		cancelQuick()
		_ = g.Wait()
		return nil, err
	}
	_ = g.Wait()
	tpl.QuickSuggestion = suggestion
	return tpl, nil
}

func (t *MenuTranslator) extract(ctx context.Context, fileIDs []string, languageHint string) (*menu.Template, error) {
	resp, err := t.client.CreateResponse(ctx, BuildMenuRequest(t.client.config, fileIDs, languageHint))
	if err != nil {
		return nil, classify(err)
	}
	if resp.Status != "" && resp.Status != "completed" {
		return nil, apperr.Newf(apperr.ErrRetryable, "model response status %s", resp.Status)
	}

	payload, err := menu.ParsePayload(resp.OutputText())
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrRetryable, "unparseable model output")
	}
	tpl, err := menu.BuildTemplate(payload)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrRetryable, "unusable model output")
	}
	log.Debug("Model returned %d section(s) in %q", len(tpl.Sections), tpl.OriginalLanguage)
	return tpl, nil
}

// quickSuggestion returns "" on any failure, including its own timeout.
func (t *MenuTranslator) quickSuggestion(ctx context.Context, fileIDs []string, languageHint string) string {
	ctx, cancel := context.WithTimeout(ctx, t.client.config.QuickTimeout)
	defer cancel()

	resp, err := t.client.CreateResponse(ctx, BuildQuickSuggestionRequest(t.client.config, fileIDs, languageHint))
	switch {
	case errors.Is(err, context.Canceled):
		log.Debug("Quick suggestion cancelled")
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("Quick suggestion timed out after %s", t.client.config.QuickTimeout)
		return ""
	case err != nil:
		log.Warn("Quick suggestion failed: %v", err)
		return ""
	}
	return strings.TrimSpace(resp.OutputText())
}

// Release deletes an uploaded file. A file that is already gone counts as released.
func (t *MenuTranslator) Release(ctx context.Context, fileID string) error {
	err := t.client.DeleteFile(ctx, fileID)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

// UploadImages uploads every file and returns the handles in input order.
// If any upload fails, the ones that succeeded are deleted again.
func (t *MenuTranslator) UploadImages(ctx context.Context, files []File) ([]string, error) {
	if len(files) == 0 {
		return nil, apperr.New(apperr.ErrValidation, "at least one image is required")
	}

	ids := make([]string, len(files))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadConcurrency)
	for i, f := range files {
		g.Go(func() error {
			obj, err := t.client.UploadFile(gctx, f)
			if err != nil {
				return err
			}
			mu.Lock()
			ids[i] = obj.ID
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		cleanup := context.WithoutCancel(ctx)
		for _, id := range ids {
			if id == "" {
				continue
			}
			if relErr := t.Release(cleanup, id); relErr != nil {
				log.Warn("Failed to delete partially uploaded file %s: %v", id, relErr)
			}
		}
		return nil, classify(err)
	}
	return ids, nil
}

// classify maps transport and HTTP failures onto retryable or permanent errors.
func classify(err error) error {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode == http.StatusConflict,
			apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode >= 500:
			return apperr.Wrap(err, apperr.ErrRetryable, fmt.Sprintf("translation service returned %d", apiErr.StatusCode))
		default:
			return apperr.Wrap(err, apperr.ErrPermanent, fmt.Sprintf("translation service rejected the request with %d", apiErr.StatusCode))
		}
	}

	var modelErr *Error
	if errors.As(err, &modelErr) {
		return apperr.Wrap(err, apperr.ErrRetryable, "model reported an error")
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.As(err, &netErr) {
		return apperr.Wrap(err, apperr.ErrRetryable, "translation service unreachable")
	}
	return apperr.Wrap(err, apperr.ErrRetryable, "translation request failed")
}

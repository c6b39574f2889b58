package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/MimeLyc/menulens/internal/apperr"
	"github.com/MimeLyc/menulens/internal/menu"
	"github.com/MimeLyc/menulens/pkg/log"
)

// Coordinator runs translation attempts for upload sessions. At most one
// attempt per token is in flight, and every attempt is counted in the store
// before the external service is contacted.
type Coordinator struct {
	store      Store
	translator Translator
	locks      *tokenLocks
	clock      Clock
	maxRetries int
	watchdog   time.Duration
}

type attemptResult struct {
	template *menu.Template
	err      error
}

func newCoordinator(store Store, translator Translator, locks *tokenLocks, clock Clock, maxRetries int, watchdog time.Duration) *Coordinator {
	return &Coordinator{
		store:      store,
		translator: translator,
		locks:      locks,
		clock:      clock,
		maxRetries: maxRetries,
		watchdog:   watchdog,
	}
}

// Process performs one attempt for the session.
//
// If ctx ends while the external call is running, Process returns ctx.Err()
// but the call keeps going until it returns or the watchdog fires; the token
// stays locked until then.
func (c *Coordinator) Process(ctx context.Context, token, languageHint string) (*menu.Template, error) {
	if _, err := c.store.GetSession(ctx, token, c.clock()); err != nil {
		return nil, err
	}

	unlock, err := c.locks.Lock(ctx, token)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.ErrBusy, "session is busy")
	}

	count, fileIDs, err := c.begin(ctx, token)
	if err != nil {
		unlock()
		return nil, err
	}

	done := make(chan attemptResult, 1)
	go func() {
		defer unlock()
		done <- c.attempt(context.WithoutCancel(ctx), token, count, fileIDs, languageHint)
	}()

	select {
	case res := <-done:
		return res.template, res.err
	case <-ctx.Done():
		log.Warn("Caller left before attempt on session finished: %v", ctx.Err())
		return nil, ctx.Err()
	}
}

// begin runs under the token lock: it re-reads the session, enforces the
// failure marker and the ceiling, then counts the attempt.
func (c *Coordinator) begin(ctx context.Context, token string) (int, []string, error) {
	now := c.clock()
	session, err := c.store.GetSession(ctx, token, now)
	if err != nil {
		return 0, nil, err
	}
	if session.Failure != "" {
		return 0, nil, apperr.New(apperr.ErrPermanent, "session was rejected by the translation service").
			WithContext("reason", session.Failure)
	}
	if session.RetryCount >= c.maxRetries {
		return 0, nil, apperr.Newf(apperr.ErrRetryExhausted, "retry limit of %d reached", c.maxRetries).
			WithContext("retry_count", session.RetryCount)
	}

	count, err := c.store.IncrementRetry(ctx, token, now)
	if err != nil {
		return 0, nil, err
	}
	return count, session.FileIDs, nil
}

func (c *Coordinator) attempt(ctx context.Context, token string, count int, fileIDs []string, languageHint string) attemptResult {
	callCtx, cancel := context.WithTimeout(ctx, c.watchdog)
	defer cancel()

	log.Info("Submitting session attempt %d/%d with %d file(s)", count, c.maxRetries, len(fileIDs))

	results := make(chan attemptResult, 1)
	go func() {
		tpl, err := c.translator.Submit(callCtx, fileIDs, languageHint)
		results <- attemptResult{template: tpl, err: err}
	}()

	var res attemptResult
	select {
	case res = <-results:
	case <-callCtx.Done():
		res = attemptResult{err: callCtx.Err()}
	}

	if res.err == nil {
		if err := res.template.Validate(); err != nil {
			res.err = apperr.Wrap(err, apperr.ErrRetryable, "translation service returned an unusable template")
		} else {
			log.Info("Session attempt %d succeeded with %d dish(es)", count, res.template.DishCount())
			return res
		}
	}
	return attemptResult{err: c.classify(ctx, token, count, res.err)}
}

func (c *Coordinator) classify(ctx context.Context, token string, count int, err error) error {
	remaining := c.maxRetries - count
	if remaining < 0 {
		remaining = 0
	}

	switch {
	case apperr.IsErrorType(err, apperr.ErrPermanent):
		log.Warn("Session attempt %d failed permanently: %v", count, err)
		if markErr := c.store.MarkSessionFailed(ctx, token, err.Error(), c.clock()); markErr != nil {
			log.Error("Failed to record permanent failure: %v", markErr)
		}
		return err
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn("Session attempt %d hit the %s watchdog", count, c.watchdog)
		return apperr.Wrap(err, apperr.ErrRetryable, "translation service timed out").
			WithContext("attempt", count).
			WithContext("remaining", remaining)
	default:
		log.Warn("Session attempt %d failed: %v", count, err)
		return apperr.Wrap(err, apperr.ErrRetryable, "translation attempt failed").
			WithContext("attempt", count).
			WithContext("remaining", remaining)
	}
}

package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/menulens/internal/persistence"
	"github.com/MimeLyc/menulens/pkg/icron"
	"github.com/MimeLyc/menulens/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Reaper removes expired sessions and shares. Scheduled and on-demand sweeps
// share one singleflight key so at most one sweep runs at a time.
type Reaper struct {
	store          Store
	translator     Translator
	locks          *tokenLocks
	clock          Clock
	batch          int
	releaseWorkers int

	group singleflight.Group

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
}

func newReaper(store Store, translator Translator, locks *tokenLocks, clock Clock, batch int) *Reaper {
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	return &Reaper{
		store:          store,
		translator:     translator,
		locks:          locks,
		clock:          clock,
		batch:          batch,
		releaseWorkers: DefaultReleaseWorkers,
	}
}

// Schedule registers the sweep on c using a cron expression such as "@every 60s".
func (r *Reaper) Schedule(ctx context.Context, c *cron.Cron, expr string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := c.AddFunc(expr, func() {
		report, err := r.Sweep(ctx)
		if err != nil {
			log.Error("Scheduled sweep failed: %v", err)
			return
		}
		if report.SessionsReaped+report.SharesReaped+report.SkippedLocked > 0 {
			log.Info("Scheduled sweep: %+v", report)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reaper %q: %w", expr, err)
	}
	if r.cron != nil {
		r.cron.Remove(r.entryID)
	}
	r.cron = c
	r.entryID = id
	if info, err := icron.GetTriggerInfo(expr, r.clock()); err == nil {
		log.Info("Reaper scheduled with %q, first sweep in %s", expr, info.TimeUntilNext.Round(time.Second))
	}
	return nil
}

// Sweep runs one cycle. Concurrent callers share the result of the cycle
// already in progress.
func (r *Reaper) Sweep(ctx context.Context) (SweepReport, error) {
	v, err, shared := r.group.Do("sweep", func() (any, error) {
		return r.sweep(ctx)
	})
	if shared {
		log.Debug("Sweep joined an in-flight cycle")
	}
	if err != nil {
		return SweepReport{}, err
	}
	return v.(SweepReport), nil
}

func (r *Reaper) sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	now := r.clock()

	if err := r.reapSessions(ctx, now, &report); err != nil {
		return report, err
	}
	if err := r.reapShares(ctx, now, &report); err != nil {
		return report, err
	}
	return report, nil
}

// reapSessions scans batch after batch until no expired session is left
// besides the ones held by an in-flight attempt.
func (r *Reaper) reapSessions(ctx context.Context, now time.Time, report *SweepReport) error {
	skipped := make(map[string]struct{})
	for {
		sessions, err := r.store.ScanExpiredSessions(ctx, now, r.batch)
		if err != nil {
			return fmt.Errorf("scan expired sessions: %w", err)
		}
		progress := 0
		for _, session := range sessions {
			if _, ok := skipped[session.Token]; ok {
				continue
			}
			unlock, ok := r.locks.TryLock(session.Token)
			if !ok {
				skipped[session.Token] = struct{}{}
				report.SkippedLocked++
				continue
			}
			failures := r.releaseHandles(ctx, session)
			deleted, err := r.store.DeleteExpiredSession(ctx, session.Token, now)
			unlock()
			if err != nil {
				return fmt.Errorf("delete expired session: %w", err)
			}
			report.ReleaseFailures += failures
			if deleted {
				report.SessionsReaped++
				progress++
			}
		}
		if len(sessions) < r.batch || progress == 0 {
			return nil
		}
	}
}

func (r *Reaper) reapShares(ctx context.Context, now time.Time, report *SweepReport) error {
	for {
		shares, err := r.store.ScanExpiredShares(ctx, now, r.batch)
		if err != nil {
			return fmt.Errorf("scan expired shares: %w", err)
		}
		progress := 0
		for _, share := range shares {
			deleted, err := r.store.DeleteExpiredShare(ctx, share.Token, now)
			if err != nil {
				return fmt.Errorf("delete expired share: %w", err)
			}
			if deleted {
				report.SharesReaped++
				progress++
			}
		}
		if len(shares) < r.batch || progress == 0 {
			return nil
		}
	}
}

// releaseHandles releases every file handle of the session. Failures are
// logged and counted, never returned.
func (r *Reaper) releaseHandles(ctx context.Context, session *persistence.UploadSession) int {
	return releaseAll(ctx, r.translator, session.FileIDs, r.releaseWorkers)
}

func releaseAll(ctx context.Context, translator Translator, fileIDs []string, workers int) int {
	var failures atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, id := range fileIDs {
		g.Go(func() error {
			if err := translator.Release(gctx, id); err != nil {
				failures.Add(1)
				log.Warn("Failed to release file handle %s: %v", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return int(failures.Load())
}

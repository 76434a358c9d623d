// Package scanner finds open tasks whose deadline is close or past and turns
// them into notification jobs or expirations.
package scanner

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/kazz187/taskwarden/internal/queue"
	"github.com/kazz187/taskwarden/internal/task"
	"github.com/kazz187/taskwarden/pkg/clog"
	"github.com/kazz187/taskwarden/pkg/panicerr"
)

type Config struct {
	Lookahead         time.Duration
	ImminentThreshold time.Duration
	Workers           int
}

type Scanner struct {
	repo   task.Repository
	engine *task.Engine
	cfg    Config
}

func New(repo task.Repository, engine *task.Engine, cfg Config) *Scanner {
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = time.Hour
	}
	if cfg.ImminentThreshold <= 0 {
		cfg.ImminentThreshold = 15 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	return &Scanner{repo: repo, engine: engine, cfg: cfg}
}

// Report lists what one tick did, by task id.
type Report struct {
	StartedAt time.Time         `json:"startedAt"`
	Notified  []string          `json:"notified"`
	Expired   []string          `json:"expired"`
	Failed    map[string]string `json:"failed"`
}

type recorder struct {
	mu     sync.Mutex
	report *Report
}

func (r *recorder) add(list *[]string, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*list = append(*list, id)
}

func (r *recorder) fail(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.report.Failed[id] = err.Error()
}

// Tick runs one scan. Per-task failures and panics land in the report and
// never stop the scan; only the initial listing can fail the tick.
func (s *Scanner) Tick(ctx context.Context) (*Report, error) {
	now := s.engine.Now()
	report := &Report{StartedAt: now, Notified: []string{}, Expired: []string{}, Failed: map[string]string{}}
	rec := &recorder{report: report}

	upcoming, err := s.repo.List(ctx, task.ListFilter{
		Status:       task.StatusOpen,
		DeadlineFrom: now,
		DeadlineTo:   now.Add(s.cfg.Lookahead),
	})
	if err != nil {
		return nil, err
	}
	overdue, err := s.repo.List(ctx, task.ListFilter{
		Status:     task.StatusOpen,
		DeadlineTo: now,
	})
	if err != nil {
		return nil, err
	}

	p := pool.New().WithMaxGoroutines(s.cfg.Workers)
	for _, t := range upcoming {
		if t.DeadlineNotified || !t.Deadline.After(now) {
			continue
		}
		p.Go(func() {
			s.isolate(ctx, rec, t.ID, &report.Notified, func(ctx context.Context) (bool, error) {
				return s.notifyDeadline(ctx, t, now)
			})
		})
	}
	for _, t := range overdue {
		if !t.Deadline.Before(now) {
			continue
		}
		p.Go(func() {
			s.isolate(ctx, rec, t.ID, &report.Expired, func(ctx context.Context) (bool, error) {
				_, err := s.engine.Expire(ctx, t.ID)
				return err == nil, err
			})
		})
	}
	p.Wait()

	slog.InfoContext(ctx, "deadline scan finished",
		"notified", len(report.Notified), "expired", len(report.Expired), "failed", len(report.Failed))
	return report, nil
}

func (s *Scanner) isolate(ctx context.Context, rec *recorder, taskID string, done *[]string, fn func(context.Context) (bool, error)) {
	ctx = clog.ContextWithAttributes(ctx, map[string]any{"component": "scanner", "task_id": taskID})
	var changed bool
	err := panicerr.Run(func() error {
		var err error
		changed, err = fn(ctx)
		return err
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to process task", "error", err)
		rec.fail(taskID, err)
		return
	}
	if changed {
		rec.add(done, taskID)
	}
}

// notifyDeadline enqueues the reminder first and only then marks the task,
// so a crash in between re-sends (deduplicated) rather than drops.
func (s *Scanner) notifyDeadline(ctx context.Context, t *task.Task, now time.Time) (bool, error) {
	kind := queue.KindDeadlineHourBefore
	if t.Deadline.Sub(now) <= s.cfg.ImminentThreshold {
		kind = queue.KindDeadlineImminent
	}
	// The key is tied to the deadline, so a rescan before the flag lands
	// produces the same job.
	job := t.Job(kind, queue.AudienceOwner, t.Deadline)
	if err := s.engine.Enqueue(ctx, job); err != nil {
		return false, err
	}

	marked := false
	_, err := s.engine.Modify(ctx, t.ID, func(cur *task.Task) error {
		marked = false
		if cur.Status != task.StatusOpen || cur.DeadlineNotified || cur.Generation != t.Generation ||
			!cur.Deadline.Equal(t.Deadline) {
			return task.ErrUnchanged
		}
		cur.DeadlineNotified = true
		marked = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return marked, nil
}

// Run ticks once immediately and then every interval until ctx is done.
func (s *Scanner) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "deadline scanner started", "interval", interval)
	for {
		if _, err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "deadline scan failed", "error", err)
		}
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "deadline scanner stopped")
			return
		case <-ticker.C:
		}
	}
}

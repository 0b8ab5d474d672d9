package application

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bnema/skyrelay/internal/domain"
	"github.com/bnema/skyrelay/internal/metrics"
	"github.com/bnema/skyrelay/internal/ports"
	"github.com/bnema/skyrelay/internal/registry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LoopConfig struct {
	PollInterval    time.Duration
	MaxErrors       int
	PageSize        int
	SessionLifetime time.Duration
}

// IngestionLoop polls the feed source over a sliding watermark window and
// dispatches one Session per new originating item. Consecutive failed cycles
// are counted against an error budget; exhausting it stops the loop with an
// error observable through Err.
type IngestionLoop struct {
	rt       *Runtime
	feed     ports.FeedSource
	status   ports.StatusRepository
	cfg      LoopConfig
	sessions *registry.Registry[*Session]
	logger   *zap.Logger

	mu          sync.Mutex
	running     bool
	watermark   time.Time
	errorCount  int
	lastCycleAt time.Time
	lastErr     error
	dispatched  int64
	stop        chan struct{}
	done        chan struct{}
	err         error
}

// NewIngestionLoop creates a stopped loop whose watermark starts at the
// current time. status may be nil.
func NewIngestionLoop(rt *Runtime, feed ports.FeedSource, status ports.StatusRepository, cfg LoopConfig) *IngestionLoop {
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 1
	}

	done := make(chan struct{})
	close(done)

	return &IngestionLoop{
		rt:        rt,
		feed:      feed,
		status:    status,
		cfg:       cfg,
		sessions:  registry.New[*Session](),
		logger:    rt.Logger.Named("ingest"),
		watermark: rt.Clock.Now(),
		done:      done,
	}
}

// Start launches the loop. It fails if the loop is running or if a stopped
// run is still finishing its last cycle.
func (l *IngestionLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return domain.ErrAlreadyRunning
	}
	select {
	case <-l.done:
	default:
		return fmt.Errorf("%w: previous run is still finishing", domain.ErrAlreadyRunning)
	}

	l.running = true
	l.errorCount = 0
	l.err = nil
	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	metrics.SetConsecutiveErrors(0)

	go l.run(ctx, l.stop, l.done)

	l.logger.Info("relay started", zap.Time("watermark", l.watermark))
	return nil
}

// Stop asks the loop to end. A cycle in flight runs to completion.
func (l *IngestionLoop) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return domain.ErrNotRunning
	}
	l.running = false
	close(l.stop)

	l.logger.Info("relay stopping")
	return nil
}

func (l *IngestionLoop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Done is closed when the current run has ended.
func (l *IngestionLoop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Err returns the error that ended the last run, if any.
func (l *IngestionLoop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *IngestionLoop) Watermark() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.watermark
}

func (l *IngestionLoop) ErrorCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.errorCount
}

// Sessions returns the live sessions in dispatch order.
func (l *IngestionLoop) Sessions() []*Session {
	return l.sessions.Live()
}

func (l *IngestionLoop) Snapshot() domain.RelayStatus {
	live := l.sessions.Live()
	states := make([]domain.SessionState, 0, len(live))
	for _, s := range live {
		states = append(states, s.State())
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	status := domain.RelayStatus{
		Running:      l.running,
		Watermark:    l.watermark,
		ErrorCount:   l.errorCount,
		MaxErrors:    l.cfg.MaxErrors,
		LastCycleAt:  l.lastCycleAt,
		Dispatched:   l.dispatched,
		LiveSessions: states,
		UpdatedAt:    l.rt.Clock.Now(),
	}
	if l.lastErr != nil {
		status.LastError = l.lastErr.Error()
	}
	return status
}

// Evict ends the live session for key ahead of its deadline.
func (l *IngestionLoop) Evict(ctx context.Context, key domain.ItemKey) error {
	session, ok := l.sessions.Get(string(key))
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrUnknownKey, key)
	}
	return session.Expire(ctx, domain.ExpireReasonEvicted)
}

// Shutdown ends every live session so no card keeps dead controls after the
// process exits.
func (l *IngestionLoop) Shutdown(ctx context.Context) error {
	var errs error
	for _, session := range l.sessions.Live() {
		if err := session.Expire(ctx, domain.ExpireReasonShutdown); err != nil {
			errs = errors.Join(errs, err)
		}
	}
	l.sweep()
	l.publish(ctx)
	return errs
}

func (l *IngestionLoop) run(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	var err error
	defer func() {
		l.mu.Lock()
		l.running = false
		l.err = err
		l.mu.Unlock()

		l.publish(context.WithoutCancel(ctx))
		close(done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		if err = l.iterate(ctx); err != nil {
			l.logger.Error("relay loop failed", zap.Error(err))
			l.rt.Reporter.Report(ctx, err, "Fetcher loop failed!")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-l.rt.Clock.After(l.cfg.PollInterval):
		}
	}
}

// iterate runs one cycle and settles the watermark and the error budget. It
// returns an error only when the budget is exhausted.
func (l *IngestionLoop) iterate(ctx context.Context) error {
	now := l.rt.Clock.Now()
	from := l.Watermark()
	logger := l.logger.With(zap.String("cycle_id", uuid.NewString()))

	cycleErr := l.cycle(ctx, logger, from, now)
	if cycleErr != nil && ctx.Err() != nil {
		return nil
	}
	defer func() {
		l.sweep()
		l.publish(ctx)
	}()

	l.mu.Lock()
	l.lastCycleAt = now
	if cycleErr == nil {
		if now.After(l.watermark) {
			l.watermark = now
		}
		recovered := l.errorCount > 0
		l.errorCount = 0
		l.lastErr = nil
		watermark := l.watermark
		l.mu.Unlock()

		metrics.RecordCycle("ok")
		metrics.SetConsecutiveErrors(0)
		metrics.SetWatermark(float64(watermark.UnixNano()) / float64(time.Second))
		if recovered {
			logger.Info("relay recovered")
			l.rt.Reporter.Debug(ctx, "Bot recovered from error.")
		}
		return nil
	}

	l.errorCount++
	l.lastErr = cycleErr
	count := l.errorCount
	l.mu.Unlock()

	metrics.RecordCycle("error")
	metrics.SetConsecutiveErrors(count)
	logger.Warn("cycle failed", zap.Int("error_count", count), zap.Int("max_errors", l.cfg.MaxErrors), zap.Error(cycleErr))
	l.rt.Reporter.Report(ctx, cycleErr, fmt.Sprintf("Bot errored %d", count))

	if count >= l.cfg.MaxErrors {
		return fmt.Errorf("%w: %d consecutive failed cycles: %w", domain.ErrErrorBudgetExhausted, count, cycleErr)
	}
	return nil
}

func (l *IngestionLoop) cycle(ctx context.Context, logger *zap.Logger, from, to time.Time) error {
	items, err := l.feed.Items(ctx, from, to, l.cfg.PageSize)
	if err != nil {
		return fmt.Errorf("fetch feed items: %w", err)
	}
	metrics.RecordFetched(len(items))

	candidates := selectCandidates(items)
	if len(candidates) == 0 {
		return nil
	}
	logger.Info("new feed items", zap.Int("fetched", len(items)), zap.Int("candidates", len(candidates)))

	for _, item := range candidates {
		if err := l.dispatch(ctx, logger, item); err != nil {
			return err
		}
	}

	return nil
}

// selectCandidates drops replies and re-shares and returns the rest oldest
// first. items arrive newest first.
func selectCandidates(items []domain.FeedItem) []domain.FeedItem {
	out := make([]domain.FeedItem, 0, len(items))
	for _, item := range items {
		switch {
		case item.IsReply:
			metrics.RecordFiltered("reply")
		case item.IsReshare:
			metrics.RecordFiltered("reshare")
		default:
			out = append(out, item)
		}
	}

	slices.Reverse(out)
	return out
}

func (l *IngestionLoop) dispatch(ctx context.Context, logger *zap.Logger, item domain.FeedItem) error {
	key := string(item.Key)
	if _, live := l.sessions.Get(key); live {
		logger.Debug("item already has a live card", zap.String("item", key))
		metrics.RecordFiltered("duplicate")
		return nil
	}

	session := NewSession(l.rt, item, SessionOptions{
		Lifetime:   l.cfg.SessionLifetime,
		OnFinalize: l.release,
	})
	if err := l.sessions.Add(key, session); err != nil {
		return err
	}

	if err := session.Send(ctx); err != nil {
		if markErr := l.sessions.MarkDead(key); markErr != nil {
			err = errors.Join(err, markErr)
		}
		return fmt.Errorf("dispatch %s: %w", key, err)
	}

	l.mu.Lock()
	l.dispatched++
	l.mu.Unlock()

	metrics.RecordDispatched()
	metrics.SetLiveSessions(len(l.sessions.Live()))
	return nil
}

func (l *IngestionLoop) release(s *Session) {
	if err := l.sessions.MarkDead(string(s.Key())); err != nil {
		l.logger.Warn("release session", zap.Error(err))
	}
	metrics.SetLiveSessions(len(l.sessions.Live()))
}

func (l *IngestionLoop) sweep() {
	if removed := l.sessions.TryGC(); removed > 0 {
		l.logger.Debug("swept ended sessions", zap.Int("removed", removed))
	}
}

func (l *IngestionLoop) publish(ctx context.Context) {
	if l.status == nil {
		return
	}
	if err := l.status.Save(ctx, l.Snapshot()); err != nil {
		l.logger.Warn("save relay status", zap.Error(err))
	}
}

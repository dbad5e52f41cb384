// Package sweep reconciles media ingestions that were interrupted, for
// example by a process restart, and would otherwise stay processing forever.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/memohai/wagate/internal/media"
	"github.com/memohai/wagate/internal/message"
)

const (
	// DefaultSchedule runs the sweep every five minutes.
	DefaultSchedule = "@every 5m"
	// InterruptedError is recorded on media the sweeper gives up on.
	InterruptedError = "Media ingestion interrupted"

	batchSize = 100
)

// Store is the slice of message.Store the sweeper needs.
type Store interface {
	ListStaleMedia(ctx context.Context, before time.Time, limit int) ([]message.Message, error)
	UpdateMessageMedia(ctx context.Context, id string, m *media.MessageMedia) error
}

type Config struct {
	Schedule   string
	StaleAfter time.Duration
}

// Sweeper periodically fails media stuck in processing.
type Sweeper struct {
	store      Store
	notify     media.StatusCallback
	schedule   string
	staleAfter time.Duration
	cron       *cron.Cron
	logger     *slog.Logger
	now        func() time.Time
}

// NewSweeper creates a sweeper. notify may be nil.
func NewSweeper(log *slog.Logger, store Store, cfg Config, notify media.StatusCallback) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	logger := log.With(slog.String("service", "media_sweep"))
	return &Sweeper{
		store:      store,
		notify:     notify,
		schedule:   cfg.Schedule,
		staleAfter: cfg.StaleAfter,
		cron: cron.New(
			cron.WithLogger(cronLogger{logger: logger}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: logger})),
		),
		logger: logger,
		now:    time.Now,
	}
}

// Start registers the job and starts the scheduler.
func (s *Sweeper) Start(ctx context.Context) error {
	if s.staleAfter <= 0 {
		return fmt.Errorf("stale_after must be positive")
	}
	runCtx := context.WithoutCancel(ctx)
	if _, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(runCtx); err != nil {
			s.logger.Error("media sweep failed", slog.Any("error", err))
		}
	}); err != nil {
		return fmt.Errorf("schedule media sweep %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("media sweep scheduled",
		slog.String("schedule", s.schedule),
		slog.Duration("stale_after", s.staleAfter),
	)
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce fails every media record processing since before now-staleAfter
// and returns how many were reconciled.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.staleAfter)
	total := 0
	for {
		stale, err := s.store.ListStaleMedia(ctx, cutoff, batchSize)
		if err != nil {
			return total, fmt.Errorf("list stale media: %w", err)
		}
		fixed := 0
		for _, msg := range stale {
			if msg.Media == nil || msg.Media.Status != media.StatusProcessing {
				continue
			}
			m := msg.Media.Clone()
			m.Status = media.StatusFailed
			m.DownloadError = InterruptedError
			m.UpdatedAt = s.now()
			if err := s.store.UpdateMessageMedia(ctx, msg.ID, m); err != nil {
				s.logger.Warn("fail stale media", slog.String("message_id", msg.ID), slog.Any("error", err))
				continue
			}
			fixed++
			if s.notify != nil {
				s.notify(ctx, msg.ID, msg.ConversationID, m.Clone())
			}
		}
		total += fixed
		if len(stale) < batchSize || fixed == 0 {
			break
		}
	}
	if total > 0 {
		s.logger.Info("stale media reconciled", slog.Int("count", total))
	}
	return total, nil
}

// cronLogger routes cron's own logging into slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}

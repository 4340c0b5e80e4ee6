// Package reminders sends the day-before reminder for upcoming bookings once
// a day.
package reminders

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"menlo/internal/engine"
	"menlo/internal/metrics"
	"menlo/internal/models"
	"menlo/internal/notify"
)

// BookingSource lists bookings and reports the engine's calendar day.
type BookingSource interface {
	ListActive(ctx context.Context) ([]models.Booking, error)
	Today() time.Time
}

// SchedulerConfig holds configuration for the reminder scheduler.
type SchedulerConfig struct {
	Location *time.Location
	// DailyHour is the hour (0-23) when reminders are processed.
	DailyHour int
	// DailyMinute is the minute (0-59) when reminders are processed.
	DailyMinute int
	// CheckInterval is how often to check if it's time to run.
	CheckInterval time.Duration
	// RetryInterval is the wait before an incomplete daily run is repeated.
	RetryInterval time.Duration
	// CleanupRetention is how long sent claims are kept by ledgers that
	// support cleanup. Zero disables cleanup.
	CleanupRetention time.Duration
}

// DefaultSchedulerConfig returns the default scheduler configuration.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Location:      time.FixedZone("UTC+8", 8*3600),
		DailyHour:     9,
		DailyMinute:   0,
		CheckInterval: time.Minute,
		RetryInterval: 5 * time.Minute,
	}
}

// Stats summarizes one run.
type Stats struct {
	Due     int
	Sent    int
	Skipped int
	Failed  int
	// Unavailable is set when bookings could not be listed.
	Unavailable bool
	// Interrupted is set when ctx ended before every due reminder was handled.
	Interrupted bool
}

// Complete reports whether every due reminder was sent or already claimed.
func (st Stats) Complete() bool {
	return !st.Unavailable && !st.Interrupted && st.Failed == 0
}

// Cleaner is implemented by ledgers that can drop old claims.
type Cleaner interface {
	Cleanup(ctx context.Context, retention time.Duration) (int64, error)
}

// Scheduler manages the reminder sending schedule.
type Scheduler struct {
	config  SchedulerConfig
	source  BookingSource
	sender  notify.Sender
	ledger  Ledger
	metrics *Metrics
	logger  zerolog.Logger
	now     func() time.Time

	mu          sync.Mutex
	lastRunDate string
	retryAt     time.Time
	running     bool
	stopCh      chan struct{}
}

func NewScheduler(config SchedulerConfig, source BookingSource, sender notify.Sender, ledger Ledger, m *Metrics, logger *zerolog.Logger) *Scheduler {
	if config.Location == nil {
		config.Location = DefaultSchedulerConfig().Location
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = time.Minute
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultSchedulerConfig().RetryInterval
	}
	if ledger == nil {
		ledger = NewMemoryLedger()
	}
	return &Scheduler{
		config:  config,
		source:  source,
		sender:  sender,
		ledger:  ledger,
		metrics: m,
		logger:  logger.With().Str("component", "reminders").Logger(),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

// Start runs the scheduler loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info().
		Str("location", s.config.Location.String()).
		Int("hour", s.config.DailyHour).
		Int("minute", s.config.DailyMinute).
		Msg("reminder scheduler started")

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("reminder scheduler stopped by context")
			return
		case <-stopCh:
			s.logger.Info().Msg("reminder scheduler stopped")
			return
		case <-ticker.C:
			s.checkAndRun(ctx)
		}
	}
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.running = false
		close(s.stopCh)
	}
}

// checkAndRun runs at or after the configured time until one run of the local
// day completes. An incomplete run is repeated after RetryInterval.
func (s *Scheduler) checkAndRun(ctx context.Context) bool {
	now := s.now().In(s.config.Location)
	today := now.Format(models.DateLayout)

	due := now.Hour() > s.config.DailyHour ||
		(now.Hour() == s.config.DailyHour && now.Minute() >= s.config.DailyMinute)
	if !due {
		return false
	}

	s.mu.Lock()
	if s.lastRunDate == today || now.Before(s.retryAt) {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()

	stats := s.RunNow(ctx)

	s.mu.Lock()
	if stats.Complete() {
		s.lastRunDate = today
		s.retryAt = time.Time{}
	} else {
		s.retryAt = now.Add(s.config.RetryInterval)
	}
	s.mu.Unlock()

	if !stats.Complete() {
		s.logger.Warn().
			Int("failed", stats.Failed).
			Bool("unavailable", stats.Unavailable).
			Time("retry_at", now.Add(s.config.RetryInterval)).
			Msg("reminder run incomplete, will retry")
		return true
	}
	s.cleanupLedger(ctx)
	return true
}

func (s *Scheduler) cleanupLedger(ctx context.Context) {
	cleaner, ok := s.ledger.(Cleaner)
	if !ok || s.config.CleanupRetention <= 0 {
		return
	}
	n, err := cleaner.Cleanup(ctx, s.config.CleanupRetention)
	if err != nil {
		s.logger.Error().Err(err).Msg("reminder ledger cleanup failed")
		return
	}
	if n > 0 {
		s.logger.Info().Int64("removed", n).Msg("old reminder claims removed")
	}
}

// RunNow sends reminders for every booking that starts tomorrow.
func (s *Scheduler) RunNow(ctx context.Context) Stats {
	start := s.now()
	var stats Stats

	active, err := s.source.ListActive(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reminder run skipped: bookings unavailable")
		stats.Unavailable = true
		return stats
	}

	due := engine.EvaluateReminders(active, s.source.Today())
	stats.Due = len(due)

	for _, b := range due {
		if ctx.Err() != nil {
			s.logger.Info().Int("remaining", stats.Due-stats.Sent-stats.Skipped-stats.Failed).Msg("reminder run interrupted")
			stats.Interrupted = true
			break
		}
		switch s.dispatch(ctx, b) {
		case "sent":
			stats.Sent++
		case "skipped":
			stats.Skipped++
		default:
			stats.Failed++
		}
	}

	s.metrics.observeRun(time.Since(start).Seconds(), s.now().Unix())
	s.logger.Info().
		Int("due", stats.Due).
		Int("sent", stats.Sent).
		Int("skipped", stats.Skipped).
		Int("failed", stats.Failed).
		Msg("reminder run finished")
	return stats
}

func (s *Scheduler) dispatch(ctx context.Context, b models.Booking) string {
	key := LedgerKey(b)
	claimed, err := s.ledger.TryMark(ctx, key)
	if err != nil {
		s.logger.Error().Err(err).Str("booking", b.Key).Msg("reminder ledger unavailable")
		s.metrics.inc("failed")
		return "failed"
	}
	if !claimed {
		s.metrics.inc("skipped")
		return "skipped"
	}

	msg := engine.ReminderMessage(b)
	if err := s.sender.Send(ctx, b.Email, msg.Subject, msg.Body); err != nil {
		s.logger.Warn().Err(err).Str("booking", b.Key).Str("to", b.Email).Msg("reminder delivery failed")
		if uErr := s.ledger.Unmark(ctx, key); uErr != nil {
			s.logger.Error().Err(uErr).Str("booking", b.Key).Msg("failed to release reminder claim")
		}
		s.metrics.inc("failed")
		metrics.IncNotification("reminder", "failed")
		return "failed"
	}

	s.logger.Info().Str("booking", b.Key).Str("to", b.Email).Str("start", models.DateKey(b.Start)).Msg("reminder sent")
	s.metrics.inc("sent")
	metrics.IncNotification("reminder", "sent")
	return "sent"
}

// IsRunning returns whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

package reminders

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"menlo/internal/models"
)

var utc8 = time.FixedZone("UTC+8", 8*3600)

func day(m time.Month, d int) time.Time {
	return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC)
}

type fakeSource struct {
	active []models.Booking
	today  time.Time
	err    error
}

func (f *fakeSource) ListActive(context.Context) ([]models.Booking, error) {
	if f.err != nil {
		return []models.Booking{}, f.err
	}
	return f.active, nil
}

func (f *fakeSource) Today() time.Time { return f.today }

type recordingSender struct {
	mu   sync.Mutex
	to   []string
	fail bool
}

func (r *recordingSender) Send(_ context.Context, recipient, subject, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errors.New("smtp down")
	}
	r.to = append(r.to, recipient+"|"+subject)
	return nil
}

func testLogger() *zerolog.Logger {
	l := zerolog.New(io.Discard)
	return &l
}

func newTestScheduler(src BookingSource, sender *recordingSender, ledger Ledger) *Scheduler {
	cfg := SchedulerConfig{Location: utc8, DailyHour: 9, DailyMinute: 0, CheckInterval: time.Millisecond}
	return NewScheduler(cfg, src, sender, ledger, NewMetrics(prometheus.NewRegistry()), testLogger())
}

func upcoming() []models.Booking {
	return []models.Booking{
		{Key: "a", Name: "Alice", Email: "alice@example.com", Experiment: models.ExperimentCoPolarization, Start: day(6, 4), End: day(6, 5)},
		{Key: "b", Name: "Bob", Email: "bob@example.com", Experiment: models.ExperimentCrossPolarization, Start: day(6, 5), End: day(6, 5)},
		{Key: "c", Name: "Carol", Email: "carol@example.com", Experiment: models.ExperimentCoPolarization, Start: day(6, 1), End: day(6, 6)},
	}
}

func TestScheduler_RunNowSendsOnlyTomorrowsStarts(t *testing.T) {
	src := &fakeSource{active: upcoming(), today: day(6, 3)}
	sender := &recordingSender{}
	s := newTestScheduler(src, sender, NewMemoryLedger())

	stats := s.RunNow(context.Background())
	assert.Equal(t, Stats{Due: 1, Sent: 1}, stats)
	assert.Equal(t, []string{"alice@example.com|Menlo Booking Reminder"}, sender.to)

	stats = s.RunNow(context.Background())
	assert.Equal(t, Stats{Due: 1, Skipped: 1}, stats)
	assert.Len(t, sender.to, 1)
}

func TestScheduler_FailedSendIsRetriedNextRun(t *testing.T) {
	src := &fakeSource{active: upcoming(), today: day(6, 3)}
	sender := &recordingSender{fail: true}
	s := newTestScheduler(src, sender, NewMemoryLedger())

	assert.Equal(t, Stats{Due: 1, Failed: 1}, s.RunNow(context.Background()))

	sender.fail = false
	assert.Equal(t, Stats{Due: 1, Sent: 1}, s.RunNow(context.Background()))
}

func TestScheduler_UnavailableStoreSendsNothing(t *testing.T) {
	src := &fakeSource{err: errors.New("unavailable"), today: day(6, 3)}
	sender := &recordingSender{}
	s := newTestScheduler(src, sender, NewMemoryLedger())

	stats := s.RunNow(context.Background())
	assert.Equal(t, Stats{Unavailable: true}, stats)
	assert.False(t, stats.Complete())
	assert.Empty(t, sender.to)
}

func TestScheduler_CheckAndRunOncePerDay(t *testing.T) {
	src := &fakeSource{active: upcoming(), today: day(6, 3)}
	s := newTestScheduler(src, &recordingSender{}, NewMemoryLedger())

	tests := []struct {
		name string
		now  time.Time
		ran  bool
	}{
		{"before the daily time", time.Date(2024, 6, 3, 8, 59, 0, 0, utc8), false},
		{"at the daily time", time.Date(2024, 6, 3, 9, 0, 0, 0, utc8), true},
		{"later the same day", time.Date(2024, 6, 3, 15, 0, 0, 0, utc8), false},
		{"missed slot next day catches up", time.Date(2024, 6, 4, 11, 30, 0, 0, utc8), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := tt.now
			s.now = func() time.Time { return now }
			assert.Equal(t, tt.ran, s.checkAndRun(context.Background()))
		})
	}
}

func TestScheduler_CheckAndRunRetriesIncompleteRun(t *testing.T) {
	at := func(h, m int) time.Time { return time.Date(2024, 6, 3, h, m, 0, 0, utc8) }

	t.Run("store outage then recovery", func(t *testing.T) {
		src := &fakeSource{active: upcoming(), today: day(6, 3), err: errors.New("unavailable")}
		sender := &recordingSender{}
		s := newTestScheduler(src, sender, NewMemoryLedger())

		steps := []struct {
			now     time.Time
			storeUp bool
			ran     bool
			sent    int
		}{
			{at(9, 0), false, true, 0},
			{at(9, 2), true, false, 0},
			{at(9, 5), true, true, 1},
			{at(23, 59), true, false, 1},
		}
		for _, step := range steps {
			now := step.now
			s.now = func() time.Time { return now }
			if step.storeUp {
				src.err = nil
			}
			assert.Equal(t, step.ran, s.checkAndRun(context.Background()), now.Format(time.Kitchen))
			assert.Len(t, sender.to, step.sent, now.Format(time.Kitchen))
		}
		assert.Equal(t, []string{"alice@example.com|Menlo Booking Reminder"}, sender.to)
	})

	t.Run("failed send then working sender", func(t *testing.T) {
		src := &fakeSource{active: upcoming(), today: day(6, 3)}
		sender := &recordingSender{fail: true}
		s := newTestScheduler(src, sender, NewMemoryLedger())

		s.now = func() time.Time { return at(9, 0) }
		assert.True(t, s.checkAndRun(context.Background()))
		assert.Empty(t, sender.to)

		sender.fail = false
		s.now = func() time.Time { return at(12, 0) }
		assert.True(t, s.checkAndRun(context.Background()))
		assert.Equal(t, []string{"alice@example.com|Menlo Booking Reminder"}, sender.to)

		s.now = func() time.Time { return at(12, 30) }
		assert.False(t, s.checkAndRun(context.Background()))
	})
}

type cleaningLedger struct {
	*MemoryLedger
	retentions []time.Duration
}

func (c *cleaningLedger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	c.retentions = append(c.retentions, retention)
	return c.MemoryLedger.Cleanup(ctx, retention)
}

func TestScheduler_CleansLedgerAfterCompleteRun(t *testing.T) {
	retention := 30 * 24 * time.Hour

	tests := []struct {
		name      string
		retention time.Duration
		storeErr  error
		want      []time.Duration
	}{
		{"complete run", retention, nil, []time.Duration{retention}},
		{"incomplete run", retention, errors.New("unavailable"), nil},
		{"cleanup disabled", 0, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{active: upcoming(), today: day(6, 3), err: tt.storeErr}
			ledger := &cleaningLedger{MemoryLedger: NewMemoryLedger()}
			s := newTestScheduler(src, &recordingSender{}, ledger)
			s.config.CleanupRetention = tt.retention
			s.now = func() time.Time { return time.Date(2024, 6, 3, 9, 0, 0, 0, utc8) }

			assert.True(t, s.checkAndRun(context.Background()))
			assert.Equal(t, tt.want, ledger.retentions)
		})
	}
}

func TestMemoryLedger_Cleanup(t *testing.T) {
	l := NewMemoryLedger()
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, utc8)
	l.now = func() time.Time { return clock }

	ctx := context.Background()
	_, err := l.TryMark(ctx, "old")
	require.NoError(t, err)
	clock = clock.Add(48 * time.Hour)
	_, err = l.TryMark(ctx, "new")
	require.NoError(t, err)

	n, err := l.Cleanup(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err := l.TryMark(ctx, "old")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = l.TryMark(ctx, "new")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestScheduler_StartStop(t *testing.T) {
	src := &fakeSource{active: upcoming(), today: day(6, 3)}
	sender := &recordingSender{}
	s := newTestScheduler(src, sender, NewMemoryLedger())
	s.now = func() time.Time { return time.Date(2024, 6, 3, 10, 0, 0, 0, utc8) }

	done := make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.to) == 1
	}, time.Second, 5*time.Millisecond)

	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, s.IsRunning())
}

func TestLedgers(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sqliteLedger, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "ledger", "reminders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteLedger.Close() })

	ledgers := map[string]Ledger{
		"memory": NewMemoryLedger(),
		"redis":  NewRedisLedger(rdb, time.Hour),
		"sqlite": sqliteLedger,
	}

	for name, l := range ledgers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			key := LedgerKey(upcoming()[0])
			assert.Equal(t, "a:2024-06-04", key)

			ok, err := l.TryMark(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)

			ok, err = l.TryMark(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, l.Unmark(ctx, key))
			ok, err = l.TryMark(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestRedisLedger_ClaimExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	l := NewRedisLedger(rdb, time.Minute)
	ok, err := l.TryMark(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Minute)
	ok, err = l.TryMark(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSQLiteLedger_Cleanup(t *testing.T) {
	l, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "reminders.db"))
	require.NoError(t, err)
	defer l.Close()

	ok, err := l.TryMark(context.Background(), "k")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := l.Cleanup(context.Background(), -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestScheduler_ContextCancelStopsLoop(t *testing.T) {
	src := &fakeSource{active: upcoming(), today: day(6, 3)}
	s := newTestScheduler(src, &recordingSender{}, NewMemoryLedger())
	s.now = func() time.Time { return time.Date(2024, 6, 3, 8, 0, 0, 0, utc8) }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()
	require.Eventually(t, s.IsRunning, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.False(t, s.IsRunning())

	// A stopped scheduler can be started again.
	done = make(chan struct{})
	go func() {
		s.Start(context.Background())
		close(done)
	}()
	require.Eventually(t, s.IsRunning, time.Second, 5*time.Millisecond)
	s.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("restarted scheduler did not stop")
	}
}

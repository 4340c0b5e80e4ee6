package engine

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"menlo/internal/models"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) FetchStatus(ctx context.Context) (models.ResourceStatus, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.ResourceStatus), args.Error(1)
}

func (m *mockStore) FetchBookings(ctx context.Context) ([]models.KeyedRecord, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.KeyedRecord), args.Error(1)
}

func (m *mockStore) AppendBooking(ctx context.Context, rec models.Record) (string, error) {
	args := m.Called(ctx, rec)
	return args.String(0), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) Send(ctx context.Context, recipient, subject, body string) error {
	return m.Called(ctx, recipient, subject, body).Error(0)
}

type recordingTelemetry struct {
	mu        sync.Mutex
	snapshots []map[string]interface{}
}

func (r *recordingTelemetry) Push(_ context.Context, s map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
}

type countingLocker struct {
	mu       sync.Mutex
	locks    int
	unlocks  int
	err      error
	resource string
}

func (l *countingLocker) Lock(_ context.Context, resource string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.locks++
	l.resource = resource
	return func() {
		l.mu.Lock()
		l.unlocks++
		l.mu.Unlock()
	}, nil
}

func record(key, start, end string) models.KeyedRecord {
	return models.KeyedRecord{Key: key, Record: models.Record{
		Name:       "user-" + key,
		Email:      key + "@example.com",
		Experiment: string(models.ExperimentCoPolarization),
		StartDate:  start,
		EndDate:    end,
	}}
}

func newTestEngine(store Store, notifier Notifier, now time.Time) *Engine {
	logger := zerolog.New(io.Discard)
	cfg := DefaultConfig()
	cfg.StoreTimeout = 200 * time.Millisecond
	e := New(store, notifier, cfg, &logger)
	e.now = func() time.Time { return now }
	return e
}

// 2024-04-29 09:00 in UTC+8.
var testNow = time.Date(2024, 4, 29, 1, 0, 0, 0, time.UTC)

func TestEngine_ListActive(t *testing.T) {
	ctx := context.Background()

	t.Run("filters expired and sorts by start", func(t *testing.T) {
		store := new(mockStore)
		store.On("FetchBookings", mock.Anything).Return([]models.KeyedRecord{
			record("late", "2024-05-10", "2024-05-11"),
			record("expired", "2024-04-01", "2024-04-28"),
			record("ends-today", "2024-04-27", "2024-04-29"),
			record("broken", "not-a-date", "2024-05-01"),
			record("early", "2024-05-01", "2024-05-02"),
		}, nil).Once()
		e := newTestEngine(store, nil, testNow)

		got, err := e.ListActive(ctx)
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, "ends-today", got[0].Key)
		assert.Equal(t, "early", got[1].Key)
		assert.Equal(t, "late", got[2].Key)
	})

	t.Run("store failure is empty and unavailable", func(t *testing.T) {
		store := new(mockStore)
		store.On("FetchBookings", mock.Anything).Return(nil, errors.New("connection refused")).Once()
		e := newTestEngine(store, nil, testNow)

		got, err := e.ListActive(ctx)
		assert.NotNil(t, got)
		assert.Empty(t, got)
		assert.True(t, errors.Is(err, ErrUnavailable))

		var storeErr *StoreError
		require.True(t, errors.As(err, &storeErr))
		assert.Equal(t, "fetch_bookings", storeErr.Op)
	})
}

func TestEngine_Status(t *testing.T) {
	ctx := context.Background()

	store := new(mockStore)
	store.On("FetchStatus", mock.Anything).Return(models.StatusOn, nil).Once()
	store.On("FetchStatus", mock.Anything).Return(models.StatusOn, errors.New("timeout")).Once()
	e := newTestEngine(store, nil, testNow)

	status, err := e.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOn, status)

	status, err = e.Status(ctx)
	assert.Equal(t, models.StatusOff, status)
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestEngine_Today(t *testing.T) {
	// 2024-04-29 20:00 UTC is already the 30th in UTC+8.
	e := newTestEngine(new(mockStore), nil, time.Date(2024, 4, 29, 20, 0, 0, 0, time.UTC))
	assert.Equal(t, day(2024, 4, 30), e.Today())
}

func TestEngine_NextAvailableDayDefaultsToToday(t *testing.T) {
	e := newTestEngine(new(mockStore), nil, testNow) // Monday
	got, err := e.NextAvailableDay(nil, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, day(2024, 4, 29), got)
}

func TestEngine_CreateBooking(t *testing.T) {
	ctx := context.Background()

	validReq := func(start, end time.Time) CreateRequest {
		return CreateRequest{
			Name:       "Alice",
			Email:      "alice@example.com",
			Experiment: models.ExperimentCrossPolarization,
			Start:      start,
			End:        end,
		}
	}

	t.Run("start after end is rejected without store calls", func(t *testing.T) {
		store := new(mockStore)
		e := newTestEngine(store, nil, testNow)

		_, err := e.CreateBooking(ctx, validReq(day(2024, 5, 6), day(2024, 5, 4)))

		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "date_range", vErr.Field)
		store.AssertNotCalled(t, "FetchBookings", mock.Anything)
		store.AssertNotCalled(t, "AppendBooking", mock.Anything, mock.Anything)
		assert.Empty(t, store.Calls)
	})

	t.Run("missing fields", func(t *testing.T) {
		store := new(mockStore)
		e := newTestEngine(store, nil, testNow)

		cases := map[string]CreateRequest{
			"name":            {Email: "a@b", Experiment: models.ExperimentCoPolarization, Start: day(2024, 5, 1), End: day(2024, 5, 1)},
			"email":           {Name: "A", Email: "  ", Experiment: models.ExperimentCoPolarization, Start: day(2024, 5, 1), End: day(2024, 5, 1)},
			"experiment_type": {Name: "A", Email: "a@b", Experiment: "Circular", Start: day(2024, 5, 1), End: day(2024, 5, 1)},
			"start_date":      {Name: "A", Email: "a@b", Experiment: models.ExperimentCoPolarization, Start: day(2024, 4, 1), End: day(2024, 5, 1)},
		}
		for field, req := range cases {
			_, err := e.CreateBooking(ctx, req)
			var vErr *ValidationError
			require.True(t, errors.As(err, &vErr), field)
			assert.Equal(t, field, vErr.Field)
		}
		assert.Empty(t, store.Calls)
	})

	t.Run("range inside an active booking conflicts", func(t *testing.T) {
		store := new(mockStore)
		store.On("FetchBookings", mock.Anything).Return([]models.KeyedRecord{
			record("existing", "2024-05-01", "2024-05-10"),
		}, nil).Once()
		notifier := new(mockNotifier)
		e := newTestEngine(store, notifier, testNow)

		_, err := e.CreateBooking(ctx, validReq(day(2024, 5, 3), day(2024, 5, 4)))

		var cErr *ConflictError
		require.True(t, errors.As(err, &cErr))
		assert.Equal(t, "existing", cErr.Existing.Key)
		assert.Equal(t, models.NewDateRange(day(2024, 5, 3), day(2024, 5, 4)), cErr.Requested)
		store.AssertNotCalled(t, "AppendBooking", mock.Anything, mock.Anything)
		notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("adjacent range succeeds and notifies", func(t *testing.T) {
		store := new(mockStore)
		store.On("FetchBookings", mock.Anything).Return([]models.KeyedRecord{
			record("existing", "2024-05-01", "2024-05-03"),
		}, nil).Once()
		store.On("AppendBooking", mock.Anything, mock.MatchedBy(func(rec models.Record) bool {
			return rec.StartDate == "2024-05-04" &&
				rec.EndDate == "2024-05-06" &&
				rec.Experiment == "Cross-Polarization" &&
				rec.BookedAt == "2024-04-29, 09:00:00"
		})).Return("-Nnew", nil).Once()

		notifier := new(mockNotifier)
		notifier.On("Send", mock.Anything, "alice@example.com", "Menlo Booking Confirmation",
			mock.MatchedBy(func(body string) bool { return len(body) > 0 })).Return(nil).Once()

		tel := &recordingTelemetry{}
		locker := &countingLocker{}
		e := newTestEngine(store, notifier, testNow)
		e.UseTelemetry(tel)
		e.UseLocker(locker)

		res, err := e.CreateBooking(ctx, validReq(day(2024, 5, 4), day(2024, 5, 6)))
		require.NoError(t, err)
		assert.Equal(t, "-Nnew", res.Booking.Key)
		assert.NoError(t, res.NotifyErr)
		assert.Equal(t, 1, locker.locks)
		assert.Equal(t, 1, locker.unlocks)
		assert.Equal(t, "menlo", locker.resource)
		require.Len(t, tel.snapshots, 1)
		assert.Equal(t, "2024-05-04", tel.snapshots[0]["start_date"])
		store.AssertExpectations(t)
		notifier.AssertExpectations(t)
	})

	t.Run("notification failure keeps the booking", func(t *testing.T) {
		store := new(mockStore)
		store.On("FetchBookings", mock.Anything).Return([]models.KeyedRecord{}, nil).Once()
		store.On("AppendBooking", mock.Anything, mock.Anything).Return("-Nkey", nil).Once()
		notifier := new(mockNotifier)
		notifier.On("Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("smtp down")).Once()
		e := newTestEngine(store, notifier, testNow)

		res, err := e.CreateBooking(ctx, validReq(day(2024, 5, 4), day(2024, 5, 4)))
		require.NoError(t, err)
		assert.Equal(t, "-Nkey", res.Booking.Key)
		var nErr *NotificationError
		require.True(t, errors.As(res.NotifyErr, &nErr))
		assert.Equal(t, "alice@example.com", nErr.Recipient)
	})

	t.Run("write failure is a store error", func(t *testing.T) {
		store := new(mockStore)
		store.On("FetchBookings", mock.Anything).Return([]models.KeyedRecord{}, nil).Once()
		store.On("AppendBooking", mock.Anything, mock.Anything).Return("", errors.New("http 401")).Once()
		notifier := new(mockNotifier)
		e := newTestEngine(store, notifier, testNow)

		res, err := e.CreateBooking(ctx, validReq(day(2024, 5, 4), day(2024, 5, 4)))
		assert.Nil(t, res)
		var sErr *StoreError
		require.True(t, errors.As(err, &sErr))
		assert.Equal(t, "append_booking", sErr.Op)
		notifier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("read failure blocks the write", func(t *testing.T) {
		store := new(mockStore)
		store.On("FetchBookings", mock.Anything).Return(nil, errors.New("boom")).Once()
		e := newTestEngine(store, nil, testNow)

		_, err := e.CreateBooking(ctx, validReq(day(2024, 5, 4), day(2024, 5, 4)))
		var sErr *StoreError
		require.True(t, errors.As(err, &sErr))
		store.AssertNotCalled(t, "AppendBooking", mock.Anything, mock.Anything)
	})

	t.Run("slow store times out", func(t *testing.T) {
		store := new(mockStore)
		store.On("FetchBookings", mock.Anything).Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).Return(nil, context.DeadlineExceeded).Once()
		e := newTestEngine(store, nil, testNow)

		start := time.Now()
		_, err := e.CreateBooking(ctx, validReq(day(2024, 5, 4), day(2024, 5, 4)))
		assert.Less(t, time.Since(start), 2*time.Second)

		var sErr *StoreError
		require.True(t, errors.As(err, &sErr))
		assert.True(t, sErr.Timeout())
	})

	t.Run("lock failure is a store error", func(t *testing.T) {
		store := new(mockStore)
		e := newTestEngine(store, nil, testNow)
		e.UseLocker(&countingLocker{err: errors.New("lock busy")})

		_, err := e.CreateBooking(ctx, validReq(day(2024, 5, 4), day(2024, 5, 4)))
		var sErr *StoreError
		require.True(t, errors.As(err, &sErr))
		assert.Equal(t, "lock", sErr.Op)
		assert.Empty(t, store.Calls)
	})
}

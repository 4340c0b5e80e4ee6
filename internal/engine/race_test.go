package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"menlo/internal/lock"
	"menlo/internal/models"
	"menlo/internal/store"
)

func TestCreateBooking_LockedWritersNeverOverlap(t *testing.T) {
	mem := store.NewMemory()
	e := newTestEngine(mem, nil, testNow)
	e.UseLocker(lock.NewLocal())

	const writers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.CreateBooking(context.Background(), CreateRequest{
				Name:       "racer",
				Email:      "racer@example.com",
				Experiment: models.ExperimentCoPolarization,
				Start:      day(2024, 5, 6),
				End:        day(2024, 5, 8),
			})
			mu.Lock()
			defer mu.Unlock()
			var cErr *ConflictError
			switch {
			case err == nil:
				created++
			case errors.As(err, &cErr):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, created)
	assert.Equal(t, writers-1, conflicts)
	assert.Equal(t, 1, mem.Len())

	active, err := e.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
}

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"menlo/internal/models"
)

// Memory is an in-process store for local runs and tests. Like the remote
// database it is append-only and assigns its own keys.
type Memory struct {
	mu      sync.RWMutex
	records map[string]models.Record
	order   []string
	status  models.ResourceStatus
}

// NewMemory returns an empty store reporting status OFF.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]models.Record),
		status:  models.StatusOff,
	}
}

// SetStatus changes the status flag, standing in for the external controller.
func (m *Memory) SetStatus(s models.ResourceStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
}

func (m *Memory) FetchStatus(ctx context.Context) (models.ResourceStatus, error) {
	if err := ctx.Err(); err != nil {
		return models.StatusOff, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, nil
}

func (m *Memory) FetchBookings(ctx context.Context) ([]models.KeyedRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.KeyedRecord, 0, len(m.order))
	for _, k := range m.order {
		out = append(out, models.KeyedRecord{Key: k, Record: m.records[k]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) AppendBooking(ctx context.Context, rec models.Record) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := uuid.NewString()
	m.records[key] = rec
	m.order = append(m.order, key)
	return key, nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.order)
}

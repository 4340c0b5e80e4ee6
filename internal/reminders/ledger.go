package reminders

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/redis/go-redis/v9"

	"menlo/internal/models"
)

// Ledger records which reminders have gone out so that a restart or a second
// replica does not send the same reminder twice.
type Ledger interface {
	// TryMark claims key. It returns false when key was already claimed.
	TryMark(ctx context.Context, key string) (bool, error)
	// Unmark releases key after a failed send so a later run can retry.
	Unmark(ctx context.Context, key string) error
}

// LedgerKey identifies the reminder for one booking occurrence.
func LedgerKey(b models.Booking) string {
	return b.Key + ":" + models.DateKey(b.Start)
}

// MemoryLedger keeps claims in process memory.
type MemoryLedger struct {
	mu   sync.Mutex
	keys map[string]time.Time
	now  func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{keys: make(map[string]time.Time), now: time.Now}
}

func (m *MemoryLedger) TryMark(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = m.now()
	return true, nil
}

func (m *MemoryLedger) Unmark(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

// Cleanup drops claims older than retention.
func (m *MemoryLedger) Cleanup(_ context.Context, retention time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.now().Add(-retention)
	var n int64
	for k, at := range m.keys {
		if at.Before(cutoff) {
			delete(m.keys, k)
			n++
		}
	}
	return n, nil
}

// RedisLedger claims keys with SETNX so replicas share one ledger.
type RedisLedger struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLedger expires claims after ttl; zero means three days.
func NewRedisLedger(client *redis.Client, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisLedger{client: client, prefix: "menlo:reminder:", ttl: ttl}
}

func (r *RedisLedger) TryMark(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.prefix+key, time.Now().UTC().Format(time.RFC3339), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis ledger mark: %w", err)
	}
	return ok, nil
}

func (r *RedisLedger) Unmark(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis ledger unmark: %w", err)
	}
	return nil
}

// SQLiteLedger persists claims in a local sqlite file.
type SQLiteLedger struct {
	db *sql.DB
}

func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to ledger: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS sent_reminders (
		reminder_key TEXT PRIMARY KEY,
		sent_at DATETIME NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger table: %w", err)
	}
	return &SQLiteLedger{db: db}, nil
}

func (s *SQLiteLedger) TryMark(ctx context.Context, key string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sent_reminders (reminder_key, sent_at) VALUES (?, ?)`,
		key, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("sqlite ledger mark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite ledger mark: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteLedger) Unmark(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sent_reminders WHERE reminder_key = ?`, key); err != nil {
		return fmt.Errorf("sqlite ledger unmark: %w", err)
	}
	return nil
}

// Cleanup deletes claims older than retention.
func (s *SQLiteLedger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sent_reminders WHERE sent_at < ?`, time.Now().UTC().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("sqlite ledger cleanup: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"menlo/internal/models"
)

// FirebaseClient talks to a Firebase Realtime Database over its REST API.
// Bookings live under one path as a map of store-assigned keys to records;
// the resource status is a bare JSON string under another.
type FirebaseClient struct {
	baseURL      string
	authToken    string
	bookingsPath string
	statusPath   string
	httpClient   *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

// FirebaseOptions configures FirebaseClient.
type FirebaseOptions struct {
	BaseURL      string
	AuthToken    string
	BookingsPath string
	StatusPath   string
	Timeout      time.Duration
}

// NewFirebaseClient constructs a client. Empty paths default to "bookings"
// and "menlo_status".
func NewFirebaseClient(opts FirebaseOptions) *FirebaseClient {
	if opts.BookingsPath == "" {
		opts.BookingsPath = "bookings"
	}
	if opts.StatusPath == "" {
		opts.StatusPath = "menlo_status"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	return &FirebaseClient{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		authToken:    opts.AuthToken,
		bookingsPath: strings.Trim(opts.BookingsPath, "/"),
		statusPath:   strings.Trim(opts.StatusPath, "/"),
		httpClient:   &http.Client{Timeout: opts.Timeout},
	}
}

// UseRedisCache caches the status flag in Redis for ttl. Bookings are never
// cached: every conflict check must see the store's latest state.
func (c *FirebaseClient) UseRedisCache(redisClient *redis.Client, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// FetchStatus returns the status flag. Anything other than "ON" reads as OFF.
func (c *FirebaseClient) FetchStatus(ctx context.Context) (models.ResourceStatus, error) {
	cacheKey := "menlo:status:" + c.statusPath
	var raw string
	if c.readCache(ctx, cacheKey, &raw) {
		return models.ParseStatus(raw), nil
	}

	var value json.RawMessage
	if err := c.doGet(ctx, c.statusPath, &value); err != nil {
		return models.StatusOff, err
	}
	if err := json.Unmarshal(value, &raw); err != nil {
		// null or a non-string value
		raw = ""
	}
	c.writeCache(ctx, cacheKey, raw)
	return models.ParseStatus(raw), nil
}

// FetchBookings returns every stored record ordered by key. An empty
// database returns an empty slice.
func (c *FirebaseClient) FetchBookings(ctx context.Context) ([]models.KeyedRecord, error) {
	var data map[string]models.Record
	if err := c.doGet(ctx, c.bookingsPath, &data); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]models.KeyedRecord, 0, len(keys))
	for _, k := range keys {
		out = append(out, models.KeyedRecord{Key: k, Record: data[k]})
	}
	return out, nil
}

// AppendBooking POSTs rec; the database assigns and returns the key.
func (c *FirebaseClient) AppendBooking(ctx context.Context, rec models.Record) (string, error) {
	var resp struct {
		Name string `json:"name"`
	}
	if err := c.doPost(ctx, c.bookingsPath, rec, &resp); err != nil {
		return "", err
	}
	if resp.Name == "" {
		return "", fmt.Errorf("append booking: empty key in response")
	}
	return resp.Name, nil
}

// HealthCheck verifies the database answers a shallow read.
func (c *FirebaseClient) HealthCheck(ctx context.Context) error {
	var out json.RawMessage
	return c.doGet(ctx, c.statusPath, &out)
}

func (c *FirebaseClient) endpoint(path string) string {
	u := fmt.Sprintf("%s/%s.json", c.baseURL, path)
	if c.authToken != "" {
		u += "?auth=" + url.QueryEscape(c.authToken)
	}
	return u
}

func (c *FirebaseClient) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return false
	}
	if err := json.Unmarshal([]byte(val), out); err != nil {
		return false
	}
	return true
}

func (c *FirebaseClient) writeCache(ctx context.Context, key string, val any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.cacheTTL).Err()
}

func (c *FirebaseClient) doGet(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), http.NoBody)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *FirebaseClient) doPost(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(path), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *FirebaseClient) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

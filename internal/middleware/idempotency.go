package middleware

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/train-seat-booking/internal/config"
)

const IdempotencyHeader = "Idempotency-Key"

// CachedResponse is a stored 2xx response.
type CachedResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// IdempotencyStore keeps responses by key.  Reserve claims a key for an
// in-flight request and reports false when another request holds it.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*CachedResponse, bool, error)
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Save(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// captureWriter captures response body/status while forwarding to the client.
type captureWriter struct {
	http.ResponseWriter
	status int
	buf    bytes.Buffer
	size   int64
	limit  int64
}

func (cw *captureWriter) WriteHeader(code int) {
	cw.status = code
	cw.ResponseWriter.WriteHeader(code)
}

func (cw *captureWriter) Write(b []byte) (int, error) {
	if cw.limit <= 0 {
		cw.buf.Write(b)
	} else if remain := cw.limit - cw.size; remain > 0 {
		if int64(len(b)) <= remain {
			cw.buf.Write(b)
		} else {
			cw.buf.Write(b[:remain])
		}
	}
	cw.size += int64(len(b))
	return cw.ResponseWriter.Write(b)
}

// Idempotency replays the stored response for a repeated
// Idempotency-Key.  Keys are scoped to the caller and route.  A key
// whose first request is still running gets 409; a request that did
// not succeed frees its key so the client can retry.
func Idempotency(cfg config.IdempotencyConfig, store IdempotencyStore) echo.MiddlewareFunc {
	if !cfg.Enabled || store == nil {
		return passThrough
	}
	maxBody := int64(cfg.MaxBodyBytes)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := strings.TrimSpace(c.Request().Header.Get(IdempotencyHeader))
			if raw == "" {
				return next(c)
			}
			ctx := c.Request().Context()
			key := idempotencyKey(cfg.Prefix, c, raw)

			if cached, ok, err := store.Get(ctx, key); err == nil && ok {
				return replay(c, cached)
			}
			reserved, err := store.Reserve(ctx, key, cfg.LockTTL)
			if err != nil {
				c.Logger().Warnf("[idempotency] store unavailable for key=%s: %v", key, err)
				return next(c)
			}
			if !reserved {
				if cached, ok, err := store.Get(ctx, key); err == nil && ok {
					return replay(c, cached)
				}
				return c.JSON(http.StatusConflict, echo.Map{
					"error":   "REQUEST_IN_PROGRESS",
					"message": "a request with this Idempotency-Key is still being processed",
				})
			}

			cw := &captureWriter{ResponseWriter: c.Response().Writer, status: http.StatusOK, limit: maxBody}
			c.Response().Writer = cw
			err = next(c)

			bg := context.WithoutCancel(ctx)
			complete := maxBody <= 0 || cw.size <= maxBody
			if err == nil && cw.status >= 200 && cw.status < 300 && complete {
				hdr := c.Response().Header().Clone()
				hdr.Del("Content-Length")
				if serr := store.Save(bg, key, &CachedResponse{Status: cw.status, Header: hdr, Body: cw.buf.Bytes()}, cfg.TTL); serr != nil {
					c.Logger().Warnf("[idempotency] save key=%s: %v", key, serr)
					_ = store.Release(bg, key)
				}
				return nil
			}
			_ = store.Release(bg, key)
			return err
		}
	}
}

func replay(c echo.Context, cached *CachedResponse) error {
	for k, vals := range cached.Header {
		for _, v := range vals {
			c.Response().Header().Add(k, v)
		}
	}
	c.Response().Header().Set("Idempotent-Replayed", "true")
	c.Response().WriteHeader(cached.Status)
	if len(cached.Body) > 0 {
		_, _ = c.Response().Write(cached.Body)
	}
	return nil
}

func idempotencyKey(prefix string, c echo.Context, raw string) string {
	uid := UserID(c)
	if uid == "" {
		uid = "anon"
	}
	tail := strings.Join([]string{uid, c.Request().Method, c.Path(), raw}, ":")
	sum := sha1.Sum([]byte(tail))
	return fmt.Sprintf("%s:%x", prefix, sum[:])
}

// RedisIdempotencyStore keeps responses in Redis.  A reserved key holds
// an empty value until the response is saved.
type RedisIdempotencyStore struct {
	rdb *redis.Client
}

func NewRedisIdempotencyStore(rdb *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) (*CachedResponse, bool, error) {
	bs, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	status, hdr, body, ok := decodePayload(bs)
	if !ok {
		return nil, false, nil
	}
	return &CachedResponse{Status: status, Header: hdr, Body: body}, true, nil
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key, "", ttl).Result()
}

func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	payload, err := encodePayload(resp.Status, resp.Header, resp.Body)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key, payload, ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// MemoryIdempotencyStore serves a single instance without Redis.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	resp      *CachedResponse
	expiresAt time.Time
}

func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]memoryEntry), now: time.Now}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) (*CachedResponse, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.live(key)
	if !ok || e.resp == nil {
		return nil, false, nil
	}
	return e.resp, true, nil
}

func (s *MemoryIdempotencyStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.live(key); ok {
		return false, nil
	}
	s.entries[key] = memoryEntry{expiresAt: s.now().Add(ttl)}
	return true, nil
}

func (s *MemoryIdempotencyStore) Save(_ context.Context, key string, resp *CachedResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{resp: resp, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryIdempotencyStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Sweep drops every expired entry and returns how many were removed.
func (s *MemoryIdempotencyStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx ends.
func (s *MemoryIdempotencyStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// live returns the unexpired entry for key; the caller holds s.mu.
func (s *MemoryIdempotencyStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

// encodePayload packs: [4 bytes status][4 bytes headerLen][headerJSON][body]
func encodePayload(status int, header http.Header, body []byte) ([]byte, error) {
	hdrJSON, err := json.Marshal(header)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8+len(hdrJSON)+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(status))
	binary.BigEndian.PutUint32(out[4:8], uint32(len(hdrJSON)))
	copy(out[8:8+len(hdrJSON)], hdrJSON)
	copy(out[8+len(hdrJSON):], body)
	return out, nil
}

func decodePayload(bs []byte) (status int, header http.Header, body []byte, ok bool) {
	if len(bs) < 8 {
		return 0, nil, nil, false
	}
	status = int(binary.BigEndian.Uint32(bs[0:4]))
	hlen := int(binary.BigEndian.Uint32(bs[4:8]))
	if hlen < 0 || 8+hlen > len(bs) {
		return 0, nil, nil, false
	}
	header = make(http.Header)
	if hlen > 0 {
		if err := json.Unmarshal(bs[8:8+hlen], &header); err != nil {
			return 0, nil, nil, false
		}
	}
	return status, header, bs[8+hlen:], true
}

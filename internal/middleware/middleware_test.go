package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/train-seat-booking/internal/config"
)

const secret = "unit-secret"

func token(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func serve(e *echo.Echo, method, path, bearer string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuth(t *testing.T) {
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"user": UserID(c), "role": Role(c)})
	}, JWTAuth(secret))

	exp := time.Now().Add(time.Hour).Unix()
	tests := []struct {
		name   string
		bearer string
		status int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"valid", token(t, jwt.MapClaims{"sub": "42", "role": "CUSTOMER", "exp": exp}, secret), http.StatusOK},
		{"wrong secret", token(t, jwt.MapClaims{"sub": "42", "exp": exp}, "other"), http.StatusUnauthorized},
		{"expired", token(t, jwt.MapClaims{"sub": "42", "exp": time.Now().Add(-time.Minute).Unix()}, secret), http.StatusUnauthorized},
		{"no expiry", token(t, jwt.MapClaims{"sub": "42"}, secret), http.StatusUnauthorized},
		{"no subject", token(t, jwt.MapClaims{"exp": exp}, secret), http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(e, http.MethodGet, "/me", tt.bearer, nil)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if tt.status == http.StatusOK && !strings.Contains(rec.Body.String(), `"user":"42"`) {
				t.Errorf("subject not exposed: %s", rec.Body.String())
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/admin", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		JWTAuth(secret), RequireRole(RoleAdmin))
	exp := time.Now().Add(time.Hour).Unix()

	if rec := serve(e, http.MethodGet, "/admin", token(t, jwt.MapClaims{"sub": "1", "role": "CUSTOMER", "exp": exp}, secret), nil); rec.Code != http.StatusForbidden {
		t.Errorf("customer: expected 403, got %d", rec.Code)
	}
	if rec := serve(e, http.MethodGet, "/admin", token(t, jwt.MapClaims{"sub": "1", "role": RoleAdmin, "exp": exp}, secret), nil); rec.Code != http.StatusNoContent {
		t.Errorf("admin: expected 204, got %d", rec.Code)
	}
}

func TestTokenBucketWithoutRedisPassesThrough(t *testing.T) {
	e := echo.New()
	e.POST("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil))
	for i := 0; i < 3; i++ {
		if rec := serve(e, http.MethodPost, "/x", "", nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRateKeyScopedByGroup(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/bookings/verify", nil)
	req.RemoteAddr = "192.0.2.7:51000"
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/bookings/verify")

	tests := []struct {
		cfg  config.RateLimitConfig
		want string
	}{
		{config.RateLimitConfig{Prefix: "rl", Scope: "verify", KeyStrategy: "ip"}, "rl:verify:ip:192.0.2.7"},
		{config.RateLimitConfig{Prefix: "rl", Scope: "bookings", KeyStrategy: "user_route"}, "rl:bookings:user:anon:route:POST /bookings/verify"},
		{config.RateLimitConfig{Prefix: "rl", KeyStrategy: "bogus"}, "rl:ip:192.0.2.7:user:anon:route:POST /bookings/verify"},
	}
	for _, tt := range tests {
		if got := rateKey(tt.cfg, c); got != tt.want {
			t.Errorf("rateKey(%+v) = %q, want %q", tt.cfg, got, tt.want)
		}
	}
}

func idemEcho(store IdempotencyStore, calls *atomic.Int32, status int) *echo.Echo {
	e := echo.New()
	cfg := config.IdempotencyConfig{Enabled: true, TTL: time.Hour, LockTTL: time.Minute, Prefix: "idem", MaxBodyBytes: 1 << 20}
	e.POST("/bookings", func(c echo.Context) error {
		n := calls.Add(1)
		return c.JSON(status, echo.Map{"bookingId": n})
	}, Idempotency(cfg, store))
	return e
}

func TestIdempotencyReplaysSuccess(t *testing.T) {
	var calls atomic.Int32
	e := idemEcho(NewMemoryIdempotencyStore(), &calls, http.StatusCreated)
	hdr := map[string]string{IdempotencyHeader: "abc"}

	first := serve(e, http.MethodPost, "/bookings", "", hdr)
	second := serve(e, http.MethodPost, "/bookings", "", hdr)
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("unexpected codes %d %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replay differs: %q vs %q", first.Body.String(), second.Body.String())
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Error("replayed response not marked")
	}
	if calls.Load() != 1 {
		t.Errorf("handler ran %d times", calls.Load())
	}

	serve(e, http.MethodPost, "/bookings", "", map[string]string{IdempotencyHeader: "other"})
	serve(e, http.MethodPost, "/bookings", "", nil)
	if calls.Load() != 3 {
		t.Errorf("distinct or missing keys must reach the handler, got %d calls", calls.Load())
	}
}

func TestIdempotencyDoesNotStoreFailures(t *testing.T) {
	var calls atomic.Int32
	e := idemEcho(NewMemoryIdempotencyStore(), &calls, http.StatusConflict)
	hdr := map[string]string{IdempotencyHeader: "k"}
	serve(e, http.MethodPost, "/bookings", "", hdr)
	serve(e, http.MethodPost, "/bookings", "", hdr)
	if calls.Load() != 2 {
		t.Errorf("failed responses must not be replayed, got %d calls", calls.Load())
	}
}

func TestIdempotencyRejectsInFlightDuplicate(t *testing.T) {
	store := NewMemoryIdempotencyStore()
	var calls atomic.Int32
	e := idemEcho(store, &calls, http.StatusCreated)

	req := httptest.NewRequest(http.MethodPost, "/bookings", nil)
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/bookings")
	key := idempotencyKey("idem", c, "busy")
	if ok, _ := store.Reserve(req.Context(), key, time.Minute); !ok {
		t.Fatal("reserve failed")
	}

	rec := serve(e, http.MethodPost, "/bookings", "", map[string]string{IdempotencyHeader: "busy"})
	if rec.Code != http.StatusConflict || calls.Load() != 0 {
		t.Fatalf("expected 409 without handler call, got %d (%d calls)", rec.Code, calls.Load())
	}
}

func TestMemoryIdempotencyStoreExpires(t *testing.T) {
	s := NewMemoryIdempotencyStore()
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := httptest.NewRequest(http.MethodGet, "/", nil).Context()
	_ = s.Save(ctx, "k", &CachedResponse{Status: 200}, time.Second)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("expected hit")
	}
	now = now.Add(2 * time.Second)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Error("expected expiry")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	hdr := http.Header{"Content-Type": {"application/json"}}
	bs, err := encodePayload(201, hdr, []byte(`{"a":1}`))
	if err != nil {
		t.Fatal(err)
	}
	status, got, body, ok := decodePayload(bs)
	if !ok || status != 201 || got.Get("Content-Type") != "application/json" || string(body) != `{"a":1}` {
		t.Errorf("round trip mismatch: %d %v %q", status, got, body)
	}
	if _, _, _, ok := decodePayload(nil); ok {
		t.Error("empty payload must not decode")
	}
}

func TestMemoryIdempotencySweepDropsExpired(t *testing.T) {
	now := time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC)
	s := NewMemoryIdempotencyStore()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, _ = s.Reserve(ctx, "abandoned", time.Minute)
	_ = s.Save(ctx, "done", &CachedResponse{Status: http.StatusCreated}, time.Hour)

	if n := s.Sweep(); n != 0 {
		t.Fatalf("nothing expired yet, swept %d", n)
	}
	now = now.Add(2 * time.Minute)
	if n := s.Sweep(); n != 1 {
		t.Fatalf("expected the abandoned reservation swept, got %d", n)
	}
	if _, ok, _ := s.Get(ctx, "done"); !ok {
		t.Error("unexpired response must survive the sweep")
	}
	now = now.Add(time.Hour)
	s.Sweep()
	s.mu.Lock()
	left := len(s.entries)
	s.mu.Unlock()
	if left != 0 {
		t.Errorf("expected empty store, %d entries left", left)
	}
}

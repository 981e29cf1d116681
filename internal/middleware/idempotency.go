// Package middleware provides shared HTTP middleware utilities.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyMiddleware replays the stored response of a POST carrying an
// Idempotency-Key that was already processed.
type IdempotencyMiddleware struct {
	cache redis.Cmdable
	ttl   time.Duration
}

// NewIdempotencyMiddleware constructs an IdempotencyMiddleware with a TTL.
func NewIdempotencyMiddleware(cache redis.Cmdable, ttl time.Duration) *IdempotencyMiddleware {
	return &IdempotencyMiddleware{
		cache: cache,
		ttl:   ttl,
	}
}

// Guard handles POST requests with an Idempotency-Key header. Requests without
// the header pass through.
func (m *IdempotencyMiddleware) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Idempotency-Key")
		if r.Method != http.MethodPost || key == "" {
			next.ServeHTTP(w, r)
			return
		}

		dataKey := fmt.Sprintf("idempotency:data:%s:%s", r.URL.Path, key)
		lockKey := fmt.Sprintf("idempotency:lock:%s:%s", r.URL.Path, key)

		if m.replayCached(w, r, dataKey) {
			return
		}

		ok, err := m.cache.SetNX(r.Context(), lockKey, RequestIDFromContext(r.Context()), m.ttl).Result()
		if err != nil {
			jsonError(w, http.StatusInternalServerError, "Internal server error")
			return
		}
		if !ok {
			jsonError(w, http.StatusConflict, "Request with this Idempotency-Key is in progress")
			return
		}
		defer m.cache.Del(r.Context(), lockKey)

		cw := newCaptureWriter(w, 1<<20)
		next.ServeHTTP(cw, r)

		_ = m.cacheResponse(r, dataKey, cw)
	})
}

type capturedResponse struct {
	Status  int               `json:"status"`
	Body    []byte            `json:"body"`
	Headers map[string]string `json:"headers"`
}

func (m *IdempotencyMiddleware) replayCached(w http.ResponseWriter, r *http.Request, dataKey string) bool {
	payload, err := m.cache.Get(r.Context(), dataKey).Bytes()
	if err != nil {
		return false
	}

	var cr capturedResponse
	if err := json.Unmarshal(payload, &cr); err != nil {
		return false
	}

	for k, v := range cr.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Idempotent-Replayed", "true")
	w.WriteHeader(cr.Status)
	_, _ = w.Write(cr.Body)
	return true
}

func (m *IdempotencyMiddleware) cacheResponse(r *http.Request, dataKey string, cw *captureWriter) error {
	// Server errors and truncated bodies are not cached
	if cw.status == 0 || cw.status >= http.StatusInternalServerError || cw.truncated {
		return nil
	}

	payload, err := json.Marshal(capturedResponse{
		Status:  cw.status,
		Body:    cw.buf,
		Headers: cw.headers,
	})
	if err != nil {
		return err
	}
	return m.cache.Set(r.Context(), dataKey, payload, m.ttl).Err()
}

type captureWriter struct {
	http.ResponseWriter
	buf       []byte
	limit     int
	truncated bool
	status    int
	headers   map[string]string
}

func newCaptureWriter(w http.ResponseWriter, limit int) *captureWriter {
	return &captureWriter{
		ResponseWriter: w,
		buf:            make([]byte, 0, 1024),
		limit:          limit,
		headers:        make(map[string]string),
	}
}

func (w *captureWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	for k, v := range w.ResponseWriter.Header() {
		if len(v) > 0 {
			w.headers[k] = v[0]
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *captureWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.WriteHeader(http.StatusOK)
	}
	if space := w.limit - len(w.buf); space < len(p) {
		w.truncated = true
		w.buf = append(w.buf, p[:max(space, 0)]...)
	} else {
		w.buf = append(w.buf, p...)
	}
	return w.ResponseWriter.Write(p)
}

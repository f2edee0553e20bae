package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"AlertaPiura/pkg/cache"
	"AlertaPiura/pkg/response"

	"github.com/gin-gonic/gin"
)

const ReplayedHeader = "Idempotent-Replayed"

var pendingMarker = []byte("pending")

type IdemStore interface {
	// Reserve claims key for ttl and reports whether it was free.
	Reserve(ctx context.Context, key string, ttl time.Duration) bool
	// Save replaces the reservation with the recorded response.
	Save(ctx context.Context, key string, rec []byte, ttl time.Duration)
	Load(ctx context.Context, key string) ([]byte, bool)
	// Release frees the key so the request can be retried.
	Release(ctx context.Context, key string)
}

// CacheIdemStore keeps idempotency keys in any cache backend, so several
// instances behind a balancer share them when the cache is redis.
type CacheIdemStore struct {
	Cache cache.Cache
}

func (s CacheIdemStore) Reserve(ctx context.Context, key string, ttl time.Duration) bool {
	ok, err := s.Cache.SetNX(ctx, "idem:"+key, pendingMarker, ttl)
	if err != nil {
		// store unavailable: let the request through
		return true
	}
	return ok
}

func (s CacheIdemStore) Save(ctx context.Context, key string, rec []byte, ttl time.Duration) {
	_ = s.Cache.Set(ctx, "idem:"+key, rec, ttl)
}

func (s CacheIdemStore) Load(ctx context.Context, key string) ([]byte, bool) {
	return s.Cache.Get(ctx, "idem:"+key)
}

func (s CacheIdemStore) Release(ctx context.Context, key string) {
	_ = s.Cache.Delete(ctx, "idem:"+key)
}

type IdempotencyConfig struct {
	HeaderName string        // Idempotency-Key 的请求头名
	TTL        time.Duration // 决定一段时间内重复请求的拒绝窗口
	Store      IdemStore
	// HeaderOnly skips requests without the header instead of hashing the body.
	HeaderOnly bool
}

type idemRecord struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type recordingWriter struct {
	gin.ResponseWriter
	body bytes.Buffer
}

func (w *recordingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *recordingWriter) WriteString(s string) (int, error) {
	w.body.WriteString(s)
	return w.ResponseWriter.WriteString(s)
}

// IdempotencyMiddleware replays the stored response for a repeated key and
// answers 409 while the first request is still running. Failed requests free
// the key. Keys are scoped to the caller; without a header the body hash is used.
func IdempotencyMiddleware(cfg IdempotencyConfig) gin.HandlerFunc {
	if cfg.HeaderName == "" {
		cfg.HeaderName = "Idempotency-Key"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.Store == nil {
		cfg.Store = CacheIdemStore{Cache: cache.NewGoCache(cache.LocalConfig{DefaultExpiration: cfg.TTL, CleanupInterval: time.Minute})}
	}
	return func(c *gin.Context) {
		key := strings.TrimSpace(c.GetHeader(cfg.HeaderName))
		if key == "" && cfg.HeaderOnly {
			c.Next()
			return
		}
		if key == "" {
			b, _ := io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(b))
			h := sha256.Sum256(b)
			key = hex.EncodeToString(h[:])
		}
		if user, ok := CurrentUser(c); ok {
			key = strings.Join([]string{c.FullPath(), strconv.FormatInt(user.ID, 10), key}, ":")
		}

		ctx := c.Request.Context()
		if !cfg.Store.Reserve(ctx, key, cfg.TTL) {
			if raw, ok := cfg.Store.Load(ctx, key); ok {
				var rec idemRecord
				if json.Unmarshal(raw, &rec) == nil && rec.Status != 0 {
					c.Header(ReplayedHeader, "true")
					c.Data(rec.Status, rec.ContentType, rec.Body)
					c.Abort()
					return
				}
			}
			response.Abort(c, http.StatusConflict, "duplicate_request")
			return
		}

		w := &recordingWriter{ResponseWriter: c.Writer}
		c.Writer = w
		c.Next()

		// the client may be gone; the key still has to settle
		ctx = context.WithoutCancel(ctx)
		status := w.Status()
		if status < 200 || status >= 300 {
			cfg.Store.Release(ctx, key)
			return
		}
		raw, err := json.Marshal(idemRecord{Status: status, ContentType: w.Header().Get("Content-Type"), Body: w.body.Bytes()})
		if err != nil {
			cfg.Store.Release(ctx, key)
			return
		}
		cfg.Store.Save(ctx, key, raw, cfg.TTL)
	}
}

package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rail-service/rail_bridge/pkg/lock"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplayed       = "Idempotent-Replayed"

	// MaxBodySize bounds the request body hashed for a key.
	MaxBodySize = 1 << 20
)

// Store persists responses keyed by idempotency key. Get returns nil, nil
// when the key is unknown or expired.
type Store interface {
	Get(ctx context.Context, key string) (*Record, error)
	Create(ctx context.Context, record *Record) error
}

// SubjectFunc extracts the authenticated subject from a request so keys are
// scoped per caller.
type SubjectFunc func(c *gin.Context) string

// Config wires the middleware. Locker and Subject may be nil.
type Config struct {
	Store Store
	// Locker serialises requests carrying the same key, so a retry sent
	// while the first attempt is still running waits and then replays.
	Locker  lock.Locker
	Subject SubjectFunc
	TTL     time.Duration
	Logger  *zap.Logger
}

type capturingWriter struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func (w *capturingWriter) WriteHeader(statusCode int) {
	w.status = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// Middleware replays the stored response of a state-changing request sent
// again with the same Idempotency-Key. Requests without the header pass
// through. A store failure lets the request through uncached.
func Middleware(cfg Config) gin.HandlerFunc {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || !isStateChanging(c.Request.Method) {
			c.Next()
			return
		}
		if err := ValidateKey(key); err != nil {
			reject(c, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", err.Error())
			return
		}

		body, err := ReadBody(c.Request.Body, MaxBodySize)
		if err != nil {
			reject(c, http.StatusBadRequest, "INVALID_REQUEST", "Failed to read request body")
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		owner := ""
		if cfg.Subject != nil {
			owner = cfg.Subject(c)
		}
		scoped := ScopeKey(owner, key)
		hash := HashRequest(c.Request.Method, c.Request.URL.Path, body)
		ctx := c.Request.Context()
		logFields := []zap.Field{zap.String("idempotency_key", key), zap.String("subject", owner)}

		if cfg.Locker != nil {
			unlock, err := cfg.Locker.Lock(ctx, "idempotency:"+scoped)
			if err != nil {
				log.Warn("Idempotency lock unavailable", append(logFields, zap.Error(err))...)
				reject(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Unable to serialise request")
				return
			}
			defer unlock()
		}

		existing, err := cfg.Store.Get(ctx, scoped)
		if err != nil {
			log.Error("Failed to check idempotency key", append(logFields, zap.Error(err))...)
			c.Next()
			return
		}
		if existing != nil {
			if ok, reason := ShouldReturnCached(existing, hash); !ok {
				log.Warn("Idempotency key reused", append(logFields, zap.String("reason", reason))...)
				reject(c, http.StatusConflict, "IDEMPOTENCY_CONFLICT", reason)
				return
			}
			c.Header(HeaderReplayed, "true")
			c.Data(existing.ResponseStatus, "application/json; charset=utf-8", existing.ResponseBody)
			c.Abort()
			return
		}

		w := &capturingWriter{ResponseWriter: c.Writer, status: http.StatusOK}
		c.Writer = w
		c.Next()

		// Server errors are not stored so the caller can retry.
		if w.status >= http.StatusInternalServerError {
			return
		}
		now := time.Now().UTC()
		record := &Record{
			Key:            scoped,
			RequestPath:    c.Request.URL.Path,
			RequestMethod:  c.Request.Method,
			RequestHash:    hash,
			Subject:        owner,
			ResponseStatus: w.status,
			ResponseBody:   json.RawMessage(w.body.Bytes()),
			CreatedAt:      now,
			ExpiresAt:      now.Add(cfg.TTL),
		}
		if err := cfg.Store.Create(ctx, record); err != nil {
			log.Error("Failed to store idempotent response", append(logFields, zap.Error(err))...)
		}
	}
}

func reject(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":    code,
		"message": message,
		"details": gin.H{"request_id": c.GetString("request_id")},
	})
}

func isStateChanging(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
		return true
	default:
		return false
	}
}

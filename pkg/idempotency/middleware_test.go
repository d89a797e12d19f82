package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rail-service/rail_bridge/pkg/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(store Store, calls *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(Config{
		Store:   store,
		Locker:  lock.NewLocalLocker(),
		Subject: func(c *gin.Context) string { return c.GetHeader("X-Subject") },
		TTL:     time.Hour,
		Logger:  zap.NewNop(),
	}))
	r.POST("/transfers", func(c *gin.Context) {
		*calls++
		time.Sleep(10 * time.Millisecond)
		c.JSON(http.StatusCreated, gin.H{"call": *calls})
	})
	return r
}

func post(r *gin.Engine, key, subject, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/transfers", strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	req.Header.Set("X-Subject", subject)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestMiddleware_ReplaysResponse(t *testing.T) {
	calls := 0
	r := newTestRouter(NewMemoryStore(), &calls)

	first := post(r, "key-000001", "alice", `{"amount":"10"}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := post(r, "key-000001", "alice", `{"amount":"10"}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, calls)
}

func TestMiddleware_ConcurrentRetryWaitsAndReplays(t *testing.T) {
	calls := 0
	r := newTestRouter(NewMemoryStore(), &calls)

	var wg sync.WaitGroup
	results := make([]*httptest.ResponseRecorder, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = post(r, "key-000009", "alice", `{"amount":"10"}`)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	replayed := 0
	for _, w := range results {
		assert.Equal(t, http.StatusCreated, w.Code)
		if w.Header().Get(HeaderReplayed) == "true" {
			replayed++
		}
	}
	assert.Equal(t, 1, replayed)
}

func TestMiddleware_KeyReusedWithDifferentBody(t *testing.T) {
	calls := 0
	r := newTestRouter(NewMemoryStore(), &calls)

	post(r, "key-000002", "alice", `{"amount":"10"}`)
	w := post(r, "key-000002", "alice", `{"amount":"11"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, 1, calls)
}

func TestMiddleware_KeysScopedBySubject(t *testing.T) {
	calls := 0
	r := newTestRouter(NewMemoryStore(), &calls)

	post(r, "key-000003", "alice", `{}`)
	post(r, "key-000003", "bob", `{}`)
	assert.Equal(t, 2, calls)
}

func TestMiddleware_WithoutKeyAndInvalidKey(t *testing.T) {
	calls := 0
	r := newTestRouter(NewMemoryStore(), &calls)

	post(r, "", "alice", `{}`)
	post(r, "", "alice", `{}`)
	assert.Equal(t, 2, calls)

	w := post(r, "short", "alice", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 2, calls)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Create(context.Background(), &Record{Key: "k", ExpiresAt: now.Add(time.Minute)}))
	rec, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.NotNil(t, rec)

	now = now.Add(2 * time.Minute)
	rec, err = store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestValidateKey(t *testing.T) {
	assert.NoError(t, ValidateKey("0f8fad5b-d9cb-469f-a165-70867728950e"))
	assert.Error(t, ValidateKey("short"))
	assert.Error(t, ValidateKey("has a space in it"))
	assert.Error(t, ValidateKey(strings.Repeat("k", 256)))
}

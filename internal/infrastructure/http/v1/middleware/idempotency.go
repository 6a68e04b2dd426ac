package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"seqkeeper/internal/core/apperror"
	appctx "seqkeeper/internal/core/context"
	"seqkeeper/internal/infrastructure/storage/postgres"
	"seqkeeper/pkg/logger"
)

// HeaderIdempotencyKey carries the client supplied idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	maxIdempotencyBodyBytes = 1 << 20
	idempotencyKeyCtx       = "idempotency_key"
	idempotencyStoreCtx     = "idempotency_store"
)

// IdempotencyStore persists keyed responses. *postgres.IdempotencyStore implements it.
type IdempotencyStore interface {
	AcquireKey(ctx context.Context, key, userID, operation, requestHash string) (*postgres.IdempotencyReplay, error)
	CompleteKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error
	FailKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error
}

// Idempotency replays the stored response when a request repeats its
// Idempotency-Key. Requests without the header pass through.
func Idempotency(store IdempotencyStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" || store == nil {
			c.Next()
			return
		}

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxIdempotencyBodyBytes+1))
		if err != nil {
			_ = c.Error(apperror.NewInvalidInput("body", "unreadable request body"))
			c.Abort()
			return
		}
		if len(body) > maxIdempotencyBodyBytes {
			appErr := apperror.NewValidation("request body too large for idempotency")
			appErr.HTTPStatus = http.StatusRequestEntityTooLarge
			_ = c.Error(appErr.WithDetail("max_bytes", maxIdempotencyBodyBytes))
			c.Abort()
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(body))

		sum := sha256.Sum256(body)
		operation := c.Request.Method + " " + c.Request.URL.Path
		userID := appctx.GetUserID(c.Request.Context())

		replay, err := store.AcquireKey(c.Request.Context(), key, userID, operation, hex.EncodeToString(sum[:]))
		if err != nil {
			if !apperror.IsAppError(err) {
				err = apperror.NewInternal(err).WithDetail("component", "idempotency")
			}
			_ = c.Error(err)
			c.Abort()
			return
		}
		if replay != nil {
			c.Header("Idempotent-Replayed", "true")
			c.Data(replay.StatusCode, replay.ContentType, replay.Body)
			c.Abort()
			return
		}

		c.Set(idempotencyKeyCtx, key)
		c.Set(idempotencyStoreCtx, store)
		c.Next()
	}
}

func keyedStore(c *gin.Context) (string, IdempotencyStore, bool) {
	key := c.GetString(idempotencyKeyCtx)
	v, ok := c.Get(idempotencyStoreCtx)
	if key == "" || !ok {
		return "", nil, false
	}
	store, ok := v.(IdempotencyStore)
	return key, store, ok
}

// CompleteIdempotency stores a successful JSON response for the request's key, if any.
func CompleteIdempotency(c *gin.Context, statusCode int, response any) {
	key, store, ok := keyedStore(c)
	if !ok {
		return
	}
	body, err := json.Marshal(response)
	if err != nil {
		logger.Warn(c.Request.Context(), "marshal idempotent response", "error", err)
		return
	}
	if err := store.CompleteKey(c.Request.Context(), key, statusCode, "application/json", body); err != nil {
		logger.Warn(c.Request.Context(), "store idempotent response", "key", key, "error", err)
	}
}

// FailIdempotency stores an error response for the request's key, if any.
func FailIdempotency(c *gin.Context, statusCode int, response any) {
	key, store, ok := keyedStore(c)
	if !ok {
		return
	}
	body, _ := json.Marshal(response)
	if err := store.FailKey(c.Request.Context(), key, statusCode, "application/json", body); err != nil {
		logger.Warn(c.Request.Context(), "store idempotent failure", "key", key, "error", err)
	}
}

package postgres

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"seqkeeper/internal/core/apperror"
)

// IdempotencyStatus is the state of a keyed request.
type IdempotencyStatus string

const (
	IdempotencyPending IdempotencyStatus = "pending"
	IdempotencySuccess IdempotencyStatus = "success"
	IdempotencyFailed  IdempotencyStatus = "failed"
)

// staleAfter is how long a pending key may sit before another request reclaims it.
const staleAfter = time.Minute

// IdempotencyReplay is a stored HTTP response.
type IdempotencyReplay struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// IdempotencyStore keeps Idempotency-Key results in sys_idempotency so a
// retried allocation returns the number already handed out.
type IdempotencyStore struct {
	txManager *TxManager
	ttl       time.Duration
}

// NewIdempotencyStore creates a store whose keys expire after ttl.
func NewIdempotencyStore(txManager *TxManager, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{txManager: txManager, ttl: ttl}
}

// AcquireKey claims key for a request.
// It returns (nil, nil) when the caller owns the key and must run the request,
// a replay when a response is already stored, or an error when the key is
// in flight or was used for a different request.
func (s *IdempotencyStore) AcquireKey(ctx context.Context, key, userID, operation, requestHash string) (*IdempotencyReplay, error) {
	now := time.Now().UTC()

	var (
		inserted    bool
		storedUser  string
		storedOp    string
		storedHash  string
		status      IdempotencyStatus
		response    []byte
		statusCode  int
		contentType string
		updatedAt   time.Time
	)
	err := s.txManager.GetQuerier(ctx).QueryRow(ctx, `
		INSERT INTO sys_idempotency (idempotency_key, user_id, operation, status, request_hash, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6, $7)
		ON CONFLICT (idempotency_key) DO UPDATE SET expires_at = GREATEST(sys_idempotency.expires_at, EXCLUDED.expires_at)
		RETURNING (xmax = 0), user_id, operation, request_hash, status,
			response, response_status, response_content_type, updated_at`,
		key, userID, operation, IdempotencyPending, requestHash, now, now.Add(s.ttl),
	).Scan(&inserted, &storedUser, &storedOp, &storedHash, &status, &response, &statusCode, &contentType, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if inserted {
		return nil, nil
	}

	if storedUser != userID || storedOp != operation || storedHash != requestHash {
		return nil, apperror.NewIdempotencyMismatch(key).
			WithDetail("operation", storedOp)
	}

	switch status {
	case IdempotencySuccess, IdempotencyFailed:
		if statusCode == 0 {
			statusCode = http.StatusOK
		}
		if contentType == "" {
			contentType = "application/json"
		}
		return &IdempotencyReplay{StatusCode: statusCode, ContentType: contentType, Body: response}, nil
	default:
		if now.Sub(updatedAt) > staleAfter {
			claimed, err := reclaimStale(ctx, s.txManager.GetQuerier(ctx), key, updatedAt, now)
			if err != nil {
				return nil, err
			}
			if claimed {
				return nil, nil
			}
		}
		return nil, apperror.NewIdempotencyConflict(key)
	}
}

// reclaimStale takes over a pending key only if nobody touched it since seen.
// Of two requests racing for the same stale key, exactly one wins.
func reclaimStale(ctx context.Context, q Querier, key string, seen, now time.Time) (bool, error) {
	tag, err := q.Exec(ctx, `
		UPDATE sys_idempotency SET updated_at = $1
		WHERE idempotency_key = $2 AND status = $3 AND updated_at = $4`,
		now, key, IdempotencyPending, seen)
	if err != nil {
		return false, fmt.Errorf("reclaim stale key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteKey stores the response for key.
func (s *IdempotencyStore) CompleteKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error {
	return s.finish(ctx, key, IdempotencySuccess, statusCode, contentType, body)
}

// FailKey stores an error response for key.
func (s *IdempotencyStore) FailKey(ctx context.Context, key string, statusCode int, contentType string, body []byte) error {
	return s.finish(ctx, key, IdempotencyFailed, statusCode, contentType, body)
}

func (s *IdempotencyStore) finish(ctx context.Context, key string, status IdempotencyStatus, statusCode int, contentType string, body []byte) error {
	_, err := s.txManager.GetQuerier(ctx).Exec(ctx, `
		UPDATE sys_idempotency
		SET status = $1, response = $2, response_status = $3, response_content_type = $4, updated_at = $5
		WHERE idempotency_key = $6`,
		status, body, statusCode, contentType, time.Now().UTC(), key)
	if err != nil {
		return fmt.Errorf("store idempotent response: %w", err)
	}
	return nil
}

// CleanupExpired deletes expired keys and returns how many were removed.
func (s *IdempotencyStore) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := s.txManager.GetQuerier(ctx).Exec(ctx,
		`DELETE FROM sys_idempotency WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

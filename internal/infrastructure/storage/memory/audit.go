package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	appctx "seqkeeper/internal/core/context"
	"seqkeeper/internal/core/id"
	"seqkeeper/internal/core/security"
	"seqkeeper/internal/domain/sequence"
)

// AuditLog keeps sequence changes in memory. It implements both
// sequence.Auditor and sequence.HistoryReader.
type AuditLog struct {
	mu      sync.RWMutex
	entries map[id.ID][]sequence.HistoryEntry
}

var (
	_ sequence.Auditor       = (*AuditLog)(nil)
	_ sequence.HistoryReader = (*AuditLog)(nil)
)

// NewAuditLog creates an empty audit log.
func NewAuditLog() *AuditLog {
	return &AuditLog{entries: make(map[id.ID][]sequence.HistoryEntry)}
}

// Record appends change to the history of its sequence.
func (a *AuditLog) Record(ctx context.Context, change sequence.Change) error {
	if change.Sequence == nil {
		return fmt.Errorf("audit: change without sequence")
	}
	payload, err := json.Marshal(sequence.ChangeSet(change))
	if err != nil {
		return fmt.Errorf("audit: marshal changes: %w", err)
	}

	entry := sequence.HistoryEntry{
		ID:         id.New(),
		Action:     change.Action,
		UserID:     appctx.GetUserID(ctx),
		OnBehalfOf: security.OnBehalfOf(ctx),
		Changes:    payload,
		CreatedAt:  change.At,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries[change.Sequence.ID] = append(a.entries[change.Sequence.ID], entry)
	return nil
}

// History returns up to limit entries for seqID, newest first.
func (a *AuditLog) History(_ context.Context, seqID id.ID, limit int) ([]sequence.HistoryEntry, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	all := a.entries[seqID]
	out := make([]sequence.HistoryEntry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}

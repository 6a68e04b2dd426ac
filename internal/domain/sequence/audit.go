package sequence

import (
	"context"
	"encoding/json"
	"time"

	"seqkeeper/internal/core/id"
)

// AuditEntityType is the entity type sequences are audited under.
const AuditEntityType = entityName

// Audited actions.
const (
	ActionCreate  = "create"
	ActionUpdate  = "update"
	ActionDelete  = "delete"
	ActionSetNext = "set_next_value"
	ActionReset   = "reset"
)

// Change describes one write to a sequence, recorded in the audit trail.
type Change struct {
	Sequence *Sequence
	Action   string
	Previous int64
	Current  int64

	// At is when the write happened.
	At time.Time

	// AsOf is the date a reset was evaluated for. Zero for other actions.
	AsOf time.Time
}

// Auditor records sequence changes. It is called inside the same
// transaction as the write it describes.
type Auditor interface {
	Record(ctx context.Context, change Change) error
}

type noopAuditor struct{}

func (noopAuditor) Record(context.Context, Change) error { return nil }

// HistoryEntry is one recorded change as read back from the audit trail.
type HistoryEntry struct {
	ID         id.ID           `json:"id"`
	Action     string          `json:"action"`
	UserID     string          `json:"userId"`
	OnBehalfOf string          `json:"onBehalfOf,omitempty"`
	Changes    json.RawMessage `json:"changes"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// HistoryReader reads the audit trail of one sequence, newest first.
type HistoryReader interface {
	History(ctx context.Context, seqID id.ID, limit int) ([]HistoryEntry, error)
}

// ChangeSet renders the audited fields of c.
func ChangeSet(c Change) map[string]any {
	out := map[string]any{
		"next_value": map[string]any{"old": c.Previous, "new": c.Current},
	}
	if c.Sequence != nil {
		out["code"] = c.Sequence.Code
		out["reset_mode"] = c.Sequence.ResetMode
	}
	if !c.AsOf.IsZero() {
		out["as_of"] = c.AsOf.Format(time.RFC3339)
	}
	return out
}

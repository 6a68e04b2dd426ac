package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/klauspost/compress/zstd"

	appctx "seqkeeper/internal/core/context"
	"seqkeeper/internal/core/id"
	"seqkeeper/internal/core/security"
	"seqkeeper/internal/domain/sequence"
)

// CompressionAlgo names how the changes payload is stored.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// DefaultCompressThreshold is the payload size above which changes are zstd-compressed.
const DefaultCompressThreshold = 4 * 1024

// AuditEntry is one row of sys_audit.
type AuditEntry struct {
	ID                id.ID           `db:"id"`
	EntityType        string          `db:"entity_type"`
	EntityID          id.ID           `db:"entity_id"`
	Action            string          `db:"action"`
	UserID            string          `db:"user_id"`
	Changes           json.RawMessage `db:"changes"`
	ChangesCompressed []byte          `db:"changes_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	Metadata          json.RawMessage `db:"metadata"`
	CreatedAt         time.Time       `db:"created_at"`
}

// AuditLog writes sequence changes to sys_audit through the transaction in context.
type AuditLog struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int
}

var (
	_ sequence.Auditor       = (*AuditLog)(nil)
	_ sequence.HistoryReader = (*AuditLog)(nil)
)

// NewAuditLog creates an audit log. threshold <= 0 selects DefaultCompressThreshold.
func NewAuditLog(txManager *TxManager, threshold int) (*AuditLog, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	if threshold <= 0 {
		threshold = DefaultCompressThreshold
	}
	return &AuditLog{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: threshold,
	}, nil
}

// Record implements sequence.Auditor.
func (a *AuditLog) Record(ctx context.Context, c sequence.Change) error {
	entry, err := newAuditEntry(ctx, c)
	if err != nil {
		return err
	}
	return a.Log(ctx, entry)
}

// newAuditEntry stamps created_at with the time of the write. The date a
// reset was evaluated for travels in changes.as_of, so history order follows
// the order of writes.
func newAuditEntry(ctx context.Context, c sequence.Change) (AuditEntry, error) {
	changes, err := json.Marshal(sequence.ChangeSet(c))
	if err != nil {
		return AuditEntry{}, fmt.Errorf("marshal changes: %w", err)
	}

	entry := AuditEntry{
		ID:         id.New(),
		EntityType: sequence.AuditEntityType,
		Action:     c.Action,
		UserID:     appctx.GetUserID(ctx),
		Changes:    changes,
		CreatedAt:  c.At.UTC(),
	}
	if c.Sequence != nil {
		entry.EntityID = c.Sequence.ID
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if who := security.OnBehalfOf(ctx); who != "" {
		entry.Metadata, _ = json.Marshal(map[string]string{"on_behalf_of": who})
	}
	return entry, nil
}

// Log inserts entry, compressing large payloads.
func (a *AuditLog) Log(ctx context.Context, entry AuditEntry) error {
	a.compress(&entry)

	_, err := a.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_audit (
			id, entity_type, entity_id, action, user_id,
			changes, changes_compressed, compression_algo, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.EntityType, entry.EntityID, entry.Action, entry.UserID,
		entry.Changes, entry.ChangesCompressed, entry.CompressionAlgo, entry.Metadata, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (a *AuditLog) compress(entry *AuditEntry) {
	entry.CompressionAlgo = CompressionNone
	if len(entry.Changes) <= a.compressThreshold {
		return
	}
	entry.ChangesCompressed = a.encoder.EncodeAll(entry.Changes, nil)
	entry.Changes = nil
	entry.CompressionAlgo = CompressionZstd
}

func (a *AuditLog) decompress(entry *AuditEntry) error {
	if entry.CompressionAlgo != CompressionZstd || len(entry.ChangesCompressed) == 0 {
		return nil
	}
	raw, err := a.decoder.DecodeAll(entry.ChangesCompressed, nil)
	if err != nil {
		return fmt.Errorf("decompress changes: %w", err)
	}
	entry.Changes = raw
	entry.ChangesCompressed = nil
	return nil
}

// History implements sequence.HistoryReader.
func (a *AuditLog) History(ctx context.Context, seqID id.ID, limit int) ([]sequence.HistoryEntry, error) {
	entries, err := a.GetEntityHistory(ctx, sequence.AuditEntityType, seqID, limit)
	if err != nil {
		return nil, err
	}

	out := make([]sequence.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		h := sequence.HistoryEntry{
			ID:        e.ID,
			Action:    e.Action,
			UserID:    e.UserID,
			Changes:   e.Changes,
			CreatedAt: e.CreatedAt,
		}
		if len(e.Metadata) > 0 {
			var meta struct {
				OnBehalfOf string `json:"on_behalf_of"`
			}
			if json.Unmarshal(e.Metadata, &meta) == nil {
				h.OnBehalfOf = meta.OnBehalfOf
			}
		}
		out = append(out, h)
	}
	return out, nil
}

// GetEntityHistory returns audit entries for an entity, newest first.
func (a *AuditLog) GetEntityHistory(ctx context.Context, entityType string, entityID id.ID, limit int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	var entries []AuditEntry
	err := pgxscan.Select(ctx, a.txManager.GetQuerier(ctx), &entries, `
		SELECT id, entity_type, entity_id, action, user_id,
			   changes, changes_compressed, compression_algo, metadata, created_at
		FROM sys_audit
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3`,
		entityType, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}

	for i := range entries {
		if err := a.decompress(&entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

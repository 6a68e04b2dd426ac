package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "seqkeeper/internal/core/context"
	"seqkeeper/internal/core/security"
	"seqkeeper/internal/domain/sequence"
)

func TestAuditLog_NewestFirst(t *testing.T) {
	log := NewAuditLog()
	seq := sequence.NewSequence("INV", "Invoices")
	ctx := appctx.WithUser(context.Background(), &appctx.UserContext{UserID: "alice"})

	at := time.Date(2024, time.January, 31, 23, 50, 0, 0, time.UTC)
	require.NoError(t, log.Record(ctx, sequence.Change{Sequence: seq, Action: sequence.ActionSetNext, Previous: 3, Current: 40, At: at}))
	require.NoError(t, log.Record(security.Elevate(ctx), sequence.Change{Sequence: seq, Action: sequence.ActionReset, Previous: 40, Current: 1, At: at}))

	got, err := log.History(context.Background(), seq.ID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, sequence.ActionReset, got[0].Action)
	assert.Equal(t, appctx.SystemUserID, got[0].UserID)
	assert.Equal(t, "alice", got[0].OnBehalfOf)
	assert.Equal(t, "alice", got[1].UserID)

	var changes struct {
		NextValue map[string]int64 `json:"next_value"`
	}
	require.NoError(t, json.Unmarshal(got[0].Changes, &changes))
	assert.Equal(t, int64(40), changes.NextValue["old"])
	assert.Equal(t, int64(1), changes.NextValue["new"])

	limited, err := log.History(context.Background(), seq.ID, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

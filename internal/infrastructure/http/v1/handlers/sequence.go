package handlers

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/clock"

	"seqkeeper/internal/domain/sequence"
	"seqkeeper/internal/infrastructure/http/v1/dto"
	"seqkeeper/pkg/logger"
)

// ResetRunner runs the reset policy for a given moment.
type ResetRunner interface {
	ApplyResets(ctx context.Context, now time.Time) (sequence.ResetReport, error)
}

// SequenceHandler handles /sequences endpoints.
type SequenceHandler struct {
	*BaseHandler
	service *sequence.Service
	resets  ResetRunner
	history sequence.HistoryReader
	clock   clock.Clock
}

// NewSequenceHandler creates a sequence handler. history may be nil.
func NewSequenceHandler(base *BaseHandler, service *sequence.Service, resets ResetRunner, history sequence.HistoryReader, clk clock.Clock) *SequenceHandler {
	if clk == nil {
		clk = clock.WallClock
	}
	return &SequenceHandler{
		BaseHandler: base,
		service:     service,
		resets:      resets,
		history:     history,
		clock:       clk,
	}
}

// List handles GET /sequences.
func (h *SequenceHandler) List(c *gin.Context) {
	filter := sequence.ListFilter{
		Search: c.Query("search"),
		Limit:  h.ParseIntQuery(c, "limit", sequence.DefaultListFilter().Limit),
		Offset: h.ParseIntQuery(c, "offset", 0),
	}
	if v := c.Query("resetMode"); v != "" {
		mode := sequence.ParseResetMode(v)
		filter.ResetMode = &mode
	}

	res, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSequences(res))
}

// Create handles POST /sequences.
func (h *SequenceHandler) Create(c *gin.Context) {
	var req dto.CreateSequenceRequest
	if !h.BindJSON(c, &req) {
		return
	}

	seq := req.ToSequence()
	if err := h.service.Create(c.Request.Context(), seq); err != nil {
		h.Error(c, err)
		return
	}
	h.Created(c, dto.FromSequence(seq))
}

// Get handles GET /sequences/:id.
func (h *SequenceHandler) Get(c *gin.Context) {
	seqID, ok := h.ParseID(c)
	if !ok {
		return
	}

	seq, err := h.service.Get(c.Request.Context(), seqID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSequence(seq))
}

// Update handles PUT /sequences/:id.
func (h *SequenceHandler) Update(c *gin.Context) {
	seqID, ok := h.ParseID(c)
	if !ok {
		return
	}
	var req dto.UpdateSequenceRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	seq, err := h.service.Get(ctx, seqID)
	if err != nil {
		h.Error(c, err)
		return
	}
	req.ApplyTo(seq)

	if err := h.service.Update(ctx, seq); err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSequence(seq))
}

// Delete handles DELETE /sequences/:id.
func (h *SequenceHandler) Delete(c *gin.Context) {
	seqID, ok := h.ParseID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), seqID); err != nil {
		h.Error(c, err)
		return
	}
	h.NoContent(c)
}

// SetNextValue handles PUT /sequences/:id/next-value.
func (h *SequenceHandler) SetNextValue(c *gin.Context) {
	seqID, ok := h.ParseID(c)
	if !ok {
		return
	}
	var req dto.SetNextValueRequest
	if !h.BindJSON(c, &req) {
		return
	}

	ctx := c.Request.Context()
	if err := h.service.SetNextValue(ctx, seqID, req.Value); err != nil {
		h.Error(c, err)
		return
	}
	seq, err := h.service.Get(ctx, seqID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromSequence(seq))
}

// History handles GET /sequences/:id/history.
func (h *SequenceHandler) History(c *gin.Context) {
	seqID, ok := h.ParseID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if _, err := h.service.Get(ctx, seqID); err != nil {
		h.Error(c, err)
		return
	}

	entries := []sequence.HistoryEntry{}
	if h.history != nil {
		found, err := h.history.History(ctx, seqID, h.ParseIntQuery(c, "limit", 50))
		if err != nil {
			h.Error(c, err)
			return
		}
		if found != nil {
			entries = found
		}
	}
	h.OK(c, gin.H{"items": entries})
}

// Next handles POST /sequences/by-code/:code/next.
func (h *SequenceHandler) Next(c *gin.Context) {
	var req dto.NextRequest
	if !h.BindOptionalJSON(c, &req) {
		return
	}
	at, ok := h.ParseDate(c, "at", req.At)
	if !ok {
		return
	}

	code := c.Param("code")
	number, err := h.service.Next(c.Request.Context(), code, at)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.NextResponse{Code: code, Number: number})
}

// Reset handles POST /sequences/resets. Without a date the policy runs for now.
// Per-sequence failures are returned in the report body.
func (h *SequenceHandler) Reset(c *gin.Context) {
	var req dto.ResetRequest
	if !h.BindOptionalJSON(c, &req) {
		return
	}
	at, ok := h.ParseDate(c, "at", req.At)
	if !ok {
		return
	}
	if at.IsZero() {
		at = h.clock.Now().In(h.loc)
	}

	ctx := c.Request.Context()
	report, err := h.resets.ApplyResets(ctx, at)
	if err != nil {
		if report.Evaluated == 0 && len(report.Failed) == 0 {
			h.Error(c, err)
			return
		}
		logger.Warn(ctx, "reset run finished with failures", "failed", len(report.Failed), "error", err)
	}
	h.OK(c, dto.FromResetReport(report))
}

package dto

import (
	"strings"
	"time"

	"seqkeeper/internal/core/id"
	"seqkeeper/internal/domain/sequence"
)

// SequenceResponse is the API view of a sequence.
type SequenceResponse struct {
	ID        id.ID     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Prefix    string    `json:"prefix"`
	Suffix    string    `json:"suffix"`
	Padding   int       `json:"padding"`
	Step      int64     `json:"step"`
	NextValue int64     `json:"nextValue"`
	ResetMode string    `json:"resetMode"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FromSequence converts a domain sequence.
func FromSequence(s *sequence.Sequence) SequenceResponse {
	return SequenceResponse{
		ID:        s.ID,
		Code:      s.Code,
		Name:      s.Name,
		Prefix:    s.Prefix,
		Suffix:    s.Suffix,
		Padding:   s.Padding,
		Step:      s.Step,
		NextValue: s.NextValue,
		ResetMode: string(s.ResetMode),
		Version:   s.Version,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

// FromSequences converts a list result.
func FromSequences(res sequence.ListResult) ListResponse[SequenceResponse] {
	items := make([]SequenceResponse, 0, len(res.Items))
	for _, s := range res.Items {
		items = append(items, FromSequence(s))
	}
	return ListResponse[SequenceResponse]{
		Items:      items,
		TotalCount: res.TotalCount,
		Limit:      res.Limit,
		Offset:     res.Offset,
	}
}

// CreateSequenceRequest is the body of POST /sequences.
type CreateSequenceRequest struct {
	Code      string `json:"code" binding:"required,max=64"`
	Name      string `json:"name" binding:"required"`
	Prefix    string `json:"prefix"`
	Suffix    string `json:"suffix"`
	Padding   int    `json:"padding" binding:"min=0,max=32"`
	Step      int64  `json:"step" binding:"min=0"`
	NextValue int64  `json:"nextValue" binding:"min=0"`
	ResetMode string `json:"resetMode"`
}

// ToSequence builds a new domain sequence. Zero step and next value take defaults.
func (r CreateSequenceRequest) ToSequence() *sequence.Sequence {
	return &sequence.Sequence{
		Code:      r.Code,
		Name:      r.Name,
		Prefix:    r.Prefix,
		Suffix:    r.Suffix,
		Padding:   r.Padding,
		Step:      r.Step,
		NextValue: r.NextValue,
		ResetMode: parseMode(r.ResetMode),
	}
}

// UpdateSequenceRequest is the body of PUT /sequences/:id.
type UpdateSequenceRequest struct {
	Code      string `json:"code" binding:"required,max=64"`
	Name      string `json:"name" binding:"required"`
	Prefix    string `json:"prefix"`
	Suffix    string `json:"suffix"`
	Padding   int    `json:"padding" binding:"min=0,max=32"`
	Step      int64  `json:"step" binding:"required,min=1"`
	ResetMode string `json:"resetMode"`
	Version   int    `json:"version" binding:"required,min=1"`
}

// ApplyTo copies the editable fields onto seq.
func (r UpdateSequenceRequest) ApplyTo(seq *sequence.Sequence) {
	seq.Code = r.Code
	seq.Name = r.Name
	seq.Prefix = r.Prefix
	seq.Suffix = r.Suffix
	seq.Padding = r.Padding
	seq.Step = r.Step
	seq.ResetMode = parseMode(r.ResetMode)
	seq.Version = r.Version
}

// parseMode keeps unknown values as given so validation can reject them.
func parseMode(s string) sequence.ResetMode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return sequence.ResetNone
	}
	if m := sequence.ParseResetMode(s); m != sequence.ResetNone {
		return m
	}
	return sequence.ResetMode(s)
}

// SetNextValueRequest is the body of PUT /sequences/:id/next-value.
type SetNextValueRequest struct {
	Value int64 `json:"value" binding:"required"`
}

// NextRequest is the optional body of POST /sequences/by-code/:code/next.
type NextRequest struct {
	At string `json:"at"`
}

// NextResponse carries an allocated number.
type NextResponse struct {
	Code   string `json:"code"`
	Number string `json:"number"`
}

// ResetRequest is the optional body of POST /sequences/resets.
type ResetRequest struct {
	At string `json:"at"`
}

// ResetItem describes one sequence touched by a reset run.
type ResetItem struct {
	ID       id.ID  `json:"id"`
	Code     string `json:"code"`
	Mode     string `json:"mode,omitempty"`
	Previous int64  `json:"previous,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ResetResponse reports a reset run.
type ResetResponse struct {
	RunAt     time.Time   `json:"runAt"`
	Evaluated int         `json:"evaluated"`
	Reset     []ResetItem `json:"reset"`
	Failed    []ResetItem `json:"failed"`
}

// FromResetReport converts a domain report.
func FromResetReport(r sequence.ResetReport) ResetResponse {
	out := ResetResponse{
		RunAt:     r.RunAt,
		Evaluated: r.Evaluated,
		Reset:     make([]ResetItem, 0, len(r.Reset)),
		Failed:    make([]ResetItem, 0, len(r.Failed)),
	}
	for _, res := range r.Reset {
		out.Reset = append(out.Reset, ResetItem{ID: res.ID, Code: res.Code, Mode: string(res.Mode), Previous: res.Previous})
	}
	for _, f := range r.Failed {
		out.Failed = append(out.Failed, ResetItem{ID: f.ID, Code: f.Code, Error: f.Err.Error()})
	}
	return out
}

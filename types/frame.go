package types

import (
	"fmt"
	"time"
)

// Role identifies which half of the pipeline a provider serves.
type Role string

const (
	// RoleVision marks providers that accept image payloads and
	// describe keyframe batches.
	RoleVision Role = "vision"
	// RoleText marks providers that synthesize the final narration.
	RoleText Role = "text"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleVision || r == RoleText
}

// Frame is a single sampled keyframe. The payload is owned by the caller;
// pipeline components only read it.
type Frame struct {
	Index     int           `json:"index"`
	Timestamp time.Duration `json:"timestamp"`
	Data      []byte        `json:"-"`
	MIME      string        `json:"mime,omitempty"`
}

// FrameBatch is a contiguous group of frames sent in one vision request.
type FrameBatch struct {
	Index  int     `json:"index"`
	Frames []Frame `json:"-"`
}

// Span returns the timestamps of the first and last frame in the batch.
// Both are zero for an empty batch.
func (b FrameBatch) Span() (start, end time.Duration) {
	if len(b.Frames) == 0 {
		return 0, 0
	}
	return b.Frames[0].Timestamp, b.Frames[len(b.Frames)-1].Timestamp
}

// FormatOffset renders a video offset as MM:SS, the form narration
// prompts anchor segments with. Minutes run past 59 for long videos.
func FormatOffset(d time.Duration) string {
	total := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// BatchDescription is the outcome of describing one frame batch.
// A failed batch carries Success=false and an error detail instead of
// aborting sibling batches.
type BatchDescription struct {
	BatchIndex int       `json:"batch_index"`
	Text       string    `json:"text,omitempty"`
	Provider   string    `json:"provider"`
	Model      string    `json:"model,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	ErrorCode  ErrorCode `json:"error_code,omitempty"`
	Attempts   int       `json:"attempts,omitempty"`

	// Batch bounds in video time, so the narration prompt can anchor
	// each description to its segment.
	StartOffset time.Duration `json:"start_offset"`
	EndOffset   time.Duration `json:"end_offset"`
}

// NarrationResult is the final synthesis outcome of a run.
type NarrationResult struct {
	Script        string   `json:"script"`
	Providers     []string `json:"providers"`
	FailedBatches []int    `json:"failed_batches,omitempty"`
	PromptTokens  int      `json:"prompt_tokens,omitempty"`
	OutputTokens  int      `json:"output_tokens,omitempty"`
}
